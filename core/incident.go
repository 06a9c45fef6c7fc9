package core

import "time"

// Incident is a persisted, human-tracked escalation of an Alert.
type Incident struct {
	ID          int64          `json:"id"`
	RuleName    string         `json:"rule_name"`
	TriggerTime time.Time      `json:"trigger_time"`
	Status      IncidentStatus `json:"status"`
	Notes       string         `json:"notes"`
}

// NewIncident creates an open incident from an alert. The ID is assigned by
// the store.
func NewIncident(alert Alert) Incident {
	return Incident{
		RuleName:    alert.RuleName,
		TriggerTime: alert.TriggerTime.UTC().Truncate(time.Second),
		Status:      IncidentStatusOpen,
	}
}
