package core

import (
	"sort"
	"strconv"
	"time"
)

// NotApplicable marks Alert.Count and Alert.Threshold for correlation alerts,
// whose match semantics are per step.
const NotApplicable = -1

// Alert is produced by a detection engine. It is comparable: two alerts are
// the same alert exactly when every field is equal.
type Alert struct {
	RuleName    string        `json:"rule_name"`
	Description string        `json:"description"`
	TriggerTime time.Time     `json:"trigger_time"`
	Count       int           `json:"count"`
	Threshold   int           `json:"threshold"`
	TimeWindow  time.Duration `json:"time_window"`
}

// NewThresholdAlert builds an alert for a threshold rule at now.
func NewThresholdAlert(rule ThresholdRule, count int, now time.Time) Alert {
	return Alert{
		RuleName:    rule.Name,
		Description: rule.Description,
		TriggerTime: now.UTC().Truncate(time.Second),
		Count:       count,
		Threshold:   rule.Threshold,
		TimeWindow:  rule.TimeWindow,
	}
}

// NewCorrelationAlert builds an alert for a correlation rule at now.
func NewCorrelationAlert(rule CorrelationRule, now time.Time) Alert {
	return Alert{
		RuleName:    rule.Name,
		Description: rule.Description,
		TriggerTime: now.UTC().Truncate(time.Second),
		Count:       NotApplicable,
		Threshold:   NotApplicable,
		TimeWindow:  rule.TimeWindow,
	}
}

// CountString renders Count, or "N/A".
func (a Alert) CountString() string {
	return naString(a.Count)
}

// ThresholdString renders Threshold, or "N/A".
func (a Alert) ThresholdString() string {
	return naString(a.Threshold)
}

// TimeWindowMinutes returns the window in whole minutes.
func (a Alert) TimeWindowMinutes() int {
	return int(a.TimeWindow / time.Minute)
}

func naString(v int) string {
	if v == NotApplicable {
		return "N/A"
	}
	return strconv.Itoa(v)
}

// SortAlertsNewestFirst orders alerts by trigger time, newest first.
func SortAlertsNewestFirst(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].TriggerTime.After(alerts[j].TriggerTime)
	})
}
