package core

import "strings"

// Logfile identifies the event log a record was read from.
// Security, System and Application are the well-known channels; any other
// channel name is kept verbatim.
type Logfile string

const (
	LogfileSecurity    Logfile = "Security"
	LogfileSystem      Logfile = "System"
	LogfileApplication Logfile = "Application"
	LogfileSyslog      Logfile = "Syslog"
	// LogfileOther is used when a source does not name its channel
	LogfileOther Logfile = "Other"
)

// DefaultLogfiles are the channels monitored when none are configured.
var DefaultLogfiles = []Logfile{LogfileSecurity, LogfileSystem, LogfileApplication}

// ParseLogfile maps a channel name onto the well-known constants
// case-insensitively. Unknown names are returned unchanged; an empty name
// becomes LogfileOther.
func ParseLogfile(name string) Logfile {
	name = strings.TrimSpace(name)
	if name == "" {
		return LogfileOther
	}
	for _, known := range []Logfile{LogfileSecurity, LogfileSystem, LogfileApplication, LogfileSyslog, LogfileOther} {
		if strings.EqualFold(name, string(known)) {
			return known
		}
	}
	return Logfile(name)
}

// EventType is the canonical event classification.
type EventType string

const (
	EventTypeError        EventType = "Error"
	EventTypeWarning      EventType = "Warning"
	EventTypeInformation  EventType = "Information"
	EventTypeSuccessAudit EventType = "Success Audit"
	EventTypeFailureAudit EventType = "Failure Audit"
	EventTypeUnknown      EventType = "Unknown"
)

// ParseEventType accepts both the display form ("Failure Audit") and the
// compact form ("FailureAudit"). Anything else is EventTypeUnknown.
func ParseEventType(s string) EventType {
	compact := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
	switch compact {
	case "error":
		return EventTypeError
	case "warning":
		return EventTypeWarning
	case "information", "info":
		return EventTypeInformation
	case "successaudit":
		return EventTypeSuccessAudit
	case "failureaudit":
		return EventTypeFailureAudit
	default:
		return EventTypeUnknown
	}
}

// Severity is derived by the normalizer from the message and event type.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
)

// IncidentStatus represents the status of an incident
type IncidentStatus string

const (
	// IncidentStatusOpen is the status of a freshly promoted incident
	IncidentStatusOpen IncidentStatus = "Open"
	// IncidentStatusAcknowledged indicates an analyst has taken the incident
	IncidentStatusAcknowledged IncidentStatus = "Acknowledged"
	// IncidentStatusClosed is final
	IncidentStatusClosed IncidentStatus = "Closed"
)

// IsValid reports whether s is one of the defined statuses.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusAcknowledged, IncidentStatusClosed:
		return true
	}
	return false
}

// ParseIncidentStatus is case-insensitive.
func ParseIncidentStatus(s string) (IncidentStatus, bool) {
	for _, st := range []IncidentStatus{IncidentStatusOpen, IncidentStatusAcknowledged, IncidentStatusClosed} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, true
		}
	}
	return "", false
}

// TimestampLayout is the storage and display layout for record timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the layout of query date filters.
const DateLayout = "2006-01-02"
