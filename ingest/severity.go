package ingest

import (
	"strings"

	"seclog/core"
)

// severityKeywords is checked in order; the first keyword contained in the
// lowercased message wins.
var severityKeywords = []struct {
	keyword  string
	severity core.Severity
}{
	{"error", core.SeverityCritical},
	{"fail", core.SeverityWarning},
	{"denied", core.SeverityWarning},
	{"warning", core.SeverityWarning},
	{"success", core.SeverityInfo},
	{"information", core.SeverityInfo},
	{"audit failure", core.SeverityWarning},
	{"audit success", core.SeverityInfo},
}

// DeriveSeverity classifies a record from its message, falling back to the
// event type when no keyword matches.
func DeriveSeverity(message string, eventType core.EventType) core.Severity {
	lower := strings.ToLower(message)
	for _, kw := range severityKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.severity
		}
	}

	switch eventType {
	case core.EventTypeError, core.EventTypeFailureAudit:
		return core.SeverityCritical
	case core.EventTypeWarning:
		return core.SeverityWarning
	default:
		return core.SeverityInfo
	}
}
