package core

import (
	"encoding/json"
	"time"
)

// LogRecord is the canonical normalized log row.
//
// A record with a non-empty NormalizationError is a tagged failure: it carries
// the original payload in Raw and must never be persisted.
type LogRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Logfile   Logfile         `json:"logfile"`
	Source    string          `json:"source"`
	EventID   string          `json:"event_id"`
	EventType EventType       `json:"event_type"`
	Severity  Severity        `json:"severity"`
	Message   string          `json:"message"`
	Raw       json.RawMessage `json:"raw,omitempty"`

	NormalizationError string `json:"normalization_error,omitempty"`
}

// Failed reports whether the record is a normalization failure.
func (r LogRecord) Failed() bool {
	return r.NormalizationError != ""
}

// DedupKey is the attribute tuple whose equality defines "same event".
type DedupKey struct {
	Timestamp string
	Logfile   Logfile
	Source    string
	EventID   string
	Message   string
}

// Key returns the record's dedup key. The timestamp is rendered in the
// storage layout so two records that differ only below one second collapse.
func (r LogRecord) Key() DedupKey {
	return DedupKey{
		Timestamp: FormatTimestamp(r.Timestamp),
		Logfile:   r.Logfile,
		Source:    r.Source,
		EventID:   r.EventID,
		Message:   r.Message,
	}
}

// FormatTimestamp renders t as UTC in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// QueryFilter selects stored records. Zero values mean "no constraint".
type QueryFilter struct {
	// Logfiles restricts results to any of the listed logfiles
	Logfiles []Logfile
	// StartDate is inclusive (UTC calendar day)
	StartDate *time.Time
	// EndDate includes the whole day; the bound is exclusive at the next midnight
	EndDate *time.Time
	// Keyword is a case-insensitive substring match on the message
	Keyword string
	// Limit caps the number of returned records; 0 means unlimited
	Limit int
}

// ParseDate parses a YYYY-MM-DD filter date. Empty input yields nil.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
