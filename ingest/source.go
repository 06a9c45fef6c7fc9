package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"seclog/core"
)

var (
	// ErrAccessDenied is returned when the process lacks rights to read a log
	ErrAccessDenied = errors.New("access denied")
	// ErrSourceUnavailable is returned when a log cannot be opened
	ErrSourceUnavailable = errors.New("event log unavailable")
	// ErrInvalidPosition is returned when a seek targets a record number
	// that is no longer retained
	ErrInvalidPosition = errors.New("record number not retained")
)

// NativeRecord is one entry as read from an event log, before normalization.
type NativeRecord struct {
	RecordNumber  uint64       `json:"record_number"`
	Logfile       core.Logfile `json:"logfile"`
	TimeGenerated time.Time    `json:"time_generated"`
	SourceName    string       `json:"source_name"`
	EventID       uint32       `json:"event_id"`
	EventType     uint16       `json:"event_type"`
	Message       string       `json:"message"`
}

// SourceInfo describes the retained range of a log. Total is the highest
// record number ever assigned (0 for an empty log) and Oldest the lowest one
// still retained. Record numbers increase monotonically until the log is
// cleared.
type SourceInfo struct {
	Total  uint64
	Oldest uint64
}

// EventLog is a readable, record-numbered log source.
type EventLog interface {
	Name() core.Logfile
	Info(ctx context.Context) (SourceInfo, error)
	// ReadFrom returns the retained records numbered start and later, oldest
	// first
	ReadFrom(ctx context.Context, start uint64) ([]NativeRecord, error)
	// ReadAll returns every retained record, oldest first
	ReadAll(ctx context.Context) ([]NativeRecord, error)
}

// SourceError wraps a failure reading one log.
type SourceError struct {
	Logfile core.Logfile
	Op      string
	Err     error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Logfile, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// UserMessage renders the error for display to an operator.
func (e *SourceError) UserMessage() string {
	if errors.Is(e.Err, ErrAccessDenied) {
		return fmt.Sprintf("Access denied when reading the '%s' log. Run with administrator privileges.", e.Logfile)
	}
	return fmt.Sprintf("Failed to read the '%s' log: %v", e.Logfile, e.Err)
}

func sourceError(logfile core.Logfile, op string, err error) *SourceError {
	var se *SourceError
	if errors.As(err, &se) {
		return se
	}
	return &SourceError{Logfile: logfile, Op: op, Err: err}
}
