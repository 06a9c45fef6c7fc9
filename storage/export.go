package storage

import (
	"encoding/csv"
	"fmt"
	"io"

	"seclog/core"
)

// ExportColumns is the column order of user-triggered exports.
var ExportColumns = []string{"timestamp", "logfile", "source", "event_id", "event_type", "severity", "message"}

// ArchiveColumns is the column order of retention archives, matching the
// live logs table.
var ArchiveColumns = []string{"id", "timestamp", "logfile", "source", "event_id", "event_type", "severity", "message", "raw"}

// WriteCSV writes records with a header row in ExportColumns order.
func WriteCSV(w io.Writer, records []core.LogRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write([]string{
			core.FormatTimestamp(r.Timestamp),
			string(r.Logfile),
			r.Source,
			r.EventID,
			string(r.EventType),
			string(r.Severity),
			r.Message,
		}); err != nil {
			return fmt.Errorf("failed to write export row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
