package ingest

import (
	"fmt"
	"strconv"
	"time"

	"seclog/core"
)

// windowsEventTypes maps native Windows event-type codes.
var windowsEventTypes = map[uint16]core.EventType{
	1:  core.EventTypeError,
	2:  core.EventTypeWarning,
	4:  core.EventTypeInformation,
	8:  core.EventTypeSuccessAudit,
	16: core.EventTypeFailureAudit,
}

// WindowsEventType maps a native event-type code to the canonical type.
func WindowsEventType(code uint16) core.EventType {
	if et, ok := windowsEventTypes[code]; ok {
		return et
	}
	return core.EventTypeUnknown
}

// WindowsNormalizer handles NativeRecord values and their map form as
// exported by event-log tooling (TimeGenerated, SourceName, EventID,
// EventType, Message, Logfile).
type WindowsNormalizer struct{}

func (n *WindowsNormalizer) Kind() SourceKind { return KindWindows }

func (n *WindowsNormalizer) Normalize(raw any) core.LogRecord {
	var rec NativeRecord
	switch v := raw.(type) {
	case NativeRecord:
		rec = v
	case *NativeRecord:
		if v == nil {
			return failed(raw, "nil windows record")
		}
		rec = *v
	case map[string]any:
		parsed, err := nativeRecordFromMap(v)
		if err != nil {
			return failed(raw, "windows record: %v", err)
		}
		rec = parsed
	default:
		return failed(raw, "unsupported windows payload type %T", raw)
	}

	if rec.TimeGenerated.IsZero() {
		return failed(raw, "windows record %d has no TimeGenerated", rec.RecordNumber)
	}

	eventType := WindowsEventType(rec.EventType)
	msg := truncateMessage(rec.Message)
	logfile := rec.Logfile
	if logfile == "" {
		logfile = core.LogfileOther
	}
	return core.LogRecord{
		Timestamp: rec.TimeGenerated.UTC().Truncate(time.Second),
		Logfile:   logfile,
		Source:    rec.SourceName,
		// the upper 16 bits carry facility and severity qualifiers
		EventID:   strconv.FormatUint(uint64(rec.EventID&0xFFFF), 10),
		EventType: eventType,
		Severity:  DeriveSeverity(msg, eventType),
		Message:   msg,
		Raw:       marshalRaw(rec),
	}
}

func nativeRecordFromMap(m map[string]any) (NativeRecord, error) {
	var rec NativeRecord

	ts, ok := m["TimeGenerated"]
	if !ok {
		return rec, fmt.Errorf("missing TimeGenerated")
	}
	t, err := parseTimeValue(ts)
	if err != nil {
		return rec, fmt.Errorf("TimeGenerated: %w", err)
	}
	rec.TimeGenerated = t

	if v, ok := m["EventID"]; ok {
		id, err := parseUintValue(v)
		if err != nil {
			return rec, fmt.Errorf("EventID: %w", err)
		}
		rec.EventID = uint32(id)
	}
	if v, ok := m["EventType"]; ok {
		code, err := parseUintValue(v)
		if err != nil {
			return rec, fmt.Errorf("EventType: %w", err)
		}
		rec.EventType = uint16(code)
	}
	if v, ok := m["RecordNumber"]; ok {
		n, err := parseUintValue(v)
		if err != nil {
			return rec, fmt.Errorf("RecordNumber: %w", err)
		}
		rec.RecordNumber = n
	}
	rec.SourceName = stringValue(m["SourceName"])
	rec.Message = stringValue(m["Message"])
	rec.Logfile = core.ParseLogfile(stringValue(m["Logfile"]))
	return rec, nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func parseUintValue(v any) (uint64, error) {
	switch n := v.(type) {
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, fmt.Errorf("not an unsigned integer: %v", n)
		}
		return uint64(n), nil
	case string:
		return strconv.ParseUint(n, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// timestampLayouts are tried in order for string timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	core.TimestampLayout,
	"2006-01-02T15:04:05",
}

// parseTimeValue accepts time.Time, a string in one of timestampLayouts or
// epoch seconds.
func parseTimeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", t)
	case float64:
		sec := int64(t)
		return time.Unix(sec, int64((t-float64(sec))*1e9)).UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}
