package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"seclog/core"
)

// GenericNormalizer is the best-effort variant for JSON-like maps and plain
// text. Missing fields get defaults; a timestamp that is present but cannot
// be parsed is a normalization failure.
type GenericNormalizer struct {
	Now func() time.Time
}

func (n *GenericNormalizer) Kind() SourceKind { return KindGeneric }

func (n *GenericNormalizer) Normalize(raw any) core.LogRecord {
	switch v := raw.(type) {
	case nil:
		return failed(raw, "empty payload")
	case map[string]any:
		return n.fromMap(v, raw)
	case json.RawMessage:
		return n.fromBytes(v)
	case []byte:
		return n.fromBytes(v)
	case string:
		return n.fromBytes([]byte(v))
	default:
		return n.fromText(fmt.Sprint(v), raw)
	}
}

// fromBytes decodes JSON objects and treats anything else as a message.
func (n *GenericNormalizer) fromBytes(b []byte) core.LogRecord {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return failed(string(b), "empty payload")
	}
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
			return failed(trimmed, "invalid JSON payload: %v", err)
		}
		return n.fromMap(m, json.RawMessage(trimmed))
	}
	return n.fromText(trimmed, trimmed)
}

func (n *GenericNormalizer) fromText(msg string, raw any) core.LogRecord {
	msg = truncateMessage(msg)
	return core.LogRecord{
		Timestamp: n.now(),
		Logfile:   core.LogfileOther,
		Source:    "Generic",
		EventID:   "N/A",
		EventType: core.EventTypeUnknown,
		Severity:  DeriveSeverity(msg, core.EventTypeUnknown),
		Message:   msg,
		Raw:       marshalRaw(raw),
	}
}

func (n *GenericNormalizer) fromMap(m map[string]any, raw any) core.LogRecord {
	if err := checkDepth(m, 0); err != nil {
		return failed(raw, "%v", err)
	}

	ts := n.now()
	if v, ok := m["timestamp"]; ok && v != nil {
		parsed, err := parseTimeValue(v)
		if err != nil {
			return failed(raw, "timestamp: %v", err)
		}
		ts = parsed.Truncate(time.Second)
	}

	msg := firstString(m, "message", "msg")
	if msg == "" {
		if b, err := json.Marshal(m); err == nil {
			msg = string(b)
		}
	}
	msg = truncateMessage(msg)

	source := firstString(m, "source", "host")
	if source == "" {
		source = "Generic"
	}
	eventID := firstString(m, "event_id")
	if eventID == "" {
		eventID = "N/A"
	}
	eventType := core.ParseEventType(firstString(m, "event_type"))

	return core.LogRecord{
		Timestamp: ts,
		Logfile:   core.ParseLogfile(firstString(m, "logfile")),
		Source:    source,
		EventID:   eventID,
		EventType: eventType,
		Severity:  DeriveSeverity(msg, eventType),
		Message:   msg,
		Raw:       marshalRaw(raw),
	}
}

func (n *GenericNormalizer) now() time.Time {
	if n.Now != nil {
		return n.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

// firstString returns the first non-empty value among keys rendered as text.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := stringValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func checkDepth(m map[string]any, depth int) error {
	if depth > maxPayloadDepth {
		return fmt.Errorf("payload nesting exceeds %d levels", maxPayloadDepth)
	}
	for _, v := range m {
		if err := checkValueDepth(v, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func checkValueDepth(v any, depth int) error {
	switch val := v.(type) {
	case map[string]any:
		return checkDepth(val, depth)
	case []any:
		if depth > maxPayloadDepth {
			return fmt.Errorf("payload nesting exceeds %d levels", maxPayloadDepth)
		}
		for _, elem := range val {
			if err := checkValueDepth(elem, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
