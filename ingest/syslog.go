package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"seclog/core"
)

// RFC3164: optional <pri>, "MMM dd hh:mm:ss", host, message.
var syslogLine = regexp.MustCompile(`^(?:<(\d{1,3})>)?([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.+)$`)

// SyslogNormalizer handles RFC3164 text lines. The record source is the
// sending host.
type SyslogNormalizer struct {
	// Now supplies the current year, which RFC3164 timestamps omit
	Now func() time.Time
}

func (n *SyslogNormalizer) Kind() SourceKind { return KindSyslog }

func (n *SyslogNormalizer) Normalize(raw any) core.LogRecord {
	var line string
	switch v := raw.(type) {
	case string:
		line = v
	case []byte:
		line = string(v)
	default:
		return failed(raw, "unsupported syslog payload type %T", raw)
	}
	line = strings.TrimRight(line, "\r\n")

	m := syslogLine.FindStringSubmatch(line)
	if m == nil {
		return failed(line, "invalid syslog format")
	}

	eventType := core.EventTypeUnknown
	if m[1] != "" {
		pri, err := strconv.Atoi(m[1])
		if err != nil || pri > 191 {
			return failed(line, "invalid syslog priority %q", m[1])
		}
		eventType = syslogEventType(pri % 8)
	}

	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	msg := truncateMessage(strings.TrimSpace(m[4]))
	return core.LogRecord{
		Timestamp: syslogTimestamp(m[2], now().UTC()),
		Logfile:   core.LogfileSyslog,
		Source:    m[3],
		EventID:   "N/A",
		EventType: eventType,
		Severity:  DeriveSeverity(msg, eventType),
		Message:   msg,
		Raw:       marshalRaw(line),
	}
}

// syslogEventType maps the PRI severity (0-7) onto canonical types.
func syslogEventType(sev int) core.EventType {
	switch {
	case sev <= 3:
		return core.EventTypeError
	case sev == 4:
		return core.EventTypeWarning
	default:
		return core.EventTypeInformation
	}
}

// syslogTimestamp resolves the year from now. A timestamp more than a day in
// the future belongs to the previous year. Unparsable stamps fall back to now.
func syslogTimestamp(stamp string, now time.Time) time.Time {
	stamp = strings.Join(strings.Fields(stamp), " ")
	t, err := time.ParseInLocation("Jan 2 15:04:05 2006", stamp+" "+strconv.Itoa(now.Year()), time.UTC)
	if err != nil {
		return now.Truncate(time.Second)
	}
	if t.After(now.Add(24 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t
}
