package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"seclog/core"
)

// SourceKind selects the normalizer variant for a raw payload.
type SourceKind string

const (
	KindWindows SourceKind = "windows"
	KindSyslog  SourceKind = "syslog"
	KindGeneric SourceKind = "generic"
)

const (
	// maxMessageLength caps stored messages
	maxMessageLength = 50000
	// maxPayloadDepth bounds nesting in generic map payloads
	maxPayloadDepth = 20
)

// Normalizer converts one raw payload into a canonical record. It never
// returns an error: failures come back as a tagged record (see
// core.LogRecord.Failed) carrying the original payload.
type Normalizer interface {
	Kind() SourceKind
	Normalize(raw any) core.LogRecord
}

// Registry dispatches raw payloads to the normalizer registered for their
// kind. Unknown kinds use the generic normalizer. Register everything before
// the registry is shared between goroutines.
type Registry struct {
	normalizers map[SourceKind]Normalizer
	fallback    Normalizer
}

// NewRegistry creates a registry holding the built-in variants. now is the
// clock used when a payload carries no timestamp; nil means time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	generic := &GenericNormalizer{Now: now}
	r := &Registry{
		normalizers: make(map[SourceKind]Normalizer),
		fallback:    generic,
	}
	r.Register(&WindowsNormalizer{})
	r.Register(&SyslogNormalizer{Now: now})
	r.Register(generic)
	return r
}

// Register adds or replaces the normalizer for n.Kind().
func (r *Registry) Register(n Normalizer) {
	r.normalizers[n.Kind()] = n
}

// Normalize converts raw with the variant registered for kind.
func (r *Registry) Normalize(kind SourceKind, raw any) core.LogRecord {
	n, ok := r.normalizers[kind]
	if !ok {
		n = r.fallback
	}
	return n.Normalize(raw)
}

// ParseSourceKind accepts "windows", "syslog" or "generic" case-insensitively.
func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindWindows, KindSyslog, KindGeneric:
		return k, nil
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// failed builds a tagged normalization failure.
func failed(raw any, format string, args ...interface{}) core.LogRecord {
	return core.LogRecord{
		Raw:                marshalRaw(raw),
		NormalizationError: fmt.Sprintf(format, args...),
	}
}

// marshalRaw keeps the original payload as JSON. Payloads that cannot be
// marshalled are kept as their string rendering.
func marshalRaw(raw any) json.RawMessage {
	switch v := raw.(type) {
	case json.RawMessage:
		return v
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v)
		}
		raw = string(v)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprint(raw))
	}
	return b
}

func truncateMessage(msg string) string {
	if len(msg) > maxMessageLength {
		// back off to a rune boundary so the stored text stays valid UTF-8
		cut := maxMessageLength
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		return msg[:cut] + "..."
	}
	return msg
}
