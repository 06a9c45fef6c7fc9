package core

import (
	"sort"
	"time"
)

const (
	// SummaryTopN is how many entries each ranked breakdown keeps
	SummaryTopN = 20
	// SummaryHourBins is how many hourly histogram bins are kept
	SummaryHourBins = 24
)

// CountEntry is one ranked key/count pair.
type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// HourBin counts records that fall in one UTC hour.
type HourBin struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// Summary breaks a record set down for dashboards.
type Summary struct {
	Total      int          `json:"total"`
	EventIDs   []CountEntry `json:"event_ids"`
	Sources    []CountEntry `json:"sources"`
	EventTypes []CountEntry `json:"event_types"`
	Severities []CountEntry `json:"severities"`
	Hourly     []HourBin    `json:"hourly"`
}

// Summarize ranks records by event ID, source, event type and severity and
// bins them per hour. The histogram covers the SummaryHourBins hours ending
// at the newest record's hour, empty hours included.
func Summarize(records []LogRecord) Summary {
	eventIDs := make(map[string]int)
	sources := make(map[string]int)
	eventTypes := make(map[string]int)
	severities := make(map[string]int)
	hours := make(map[time.Time]int)

	for _, r := range records {
		eventIDs[r.EventID]++
		sources[r.Source]++
		eventTypes[string(r.EventType)]++
		severities[string(r.Severity)]++
		hours[r.Timestamp.UTC().Truncate(time.Hour)]++
	}

	s := Summary{
		Total:      len(records),
		EventIDs:   rank(eventIDs, SummaryTopN),
		Sources:    rank(sources, SummaryTopN),
		EventTypes: rank(eventTypes, SummaryTopN),
		Severities: rank(severities, SummaryTopN),
	}

	if len(hours) == 0 {
		return s
	}
	var newest time.Time
	for h := range hours {
		if h.After(newest) {
			newest = h
		}
	}
	first := newest.Add(-time.Duration(SummaryHourBins-1) * time.Hour)
	s.Hourly = make([]HourBin, 0, SummaryHourBins)
	for h := first; !h.After(newest); h = h.Add(time.Hour) {
		s.Hourly = append(s.Hourly, HourBin{Hour: h, Count: hours[h]})
	}
	return s
}

// rank sorts by count descending, then key ascending for stable output.
func rank(counts map[string]int, n int) []CountEntry {
	entries := make([]CountEntry, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, CountEntry{Key: k, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
