package ingest

import (
	"context"
	"fmt"

	"seclog/core"
	"seclog/metrics"

	"go.uber.org/zap"
)

// FetchResult is the outcome of a foreground fetch.
type FetchResult struct {
	// Records are sorted newest first
	Records  []core.LogRecord
	Failures []core.LogRecord
	Counts   map[core.Logfile]int
	Errors   []*SourceError
}

// Fetcher performs on-demand full reads of selected logs. A failing source
// is reported in the result and does not stop the others.
type Fetcher struct {
	sources  map[core.Logfile]EventLog
	registry *Registry
	kind     SourceKind
	logger   *zap.SugaredLogger
}

// NewFetcher creates a fetcher over sources.
func NewFetcher(sources []EventLog, registry *Registry, kind SourceKind, logger *zap.SugaredLogger) *Fetcher {
	byName := make(map[core.Logfile]EventLog, len(sources))
	for _, s := range sources {
		byName[s.Name()] = s
	}
	return &Fetcher{sources: byName, registry: registry, kind: kind, logger: logger}
}

// Fetch reads every retained record of the requested logs. An empty list
// fetches all configured sources.
func (f *Fetcher) Fetch(ctx context.Context, logfiles []core.Logfile) FetchResult {
	if len(logfiles) == 0 {
		for name := range f.sources {
			logfiles = append(logfiles, name)
		}
	}

	result := FetchResult{Counts: make(map[core.Logfile]int)}
	for _, name := range logfiles {
		src, ok := f.sources[name]
		if !ok {
			result.Errors = append(result.Errors, &SourceError{
				Logfile: name,
				Op:      "fetch",
				Err:     fmt.Errorf("%w: not configured", ErrSourceUnavailable),
			})
			continue
		}

		native, err := src.ReadAll(ctx)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(string(name)).Inc()
			se := sourceError(name, "fetch", err)
			f.logger.Warnw("Failed to fetch event log", "logfile", name, "error", err)
			result.Errors = append(result.Errors, se)
			continue
		}

		for _, n := range native {
			rec := f.registry.Normalize(f.kind, n)
			if rec.Failed() {
				metrics.NormalizationErrors.WithLabelValues(string(f.kind)).Inc()
				result.Failures = append(result.Failures, rec)
				continue
			}
			result.Records = append(result.Records, rec)
		}
		result.Counts[name] = len(native)
		f.logger.Debugw("Fetched event log", "logfile", name, "records", len(native))
	}

	sortNewestFirst(result.Records)
	return result
}
