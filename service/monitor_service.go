package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"seclog/core"
	"seclog/detect"
	"seclog/ingest"
	"seclog/storage"

	"go.uber.org/zap"
)

var (
	// ErrUnknownRule is returned when promoting an alert whose rule is not
	// in the loaded configuration.
	ErrUnknownRule = errors.New("rule not found in configuration")
	// ErrAlertNotActive is returned when promoting an alert that is no longer
	// in the active list.
	ErrAlertNotActive = errors.New("alert is not active")
)

// LogStore defines the storage operations the service needs.
// Defined here (consumer package) and satisfied by *storage.Store.
type LogStore interface {
	InsertBatch(ctx context.Context, records []core.LogRecord) (storage.InsertResult, error)
	Query(ctx context.Context, filter core.QueryFilter) (storage.QueryResult, error)
	CreateIncident(ctx context.Context, alert core.Alert) (int64, error)
	ListIncidents(ctx context.Context) ([]core.Incident, error)
	GetIncident(ctx context.Context, id int64) (core.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id int64, status core.IncidentStatus, notes *string) (core.Incident, error)
}

// MonitorService holds the operations shared by the HTTP API, the CLI and
// the background ingest consumer.
type MonitorService struct {
	store               LogStore
	fetcher             *ingest.Fetcher
	evaluator           *detect.Evaluator
	evaluateAfterIngest bool
	logger              *zap.SugaredLogger
}

// NewMonitorService creates the service. fetcher may be nil when no sources
// are configured.
func NewMonitorService(store LogStore, fetcher *ingest.Fetcher, evaluator *detect.Evaluator, evaluateAfterIngest bool, logger *zap.SugaredLogger) *MonitorService {
	return &MonitorService{
		store:               store,
		fetcher:             fetcher,
		evaluator:           evaluator,
		evaluateAfterIngest: evaluateAfterIngest,
		logger:              logger,
	}
}

// SyncResult is the outcome of a foreground fetch.
type SyncResult struct {
	Fetched      int                   `json:"fetched"`
	Inserted     int                   `json:"inserted"`
	Duplicates   int                   `json:"duplicates"`
	Rejected     int                   `json:"rejected"`
	Records      []core.LogRecord      `json:"records"`
	SourceCounts map[string]int        `json:"source_counts"`
	Errors       []*ingest.SourceError `json:"-"`
	NewAlerts    []core.Alert          `json:"new_alerts"`
}

// ErrorMessages returns the user-facing message of every source failure.
func (r SyncResult) ErrorMessages() []string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.UserMessage())
	}
	return msgs
}

// SyncAndQuery reads the requested logs, stores what is new, then answers
// the query and runs an evaluation pass. Source failures are returned in
// the result; only a failed query is an error.
func (s *MonitorService) SyncAndQuery(ctx context.Context, filter core.QueryFilter) (SyncResult, error) {
	var res SyncResult

	if s.fetcher != nil {
		fetched := s.fetcher.Fetch(ctx, filter.Logfiles)
		res.Fetched = len(fetched.Records)
		res.Rejected = len(fetched.Failures)
		res.Errors = fetched.Errors

		if len(fetched.Records) > 0 {
			ins, err := s.store.InsertBatch(ctx, fetched.Records)
			if err != nil {
				// the query below still answers from what is stored
				s.logger.Errorw("Failed to store fetched records", "records", len(fetched.Records), "error", err)
			}
			res.Inserted = ins.Inserted
			res.Duplicates = ins.Duplicates
			res.Rejected += ins.Rejected
		}
	}

	qr, err := s.store.Query(ctx, filter)
	if err != nil {
		return res, fmt.Errorf("failed to query logs: %w", err)
	}
	res.Records = qr.Records
	res.SourceCounts = qr.SourceCounts

	res.NewAlerts = s.evaluate(ctx)
	return res, nil
}

// IngestBatch stores a poller batch and, when configured, evaluates rules.
func (s *MonitorService) IngestBatch(ctx context.Context, batch ingest.Batch) (storage.InsertResult, []core.Alert, error) {
	ins, err := s.store.InsertBatch(ctx, batch.Records)
	if err != nil {
		return ins, nil, fmt.Errorf("failed to store batch: %w", err)
	}
	ins.Rejected += len(batch.Failures)

	s.logger.Infow("Ingested batch",
		"new", len(batch.Records),
		"inserted", ins.Inserted,
		"duplicates", ins.Duplicates,
		"rejected", ins.Rejected,
		"per_source", batch.Counts)

	if !s.evaluateAfterIngest || ins.Inserted == 0 {
		return ins, nil, nil
	}
	return ins, s.evaluate(ctx), nil
}

// Consume ingests batches until ctx is done or batches is closed.
func (s *MonitorService) Consume(ctx context.Context, batches <-chan ingest.Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			for _, srcErr := range batch.Errors {
				s.logger.Warnw("Source skipped this cycle", "logfile", srcErr.Logfile, "message", srcErr.UserMessage())
			}
			if batch.Empty() {
				continue
			}
			if _, _, err := s.IngestBatch(ctx, batch); err != nil {
				s.logger.Errorw("Batch ingest failed", "error", err)
			}
		}
	}
}

// Evaluate runs an evaluation pass on demand.
func (s *MonitorService) Evaluate(ctx context.Context) ([]core.Alert, error) {
	return s.evaluator.Evaluate(ctx)
}

func (s *MonitorService) evaluate(ctx context.Context) []core.Alert {
	added, err := s.evaluator.Evaluate(ctx)
	if errors.Is(err, detect.ErrEvaluationInProgress) {
		s.logger.Debugw("Evaluation skipped, pass already running")
		return nil
	}
	return added
}

// Query answers a log query without reading the sources.
func (s *MonitorService) Query(ctx context.Context, filter core.QueryFilter) (storage.QueryResult, error) {
	return s.store.Query(ctx, filter)
}

// Export writes the records matching filter as CSV.
func (s *MonitorService) Export(ctx context.Context, filter core.QueryFilter, w io.Writer) (int, error) {
	qr, err := s.store.Query(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to query logs: %w", err)
	}
	if err := storage.WriteCSV(w, qr.Records); err != nil {
		return 0, err
	}
	return len(qr.Records), nil
}

// ActiveAlerts returns the active alerts, newest first.
func (s *MonitorService) ActiveAlerts() []core.Alert {
	return s.evaluator.Alerts().Active()
}

// Rules returns the loaded rule configuration.
func (s *MonitorService) Rules() core.RuleSet {
	return s.evaluator.Rules()
}

// PromoteAlert turns an active alert into an open incident and removes it
// from the active list.
func (s *MonitorService) PromoteAlert(ctx context.Context, alert core.Alert) (core.Incident, error) {
	if !s.evaluator.Rules().Has(alert.RuleName) {
		return core.Incident{}, fmt.Errorf("%w: %q", ErrUnknownRule, alert.RuleName)
	}
	alerts := s.evaluator.Alerts()
	if !alerts.Contains(alert) {
		return core.Incident{}, ErrAlertNotActive
	}

	id, err := s.store.CreateIncident(ctx, alert)
	if err != nil {
		return core.Incident{}, fmt.Errorf("failed to create incident: %w", err)
	}
	alerts.Remove(alert)

	incident := core.NewIncident(alert)
	incident.ID = id
	s.logger.Infow("Alert promoted to incident", "incident_id", id, "rule", alert.RuleName)
	return incident, nil
}

// ListIncidents returns every incident, most recent first.
func (s *MonitorService) ListIncidents(ctx context.Context) ([]core.Incident, error) {
	return s.store.ListIncidents(ctx)
}

// GetIncident returns one incident by ID.
func (s *MonitorService) GetIncident(ctx context.Context, id int64) (core.Incident, error) {
	return s.store.GetIncident(ctx, id)
}

// UpdateIncidentStatus moves an incident forward and optionally replaces its
// notes.
func (s *MonitorService) UpdateIncidentStatus(ctx context.Context, id int64, status core.IncidentStatus, notes *string) (core.Incident, error) {
	if !status.IsValid() {
		return core.Incident{}, fmt.Errorf("%w: unknown status %q", storage.ErrInvalidTransition, status)
	}
	incident, err := s.store.UpdateIncidentStatus(ctx, id, status, notes)
	if err != nil {
		return core.Incident{}, err
	}
	s.logger.Infow("Incident updated", "incident_id", id, "status", incident.Status)
	return incident, nil
}
