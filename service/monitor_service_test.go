package service

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"seclog/core"
	"seclog/detect"
	"seclog/ingest"
	"seclog/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var serviceNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return serviceNow }

type testEnv struct {
	svc      *MonitorService
	store    *storage.Store
	security *ingest.MemoryEventLog
	system   *ingest.MemoryEventLog
}

func bruteForceRules() core.RuleSet {
	return core.RuleSet{Threshold: []core.ThresholdRule{{
		Name:        "Brute Force",
		Description: "Multiple failed logons",
		Enabled:     true,
		Logfile:     core.LogfileSecurity,
		Conditions:  core.Conditions{"event_id": "4625"},
		TimeWindow:  10 * time.Minute,
		Threshold:   3,
	}}}
}

func setupService(t *testing.T, evaluateAfterIngest bool) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "svc.db"), logger)
	require.NoError(t, err)
	store, err := storage.NewStore(db, 0, logger, storage.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	security := ingest.NewMemoryEventLog(core.LogfileSecurity, 0)
	system := ingest.NewMemoryEventLog(core.LogfileSystem, 0)
	registry := ingest.NewRegistry(clock)
	fetcher := ingest.NewFetcher([]ingest.EventLog{security, system}, registry, ingest.KindWindows, logger)
	evaluator := detect.NewEvaluator(bruteForceRules(), store, detect.NewAlertManager(), logger, clock)

	return &testEnv{
		svc:      NewMonitorService(store, fetcher, evaluator, evaluateAfterIngest, logger),
		store:    store,
		security: security,
		system:   system,
	}
}

func failedLogons(n int) []ingest.NativeRecord {
	out := make([]ingest.NativeRecord, n)
	for i := range out {
		out[i] = ingest.NativeRecord{
			TimeGenerated: serviceNow.Add(-time.Duration(i) * time.Minute),
			SourceName:    "Microsoft-Windows-Security-Auditing",
			EventID:       4625,
			EventType:     16,
			Message:       fmt.Sprintf("An account failed to log on (%d).", i),
		}
	}
	return out
}

func TestSyncAndQuery(t *testing.T) {
	env := setupService(t, true)
	ctx := context.Background()
	env.security.Append(failedLogons(4)...)
	env.system.Append(ingest.NativeRecord{
		TimeGenerated: serviceNow,
		SourceName:    "Service Control Manager",
		EventID:       7036,
		EventType:     4,
		Message:       "The Print Spooler service entered the running state.",
	})

	res, err := env.svc.SyncAndQuery(ctx, core.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, 5, res.Inserted)
	assert.Len(t, res.Records, 5)
	assert.Equal(t, 4, res.SourceCounts["Microsoft-Windows-Security-Auditing"])
	require.Len(t, res.NewAlerts, 1)
	assert.Equal(t, 4, res.NewAlerts[0].Count)

	// a second sync stores nothing new and raises no new alert
	res, err = env.svc.SyncAndQuery(ctx, core.QueryFilter{})
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 5, res.Duplicates)
	assert.Empty(t, res.NewAlerts)
	assert.Len(t, env.svc.ActiveAlerts(), 1)
}

func TestSyncAndQuery_SourceFailureIsolated(t *testing.T) {
	env := setupService(t, false)
	env.security.FailWith(ingest.ErrAccessDenied)
	env.system.Append(ingest.NativeRecord{TimeGenerated: serviceNow, SourceName: "scm", EventID: 7036, EventType: 4, Message: "running"})

	res, err := env.svc.SyncAndQuery(context.Background(), core.QueryFilter{
		Logfiles: []core.Logfile{core.LogfileSecurity, core.LogfileSystem},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.LogfileSecurity, res.Errors[0].Logfile)
	assert.Contains(t, res.ErrorMessages()[0], "Access denied")
}

func TestIngestBatch(t *testing.T) {
	testCases := []struct {
		name           string
		evaluate       bool
		expectedAlerts int
	}{
		{"evaluates after ingest", true, 1},
		{"evaluation disabled", false, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupService(t, tc.evaluate)
			registry := ingest.NewRegistry(clock)

			var batch ingest.Batch
			for _, n := range failedLogons(3) {
				n.Logfile = core.LogfileSecurity
				batch.Records = append(batch.Records, registry.Normalize(ingest.KindWindows, n))
			}
			batch.Failures = []core.LogRecord{{NormalizationError: "bad"}}

			ins, alerts, err := env.svc.IngestBatch(context.Background(), batch)
			require.NoError(t, err)
			assert.Equal(t, 3, ins.Inserted)
			assert.Equal(t, 1, ins.Rejected)
			assert.Len(t, alerts, tc.expectedAlerts)
		})
	}
}

func TestConsume(t *testing.T) {
	env := setupService(t, false)
	registry := ingest.NewRegistry(clock)
	batches := make(chan ingest.Batch, 2)

	n := failedLogons(1)[0]
	n.Logfile = core.LogfileSecurity
	batches <- ingest.Batch{Records: []core.LogRecord{registry.Normalize(ingest.KindWindows, n)}}
	batches <- ingest.Batch{Errors: []*ingest.SourceError{{Logfile: core.LogfileSystem, Op: "info", Err: ingest.ErrSourceUnavailable}}}
	close(batches)

	env.svc.Consume(context.Background(), batches)

	count, err := env.store.CountLogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPromoteAlert(t *testing.T) {
	env := setupService(t, true)
	ctx := context.Background()
	env.security.Append(failedLogons(3)...)

	res, err := env.svc.SyncAndQuery(ctx, core.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, res.NewAlerts, 1)
	alert := res.NewAlerts[0]

	incident, err := env.svc.PromoteAlert(ctx, alert)
	require.NoError(t, err)
	assert.NotZero(t, incident.ID)
	assert.Equal(t, core.IncidentStatusOpen, incident.Status)
	assert.Equal(t, "Brute Force", incident.RuleName)
	assert.Empty(t, env.svc.ActiveAlerts())

	// already promoted
	_, err = env.svc.PromoteAlert(ctx, alert)
	assert.ErrorIs(t, err, ErrAlertNotActive)

	unknown := alert
	unknown.RuleName = "Not Configured"
	_, err = env.svc.PromoteAlert(ctx, unknown)
	assert.ErrorIs(t, err, ErrUnknownRule)

	incidents, err := env.svc.ListIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	got, err := env.svc.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, incidents[0], got)

	_, err = env.svc.GetIncident(ctx, incident.ID+100)
	assert.ErrorIs(t, err, storage.ErrIncidentNotFound)

	notes := "reset the account password"
	updated, err := env.svc.UpdateIncidentStatus(ctx, incident.ID, core.IncidentStatusClosed, &notes)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusClosed, updated.Status)

	_, err = env.svc.UpdateIncidentStatus(ctx, incident.ID, core.IncidentStatusOpen, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	_, err = env.svc.UpdateIncidentStatus(ctx, incident.ID, core.IncidentStatus("Escalated"), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestExport(t *testing.T) {
	env := setupService(t, false)
	env.security.Append(failedLogons(2)...)
	_, err := env.svc.SyncAndQuery(context.Background(), core.QueryFilter{})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := env.svc.Export(context.Background(), core.QueryFilter{Keyword: "(1)"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "2026-10-18 11:59:00,Security,Microsoft-Windows-Security-Auditing,4625,Failure Audit,Warning,"))
}
