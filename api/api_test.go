package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"seclog/core"
	"seclog/detect"
	"seclog/ingest"
	"seclog/service"
	"seclog/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var apiNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return apiNow }

type testServer struct {
	api      *API
	store    *storage.Store
	security *ingest.MemoryEventLog
}

func setupTestAPI(t *testing.T, rps float64) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	store, err := storage.NewStore(db, 0, logger, storage.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	security := ingest.NewMemoryEventLog(core.LogfileSecurity, 0)
	fetcher := ingest.NewFetcher([]ingest.EventLog{security}, ingest.NewRegistry(clock), ingest.KindWindows, logger)
	rules := core.RuleSet{Threshold: []core.ThresholdRule{{
		Name:        "Brute Force",
		Description: "Multiple failed logons",
		Enabled:     true,
		Logfile:     core.LogfileSecurity,
		Conditions:  core.Conditions{"event_id": "4625"},
		TimeWindow:  10 * time.Minute,
		Threshold:   2,
	}}}
	evaluator := detect.NewEvaluator(rules, store, detect.NewAlertManager(), logger, clock)
	svc := service.NewMonitorService(store, fetcher, evaluator, true, logger)

	return &testServer{api: NewAPI(svc, store, rps, logger), store: store, security: security}
}

func (ts *testServer) appendFailedLogons(n int) {
	for i := 0; i < n; i++ {
		ts.security.Append(ingest.NativeRecord{
			TimeGenerated: apiNow.Add(-time.Duration(i) * time.Minute),
			SourceName:    "Microsoft-Windows-Security-Auditing",
			EventID:       4625,
			EventType:     16,
			Message:       fmt.Sprintf("An account failed to log on (%d).", i),
		})
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	ts.api.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupTestAPI(t, 0)

	rr := ts.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = ts.do(t, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestGetLogs(t *testing.T) {
	ts := setupTestAPI(t, 0)
	ts.appendFailedLogons(3)

	// without sync nothing has been stored yet
	rr := ts.do(t, "GET", "/api/logs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp logsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Empty(t, resp.Records)

	rr = ts.do(t, "GET", "/api/logs?sync=true&logfile=Security", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Records, 3)
	assert.Equal(t, 3, resp.Inserted)
	assert.Equal(t, map[string]int{"Microsoft-Windows-Security-Auditing": 3}, resp.SourceCounts)
	assert.Len(t, resp.NewAlerts, 1)

	rr = ts.do(t, "GET", "/api/logs?keyword=(2)&limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Records, 1)
}

func TestGetLogs_BadFilter(t *testing.T) {
	ts := setupTestAPI(t, 0)
	for _, target := range []string{
		"/api/logs?start=18-10-2026",
		"/api/logs?start=2026-10-18&end=2026-10-01",
		"/api/logs?limit=-1",
		"/api/logs?limit=many",
		"/api/logs?keyword=" + strings.Repeat("a", 300),
	} {
		t.Run(target[:min(len(target), 40)], func(t *testing.T) {
			rr := ts.do(t, "GET", target, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestSummaryAndExport(t *testing.T) {
	ts := setupTestAPI(t, 0)
	ts.appendFailedLogons(2)
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/logs?sync=true", nil).Code)

	rr := ts.do(t, "GET", "/api/logs/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary core.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Total)

	rr = ts.do(t, "GET", "/api/logs/export", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, strings.Join(storage.ExportColumns, ","), lines[0])
}

func TestPromoteAndUpdateIncident(t *testing.T) {
	ts := setupTestAPI(t, 0)
	ts.appendFailedLogons(2)
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/logs?sync=true", nil).Code)

	rr := ts.do(t, "GET", "/api/alerts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var alerts []core.Alert
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)

	rr = ts.do(t, "POST", "/api/alerts/promote", alerts[0])
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var incident core.Incident
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &incident))
	assert.Equal(t, core.IncidentStatusOpen, incident.Status)

	// the alert left the active list
	rr = ts.do(t, "POST", "/api/alerts/promote", alerts[0])
	assert.Equal(t, http.StatusNotFound, rr.Code)

	unknown := alerts[0]
	unknown.RuleName = "Deleted Rule"
	rr = ts.do(t, "POST", "/api/alerts/promote", unknown)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = ts.do(t, "POST", "/api/alerts/promote", map[string]string{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	target := fmt.Sprintf("/api/incidents/%d/status", incident.ID)
	rr = ts.do(t, "PUT", target, map[string]string{"status": "acknowledged", "notes": "looking"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &incident))
	assert.Equal(t, core.IncidentStatusAcknowledged, incident.Status)
	assert.Equal(t, "looking", incident.Notes)

	rr = ts.do(t, "PUT", target, map[string]string{"status": "Open"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = ts.do(t, "PUT", target, map[string]string{"status": "Escalated"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, "PUT", "/api/incidents/999/status", map[string]string{"status": "Closed"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, "PUT", "/api/incidents/abc/status", map[string]string{"status": "Closed"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, "GET", "/api/incidents", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var incidents []core.Incident
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &incidents))
	assert.Len(t, incidents, 1)
}

func TestGetIncident(t *testing.T) {
	ts := setupTestAPI(t, 0)
	id, err := ts.store.CreateIncident(context.Background(), core.Alert{
		RuleName:    "Brute Force",
		Description: "Multiple failed logons",
		TriggerTime: apiNow,
		Count:       2,
		Threshold:   2,
		TimeWindow:  10 * time.Minute,
	})
	require.NoError(t, err)

	testCases := []struct {
		name   string
		target string
		code   int
	}{
		{"existing", fmt.Sprintf("/api/incidents/%d", id), http.StatusOK},
		{"missing", "/api/incidents/999", http.StatusNotFound},
		{"not a number", "/api/incidents/abc", http.StatusBadRequest},
		{"zero", "/api/incidents/0", http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.do(t, "GET", tc.target, nil)
			require.Equal(t, tc.code, rr.Code, rr.Body.String())
			if tc.code != http.StatusOK {
				return
			}
			var incident core.Incident
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &incident))
			assert.Equal(t, id, incident.ID)
			assert.Equal(t, "Brute Force", incident.RuleName)
			assert.Equal(t, core.IncidentStatusOpen, incident.Status)
		})
	}
}

func TestEvaluateRules(t *testing.T) {
	ts := setupTestAPI(t, 0)
	ts.appendFailedLogons(2)
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/logs?sync=true", nil).Code)

	// the sync already raised the alert
	rr := ts.do(t, "POST", "/api/alerts/evaluate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestRateLimit(t *testing.T) {
	ts := setupTestAPI(t, 0.5)
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, "GET", "/health", nil).Code)
}

func TestSanitizeErrorMessage(t *testing.T) {
	msg := sanitizeErrorMessage("open /var/lib/seclog/seclog.db: permission denied from 10.0.0.5")
	assert.NotContains(t, msg, "/var/lib")
	assert.NotContains(t, msg, "10.0.0.5")
	assert.Len(t, sanitizeErrorMessage(strings.Repeat("x", 1000)), maxErrorMessageLength)
}

func TestStop_WithoutStart(t *testing.T) {
	ts := setupTestAPI(t, 0)
	assert.NoError(t, ts.api.Stop(context.Background()))
}

func TestRequestID(t *testing.T) {
	ts := setupTestAPI(t, 0)

	testCases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when missing", "", false},
		{"kept when well formed", "trace-abc_123", true},
		{"replaced when unsafe", "bad\nid", false},
		{"replaced when too long", strings.Repeat("a", 65), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tc.incoming != "" {
				req.Header.Set("X-Request-ID", tc.incoming)
			}
			rec := httptest.NewRecorder()
			ts.api.Handler().ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			require.NotEmpty(t, got)
			if tc.keep {
				assert.Equal(t, tc.incoming, got)
			} else {
				assert.NotEqual(t, tc.incoming, got)
				assert.Len(t, got, 36)
			}
		})
	}
}

func TestErrorRecoveryMiddleware(t *testing.T) {
	ts := setupTestAPI(t, 0)
	h := ts.api.errorRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}
