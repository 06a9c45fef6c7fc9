package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"seclog/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// setupTestStore creates a store backed by a temp-dir database file.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zap.NewNop().Sugar())
	require.NoError(t, err)

	store, err := NewStore(db, 0, zap.NewNop().Sugar(), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func logRecord(ts time.Time, logfile core.Logfile, source, eventID, message string) core.LogRecord {
	return core.LogRecord{
		Timestamp: ts,
		Logfile:   logfile,
		Source:    source,
		EventID:   eventID,
		EventType: core.EventTypeFailureAudit,
		Severity:  core.SeverityWarning,
		Message:   message,
		Raw:       []byte(`{"k":"v"}`),
	}
}

func TestNewSQLite_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "seclog.db")
	db, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
	assert.Equal(t, dbPath, db.Path)
}

func TestValidateDatabasePath(t *testing.T) {
	testCases := []struct {
		path      string
		shouldErr bool
	}{
		{"data/seclog.db", false},
		{":memory:", false},
		{"", true},
		{"../outside.db", true},
		{"data/../../x.db", true},
		{"data\x00.db", true},
		{"CON.db", true},
		{"data/log..backup.db", false},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			err := validateDatabasePath(tc.path)
			if tc.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInsertBatch_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	batch := []core.LogRecord{
		logRecord(testNow.Add(-time.Minute), core.LogfileSecurity, "auth", "4625", "failed logon"),
		logRecord(testNow.Add(-2*time.Minute), core.LogfileSecurity, "auth", "4624", "logon"),
		logRecord(testNow.Add(-3*time.Minute), core.LogfileSystem, "scm", "7036", "service running"),
	}

	res, err := store.InsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 3}, res)

	first, err := store.Query(ctx, core.QueryFilter{})
	require.NoError(t, err)

	res, err = store.InsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Duplicates)

	second, err := store.Query(ctx, core.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInsertBatch_DedupBypassesCache(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := logRecord(testNow, core.LogfileSecurity, "auth", "4625", "failed logon")

	_, err := store.InsertBatch(ctx, []core.LogRecord{rec})
	require.NoError(t, err)

	// the database constraint holds even when the cache has forgotten the key
	store.dedup.Purge()
	dup := rec
	dup.Timestamp = rec.Timestamp.Add(300 * time.Millisecond)
	dup.Severity = core.SeverityCritical
	res, err := store.InsertBatch(ctx, []core.LogRecord{dup, dup})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 2, res.Duplicates)

	n, err := store.CountLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertBatch_SkipsNormalizationFailures(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	bad := core.LogRecord{Raw: []byte(`"garbage"`), NormalizationError: "invalid syslog format"}
	good := logRecord(testNow, core.LogfileApplication, "app", "1000", "crash")

	res, err := store.InsertBatch(ctx, []core.LogRecord{bad, good})
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 1, Rejected: 1}, res)
}

func TestInsertBatch_ConcurrentWriters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var batch []core.LogRecord
			for i := 0; i < 25; i++ {
				batch = append(batch, logRecord(testNow.Add(-time.Duration(i)*time.Second), core.LogfileSecurity, "auth", "4625", "failed logon"))
			}
			_, err := store.InsertBatch(ctx, batch)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := store.CountLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestQuery_FiltersAndOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 10, 16, 23, 59, 59, 0, time.UTC)
	day2 := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	_, err := store.InsertBatch(ctx, []core.LogRecord{
		logRecord(day1, core.LogfileSecurity, "auth", "4625", "Failed logon for admin"),
		logRecord(day2, core.LogfileSecurity, "auth", "4624", "Logon for admin"),
		logRecord(day2.Add(time.Hour), core.LogfileSystem, "scm", "7036", "Service entered running state"),
		logRecord(day3, core.LogfileApplication, "app", "1000", "Application crash"),
	})
	require.NoError(t, err)

	all, err := store.Query(ctx, core.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, all.Records, 4)
	for i := 1; i < len(all.Records); i++ {
		assert.False(t, all.Records[i].Timestamp.After(all.Records[i-1].Timestamp), "newest first")
	}
	assert.Equal(t, map[string]int{"auth": 2, "scm": 1, "app": 1}, all.SourceCounts)

	start := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	ranged, err := store.Query(ctx, core.QueryFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Len(t, ranged.Records, 2, "start is inclusive; end covers the whole day only")

	byLogfile, err := store.Query(ctx, core.QueryFilter{Logfiles: []core.Logfile{core.LogfileSecurity, core.LogfileApplication}})
	require.NoError(t, err)
	assert.Len(t, byLogfile.Records, 3)

	keyword, err := store.Query(ctx, core.QueryFilter{Keyword: "ADMIN"})
	require.NoError(t, err)
	assert.Len(t, keyword.Records, 2)
	assert.Equal(t, map[string]int{"auth": 2}, keyword.SourceCounts, "counts are keyed by source")

	limited, err := store.Query(ctx, core.QueryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited.Records, 1)
	assert.Equal(t, 4, limited.SourceCounts["auth"]+limited.SourceCounts["scm"]+limited.SourceCounts["app"], "counts ignore the limit")
}

func TestQuery_RoundTripsFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := logRecord(testNow, core.LogfileSecurity, "auth", "4625", "failed logon")

	_, err := store.InsertBatch(ctx, []core.LogRecord{rec})
	require.NoError(t, err)

	res, err := store.Query(ctx, core.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	got := res.Records[0]
	assert.Equal(t, rec.Timestamp, got.Timestamp)
	assert.Equal(t, rec.EventType, got.EventType)
	assert.Equal(t, rec.Severity, got.Severity)
	assert.JSONEq(t, string(rec.Raw), string(got.Raw))
}

func TestCountMatching(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var batch []core.LogRecord
	for i := 0; i < 5; i++ {
		batch = append(batch, logRecord(testNow.Add(-time.Duration(i)*time.Minute), core.LogfileSecurity, "auth", "4625", "failed logon "+strings.Repeat("x", i)))
	}
	batch = append(batch,
		logRecord(testNow.Add(-time.Hour), core.LogfileSecurity, "auth", "4625", "old failed logon"),
		logRecord(testNow, core.LogfileSystem, "auth", "4625", "other logfile"),
	)
	_, err := store.InsertBatch(ctx, batch)
	require.NoError(t, err)

	since := testNow.Add(-10 * time.Minute)
	n, err := store.CountMatching(ctx, core.LogfileSecurity, core.Conditions{"event_id": "4625"}, since)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = store.CountMatching(ctx, "", core.Conditions{"event_id": "4625", "source": "auth"}, since)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "empty logfile matches any logfile")

	n, err = store.CountMatching(ctx, core.LogfileSecurity, core.Conditions{"event_id": "4624"}, since)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.CountMatching(ctx, core.LogfileSecurity, core.Conditions{"event_id; DROP TABLE logs": "1"}, since)
	assert.ErrorIs(t, err, ErrUnknownCondition)
}

func TestStore_Closed(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.InsertBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Query(context.Background(), core.QueryFilter{})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestWriteCSV(t *testing.T) {
	var sb strings.Builder
	err := WriteCSV(&sb, []core.LogRecord{
		logRecord(testNow, core.LogfileSecurity, "auth", "4625", "failed, with comma"),
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,logfile,source,event_id,event_type,severity,message", lines[0])
	assert.Equal(t, `2026-10-18 12:00:00,Security,auth,4625,Failure Audit,Warning,"failed, with comma"`, lines[1])
}
