package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"seclog/core"
	"seclog/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultDedupCacheSize is the number of recent dedup keys kept in memory
const DefaultDedupCacheSize = 10000

// conditionColumns are the log columns rule conditions may match on.
var conditionColumns = map[string]string{
	"logfile":    "logfile",
	"source":     "source",
	"event_id":   "event_id",
	"event_type": "event_type",
	"severity":   "severity",
	"message":    "message",
}

// Store is the deduplicating log and incident store. It is safe for
// concurrent use: writes are serialized by the single-connection write pool.
type Store struct {
	db     *SQLite
	logger *zap.SugaredLogger
	// recently inserted or seen dedup keys; skips the round trip for
	// overlapping batches
	dedup *lru.Cache[core.DedupKey, struct{}]
	// shared by inserts until their keys are cached; exclusive for
	// retention deletes and the cache purge that follows them
	cacheMu sync.RWMutex
	now     func() time.Time
	closed  atomic.Bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used for retention cutoffs and incident
// timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore wraps an open database.
func NewStore(db *SQLite, dedupCacheSize int, logger *zap.SugaredLogger, opts ...StoreOption) (*Store, error) {
	if dedupCacheSize <= 0 {
		dedupCacheSize = DefaultDedupCacheSize
	}
	cache, err := lru.New[core.DedupKey, struct{}](dedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	s := &Store{
		db:     db,
		logger: logger,
		dedup:  cache,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.HealthCheck(ctx)
}

// InsertResult summarizes an InsertBatch call.
type InsertResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	// Rejected counts records carrying a normalization error
	Rejected int `json:"rejected"`
}

// InsertBatch persists records in one transaction. Records already stored
// (by dedup key) and normalization failures are skipped without error, so
// overlapping batches can be inserted repeatedly. On error nothing from the
// batch is persisted.
func (s *Store) InsertBatch(ctx context.Context, records []core.LogRecord) (InsertResult, error) {
	var res InsertResult
	if s.closed.Load() {
		return res, ErrStoreClosed
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	var seen []core.DedupKey
	var newRows []core.Logfile
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO logs (timestamp, logfile, source, event_id, event_type, severity, message, raw)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if r.Failed() {
				res.Rejected++
				continue
			}
			key := r.Key()
			if s.dedup.Contains(key) {
				res.Duplicates++
				continue
			}

			var raw interface{}
			if len(r.Raw) > 0 {
				raw = string(r.Raw)
			}
			result, err := stmt.ExecContext(ctx,
				key.Timestamp, string(r.Logfile), r.Source, r.EventID,
				string(r.EventType), string(r.Severity), r.Message, raw)
			if err != nil {
				return fmt.Errorf("failed to insert log: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			if n == 0 {
				res.Duplicates++
			} else {
				res.Inserted++
				newRows = append(newRows, r.Logfile)
			}
			seen = append(seen, key)
		}
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}

	// only cache keys once they are known to be committed
	for _, key := range seen {
		s.dedup.Add(key, struct{}{})
	}
	for _, lf := range newRows {
		metrics.RecordsIngested.WithLabelValues(string(lf)).Inc()
	}
	metrics.DuplicatesSkipped.Add(float64(res.Duplicates))
	return res, nil
}

// QueryResult holds matching records and per-source match counts.
type QueryResult struct {
	// Records are ordered by timestamp, newest first
	Records []core.LogRecord `json:"records"`
	// SourceCounts tabulates every match (ignoring the limit) by source
	SourceCounts map[string]int `json:"source_counts"`
}

// Query returns stored records matching filter.
func (s *Store) Query(ctx context.Context, filter core.QueryFilter) (QueryResult, error) {
	res := QueryResult{SourceCounts: make(map[string]int)}
	if s.closed.Load() {
		return res, ErrStoreClosed
	}

	where, args := buildWhere(filter)

	query := `SELECT timestamp, logfile, source, event_id, event_type, severity, message, raw FROM logs` +
		where + ` ORDER BY timestamp DESC, id DESC`
	queryArgs := args
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		queryArgs = append(append([]interface{}{}, args...), filter.Limit)
	}

	rows, err := s.db.ReadDB.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return res, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanLogRecord(rows)
		if err != nil {
			return res, err
		}
		res.Records = append(res.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("failed to iterate logs: %w", err)
	}

	countRows, err := s.db.ReadDB.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM logs`+where+` GROUP BY source`, args...)
	if err != nil {
		return res, fmt.Errorf("failed to count logs by source: %w", err)
	}
	defer countRows.Close()
	for countRows.Next() {
		var source string
		var n int
		if err := countRows.Scan(&source, &n); err != nil {
			return res, fmt.Errorf("failed to scan source count: %w", err)
		}
		res.SourceCounts[source] = n
	}
	if err := countRows.Err(); err != nil {
		return res, fmt.Errorf("failed to iterate source counts: %w", err)
	}
	return res, nil
}

// buildWhere renders filter as a WHERE clause with bind arguments.
func buildWhere(filter core.QueryFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(filter.Logfiles) > 0 {
		placeholders := make([]string, len(filter.Logfiles))
		for i, lf := range filter.Logfiles {
			placeholders[i] = "?"
			args = append(args, string(lf))
		}
		clauses = append(clauses, "logfile IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.StartDate != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, core.FormatTimestamp(startOfDay(*filter.StartDate)))
	}
	if filter.EndDate != nil {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, core.FormatTimestamp(startOfDay(*filter.EndDate).AddDate(0, 0, 1)))
	}
	if filter.Keyword != "" {
		clauses = append(clauses, "instr(lower(message), lower(?)) > 0")
		args = append(args, filter.Keyword)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLogRecord(row rowScanner) (core.LogRecord, error) {
	var (
		rec                         core.LogRecord
		ts, logfile, eventType, sev string
		raw                         sql.NullString
	)
	if err := row.Scan(&ts, &logfile, &rec.Source, &rec.EventID, &eventType, &sev, &rec.Message, &raw); err != nil {
		return rec, fmt.Errorf("failed to scan log: %w", err)
	}
	t, err := core.ParseTimestamp(ts)
	if err != nil {
		return rec, fmt.Errorf("invalid stored timestamp %q: %w", ts, err)
	}
	rec.Timestamp = t
	rec.Logfile = core.Logfile(logfile)
	rec.EventType = core.EventType(eventType)
	rec.Severity = core.Severity(sev)
	if raw.Valid {
		rec.Raw = []byte(raw.String)
	}
	return rec, nil
}

// CountMatching counts records in logfile whose columns equal every
// condition and whose timestamp is at or after since. An empty logfile
// matches any logfile.
func (s *Store) CountMatching(ctx context.Context, logfile core.Logfile, conditions core.Conditions, since time.Time) (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	clauses := []string{"timestamp >= ?"}
	args := []interface{}{core.FormatTimestamp(since)}
	if logfile != "" {
		clauses = append(clauses, "logfile = ?")
		args = append(args, string(logfile))
	}
	for _, field := range conditions.Fields() {
		column, ok := conditionColumns[field]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownCondition, field)
		}
		clauses = append(clauses, column+" = ?")
		args = append(args, conditions[field])
	}

	var n int
	query := `SELECT COUNT(*) FROM logs WHERE ` + strings.Join(clauses, " AND ")
	if err := s.db.ReadDB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count matching logs: %w", err)
	}
	return n, nil
}

// ValidConditionField reports whether field can be used in a rule condition.
func ValidConditionField(field string) bool {
	_, ok := conditionColumns[field]
	return ok
}

// CountLogs returns the number of stored records.
func (s *Store) CountLogs(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	var n int
	if err := s.db.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return n, nil
}
