package storage

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"seclog/core"
	"seclog/metrics"
	"seclog/util/goroutine"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// RetentionMode selects what happens to rows past the retention cutoff.
type RetentionMode string

const (
	// RetentionArchive exports expired rows to a compressed archive before
	// removing them
	RetentionArchive RetentionMode = "archive"
	// RetentionDelete removes expired rows outright
	RetentionDelete RetentionMode = "delete"
)

// ParseRetentionMode accepts "archive" or "delete".
func ParseRetentionMode(s string) (RetentionMode, error) {
	switch m := RetentionMode(s); m {
	case RetentionArchive, RetentionDelete:
		return m, nil
	}
	return "", fmt.Errorf("unknown retention mode %q", s)
}

// RetentionPolicy configures one retention run. MaxAgeDays <= 0 disables
// retention.
type RetentionPolicy struct {
	MaxAgeDays int
	Mode       RetentionMode
	ArchiveDir string
}

// RetentionResult describes a completed retention run.
type RetentionResult struct {
	Cutoff      time.Time `json:"cutoff"`
	Archived    int       `json:"archived"`
	Deleted     int       `json:"deleted"`
	ArchiveID   string    `json:"archive_id,omitempty"`
	ArchivePath string    `json:"archive_path,omitempty"`
}

// Archive is a row of the archive manifest.
type Archive struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Cutoff    time.Time `json:"cutoff"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
}

// RunRetention removes rows older than the policy cutoff.
//
// In archive mode the expired rows are first written to a zstd-compressed
// CSV named logs-<UTC time>.csv.zst, synced and renamed into place, and
// recorded in the archives table; only then are exactly those rows deleted.
// A crash between the archive and the delete leaves the rows in place, so
// the next run archives them again (at-least-once archival).
func (s *Store) RunRetention(ctx context.Context, policy RetentionPolicy) (RetentionResult, error) {
	var res RetentionResult
	if s.closed.Load() {
		return res, ErrStoreClosed
	}
	if policy.MaxAgeDays <= 0 {
		return res, nil
	}

	now := s.now().UTC()
	res.Cutoff = now.AddDate(0, 0, -policy.MaxAgeDays).Truncate(time.Second)
	cutoff := core.FormatTimestamp(res.Cutoff)

	switch policy.Mode {
	case RetentionDelete:
		n, err := s.deleteExpired(func() (int, error) {
			result, err := s.db.WriteDB.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ?`, cutoff)
			if err != nil {
				return 0, fmt.Errorf("failed to delete expired logs: %w", err)
			}
			n, _ := result.RowsAffected()
			return int(n), nil
		})
		if err != nil {
			return res, err
		}
		res.Deleted = n
	case RetentionArchive, "":
		if err := s.archiveExpired(ctx, policy.ArchiveDir, res.Cutoff, now, &res); err != nil {
			return res, err
		}
	default:
		return res, fmt.Errorf("unknown retention mode %q", policy.Mode)
	}

	if res.Deleted > 0 {
		metrics.RetentionRows.WithLabelValues("deleted").Add(float64(res.Deleted))
	}
	metrics.RetentionRows.WithLabelValues("archived").Add(float64(res.Archived))
	s.logger.Infow("Retention run completed",
		"mode", policy.Mode,
		"cutoff", cutoff,
		"archived", res.Archived,
		"deleted", res.Deleted,
		"archive", res.ArchivePath)
	return res, nil
}

// deleteExpired runs del with inserts held off and purges the dedup cache
// when rows were removed, so no insert can re-cache a key of a deleted row.
func (s *Store) deleteExpired(del func() (int, error)) (int, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	n, err := del()
	if err == nil && n > 0 {
		s.dedup.Purge()
	}
	return n, err
}

func (s *Store) archiveExpired(ctx context.Context, dir string, cutoff, now time.Time, res *RetentionResult) error {
	if dir == "" {
		return fmt.Errorf("%w: no archive directory configured", ErrArchiveFailed)
	}
	cutoffText := core.FormatTimestamp(cutoff)

	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT id, timestamp, logfile, source, event_id, event_type, severity, message, raw
		FROM logs WHERE timestamp < ? ORDER BY id`, cutoffText)
	if err != nil {
		return fmt.Errorf("failed to select expired logs: %w", err)
	}
	defer rows.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	tmp, err := os.CreateTemp(dir, ".logs-*.csv.zst.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	count, maxID, err := writeArchive(tmp, rows)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveFailed, err)
	}
	if count == 0 {
		return nil
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrArchiveFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrArchiveFailed, err)
	}

	archiveID := uuid.New().String()
	finalPath := filepath.Join(dir, "logs-"+now.Format("20060102T150405Z")+".csv.zst")
	if _, err := os.Stat(finalPath); err == nil {
		finalPath = filepath.Join(dir, "logs-"+now.Format("20060102T150405Z")+"-"+archiveID[:8]+".csv.zst")
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrArchiveFailed, err)
	}
	committed = true

	deleted, err := s.deleteExpired(func() (int, error) {
		var n int64
		err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO archives (id, path, cutoff, row_count, created_at) VALUES (?, ?, ?, ?, ?)`,
				archiveID, finalPath, cutoffText, count, core.FormatTimestamp(now)); err != nil {
				return fmt.Errorf("failed to record archive: %w", err)
			}
			// ids only grow, so this is exactly the archived row set
			result, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ? AND id <= ?`, cutoffText, maxID)
			if err != nil {
				return fmt.Errorf("failed to delete archived logs: %w", err)
			}
			n, _ = result.RowsAffected()
			return nil
		})
		return int(n), err
	})
	if err != nil {
		// the artifact stays; the rows are archived again next run
		return err
	}
	res.Deleted = deleted

	res.Archived = count
	res.ArchiveID = archiveID
	res.ArchivePath = finalPath
	return nil
}

// writeArchive streams rows into a zstd-compressed CSV.
func writeArchive(w io.Writer, rows *sql.Rows) (count int, maxID int64, err error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	cw := csv.NewWriter(zw)
	if err := cw.Write(ArchiveColumns); err != nil {
		_ = zw.Close()
		return 0, 0, err
	}

	for rows.Next() {
		var (
			id                                                    int64
			ts, logfile, source, eventID, eventType, sev, message string
			raw                                                   sql.NullString
		)
		if err := rows.Scan(&id, &ts, &logfile, &source, &eventID, &eventType, &sev, &message, &raw); err != nil {
			_ = zw.Close()
			return 0, 0, fmt.Errorf("failed to scan expired log: %w", err)
		}
		if err := cw.Write([]string{strconv.FormatInt(id, 10), ts, logfile, source, eventID, eventType, sev, message, raw.String}); err != nil {
			_ = zw.Close()
			return 0, 0, err
		}
		count++
		if id > maxID {
			maxID = id
		}
	}
	if err := rows.Err(); err != nil {
		_ = zw.Close()
		return 0, 0, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = zw.Close()
		return 0, 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, 0, err
	}
	return count, maxID, nil
}

// ReadArchive decodes an archive artifact into its rows, header excluded.
func ReadArchive(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	records, err := csv.NewReader(zr).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("archive has no header")
	}
	return records[1:], nil
}

// ListArchives returns the archive manifest, newest first.
func (s *Store) ListArchives(ctx context.Context) ([]Archive, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT id, path, cutoff, row_count, created_at FROM archives ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	defer rows.Close()

	var archives []Archive
	for rows.Next() {
		var a Archive
		var cutoff, created string
		if err := rows.Scan(&a.ID, &a.Path, &cutoff, &a.RowCount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}
		a.Cutoff, _ = core.ParseTimestamp(cutoff)
		a.CreatedAt, _ = core.ParseTimestamp(created)
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

// RetentionManager applies a retention policy on a schedule.
type RetentionManager struct {
	store         *Store
	policy        RetentionPolicy
	checkInterval time.Duration
	logger        *zap.SugaredLogger
	stopCh        chan struct{}
	doneCh        chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewRetentionManager creates a manager that runs every checkInterval
// (24h when zero).
func NewRetentionManager(store *Store, policy RetentionPolicy, checkInterval time.Duration, logger *zap.SugaredLogger) *RetentionManager {
	if checkInterval <= 0 {
		checkInterval = 24 * time.Hour
	}
	return &RetentionManager{
		store:         store,
		policy:        policy,
		checkInterval: checkInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start runs the schedule in the background. With runNow the first pass
// happens immediately. A manager runs at most once; later calls and calls
// after Stop are no-ops.
func (rm *RetentionManager) Start(ctx context.Context, runNow bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.started || rm.stopped {
		return
	}
	rm.started = true
	go func() {
		defer close(rm.doneCh)
		defer goroutine.Recover("retention-manager", rm.logger)
		rm.run(ctx, runNow)
	}()
}

func (rm *RetentionManager) run(ctx context.Context, runNow bool) {
	if runNow {
		rm.cleanup(ctx)
	}

	ticker := time.NewTicker(rm.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rm.cleanup(ctx)
		case <-rm.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the schedule and waits for a running pass to finish.
func (rm *RetentionManager) Stop() {
	rm.mu.Lock()
	if rm.stopped {
		rm.mu.Unlock()
		return
	}
	rm.stopped = true
	started := rm.started
	close(rm.stopCh)
	rm.mu.Unlock()

	if started {
		<-rm.doneCh
	}
}

func (rm *RetentionManager) cleanup(ctx context.Context) {
	if rm.policy.MaxAgeDays <= 0 {
		return
	}
	if _, err := rm.store.RunRetention(ctx, rm.policy); err != nil {
		rm.logger.Errorw("Retention run failed", "error", err)
	}
}
