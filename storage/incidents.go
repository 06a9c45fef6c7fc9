package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"seclog/core"
	"seclog/metrics"
)

// CreateIncident persists an open incident for alert and returns its ID.
func (s *Store) CreateIncident(ctx context.Context, alert core.Alert) (int64, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	inc := core.NewIncident(alert)
	now := core.FormatTimestamp(s.now())
	result, err := s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO incidents (rule_name, trigger_time, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?)`,
		inc.RuleName, core.FormatTimestamp(inc.TriggerTime), string(inc.Status), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create incident: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read incident id: %w", err)
	}

	metrics.IncidentsCreated.Inc()
	s.logger.Infow("Incident created", "id", id, "rule", inc.RuleName)
	return id, nil
}

// ListIncidents returns all incidents, most recently triggered first.
func (s *Store) ListIncidents(ctx context.Context) ([]core.Incident, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT id, rule_name, trigger_time, status, notes
		FROM incidents ORDER BY trigger_time DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := []core.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}
	return incidents, nil
}

// GetIncident returns one incident.
func (s *Store) GetIncident(ctx context.Context, id int64) (core.Incident, error) {
	if s.closed.Load() {
		return core.Incident{}, ErrStoreClosed
	}
	row := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT id, rule_name, trigger_time, status, notes FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Incident{}, fmt.Errorf("%w: %d", ErrIncidentNotFound, id)
	}
	return inc, err
}

// UpdateIncidentStatus moves an incident to status. Regressions are rejected
// with ErrInvalidTransition; an update to the current status is a no-op for
// the status. A non-nil notes replaces the incident notes.
func (s *Store) UpdateIncidentStatus(ctx context.Context, id int64, status core.IncidentStatus, notes *string) (core.Incident, error) {
	if s.closed.Load() {
		return core.Incident{}, ErrStoreClosed
	}

	var updated core.Incident
	err := s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, rule_name, trigger_time, status, notes FROM incidents WHERE id = ?`, id)
		inc, err := scanIncident(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrIncidentNotFound, id)
		}
		if err != nil {
			return err
		}

		if err := inc.TransitionTo(status); err != nil {
			return err
		}
		if notes != nil {
			inc.Notes = *notes
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE incidents SET status = ?, notes = ?, updated_at = ? WHERE id = ?`,
			string(inc.Status), inc.Notes, core.FormatTimestamp(s.now()), id); err != nil {
			return fmt.Errorf("failed to update incident: %w", err)
		}
		updated = inc
		return nil
	})
	if err != nil {
		return core.Incident{}, err
	}

	s.logger.Infow("Incident status updated", "id", id, "status", updated.Status)
	return updated, nil
}

func scanIncident(row rowScanner) (core.Incident, error) {
	var (
		inc         core.Incident
		triggerTime string
		status      string
	)
	if err := row.Scan(&inc.ID, &inc.RuleName, &triggerTime, &status, &inc.Notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inc, err
		}
		return inc, fmt.Errorf("failed to scan incident: %w", err)
	}
	t, err := core.ParseTimestamp(triggerTime)
	if err != nil {
		return inc, fmt.Errorf("invalid incident trigger time %q: %w", triggerTime, err)
	}
	inc.TriggerTime = t
	inc.Status = core.IncidentStatus(status)
	return inc, nil
}
