package storage

import (
	"context"
	"testing"
	"time"

	"seclog/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert(name string, trigger time.Time) core.Alert {
	return core.Alert{
		RuleName:    name,
		Description: "test rule",
		TriggerTime: trigger,
		Count:       5,
		Threshold:   5,
		TimeWindow:  10 * time.Minute,
	}
}

func TestCreateAndListIncidents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id1, err := store.CreateIncident(ctx, testAlert("Brute Force", testNow.Add(-time.Hour)))
	require.NoError(t, err)
	id2, err := store.CreateIncident(ctx, testAlert("Service Tampering", testNow))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	incidents, err := store.ListIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, id2, incidents[0].ID, "most recent first")
	assert.Equal(t, core.IncidentStatusOpen, incidents[0].Status)
	assert.Equal(t, "Service Tampering", incidents[0].RuleName)
	assert.Equal(t, testNow, incidents[0].TriggerTime)
	assert.Empty(t, incidents[0].Notes)
}

func TestListIncidents_Empty(t *testing.T) {
	store := setupTestStore(t)
	incidents, err := store.ListIncidents(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, incidents)
	assert.Empty(t, incidents)
}

func TestUpdateIncidentStatus(t *testing.T) {
	testCases := []struct {
		name      string
		steps     []core.IncidentStatus
		final     core.IncidentStatus
		shouldErr bool
	}{
		{"open to acknowledged", []core.IncidentStatus{core.IncidentStatusAcknowledged}, core.IncidentStatusAcknowledged, false},
		{"open to closed", []core.IncidentStatus{core.IncidentStatusClosed}, core.IncidentStatusClosed, false},
		{"full lifecycle", []core.IncidentStatus{core.IncidentStatusAcknowledged, core.IncidentStatusClosed}, core.IncidentStatusClosed, false},
		{"same status", []core.IncidentStatus{core.IncidentStatusOpen}, core.IncidentStatusOpen, false},
		{"regression", []core.IncidentStatus{core.IncidentStatusClosed, core.IncidentStatusOpen}, core.IncidentStatusClosed, true},
		{"acknowledged back to open", []core.IncidentStatus{core.IncidentStatusAcknowledged, core.IncidentStatusOpen}, core.IncidentStatusAcknowledged, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := setupTestStore(t)
			ctx := context.Background()
			id, err := store.CreateIncident(ctx, testAlert("r", testNow))
			require.NoError(t, err)

			var lastErr error
			for _, st := range tc.steps {
				_, lastErr = store.UpdateIncidentStatus(ctx, id, st, nil)
			}
			if tc.shouldErr {
				assert.ErrorIs(t, lastErr, ErrInvalidTransition)
			} else {
				assert.NoError(t, lastErr)
			}

			inc, err := store.GetIncident(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tc.final, inc.Status)
		})
	}
}

func TestUpdateIncidentStatus_Notes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	id, err := store.CreateIncident(ctx, testAlert("r", testNow))
	require.NoError(t, err)

	notes := "password spray from 10.0.0.5"
	inc, err := store.UpdateIncidentStatus(ctx, id, core.IncidentStatusAcknowledged, &notes)
	require.NoError(t, err)
	assert.Equal(t, notes, inc.Notes)

	// same status, notes only
	more := notes + "; blocked at firewall"
	inc, err = store.UpdateIncidentStatus(ctx, id, core.IncidentStatusAcknowledged, &more)
	require.NoError(t, err)
	assert.Equal(t, more, inc.Notes)

	// nil keeps the notes
	inc, err = store.UpdateIncidentStatus(ctx, id, core.IncidentStatusClosed, nil)
	require.NoError(t, err)
	assert.Equal(t, more, inc.Notes)
}

func TestUpdateIncidentStatus_NotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.UpdateIncidentStatus(context.Background(), 42, core.IncidentStatusClosed, nil)
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	_, err = store.GetIncident(context.Background(), 42)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}
