package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncident_TransitionTo(t *testing.T) {
	testCases := []struct {
		name      string
		from      IncidentStatus
		to        IncidentStatus
		shouldErr bool
	}{
		// Valid transitions
		{"Open to Acknowledged", IncidentStatusOpen, IncidentStatusAcknowledged, false},
		{"Open to Closed", IncidentStatusOpen, IncidentStatusClosed, false},
		{"Acknowledged to Closed", IncidentStatusAcknowledged, IncidentStatusClosed, false},
		{"Open to Open", IncidentStatusOpen, IncidentStatusOpen, false},
		{"Closed to Closed", IncidentStatusClosed, IncidentStatusClosed, false},

		// Regressions
		{"Acknowledged to Open", IncidentStatusAcknowledged, IncidentStatusOpen, true},
		{"Closed to Open", IncidentStatusClosed, IncidentStatusOpen, true},
		{"Closed to Acknowledged", IncidentStatusClosed, IncidentStatusAcknowledged, true},
		{"Open to unknown", IncidentStatusOpen, IncidentStatus("Reopened"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inc := &Incident{ID: 1, RuleName: "r", Status: tc.from}

			err := inc.TransitionTo(tc.to)
			if tc.shouldErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tc.from, inc.Status, "status must not change on a rejected transition")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.to, inc.Status)
			}
		})
	}
}

func TestIncident_IsFinal(t *testing.T) {
	assert.False(t, (&Incident{Status: IncidentStatusOpen}).IsFinal())
	assert.False(t, (&Incident{Status: IncidentStatusAcknowledged}).IsFinal())
	assert.True(t, (&Incident{Status: IncidentStatusClosed}).IsFinal())
}

func TestIncident_AllowedTransitionsReturnsCopy(t *testing.T) {
	inc := &Incident{Status: IncidentStatusOpen}
	allowed := inc.AllowedTransitions()
	require.Len(t, allowed, 2)

	allowed[0] = IncidentStatusClosed
	assert.Equal(t, IncidentStatusAcknowledged, inc.AllowedTransitions()[0])
}

func TestNewIncident_FromAlert(t *testing.T) {
	trigger := time.Date(2026, 10, 18, 12, 30, 15, 999, time.UTC)
	alert := Alert{RuleName: "Brute Force", TriggerTime: trigger, Count: 5, Threshold: 5}

	inc := NewIncident(alert)
	assert.Equal(t, "Brute Force", inc.RuleName)
	assert.Equal(t, IncidentStatusOpen, inc.Status)
	assert.Equal(t, trigger.Truncate(time.Second), inc.TriggerTime)
	assert.Zero(t, inc.ID)
}

func TestParseIncidentStatus(t *testing.T) {
	st, ok := ParseIncidentStatus("acknowledged")
	require.True(t, ok)
	assert.Equal(t, IncidentStatusAcknowledged, st)

	_, ok = ParseIncidentStatus("resolved")
	assert.False(t, ok)
}
