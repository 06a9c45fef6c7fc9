package core

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for status changes the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid incident status transition")

// validTransitions defines the allowed incident status changes.
// Status only moves forward: Open -> Acknowledged -> Closed.
var validTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:         {IncidentStatusAcknowledged, IncidentStatusClosed},
	IncidentStatusAcknowledged: {IncidentStatusClosed},
	IncidentStatusClosed:       {}, // final
}

// ValidateTransition checks a status change. Staying in the same status is
// allowed and is a no-op for the lifecycle.
func ValidateTransition(from, to IncidentStatus) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if from == to {
		return nil
	}
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown current status %q", ErrInvalidTransition, from)
	}
	for _, status := range allowed {
		if status == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s (allowed: %v)", ErrInvalidTransition, from, to, allowed)
}

// TransitionTo validates and applies a status change.
func (i *Incident) TransitionTo(to IncidentStatus) error {
	if err := ValidateTransition(i.Status, to); err != nil {
		return err
	}
	i.Status = to
	return nil
}

// AllowedTransitions returns a copy of the statuses reachable from the
// incident's current status.
func (i *Incident) AllowedTransitions() []IncidentStatus {
	allowed := validTransitions[i.Status]
	result := make([]IncidentStatus, len(allowed))
	copy(result, allowed)
	return result
}

// IsFinal reports whether the incident can no longer change status.
func (i *Incident) IsFinal() bool {
	allowed, exists := validTransitions[i.Status]
	return exists && len(allowed) == 0
}
