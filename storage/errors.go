package storage

import (
	"errors"

	"seclog/core"
)

var (
	// ErrIncidentNotFound is returned when an incident ID does not exist
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidTransition is returned when an incident status change is
	// not allowed by the lifecycle
	ErrInvalidTransition = core.ErrInvalidTransition

	// ErrUnknownCondition is returned when a rule condition names a field
	// that is not a stored column
	ErrUnknownCondition = errors.New("unknown condition field")

	// ErrArchiveFailed is returned when a retention archive could not be
	// written; no rows are deleted in that case
	ErrArchiveFailed = errors.New("retention archive failed")

	// ErrStoreClosed is returned when the store is used after Close
	ErrStoreClosed = errors.New("store is closed")
)
