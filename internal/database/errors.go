package database

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is returned when a consent request is not in the
	// state a transition expects.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyIngested is returned when faces were already persisted for a photo.
	ErrAlreadyIngested = errors.New("photo already ingested")
)
