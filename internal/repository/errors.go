package repository

import "errors"

var (
	// ErrNotFound is returned when no record matches the lookup
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a compare-and-swap update finds a different stored version
	ErrVersionConflict = errors.New("version conflict")
)
