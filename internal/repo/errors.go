package repo

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses a uniqueness race.
	ErrConflict = errors.New("conflict")
)
