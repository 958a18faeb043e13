package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input; nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the write collided with an existing row.
	ErrConflict = errors.New("conflict")
	// ErrJobBusy indicates another run of the same job holds the lock.
	ErrJobBusy = errors.New("job already running")
)
