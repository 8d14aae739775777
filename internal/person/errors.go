package person

import "errors"

var (
	// ErrInvalidInput is returned for malformed embeddings, empty enrollments
	// and similar caller mistakes. No state is changed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a person ID is unknown.
	ErrNotFound = errors.New("person not found")
	// ErrStorageUnavailable is returned when the persistence backend fails.
	// The in-memory store stays valid.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
