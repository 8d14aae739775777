package database

import (
	"context"
	"errors"
)

var (
	// ErrNotExist is returned by Load when nothing has been persisted yet.
	ErrNotExist = errors.New("person database does not exist")
	// ErrCorrupt is returned by Load when the stored data cannot be decoded.
	ErrCorrupt = errors.New("person database is corrupt")
)

// PersonBackend stores the whole person database as a unit.
// Save must replace the previous contents atomically: a concurrent Load sees
// either the old or the new data, never a mix.
type PersonBackend interface {
	// Load reads all persons. Returns ErrNotExist or ErrCorrupt (wrapped) when
	// there is nothing usable to read.
	Load(ctx context.Context) (PersonData, error)
	// Save replaces all stored persons with data.
	Save(ctx context.Context, data PersonData) error
	// Describe returns a short human-readable location, used in logs.
	Describe() string
}
