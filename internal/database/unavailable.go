package database

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned by a backend that could not be opened.
var ErrUnavailable = errors.New("person database unavailable")

// Unavailable stands in for a backend that failed to open. Every Load and
// Save fails, so the store starts empty and later saves report the loss.
type Unavailable struct {
	Location string
	Err      error
}

func (u Unavailable) Load(context.Context) (PersonData, error) {
	return nil, u.err()
}

func (u Unavailable) Save(context.Context, PersonData) error {
	return u.err()
}

func (u Unavailable) Describe() string {
	return u.Location + " (unavailable)"
}

func (u Unavailable) err() error {
	if u.Err == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, u.Err)
}
