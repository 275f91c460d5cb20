package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record id does not resolve.
var ErrNotFound = errors.New("record not found")

// PersistError wraps a storage failure with the record it concerned.
type PersistError struct {
	Collection Collection
	ID         string
	Op         string
	Err        error
}

func (e *PersistError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("failed to %s %s %s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// NotFound builds an error matching ErrNotFound for the given record.
func NotFound(c Collection, id string) error {
	return fmt.Errorf("%s %s: %w", c, id, ErrNotFound)
}
