package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist for the given owner.
var ErrNotFound = errors.New("memory not found")

// ErrModelUnavailable indicates the embedding model could not be reached
// or loaded. Callers may retry; the store is left unmodified.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// ValidationError reports invalid caller input (empty owner or text).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// StorageError wraps a persistence-layer failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("memory storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
