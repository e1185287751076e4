package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacity is returned when adding to a full batch
	ErrCapacity = errors.New("batch is full")

	// ErrState is returned when an operation does not fit the batch lifecycle:
	// mutating or re-writing a written batch, or resetting an unwritten one
	ErrState = errors.New("invalid batch state")

	// ErrTypeMismatch is returned when a record or batch kind differs from its owner
	ErrTypeMismatch = errors.New("record type mismatch")

	// ErrInvalidConfig is returned when a batcher configuration cannot be used
	ErrInvalidConfig = errors.New("invalid batcher config")
)

// IOError wraps a temp file or directory failure. These are fatal and never retried.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("batch io: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioError(op, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}
