package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store backends.
var (
	// ErrDimensionMismatch is returned when a supplied embedding's length
	// does not equal the store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrStoreClosed is returned when using a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrWorkerExited is returned when the embedding worker terminates
	// while a request is outstanding.
	ErrWorkerExited = errors.New("embedding worker exited")
)

// StoreError wraps a store failure with operation context.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("memory: %v", e.Err)
	}
	return fmt.Sprintf("memory: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapOp wraps err with operation context, passing nil through.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// DimensionError builds an ErrDimensionMismatch naming both lengths.
func DimensionError(expected, actual int) error {
	return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, expected, actual)
}
