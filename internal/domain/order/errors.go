package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrStateConflict    = errors.New("operation not allowed in current status")
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
	ErrNumberExhausted  = errors.New("no unique number available")
	ErrDuplicateNumber  = errors.New("order or settlement number already in use")
)

type StateConflictError struct {
	OrderID   int64
	Operation Operation
	Current   Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s order %d in status %s", e.Operation, e.OrderID, e.Current)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func required(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}

// PersistenceError wraps a store failure with the order and transition it interrupted.
type PersistenceError struct {
	OrderID    int64
	Transition Operation
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.Transition == "" {
		return fmt.Sprintf("order %d: %v", e.OrderID, e.Err)
	}
	return fmt.Sprintf("%s order %d: %v", e.Transition, e.OrderID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
