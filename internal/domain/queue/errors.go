package queue

import "fmt"

// ValidationError rejects a request before any ledger access is attempted.
// Retrying the same input cannot succeed.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a ledger failure. Nothing was committed and no
// events were published for the failed operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }
