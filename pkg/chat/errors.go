package chat

import (
	"errors"
	"fmt"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("chat: turn deadline exceeded")

// ValidationError rejects a message before anything is persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// PersistenceError reports a failed read or write against the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that the turn deadline expired during State.
type TimeoutError struct {
	State State
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("turn timed out in %s: %v", e.State, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
