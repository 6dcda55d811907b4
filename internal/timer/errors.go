package timer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFoundOrInvalidState is returned when a session does not exist in
	// the live index, belongs to another user or is not in the state the
	// operation requires.
	ErrNotFoundOrInvalidState = errors.New("session not found or not in a valid state")
	// ErrDuplicateActiveSession matches any *DuplicateActiveSessionError.
	ErrDuplicateActiveSession = errors.New("user already has a live session")
	// ErrRecordNotFound is returned by RecordStore lookups that match nothing.
	ErrRecordNotFound = errors.New("record not found")
	// ErrNoRecord is reported when a session was never linked to a record.
	ErrNoRecord = errors.New("session is not linked to a record")
)

// ValidationError reports a missing required field on start.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// DuplicateActiveSessionError is returned by start when the user already owns
// a live session. SessionID identifies that session.
type DuplicateActiveSessionError struct {
	SessionID string
}

func (e *DuplicateActiveSessionError) Error() string {
	return fmt.Sprintf("user already has a live session %s", e.SessionID)
}

// Is makes errors.Is(err, ErrDuplicateActiveSession) hold.
func (e *DuplicateActiveSessionError) Is(target error) bool {
	return target == ErrDuplicateActiveSession
}

// PersistenceError reports a failed RecordStore call that followed a
// transition. The transition itself has already been applied.
type PersistenceError struct {
	Op   Operation
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
