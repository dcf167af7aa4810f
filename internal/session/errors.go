package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEntries is returned when no entry of a plan survived encoding.
	ErrNoEntries = errors.New("plan has no valid entries")
	// ErrRejected is returned in strict mode when any entry was rejected.
	ErrRejected = errors.New("plan has rejected entries")
	// ErrStarted is returned when Start is called on a session that already
	// ran.
	ErrStarted = errors.New("session already started")
)

// Error reports why a session failed. It wraps the bind error, the strict
// mode rejection or the context error that ended the session.
type Error struct {
	SessionID string
	Endpoint  string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s on %s: %v", e.SessionID, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
