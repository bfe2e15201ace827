package session

import "fmt"

// SessionError attaches the session and phase to the error that ended it.
type SessionError struct {
	SessionID string
	Phase     Phase
	Wrapped   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s (%s): %v", e.SessionID, e.Phase, e.Wrapped)
}

func (e *SessionError) Unwrap() error {
	return e.Wrapped
}
