// Package session owns live stream sessions: their lifecycle state machine,
// the supervision of the processes behind them and the HTTP surface.
package session

import "errors"

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when an operation does not apply to
	// the session's current status.
	ErrInvalidTransition = errors.New("invalid session status transition")
	// ErrSessionActive is returned when an operation needs a session that is
	// not running.
	ErrSessionActive = errors.New("session is active")
)
