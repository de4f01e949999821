package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the session layer.
var (
	// ErrNotStarted indicates the session has not been started.
	ErrNotStarted = errors.New("lsp session not started")

	// ErrAlreadyStarted indicates Start was called more than once.
	ErrAlreadyStarted = errors.New("lsp session already started")

	// ErrNotReady indicates the session has not completed the initialize handshake.
	ErrNotReady = errors.New("lsp session not ready")

	// ErrDisposed indicates the session has been disposed.
	ErrDisposed = errors.New("lsp session disposed")

	// ErrTransport indicates no channel to the server could be created.
	ErrTransport = errors.New("cannot create transport to server")

	// ErrServerCrashed indicates the server connection ended without Dispose.
	ErrServerCrashed = errors.New("server crashed")

	// ErrInvalidParams indicates request parameters did not have the expected shape.
	ErrInvalidParams = errors.New("invalid request parameters")
)

// SessionError reports a failed session operation.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}
