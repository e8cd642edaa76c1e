package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("transport: API key is required")

	// ErrNotConnected indicates the session is not open or has been closed.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnecting indicates another Open is still pending.
	ErrAlreadyConnecting = errors.New("transport: already connecting")

	// ErrTransport indicates the connection failed at the network or protocol level.
	ErrTransport = errors.New("transport: connection failed")

	// ErrClosed indicates the remote closed the session.
	ErrClosed = errors.New("transport: session closed")

	// ErrSendQueueFull indicates an outbound chunk was dropped because the
	// write queue was saturated.
	ErrSendQueueFull = errors.New("transport: send queue full")

	// ErrSetupFailed indicates the remote never acknowledged the session setup.
	ErrSetupFailed = errors.New("transport: session setup failed")
)

// CloseError reports that the remote connection could not be released cleanly.
// Callers treat it as best-effort: local state is torn down regardless.
type CloseError struct {
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *CloseError) Error() string {
	return fmt.Sprintf("transport: close failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CloseError) Unwrap() error {
	return e.Cause
}

// ServerError is an error reported by the remote service, typically carried
// in a WebSocket close frame.
type ServerError struct {
	// Code is the close code or API status code.
	Code int

	// Message is the human-readable reason from the remote.
	Message string

	// Retryable indicates the user may reasonably try again.
	Retryable bool
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transport: server error (%d)", e.Code)
	}
	return fmt.Sprintf("transport: server error (%d): %s", e.Code, e.Message)
}

// Unwrap lets errors.Is match ErrTransport.
func (e *ServerError) Unwrap() error {
	return ErrTransport
}

// NewServerError creates a ServerError. Policy violations and bad requests are
// not retryable; everything else is.
func NewServerError(code int, message string) *ServerError {
	retryable := true
	switch code {
	case 1003, 1007, 1008, 400, 401, 403, 404:
		retryable = false
	}
	return &ServerError{Code: code, Message: message, Retryable: retryable}
}

// Error checking helpers.

// IsNotConnected returns true if the error indicates no open session.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed)
}

// IsDroppable returns true if a failed Send can be ignored by a live audio
// producer: stale audio has no value once the session cannot accept it.
func IsDroppable(err error) bool {
	return IsNotConnected(err) || errors.Is(err, ErrSendQueueFull)
}

// IsRetryable returns true if the user can retry after this error.
func IsRetryable(err error) bool {
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Retryable
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrClosed)
}
