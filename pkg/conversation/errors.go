package conversation

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-livetalk/pkg/audioio"
	"github.com/teslashibe/go-livetalk/pkg/transport"
)

// Sentinel errors for the conversation package.
var (
	// ErrAlreadyStarted indicates start was requested outside Idle.
	ErrAlreadyStarted = errors.New("conversation: already started")

	// ErrStopped indicates a start was abandoned because Stop was called.
	ErrStopped = errors.New("conversation: stopped during start")

	// ErrAlreadyConnecting is returned by Start while a start is pending.
	ErrAlreadyConnecting = transport.ErrAlreadyConnecting
)

// StartError is returned when a start request fails. The controller is
// back in Idle when it is returned.
type StartError struct {
	// Stage is "acquire" or "open".
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return fmt.Sprintf("conversation: start failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StartError) Unwrap() error {
	return e.Err
}

// IsPermissionDenied reports whether err is an input device failure.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, audioio.ErrPermissionDenied)
}

// IsAlreadyActive reports whether err rejected a start because a
// conversation is pending or running.
func IsAlreadyActive(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) || errors.Is(err, ErrAlreadyConnecting)
}
