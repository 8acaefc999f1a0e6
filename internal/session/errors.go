package session

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrTestModeDisabled = errors.New("test mode is disabled")
	ErrReadTimeout      = errors.New("read timeout")
	ErrNoData           = errors.New("no data received")
	ErrClosed           = errors.New("session closed")
)

// ConnectionError reports a failure to acquire or release the device link.
// The session is Disconnected whenever one is returned.
type ConnectionError struct {
	Op  string // "connect" or "disconnect"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PollError reports a tick that produced no frame. Polling continues.
type PollError struct {
	Tick uint64
	Err  error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("polling error (tick %d): %v", e.Tick, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }
