// Package transport defines the device link the acquisition session reads
// frames from, and its serial port implementation.
package transport

import (
	"context"
	"errors"
	"io"
)

// ErrReleased is returned by a Writer after Release.
var ErrReleased = errors.New("transport: writer released")

// Transport opens links to the datalogger. Serial is the only hardware
// implementation; tests supply their own.
type Transport interface {
	// Name returns a human-readable description of the device endpoint.
	Name() string
	// Open acquires the device and returns a link with its reader and
	// writer ready for use.
	Open(ctx context.Context) (Link, error)
}

// Link is an open device connection. Reader and Writer must be released
// (Cancel, Release) before Close.
type Link interface {
	Reader() Reader
	Writer() Writer
	// Close releases the underlying device.
	Close() error
}

// Reader delivers frames as the device emits them.
type Reader interface {
	// Read blocks until the next frame arrives, ctx is done, or the reader
	// is closed, in which case it returns io.EOF.
	Read(ctx context.Context) ([]byte, error)
	// Cancel stops frame delivery; pending and future Reads return io.EOF.
	Cancel() error
}

// Writer sends bytes to the device.
type Writer interface {
	io.Writer
	// Release gives up the writer; later writes return ErrReleased.
	Release() error
}
