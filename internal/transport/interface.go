// Package transport provides a unified serial/TCP byte-stream abstraction
// used by the supervisor to read and write ESP3 frames.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Read/Write when the transport is not open.
var ErrClosed = errors.New("transport: closed")

// Transport is the single abstraction over serial and TCP byte streams.
// Implementations never block indefinitely: Read honors the configured
// read timeout and may return fewer bytes than requested (including
// zero with a nil error on a timeout); EOF transitions the transport to
// closed.
type Transport interface {
	// Open establishes the underlying connection. Calling Open on an
	// already-open transport is a no-op.
	Open(ctx context.Context) error

	// Read reads up to len(p) bytes, returning the number read. A
	// timeout with no bytes available returns (0, nil); EOF or a fatal
	// I/O error closes the transport and returns the error.
	Read(p []byte) (int, error)

	// Write sends buf in its entirety or fails; partial writes are
	// treated as a failure and close the transport.
	Write(buf []byte) error

	// FlushInput discards any bytes currently buffered for reading. Used
	// right after Open and after a reconnect to drop stale data.
	FlushInput() error

	// IsOpen reflects the liveness flag: false after EOF, a write
	// error, or Close.
	IsOpen() bool

	// Close releases the underlying connection. Safe to call more than
	// once.
	Close() error

	// Name identifies this transport for logging (e.g. "serial:/dev/ttyUSB0").
	Name() string
}
