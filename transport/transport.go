package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by WriteLine and ReadLine after Close has been
// called.
var ErrClosed = errors.New("transport is closed")

// Transport is a duplex, line-oriented byte stream. Implementations are not
// expected to be goroutine safe, since a session owns its Transport
// exclusively.
type Transport interface {
	// WriteLine writes line followed by CRLF. The line must not contain a
	// line break of its own.
	WriteLine(line string) error
	// ReadLine returns the next line without its trailing CRLF (or LF).
	ReadLine() (string, error)
	// Close releases the underlying resources. It's safe to call more than
	// once.
	Close() error
}

// Dialer opens a Transport. Which implementation a session talks to is
// decided by the Dialer the caller constructs, not by the session.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}
