// Package transport provides the ordered, framed, binary channel the
// engine speaks to committee bridges, with a WebSocket implementation and
// an in-memory pipe for tests.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("connection closed")

// Conn is an ordered, framed, binary bidirectional channel. Send and
// Receive are safe for concurrent use with each other; Close unblocks a
// pending Receive.
type Conn interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens connections to bridge addresses.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}
