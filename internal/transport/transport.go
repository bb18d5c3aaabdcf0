// Package transport defines the duplex message stream the session layer runs
// on. Implementations deliver one logical binary message per Send and may
// split inbound messages across several Receive calls.
package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport: closed")

// Conn is one established duplex connection.
type Conn interface {
	// Send writes msg as a single logical binary message.
	Send(ctx context.Context, msg []byte) error
	// Receive blocks for the next chunk of the current inbound message.
	// endOfMessage is true on the final chunk, which may be empty.
	Receive() (chunk []byte, endOfMessage bool, err error)
	Close() error
}

// Dialer opens a Conn to addr.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Conn, error) {
	return f(ctx, addr)
}
