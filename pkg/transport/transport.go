// Package transport provides the byte-serial links that carry device traffic.
//
// A device owns two independent links: a host link carrying line-oriented
// commands from operator tooling, and a board link carrying framed messages
// between a fob and a car. The protocol core polls links cooperatively and
// never assumes a link is backed by real hardware; tests and simulators
// substitute in-memory pipes or sockets.
package transport

import "errors"

// ErrClosed is returned by link operations after the link has been closed or
// the peer has gone away.
var ErrClosed = errors.New("transport: link closed")

// Link is one byte-serial channel between a device and a peer.
//
// Available must be non-blocking. ReadByte and ReadFull block until data
// arrives; there is no timeout at this layer. Implementations must be safe
// for one reader and one writer goroutine.
type Link interface {
	// Available reports whether at least one byte can be read without blocking.
	Available() bool

	// ReadByte blocks until a byte arrives.
	ReadByte() (byte, error)

	// ReadFull blocks until len(p) bytes have been read into p.
	ReadFull(p []byte) error

	// WriteByte writes a single byte.
	WriteByte(b byte) error

	// Write writes p in order, returning the number of bytes written.
	Write(p []byte) (int, error)
}
