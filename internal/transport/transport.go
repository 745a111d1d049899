// Package transport provides ordered reliable message carriers. A Conn
// moves whole protocol payloads; framing is the carrier's concern so the
// codec never needs to know whether it rides TCP or WebSocket.
package transport

import "errors"

// ErrClosed is returned by operations on a closed Conn or Listener.
var ErrClosed = errors.New("transport: closed")

// Conn is one bidirectional ordered message stream.
type Conn interface {
	// ReadMessage blocks until one payload arrives.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one payload. Safe for concurrent use.
	WriteMessage(payload []byte) error
	// Close tears the connection down; pending reads and writes fail.
	Close() error
	// RemoteAddr describes the peer for logs.
	RemoteAddr() string
}

// Listener accepts inbound Conns.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}
