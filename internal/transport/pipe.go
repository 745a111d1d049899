package transport

import "sync"

// Pipe returns two connected in-memory Conns, the message analogue of
// net.Pipe. Writes on one end are reads on the other. Used by tests to
// drive sessions without sockets.
func Pipe() (Conn, Conn) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	a := &pipeConn{in: b2a, out: a2b, done: done, close: closeDone, addr: "pipe:b"}
	b := &pipeConn{in: a2b, out: b2a, done: done, close: closeDone, addr: "pipe:a"}
	return a, b
}

type pipeConn struct {
	in    <-chan []byte
	out   chan<- []byte
	done  chan struct{}
	close func()
	addr  string
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case payload := <-c.in:
		return payload, nil
	case <-c.done:
		// Drain what the peer wrote before closing.
		select {
		case payload := <-c.in:
			return payload, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (c *pipeConn) WriteMessage(payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case c.out <- buf:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *pipeConn) Close() error {
	c.close()
	return nil
}

func (c *pipeConn) RemoteAddr() string {
	return c.addr
}
