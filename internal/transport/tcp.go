package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nik012003/voyeurs/internal/protocol"
)

// tcpConn frames payloads with the protocol's length prefix over a raw
// byte stream.
type tcpConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// DialTCP connects to a TCP peer.
func DialTCP(addr string, timeout time.Duration) (Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}
	return newTCPConn(conn), nil
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (c *tcpConn) ReadMessage() ([]byte, error) {
	return protocol.ReadFrame(c.reader)
}

func (c *tcpConn) WriteMessage(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.conn, payload)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type tcpListener struct {
	inner net.Listener
}

// ListenTCP starts accepting TCP connections on addr.
func ListenTCP(addr string) (Listener, error) {
	inner, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return &tcpListener{inner: inner}, nil
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	return newTCPConn(conn), nil
}

func (l *tcpListener) Close() error {
	return l.inner.Close()
}

func (l *tcpListener) Addr() string {
	return l.inner.Addr().String()
}
