package transport

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nik012003/voyeurs/internal/protocol"
)

// wsConn carries one payload per binary WebSocket message. gorilla allows
// only one concurrent writer, hence the write mutex.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// DialWebSocket connects to a WebSocket peer at a ws:// or wss:// URL.
func DialWebSocket(url string, timeout time.Duration) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", url, err)
	}
	conn.SetReadLimit(protocol.MaxFrameSize)
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return payload, nil
	}
}

func (c *wsConn) WriteMessage(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// wsListener serves a WebSocket upgrade endpoint and hands accepted
// connections to Accept through a channel.
type wsListener struct {
	server   *http.Server
	inner    net.Listener
	acceptCh chan Conn
	closeCh  chan struct{}
	closeOnce sync.Once
}

// ListenWebSocket starts an HTTP server on addr upgrading requests at path
// to WebSocket connections.
func ListenWebSocket(addr, path string) (Listener, error) {
	inner, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen websocket %s: %w", addr, err)
	}

	l := &wsListener{
		inner:    inner,
		acceptCh: make(chan Conn),
		closeCh:  make(chan struct{}),
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.SetReadLimit(protocol.MaxFrameSize)
		select {
		case l.acceptCh <- &wsConn{conn: conn}:
		case <-l.closeCh:
			conn.Close()
		}
	})

	l.server = &http.Server{Handler: mux}
	go l.server.Serve(inner)

	return l, nil
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case conn := <-l.acceptCh:
		return conn, nil
	case <-l.closeCh:
		return nil, ErrClosed
	}
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() { close(l.closeCh) })
	return l.server.Close()
}

func (l *wsListener) Addr() string {
	return l.inner.Addr().String()
}
