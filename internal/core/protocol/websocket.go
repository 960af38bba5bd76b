package protocol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSPath is the HTTP endpoint the WebSocket transport upgrades on.
const WSPath = "/sync"

// WSTransport moves frames over WebSocket binary messages. It exists for
// peers that cannot speak QUIC, browsers mostly.
type WSTransport struct {
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	server    *http.Server
	netL      net.Listener
	accepted  chan *WSConn
	localAddr net.Addr
	listening int32
}

func NewWSTransport() *WSTransport {
	return &WSTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		accepted: make(chan *WSConn, 16),
	}
}

func (t *WSTransport) Listen(address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if atomic.LoadInt32(&t.listening) == 1 {
		return ErrAlreadyListening
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, t.handleUpgrade)
	t.server = &http.Server{Handler: mux}
	t.netL = listener
	t.localAddr = listener.Addr()
	atomic.StoreInt32(&t.listening, 1)

	go func() {
		if err := t.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			atomic.StoreInt32(&t.listening, 0)
		}
	}()
	return nil
}

func (t *WSTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newWSConn(ws)
	select {
	case t.accepted <- conn:
	default:
		// Accept queue full, shed the connection rather than block the
		// HTTP handler.
		_ = conn.Close()
	}
}

func (t *WSTransport) Accept(ctx context.Context) (Conn, error) {
	if atomic.LoadInt32(&t.listening) == 0 {
		return nil, ErrNotListening
	}
	select {
	case conn, ok := <-t.accepted:
		if !ok {
			return nil, ErrTransportClosed
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WSTransport) Dial(ctx context.Context, address string) (Conn, error) {
	url := "ws://" + address + WSPath
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWSConn(ws), nil
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if atomic.LoadInt32(&t.listening) == 0 {
		return nil
	}
	atomic.StoreInt32(&t.listening, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if t.server != nil {
		return t.server.Shutdown(ctx)
	}
	return nil
}

func (t *WSTransport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localAddr
}

func (t *WSTransport) Listening() bool {
	return atomic.LoadInt32(&t.listening) == 1
}

// WSConn adapts one WebSocket connection to the Conn interface. Frames ride
// whole binary messages, so no explicit length prefix is needed.
type WSConn struct {
	ws *websocket.Conn
	id string

	writeMu      sync.Mutex
	closed       int32
	lastActivity int64
}

func newWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{
		ws:           ws,
		id:           newConnID(),
		lastActivity: time.Now().UnixNano(),
	}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *WSConn) Send(data []byte) error {
	if c.Closed() {
		return ErrConnClosed
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	c.writeMu.Lock()
	err := c.ws.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	c.touch()
	return nil
}

func (c *WSConn) Receive() ([]byte, error) {
	if c.Closed() {
		return nil, ErrConnClosed
	}
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if kind != websocket.BinaryMessage {
		return nil, ErrBadFrame
	}
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	c.touch()
	return data, nil
}

func (c *WSConn) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *WSConn) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivity))
}

func (c *WSConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.ws.Close()
}

func (c *WSConn) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}
