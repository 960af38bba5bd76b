package protocol

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

const quicNextProto = "scenesync-quic"

// QUICTransport moves frames over QUIC, one bidirectional stream per
// connection. The dialer opens the stream; the acceptor picks it up lazily
// on first receive.
type QUICTransport struct {
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	mu        sync.RWMutex
	listener  *quic.Listener
	localAddr net.Addr
	listening int32
}

// NewQUICTransport builds a transport with a self-signed in-memory
// certificate. Peers verify the session at the application layer, not the
// TLS layer; the certificate only satisfies QUIC's handshake requirement.
func NewQUICTransport() (*QUICTransport, error) {
	tlsConfig, err := generateTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("generate tls config: %w", err)
	}
	return &QUICTransport{
		tlsConfig: tlsConfig,
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 15 * time.Second,
		},
	}, nil
}

func (t *QUICTransport) Listen(address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if atomic.LoadInt32(&t.listening) == 1 {
		return ErrAlreadyListening
	}
	listener, err := quic.ListenAddr(address, t.tlsConfig, t.quicConfig)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	t.listener = listener
	t.localAddr = listener.Addr()
	atomic.StoreInt32(&t.listening, 1)
	return nil
}

func (t *QUICTransport) Accept(ctx context.Context) (Conn, error) {
	if atomic.LoadInt32(&t.listening) == 0 {
		return nil, ErrNotListening
	}
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept connection: %w", err)
	}
	return newQUICConn(conn, false), nil
}

func (t *QUICTransport) Dial(ctx context.Context, address string) (Conn, error) {
	clientTLS := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicNextProto},
	}
	conn, err := quic.DialAddr(ctx, address, clientTLS, t.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return newQUICConn(conn, true), nil
}

func (t *QUICTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if atomic.LoadInt32(&t.listening) == 0 {
		return nil
	}
	atomic.StoreInt32(&t.listening, 0)
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *QUICTransport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localAddr
}

func (t *QUICTransport) Listening() bool {
	return atomic.LoadInt32(&t.listening) == 1
}

// QUICConn adapts one QUIC connection to the Conn interface.
type QUICConn struct {
	conn   *quic.Conn
	dialer bool
	id     string

	mu           sync.Mutex
	stream       *quic.Stream
	closed       int32
	lastActivity int64
}

func newQUICConn(conn *quic.Conn, dialer bool) *QUICConn {
	return &QUICConn{
		conn:         conn,
		dialer:       dialer,
		id:           newConnID(),
		lastActivity: time.Now().UnixNano(),
	}
}

func (c *QUICConn) ID() string { return c.id }

func (c *QUICConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *QUICConn) Send(data []byte) error {
	if c.Closed() {
		return ErrConnClosed
	}
	stream, err := c.getStream()
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	c.mu.Lock()
	err = WriteFrame(stream, data)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.touch()
	return nil
}

func (c *QUICConn) Receive() ([]byte, error) {
	if c.Closed() {
		return nil, ErrConnClosed
	}
	stream, err := c.getStream()
	if err != nil {
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	data, err := ReadFrame(stream)
	if err != nil {
		return nil, err
	}
	c.touch()
	return data, nil
}

func (c *QUICConn) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *QUICConn) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivity))
}

func (c *QUICConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.mu.Lock()
	if c.stream != nil {
		_ = c.stream.Close()
	}
	c.mu.Unlock()
	return c.conn.CloseWithError(0, "session closed")
}

func (c *QUICConn) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
}

// getStream returns the connection's single stream, establishing it on first
// use: the dialer opens, the acceptor accepts.
func (c *QUICConn) getStream() (*quic.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return c.stream, nil
	}
	var (
		stream *quic.Stream
		err    error
	)
	if c.dialer {
		stream, err = c.conn.OpenStreamSync(context.Background())
	} else {
		stream, err = c.conn.AcceptStream(context.Background())
	}
	if err != nil {
		return nil, err
	}
	c.stream = stream
	return stream, nil
}

// generateTLSConfig builds the self-signed certificate QUIC requires.
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"scenesync"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicNextProto},
	}, nil
}
