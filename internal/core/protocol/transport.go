package protocol

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/scenesync/scenesync/internal/core/identity"
)

// Conn is one bidirectional frame pipe to a peer replica. Send is safe for
// concurrent use; Receive belongs to a single reader goroutine.
type Conn interface {
	// ID identifies the connection in logs and the hub's routing table.
	ID() string
	// Send writes one length-prefixed frame.
	Send(data []byte) error
	// Receive blocks for the next frame.
	Receive() ([]byte, error)
	RemoteAddr() net.Addr
	// Close tears the connection down; Send and Receive fail afterwards.
	Close() error
	Closed() bool
	// LastActivity is the time of the latest successful send or receive.
	LastActivity() time.Time
}

// Transport listens for and dials peer connections. Implementations share
// the same length-prefixed framing, so mixed deployments can front different
// transports with identical session logic.
type Transport interface {
	Listen(address string) error
	Accept(ctx context.Context) (Conn, error)
	Dial(ctx context.Context, address string) (Conn, error)
	Close() error
	// Addr is the bound listen address, nil before Listen.
	Addr() net.Addr
	Listening() bool
}

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// payload.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, rejecting lengths beyond
// MaxFrameSize before allocating anything.
func ReadFrame(r io.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	size := binary.BigEndian.Uint32(length[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return data, nil
}

func newConnID() string {
	return identity.New().String()
}
