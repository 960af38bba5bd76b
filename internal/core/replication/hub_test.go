package replication

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

// fakeConn is an in-memory protocol.Conn: tests feed Receive through in and
// observe Send through out.
type fakeConn struct {
	id     string
	in     chan []byte
	out    chan []byte
	done   chan struct{}
	closed int32
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:   id,
		in:   make(chan []byte, 32),
		out:  make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	if c.Closed() {
		return protocol.ErrConnClosed
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return protocol.ErrConnClosed
	}
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		return nil, protocol.ErrConnClosed
	}
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func (c *fakeConn) Close() error {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.done)
	}
	return nil
}

func (c *fakeConn) Closed() bool { return atomic.LoadInt32(&c.closed) == 1 }

func (c *fakeConn) LastActivity() time.Time { return time.Time{} }

func encodeFrame(t *testing.T, f *protocol.Frame) []byte {
	t.Helper()
	data, err := protocol.JSONCodec{}.Encode(f)
	require.NoError(t, err)
	return data
}

func recvFrame(t *testing.T, conn *fakeConn) *protocol.Frame {
	t.Helper()
	select {
	case data := <-conn.out:
		f, err := protocol.JSONCodec{}.Decode(data)
		require.NoError(t, err)
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func noFrame(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case data := <-conn.out:
		f, err := protocol.JSONCodec{}.Decode(data)
		require.NoError(t, err)
		t.Fatalf("unexpected %s frame", f.Kind)
	default:
	}
}

// attachPeer attaches a fake connection and drains the hub's hello.
func attachPeer(t *testing.T, h *Hub, id string) *fakeConn {
	t.Helper()
	conn := newFakeConn(id)
	require.NoError(t, h.Attach(conn, true))
	hello := recvFrame(t, conn)
	require.Equal(t, protocol.FrameHello, hello.Kind)
	require.Equal(t, h.Origin(), hello.Origin)
	return conn
}

func callRecord(method string) statesync.CallRecord {
	return statesync.CallRecord{Method: method, Options: statesync.OptDefault, Depth: 1}
}

func TestHubBroadcastsLocalRecords(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	defer hub.Close()

	a := attachPeer(t, hub, "a")
	b := attachPeer(t, hub, "b")
	assert.Equal(t, 2, hub.Peers())
	assert.Equal(t, []string{"a", "b"}, hub.PeerIDs())

	hub.Consume(callRecord("instance.spawn"))

	for _, conn := range []*fakeConn{a, b} {
		f := recvFrame(t, conn)
		assert.Equal(t, protocol.FrameCall, f.Kind)
		assert.Equal(t, hub.Origin(), f.Origin)
		require.NotNil(t, f.Record)
		assert.Equal(t, "instance.spawn", f.Record.Method)
	}
	assert.Equal(t, uint64(1), hub.Stats().Broadcast)
}

func TestHubRelaysWithoutEcho(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	defer hub.Close()

	a := attachPeer(t, hub, "a")
	b := attachPeer(t, hub, "b")
	c := attachPeer(t, hub, "c")

	peerOrigin := identity.New()
	a.in <- encodeFrame(t, protocol.NewCallFrame(peerOrigin, 1, callRecord("instance.destroy")))

	select {
	case got := <-hub.Inbound():
		assert.Equal(t, protocol.FrameCall, got.Kind)
		assert.Equal(t, peerOrigin, got.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never delivered")
	}

	// Relay runs before inbound delivery, so b and c already have the
	// frame while a must stay silent.
	assert.Equal(t, protocol.FrameCall, recvFrame(t, b).Kind)
	assert.Equal(t, protocol.FrameCall, recvFrame(t, c).Kind)
	noFrame(t, a)

	stats := hub.Stats()
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, uint64(1), stats.Relayed)
}

func TestHubSkipsPeerMatchingFrameOrigin(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	hub.SetSnapshotFunc(func() ([]byte, error) {
		return []byte(`{"version":1,"entries":[]}`), nil
	})
	defer hub.Close()

	a := attachPeer(t, hub, "a")
	b := attachPeer(t, hub, "b")
	c := attachPeer(t, hub, "c")

	// b introduces itself; the join snapshot doubles as the sync point
	// that guarantees the hub recorded b's origin.
	originB := identity.New()
	b.in <- encodeFrame(t, protocol.NewHelloFrame(originB))
	snap := recvFrame(t, b)
	require.Equal(t, protocol.FrameSnapshot, snap.Kind)

	// A frame authored by b arriving via a: relayed to c only.
	a.in <- encodeFrame(t, protocol.NewCallFrame(originB, 2, callRecord("instance.position")))

	select {
	case <-hub.Inbound():
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never delivered")
	}

	assert.Equal(t, protocol.FrameCall, recvFrame(t, c).Kind)
	noFrame(t, a)
	noFrame(t, b)
}

func TestHubServesSnapshotsOnlyToAcceptedPeers(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	hub.SetSnapshotFunc(func() ([]byte, error) {
		return []byte(`{"version":1,"entries":[]}`), nil
	})
	defer hub.Close()

	// Dialed-out connection: the hello is recorded but never answered
	// with state, so a blank joiner cannot reset the replica it joined.
	dialed := newFakeConn("out")
	require.NoError(t, hub.Attach(dialed, false))
	require.Equal(t, protocol.FrameHello, recvFrame(t, dialed).Kind)

	origin := identity.New()
	dialed.in <- encodeFrame(t, protocol.NewHelloFrame(origin))

	// A call on the same connection proves the hello was processed, since
	// one read loop handles both in order.
	dialed.in <- encodeFrame(t, protocol.NewCallFrame(origin, 1, callRecord("instance.spawn")))
	select {
	case <-hub.Inbound():
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never delivered")
	}
	noFrame(t, dialed)

	accepted := attachPeer(t, hub, "in")
	accepted.in <- encodeFrame(t, protocol.NewHelloFrame(identity.New()))
	require.Equal(t, protocol.FrameSnapshot, recvFrame(t, accepted).Kind)
}

func TestHubAnswersSnapshotRequests(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	hub.SetSnapshotFunc(func() ([]byte, error) {
		return []byte(`{"version":1,"entries":[]}`), nil
	})
	defer hub.Close()

	accepted := attachPeer(t, hub, "in")
	dialed := newFakeConn("out")
	require.NoError(t, hub.Attach(dialed, false))
	require.Equal(t, protocol.FrameHello, recvFrame(t, dialed).Kind)

	// A request over an accepted link gets the current table.
	accepted.in <- encodeFrame(t, protocol.NewSnapshotRequestFrame(identity.New(), 1))
	assert.Equal(t, protocol.FrameSnapshot, recvFrame(t, accepted).Kind)

	// RequestSnapshot goes out over dialed links only; the peers we serve
	// have nothing we would want.
	hub.RequestSnapshot()
	req := recvFrame(t, dialed)
	assert.Equal(t, protocol.FrameSnapshotRequest, req.Kind)
	assert.Equal(t, hub.Origin(), req.Origin)
	noFrame(t, accepted)

	// A request arriving over a dialed link is backwards: dropped, never
	// answered.
	before := hub.Stats().Dropped
	dialed.in <- encodeFrame(t, protocol.NewSnapshotRequestFrame(identity.New(), 2))
	require.Eventually(t, func() bool {
		return hub.Stats().Dropped == before+1
	}, 2*time.Second, 5*time.Millisecond)
	noFrame(t, dialed)
}

func TestHubDropsReflectedFrames(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	defer hub.Close()

	a := attachPeer(t, hub, "a")
	b := attachPeer(t, hub, "b")

	a.in <- encodeFrame(t, protocol.NewCallFrame(hub.Origin(), 1, callRecord("instance.spawn")))

	require.Eventually(t, func() bool {
		return hub.Stats().Dropped == 1
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case f := <-hub.Inbound():
		t.Fatalf("reflected frame delivered: %s", f.Kind)
	default:
	}
	noFrame(t, b)
}

func TestHubDropsUndecodableFrames(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	defer hub.Close()

	a := attachPeer(t, hub, "a")
	a.in <- []byte("junk")

	require.Eventually(t, func() bool {
		return hub.Stats().Dropped == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.Peers())
}

func TestHubDetachStopsBroadcasts(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	defer hub.Close()

	a := attachPeer(t, hub, "a")
	b := attachPeer(t, hub, "b")

	hub.Detach(a.ID())
	assert.True(t, a.Closed())
	assert.Equal(t, 1, hub.Peers())

	hub.Consume(callRecord("instance.scale"))
	assert.Equal(t, protocol.FrameCall, recvFrame(t, b).Kind)
	noFrame(t, a)
}

func TestHubCloseReleasesEverything(t *testing.T) {
	hub := NewHub(identity.New(), protocol.JSONCodec{}, log.Nop())
	a := attachPeer(t, hub, "a")

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	assert.True(t, a.Closed())
	_, open := <-hub.Inbound()
	assert.False(t, open)

	assert.ErrorIs(t, hub.Attach(newFakeConn("late"), true), ErrHubClosed)
}
