// Package replication hosts the three sink backends of a session: the
// network hub, the save journal, and the replay log. Each consumes captured
// call records; the interceptor's options decide which of them see a given
// record.
package replication

import (
	"sync"
	"sync/atomic"

	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/statesync"
	"github.com/scenesync/scenesync/pkg/concurrent"
	"github.com/scenesync/scenesync/pkg/sequence"
)

var _ statesync.Sink = (*Hub)(nil)

// SnapshotFunc produces the current serialized instance table for a peer
// that just said hello. Nil disables join snapshots.
type SnapshotFunc func() ([]byte, error)

// HubStats counts hub traffic since construction.
type HubStats struct {
	Broadcast uint64
	Relayed   uint64
	Received  uint64
	Dropped   uint64
}

// Hub fans locally captured call records out to every attached peer and
// funnels peer frames onto a single inbound queue for the session loop.
// Frames never echo: a frame is not sent back over the connection it arrived
// on, nor to a peer whose identity matches the frame's origin.
type Hub struct {
	log        log.Log
	origin     identity.ID
	codec      protocol.Codec
	snapshotFn SnapshotFunc

	mu    sync.RWMutex
	peers map[string]*peer

	inbound chan *protocol.Frame
	done    chan struct{}
	wg      sync.WaitGroup

	seq        uint64
	closed     int32
	broadcasts uint64
	relays     uint64
	receives   uint64
	drops      uint64
}

// peer is one attached connection plus the replica identity learned from its
// hello frame. serving marks connections this side accepted; only those get
// a join snapshot, so an empty joiner can never push its blank table back at
// the replica it joined.
type peer struct {
	conn    protocol.Conn
	serving bool

	mu     sync.RWMutex
	origin identity.ID
}

func (p *peer) setOrigin(id identity.ID) {
	p.mu.Lock()
	p.origin = id
	p.mu.Unlock()
}

func (p *peer) getOrigin() identity.ID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.origin
}

func NewHub(origin identity.ID, codec protocol.Codec, logger log.Log) *Hub {
	return &Hub{
		log:     logger.With(log.String("component", "replication.hub")),
		origin:  origin,
		codec:   codec,
		peers:   make(map[string]*peer),
		inbound: make(chan *protocol.Frame, 256),
		done:    make(chan struct{}),
	}
}

// SetSnapshotFunc installs the late-joiner snapshot source. Set it before
// the first Attach.
func (h *Hub) SetSnapshotFunc(fn SnapshotFunc) {
	h.snapshotFn = fn
}

// Origin is the replica identity this hub stamps on outgoing frames.
func (h *Hub) Origin() identity.ID {
	return h.origin
}

// Attach adopts a connection: the local hello goes out, a read loop starts,
// and the peer joins future broadcasts. Pass serving true for connections
// this side accepted; their hello is answered with a state snapshot.
func (h *Hub) Attach(conn protocol.Conn, serving bool) error {
	if h.isClosed() {
		return ErrHubClosed
	}

	p := &peer{conn: conn, serving: serving}
	h.mu.Lock()
	h.peers[conn.ID()] = p
	h.mu.Unlock()

	if err := h.send(conn, protocol.NewHelloFrame(h.origin)); err != nil {
		h.Detach(conn.ID())
		return err
	}

	h.wg.Add(1)
	go h.readLoop(p)

	h.log.Info("peer attached", log.String("conn", conn.ID()))
	return nil
}

// Detach removes a peer and closes its connection. Unknown ids are a no-op.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	p, ok := h.peers[connID]
	if ok {
		delete(h.peers, connID)
	}
	h.mu.Unlock()

	if ok {
		_ = p.conn.Close()
		h.log.Info("peer detached", log.String("conn", connID))
	}
}

// Consume implements statesync.Sink: every captured record the interceptor
// forwards here becomes one call frame broadcast to all peers.
func (h *Hub) Consume(rec statesync.CallRecord) {
	if h.isClosed() {
		return
	}
	seq := atomic.AddUint64(&h.seq, 1)
	h.broadcast(protocol.NewCallFrame(h.origin, seq, rec), "")
	atomic.AddUint64(&h.broadcasts, 1)
}

// RequestSnapshot asks every state-serving peer, meaning the sides this hub
// dialed, for a fresh instance table. Answers arrive as snapshot frames on
// Inbound.
func (h *Hub) RequestSnapshot() {
	if h.isClosed() {
		return
	}
	seq := atomic.AddUint64(&h.seq, 1)
	f := protocol.NewSnapshotRequestFrame(h.origin, seq)
	data, err := h.codec.Encode(f)
	if err != nil {
		h.log.Error("encode frame", log.Error(err), log.String("kind", f.Kind.String()))
		return
	}
	h.fanout(data, func(p *peer) bool { return !p.serving })
}

// Inbound is the stream of peer frames awaiting application. The session
// loop is the single consumer; the channel closes when the hub closes.
func (h *Hub) Inbound() <-chan *protocol.Frame {
	return h.inbound
}

func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// PeerIDs lists attached connection ids, sorted for stable logs.
func (h *Hub) PeerIDs() []string {
	it := sequence.From(h.snapshotPeers()).Sort(func(a, b *peer) bool {
		return a.conn.ID() < b.conn.ID()
	})
	return sequence.ToArray(it, func(p *peer) string { return p.conn.ID() })
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		Broadcast: atomic.LoadUint64(&h.broadcasts),
		Relayed:   atomic.LoadUint64(&h.relays),
		Received:  atomic.LoadUint64(&h.receives),
		Dropped:   atomic.LoadUint64(&h.drops),
	}
}

// Close detaches every peer, stops the read loops, and closes the inbound
// channel. Safe to call more than once.
func (h *Hub) Close() error {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return nil
	}
	close(h.done)

	h.mu.Lock()
	all := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		all = append(all, p)
	}
	h.peers = make(map[string]*peer)
	h.mu.Unlock()

	concurrent.ParallelMute(sequence.From(all), func(p *peer) error {
		return p.conn.Close()
	})

	h.wg.Wait()
	close(h.inbound)
	return nil
}

func (h *Hub) isClosed() bool {
	return atomic.LoadInt32(&h.closed) == 1
}

func (h *Hub) send(conn protocol.Conn, f *protocol.Frame) error {
	data, err := h.codec.Encode(f)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func (h *Hub) snapshotPeers() []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	all := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		all = append(all, p)
	}
	return all
}

// broadcast encodes once and fans out concurrently. except names a
// connection to skip, empty for none; peers matching the frame's origin are
// always skipped.
func (h *Hub) broadcast(f *protocol.Frame, except string) {
	data, err := h.codec.Encode(f)
	if err != nil {
		h.log.Error("encode frame", log.Error(err), log.String("kind", f.Kind.String()))
		return
	}
	h.fanout(data, func(p *peer) bool {
		return p.conn.ID() != except && p.getOrigin() != f.Origin
	})
}

// fanout sends pre-encoded bytes to every peer the filter keeps. Failed peers
// are detached.
func (h *Hub) fanout(data []byte, keep func(*peer) bool) {
	targets := sequence.From(h.snapshotPeers()).Filter(keep)
	_ = concurrent.Concurrent(targets, func(p *peer) error {
		if err := p.conn.Send(data); err != nil {
			atomic.AddUint64(&h.drops, 1)
			h.log.Warn("send to peer failed", log.String("conn", p.conn.ID()), log.Error(err))
			h.Detach(p.conn.ID())
		}
		return nil
	})
}

func (h *Hub) readLoop(p *peer) {
	defer h.wg.Done()
	connID := p.conn.ID()

	for {
		data, err := p.conn.Receive()
		if err != nil {
			if !h.isClosed() && !p.conn.Closed() {
				h.log.Warn("receive failed", log.String("conn", connID), log.Error(err))
			}
			h.Detach(connID)
			return
		}

		frame, err := h.codec.Decode(data)
		if err != nil {
			atomic.AddUint64(&h.drops, 1)
			h.log.Warn("drop undecodable frame", log.String("conn", connID), log.Error(err))
			continue
		}
		h.handleFrame(p, frame)
	}
}

func (h *Hub) handleFrame(p *peer, f *protocol.Frame) {
	if f.Origin == h.origin {
		// Our own frame reflected back. Applying it would double the
		// mutation it carries.
		atomic.AddUint64(&h.drops, 1)
		h.log.Warn("drop reflected frame", log.String("kind", f.Kind.String()))
		return
	}

	switch f.Kind {
	case protocol.FrameHello:
		p.setOrigin(f.Origin)
		h.log.Info("peer hello",
			log.String("conn", p.conn.ID()),
			log.String("origin", f.Origin.String()))
		if p.serving {
			h.sendSnapshot(p)
		}
	case protocol.FrameCall:
		atomic.AddUint64(&h.receives, 1)
		h.relay(f, p.conn.ID())
		h.deliver(f)
	case protocol.FrameSnapshot:
		// Snapshots apply locally only. Relaying one would let a single
		// peer reset every replica.
		atomic.AddUint64(&h.receives, 1)
		h.deliver(f)
	case protocol.FrameSnapshotRequest:
		atomic.AddUint64(&h.receives, 1)
		if !p.serving {
			// We dialed this link, so state flows from its peer to us,
			// not the reverse.
			atomic.AddUint64(&h.drops, 1)
			h.log.Warn("drop snapshot request on dialed link", log.String("conn", p.conn.ID()))
			return
		}
		h.sendSnapshot(p)
	}
}

func (h *Hub) relay(f *protocol.Frame, from string) {
	if h.Peers() <= 1 {
		return
	}
	h.broadcast(f, from)
	atomic.AddUint64(&h.relays, 1)
}

// deliver queues a frame for the session loop. Replicated mutations must not
// be shed, so a full queue blocks the reader until the loop catches up.
func (h *Hub) deliver(f *protocol.Frame) {
	select {
	case h.inbound <- f:
	case <-h.done:
	}
}

// sendSnapshot answers one peer with the current serialized table, either
// for its join hello or for an explicit snapshot request. Both only ever
// flow over connections this side accepted.
func (h *Hub) sendSnapshot(p *peer) {
	if h.snapshotFn == nil {
		return
	}
	payload, err := h.snapshotFn()
	if err != nil {
		h.log.Error("snapshot for peer", log.Error(err))
		return
	}
	seq := atomic.AddUint64(&h.seq, 1)
	if err := h.send(p.conn, protocol.NewSnapshotFrame(h.origin, seq, payload)); err != nil {
		h.log.Warn("send snapshot", log.String("conn", p.conn.ID()), log.Error(err))
	}
}
