package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scenesync/scenesync/internal/core/catalog"
	"github.com/scenesync/scenesync/internal/core/events"
	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/instance"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/replication"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

const (
	taskQueueSize = 64

	acceptBackoff = 100 * time.Millisecond
)

type task struct {
	fn   func(m *instance.Manager) error
	done chan error
}

// Stats is a point-in-time view across the session's moving parts.
type Stats struct {
	Running   bool
	Peers     int
	Instances int
	Manager   instance.Stats
	Intercept statesync.Stats
	Dispatch  statesync.DispatcherStats
	Hub       replication.HubStats
}

// Session is one running replica. It owns the scene registry, the prefab
// catalog, the interception pipeline, the sinks, and the transports peers
// arrive on. Every mutation, local or remote, funnels through a single loop
// goroutine, so handlers and hooks never race.
//
// A session runs once: Start, then Stop, and it is finished.
type Session struct {
	config Config
	log    log.Log

	catalog     *catalog.Catalog
	interceptor *statesync.Interceptor
	dispatcher  *statesync.Dispatcher
	manager     *instance.Manager

	hub         *replication.Hub
	journal     *replication.Journal
	journalFile *os.File
	replay      *replication.ReplayLog
	bus         *events.Bus

	quic *protocol.QUICTransport
	ws   *protocol.WSTransport

	tasks   chan task
	stop    chan struct{}
	workers sync.WaitGroup
	running int32
	closed  int32
}

// NewSession wires a session from a validated config and a catalog the
// caller has already filled with prefab templates. Spawn and despawn hooks
// should be registered on Manager before Start, because restoring the
// journal fires them.
func NewSession(cfg Config, cat *catalog.Catalog, logger log.Log) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}

	reg := scene.NewRegistry(logger)
	ic := statesync.New(logger)
	dis := statesync.NewDispatcher(ic, logger)
	mgr := instance.New(reg, cat, ic, logger)
	if err := mgr.RegisterHandlers(dis); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	hub := replication.NewHub(identity.New(), protocol.JSONCodec{}, logger)
	hub.SetSnapshotFunc(func() ([]byte, error) {
		return mgr.Snapshot().Serialize()
	})
	ic.AddSink(hub, statesync.OptNetwork)

	bus := events.NewBus()
	events.BindManager(bus, mgr, hub.Origin().String(), logger)
	events.BindInterceptor(bus, ic, hub.Origin().String(), logger)

	s := &Session{
		config:      cfg,
		log:         logger.With(log.String("component", "server.session")),
		catalog:     cat,
		interceptor: ic,
		dispatcher:  dis,
		manager:     mgr,
		hub:         hub,
		bus:         bus,
		tasks:       make(chan task, taskQueueSize),
		stop:        make(chan struct{}),
	}

	if cfg.JournalPath != "" {
		f, err := os.OpenFile(cfg.JournalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.journalFile = f
		s.journal = replication.NewJournal(f, cfg.KeyframeCapacity, cfg.KeyframeMaxAge.Std(), logger)
		ic.AddSink(s.journal, statesync.OptSave)
	}

	if cfg.ReplayEnabled {
		s.replay = replication.NewReplayLog()
		ic.AddSink(s.replay, statesync.OptNetwork|statesync.OptSave)
	}

	quicT, err := protocol.NewQUICTransport()
	if err != nil {
		if s.journalFile != nil {
			_ = s.journalFile.Close()
		}
		return nil, fmt.Errorf("quic transport: %w", err)
	}
	s.quic = quicT
	s.ws = protocol.NewWSTransport()

	return s, nil
}

// Start restores persisted state, binds the configured transports, and
// launches the session loop. Cancelling ctx stops the session.
func (s *Session) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrSessionClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrSessionRunning
	}

	if err := s.restore(); err != nil {
		atomic.StoreInt32(&s.running, 0)
		return err
	}

	if err := s.listenAll(); err != nil {
		s.closeTransports()
		atomic.StoreInt32(&s.running, 0)
		return err
	}

	s.workers.Add(1)
	go s.loop()

	if s.quic.Listening() {
		s.workers.Add(1)
		go s.acceptLoop(s.quic, "quic")
	}
	if s.ws.Listening() {
		s.workers.Add(1)
		go s.acceptLoop(s.ws, "websocket")
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.stop:
		}
	}()

	s.log.Info("session started",
		log.String("origin", s.hub.Origin().String()),
		log.String("quic", s.QUICAddr()),
		log.String("websocket", s.WSAddr()))
	return nil
}

// Stop drains everything in order: transports stop accepting, the hub
// releases its peers, the loop exits, and a final keyframe lands in the
// journal. A stopped session cannot be started again.
func (s *Session) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrSessionNotRunning
	}
	atomic.StoreInt32(&s.closed, 1)
	s.log.Info("stopping session")

	s.closeTransports()
	_ = s.hub.Close()
	close(s.stop)
	s.workers.Wait()

	// The loop is gone, so the manager is single-threaded again.
	if err := s.writeKeyframe(); err != nil {
		s.log.Error("final keyframe", log.Error(err))
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.journalFile != nil {
		if err := s.journalFile.Close(); err != nil {
			s.log.Error("close journal file", log.Error(err))
		}
	}

	s.log.Info("session stopped")
	return nil
}

// Close is Stop for sessions that may never have started. Safe to call
// more than once.
func (s *Session) Close() error {
	if atomic.LoadInt32(&s.running) == 1 {
		return s.Stop()
	}
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		if s.journal != nil {
			_ = s.journal.Close()
		}
		if s.journalFile != nil {
			_ = s.journalFile.Close()
		}
	}
	return nil
}

// Do runs fn on the session loop, serialized with remote applies and
// keyframe writes, and blocks until fn returns. Handlers and hooks already
// run on the loop; calling Do from inside one deadlocks.
func (s *Session) Do(fn func(m *instance.Manager) error) error {
	if atomic.LoadInt32(&s.running) == 0 {
		return ErrSessionNotRunning
	}
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case s.tasks <- t:
	case <-s.stop:
		return ErrSessionNotRunning
	}
	select {
	case err := <-t.done:
		return err
	case <-s.stop:
		return ErrSessionNotRunning
	}
}

// Dial connects out to a peer and hands the connection to the hub.
// Network is "quic" or "websocket".
func (s *Session) Dial(ctx context.Context, network, address string) error {
	if atomic.LoadInt32(&s.running) == 0 {
		return ErrSessionNotRunning
	}

	var tr protocol.Transport
	switch network {
	case "quic":
		tr = s.quic
	case "ws", "websocket":
		tr = s.ws
	default:
		return fmt.Errorf("unknown network %q", network)
	}

	conn, err := tr.Dial(ctx, address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if err := s.hub.Attach(conn, false); err != nil {
		_ = conn.Close()
		return err
	}
	s.log.Info("connected to peer",
		log.String("network", network),
		log.String("address", address))
	return nil
}

// Manager exposes the instance table. Reads are safe from any goroutine;
// mutations must go through Do.
func (s *Session) Manager() *instance.Manager { return s.manager }

func (s *Session) Catalog() *catalog.Catalog { return s.catalog }

func (s *Session) Interceptor() *statesync.Interceptor { return s.interceptor }

func (s *Session) Dispatcher() *statesync.Dispatcher { return s.dispatcher }

func (s *Session) Hub() *replication.Hub { return s.hub }

// Events is the session's lifecycle bus: instance spawns, despawns, and
// captured sync records publish here. Handlers run on the session loop, so
// they must not call Do.
func (s *Session) Events() *events.Bus { return s.bus }

// Journal returns the save sink, or nil when persistence is off.
func (s *Session) Journal() *replication.Journal { return s.journal }

// ReplayLog returns the capture sink, or nil unless the config enabled it.
func (s *Session) ReplayLog() *replication.ReplayLog { return s.replay }

// Origin is the replica identity stamped on every outgoing frame.
func (s *Session) Origin() identity.ID { return s.hub.Origin() }

// QUICAddr reports the bound QUIC address, or "" when that transport is off.
func (s *Session) QUICAddr() string {
	if s.quic.Listening() {
		return s.quic.Addr().String()
	}
	return ""
}

// WSAddr reports the bound WebSocket address, or "" when that transport is off.
func (s *Session) WSAddr() string {
	if s.ws.Listening() {
		return s.ws.Addr().String()
	}
	return ""
}

func (s *Session) Stats() Stats {
	return Stats{
		Running:   atomic.LoadInt32(&s.running) == 1,
		Peers:     s.hub.Peers(),
		Instances: s.manager.Count(),
		Manager:   s.manager.Stats(),
		Intercept: s.interceptor.Stats(),
		Dispatch:  s.dispatcher.Stats(),
		Hub:       s.hub.Stats(),
	}
}

// restore rebuilds state from the journal: newest keyframe first, then the
// call tail. Application runs under replay suppression, so nothing here is
// re-captured or re-broadcast. A fresh keyframe follows so the next load
// starts from the restored state instead of rescanning the old tail.
func (s *Session) restore() error {
	if s.config.JournalPath == "" {
		return nil
	}

	f, err := os.Open(s.config.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal for restore: %w", err)
	}
	res, err := replication.Load(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if res.Entries == 0 {
		return nil
	}

	if len(res.Snapshot) > 0 {
		var snap instance.Snapshot
		if err := snap.Deserialize(res.Snapshot); err != nil {
			return fmt.Errorf("decode keyframe: %w", err)
		}
		report := s.manager.Reconcile(&snap)
		s.log.Info("restored keyframe",
			log.Int("created", report.Created),
			log.Int("updated", report.Updated))
	}
	if len(res.Tail) > 0 {
		applied, failed := s.dispatcher.ApplyAll(res.Tail)
		s.log.Info("replayed journal tail",
			log.Int("applied", applied),
			log.Int("failed", failed))
	}
	return s.writeKeyframe()
}

func (s *Session) listenAll() error {
	if s.config.QUICAddr != "" {
		if err := s.quic.Listen(s.config.QUICAddr); err != nil {
			return fmt.Errorf("listen quic %s: %w", s.config.QUICAddr, err)
		}
	}
	if s.config.WSAddr != "" {
		if err := s.ws.Listen(s.config.WSAddr); err != nil {
			return fmt.Errorf("listen websocket %s: %w", s.config.WSAddr, err)
		}
	}
	return nil
}

func (s *Session) closeTransports() {
	if s.quic.Listening() {
		_ = s.quic.Close()
	}
	if s.ws.Listening() {
		_ = s.ws.Close()
	}
}

// loop is the session's single mutation goroutine. Local tasks, remote
// frames, and keyframe ticks all land here, one at a time.
func (s *Session) loop() {
	defer s.workers.Done()

	inbound := s.hub.Inbound()

	var tick <-chan time.Time
	if s.config.SnapshotInterval > 0 {
		ticker := time.NewTicker(s.config.SnapshotInterval.Std())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case t := <-s.tasks:
			t.done <- t.fn(s.manager)
		case f, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.applyFrame(f)
		case <-tick:
			if err := s.writeKeyframe(); err != nil {
				s.log.Error("write keyframe", log.Error(err))
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Session) applyFrame(f *protocol.Frame) {
	switch f.Kind {
	case protocol.FrameCall:
		rec := *f.Record
		if err := s.dispatcher.Apply(rec); err != nil {
			s.log.Warn("apply remote call failed",
				log.String("method", rec.Method),
				log.String("origin", f.Origin.String()),
				log.Error(err))
			return
		}
		// Remote mutations belong in the save log too. Capture misses
		// them because application runs under replay suppression.
		if s.journal != nil && rec.Options.Save() {
			s.journal.Consume(rec)
		}
	case protocol.FrameSnapshot:
		var snap instance.Snapshot
		if err := snap.Deserialize(f.Snapshot); err != nil {
			s.log.Warn("bad snapshot frame",
				log.String("origin", f.Origin.String()),
				log.Error(err))
			return
		}
		report := s.manager.Reconcile(&snap)
		s.log.Info("reconciled against peer snapshot",
			log.String("origin", f.Origin.String()),
			log.Int("created", report.Created),
			log.Int("destroyed", report.Destroyed),
			log.Int("updated", report.Updated))
	default:
		s.log.Warn("unhandled frame kind", log.String("kind", f.Kind.String()))
	}
}

func (s *Session) acceptLoop(tr protocol.Transport, name string) {
	defer s.workers.Done()
	lg := s.log.With(log.String("transport", name))

	for atomic.LoadInt32(&s.running) == 1 {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.AcceptTimeout.Std())
		conn, err := tr.Accept(ctx)
		cancel()
		if err != nil {
			if atomic.LoadInt32(&s.running) == 0 {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, protocol.ErrNotListening) || errors.Is(err, protocol.ErrTransportClosed) {
				return
			}
			lg.Warn("accept failed", log.Error(err))
			time.Sleep(acceptBackoff)
			continue
		}

		if s.hub.Peers() >= s.config.MaxPeers {
			lg.Warn("peer limit reached, rejecting connection",
				log.String("remote", conn.RemoteAddr().String()),
				log.Int("maxPeers", s.config.MaxPeers))
			_ = conn.Close()
			continue
		}

		if err := s.hub.Attach(conn, true); err != nil {
			lg.Warn("attach failed", log.Error(err))
			continue
		}
		lg.Info("peer connected",
			log.String("conn", conn.ID()),
			log.String("remote", conn.RemoteAddr().String()))
	}
}

func (s *Session) writeKeyframe() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Keyframe(s.manager.Snapshot())
}
