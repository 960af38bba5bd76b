// Package client is the high-level SDK for joining a running scenesync
// session. A Client keeps a complete local replica of the host's instance
// table: it dials, reconciles against the join snapshot, applies the call
// records the host relays, and captures its own mutations back onto the
// wire. Lost links are redialed automatically.
package client

import (
	"context"
	"fmt"
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

const taskQueueSize = 64

// Connection event types published on the client's bus, alongside the
// instance lifecycle types from the events package.
const (
	EventConnected    = "client.connected"
	EventDisconnected = "client.disconnected"
	EventReconnecting = "client.reconnecting"
	EventError        = "client.error"
)

// Connected is the Data payload of an EventConnected event.
type Connected struct {
	Addr string
}

// Reconnecting is the Data payload of an EventReconnecting event.
type Reconnecting struct {
	Attempt int
}

// Config holds connection settings for a client.
type Config struct {
	// ServerAddr is the host session's bound transport address.
	ServerAddr string

	// Network selects the transport: "quic" or "websocket".
	Network string

	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int

	// ProbeInterval is how often the link to the host is checked.
	ProbeInterval time.Duration

	LogLevel log.Level
}

// DefaultConfig returns client settings matching a local default session.
func DefaultConfig() Config {
	return Config{
		ServerAddr:           "127.0.0.1:7778",
		Network:              "websocket",
		ConnectTimeout:       10 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 10,
		ProbeInterval:        2 * time.Second,
		LogLevel:             log.LevelInfo,
	}
}

// Validate reports the first configuration problem, wrapped in
// ErrInvalidConfig.
func (c Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server address is empty", ErrInvalidConfig)
	}
	switch c.Network {
	case "quic", "ws", "websocket":
	default:
		return fmt.Errorf("%w: unknown network %q", ErrInvalidConfig, c.Network)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("%w: probe interval must be positive", ErrInvalidConfig)
	}
	return nil
}

type task struct {
	fn   func(m *instance.Manager) error
	done chan error
}

// Stats is a point-in-time view across the client's moving parts.
type Stats struct {
	Connected bool
	Instances int
	Manager   instance.Stats
	Intercept statesync.Stats
	Dispatch  statesync.DispatcherStats
	Hub       replication.HubStats
	Events    events.Stats
}

// Client is one joined replica. Mutations, local and remote, run on a
// single loop goroutine, the same discipline the server session keeps.
type Client struct {
	config Config
	log    log.Log

	catalog     *catalog.Catalog
	interceptor *statesync.Interceptor
	dispatcher  *statesync.Dispatcher
	manager     *instance.Manager
	hub         *replication.Hub
	bus         *events.Bus

	transport protocol.Transport

	mu     sync.Mutex
	connID string

	tasks     chan task
	done      chan struct{}
	workers   sync.WaitGroup
	startOnce sync.Once
	started   int32
	connected int32
	closed    int32
}

// New wires a client around a catalog that must match the host's, or
// prefab spawns relayed from the host will not resolve locally.
func New(cfg Config, cat *catalog.Catalog, logger log.Log) (*Client, error) {
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

	c := &Client{
		config:      cfg,
		log:         logger.With(log.String("component", "sdk.client")),
		catalog:     cat,
		interceptor: ic,
		dispatcher:  dis,
		manager:     mgr,
		hub:         hub,
		bus:         bus,
		tasks:       make(chan task, taskQueueSize),
		done:        make(chan struct{}),
	}

	switch cfg.Network {
	case "quic":
		tr, err := protocol.NewQUICTransport()
		if err != nil {
			return nil, fmt.Errorf("quic transport: %w", err)
		}
		c.transport = tr
	default:
		c.transport = protocol.NewWSTransport()
	}

	return c, nil
}

// Connect dials the host and starts the client loop. The host answers the
// hello with its instance table, so shortly after Connect returns the
// replica converges on the host's state.
func (c *Client) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if !atomic.CompareAndSwapInt32(&c.connected, 0, 1) {
		return ErrAlreadyConnected
	}

	if err := c.dial(ctx); err != nil {
		atomic.StoreInt32(&c.connected, 0)
		return err
	}

	c.startOnce.Do(func() {
		atomic.StoreInt32(&c.started, 1)
		c.workers.Add(2)
		go c.loop()
		go c.monitor()
	})

	c.log.Info("connected to host", log.String("addr", c.config.ServerAddr))
	c.publish(EventConnected, Connected{Addr: c.config.ServerAddr})
	return nil
}

// Disconnect drops the link to the host. The replica stays usable offline
// and Connect joins again.
func (c *Client) Disconnect() error {
	if !atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		return ErrNotConnected
	}

	c.mu.Lock()
	id := c.connID
	c.connID = ""
	c.mu.Unlock()
	if id != "" {
		c.hub.Detach(id)
	}

	c.log.Info("disconnected from host")
	c.publish(EventDisconnected, nil)
	return nil
}

// Close releases the client: the link, the hub, the loop, the transport.
// A closed client is finished; Close again is a no-op.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if atomic.CompareAndSwapInt32(&c.connected, 1, 0) {
		c.mu.Lock()
		id := c.connID
		c.connID = ""
		c.mu.Unlock()
		if id != "" {
			c.hub.Detach(id)
		}
	}

	_ = c.hub.Close()
	close(c.done)
	c.workers.Wait()
	_ = c.transport.Close()

	c.log.Info("client closed")
	return nil
}

// Do runs fn on the client loop, serialized with remote applies, and blocks
// until fn returns. It works offline too: mutations apply to the local
// replica and only their broadcast is lost. Handlers and hooks already run
// on the loop; calling Do from inside one deadlocks.
func (c *Client) Do(fn func(m *instance.Manager) error) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if atomic.LoadInt32(&c.started) == 0 {
		return ErrNotConnected
	}
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case c.tasks <- t:
	case <-c.done:
		return ErrClientClosed
	}
	select {
	case err := <-t.done:
		return err
	case <-c.done:
		return ErrClientClosed
	}
}

// Spawn instantiates a catalogued prefab at a world position and returns
// the new instance id.
func (c *Client) Spawn(prefabID string, pos scene.Vector3) (identity.ID, error) {
	var id identity.ID
	err := c.Do(func(m *instance.Manager) error {
		node, err := m.InstantiatePrefab(prefabID, nil, pos, scene.Identity)
		if err != nil {
			return err
		}
		id = node.CombineID()
		return nil
	})
	return id, err
}

// SpawnEmpty instantiates a bare named node at a world position.
func (c *Client) SpawnEmpty(name string, pos scene.Vector3) (identity.ID, error) {
	var id identity.ID
	err := c.Do(func(m *instance.Manager) error {
		node, err := m.InstantiateEmpty(name, nil, pos, scene.Identity)
		if err != nil {
			return err
		}
		id = node.CombineID()
		return nil
	})
	return id, err
}

// MoveTo sets the world position of an instance root.
func (c *Client) MoveTo(id identity.ID, pos scene.Vector3) error {
	return c.Do(func(m *instance.Manager) error {
		node, ok := m.Resolve(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
		}
		return m.SetPosition(node, pos)
	})
}

// Despawn destroys an instance by id.
func (c *Client) Despawn(id identity.ID) error {
	return c.Do(func(m *instance.Manager) error {
		node, ok := m.Resolve(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
		}
		return m.Destroy(node)
	})
}

// Snapshot serializes the replica's current instance table.
func (c *Client) Snapshot() ([]byte, error) {
	var data []byte
	err := c.Do(func(m *instance.Manager) error {
		var serr error
		data, serr = m.Snapshot().Serialize()
		return serr
	})
	return data, err
}

// Resync asks the host for a fresh snapshot and reconciles against it when
// the answer arrives. Normal operation never needs this; it is a recovery
// lever for a replica that suspects it has diverged.
func (c *Client) Resync() error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClientClosed
	}
	if !c.Connected() {
		return ErrNotConnected
	}
	c.hub.RequestSnapshot()
	return nil
}

// Manager exposes the replica's instance table. Reads are safe from any
// goroutine; mutations must go through Do.
func (c *Client) Manager() *instance.Manager { return c.manager }

func (c *Client) Catalog() *catalog.Catalog { return c.catalog }

// Events is the client's bus: connection events from this package plus the
// instance lifecycle and capture types from the events package.
func (c *Client) Events() *events.Bus { return c.bus }

// Origin is the replica identity stamped on every frame this client sends.
func (c *Client) Origin() identity.ID { return c.hub.Origin() }

// Instances reports how many instances the replica tracks.
func (c *Client) Instances() int { return c.manager.Count() }

// Connected reports whether the client currently holds a link to the host.
func (c *Client) Connected() bool {
	return atomic.LoadInt32(&c.connected) == 1 && c.hub.Peers() > 0
}

func (c *Client) Closed() bool { return atomic.LoadInt32(&c.closed) == 1 }

func (c *Client) Stats() Stats {
	return Stats{
		Connected: c.Connected(),
		Instances: c.manager.Count(),
		Manager:   c.manager.Stats(),
		Intercept: c.interceptor.Stats(),
		Dispatch:  c.dispatcher.Stats(),
		Hub:       c.hub.Stats(),
		Events:    c.bus.Stats(),
	}
}

func (c *Client) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn, err := c.transport.Dial(dctx, c.config.ServerAddr)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", c.config.Network, c.config.ServerAddr, err)
	}
	if err := c.hub.Attach(conn, false); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.connID = conn.ID()
	c.mu.Unlock()
	return nil
}

// loop is the client's single mutation goroutine.
func (c *Client) loop() {
	defer c.workers.Done()

	inbound := c.hub.Inbound()
	for {
		select {
		case t := <-c.tasks:
			t.done <- t.fn(c.manager)
		case f, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			c.applyFrame(f)
		case <-c.done:
			return
		}
	}
}

func (c *Client) applyFrame(f *protocol.Frame) {
	switch f.Kind {
	case protocol.FrameCall:
		rec := *f.Record
		if err := c.dispatcher.Apply(rec); err != nil {
			c.log.Warn("apply host call failed",
				log.String("method", rec.Method),
				log.Error(err))
		}
	case protocol.FrameSnapshot:
		var snap instance.Snapshot
		if err := snap.Deserialize(f.Snapshot); err != nil {
			c.log.Warn("bad snapshot frame", log.Error(err))
			return
		}
		report := c.manager.Reconcile(&snap)
		c.log.Info("reconciled against host snapshot",
			log.Int("created", report.Created),
			log.Int("destroyed", report.Destroyed),
			log.Int("updated", report.Updated))
	default:
		c.log.Warn("unhandled frame kind", log.String("kind", f.Kind.String()))
	}
}

// monitor watches the link and redials when it drops. The hub removes a
// dead peer on its own, so an empty peer set while connected means the
// host is gone.
func (c *Client) monitor() {
	defer c.workers.Done()

	ticker := time.NewTicker(c.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if atomic.LoadInt32(&c.connected) == 1 && c.hub.Peers() == 0 {
				c.reconnect()
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) reconnect() {
	c.log.Warn("link to host lost")
	c.publish(EventDisconnected, nil)

	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		if atomic.LoadInt32(&c.closed) == 1 || atomic.LoadInt32(&c.connected) == 0 {
			return
		}
		c.publish(EventReconnecting, Reconnecting{Attempt: attempt})

		err := c.dial(context.Background())
		if err == nil {
			// The host answers the new hello with a snapshot, which
			// reconciles away whatever the replica missed.
			c.log.Info("reconnected to host", log.Int("attempt", attempt))
			c.publish(EventConnected, Connected{Addr: c.config.ServerAddr})
			return
		}
		c.log.Warn("reconnect attempt failed",
			log.Int("attempt", attempt),
			log.Error(err))

		select {
		case <-time.After(c.config.ReconnectInterval):
		case <-c.done:
			return
		}
	}

	atomic.StoreInt32(&c.connected, 0)
	c.log.Error("giving up on host", log.String("addr", c.config.ServerAddr))
	c.publish(EventError, ErrReconnectFailed)
}

func (c *Client) publish(typ string, data any) {
	err := c.bus.Publish(events.Event{
		Type:   typ,
		Source: c.hub.Origin().String(),
		Data:   data,
	})
	if err != nil {
		c.log.Warn("event handler failed", log.String("type", typ), log.Error(err))
	}
}
