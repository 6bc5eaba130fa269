// Package hub runs the canvas session lifecycle: joins, inbound events and
// leaves are processed one at a time on a single goroutine.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"canvasrelay/internal/broadcast"
	"canvasrelay/internal/ledger"
	"canvasrelay/internal/logging"
	"canvasrelay/internal/metrics"
	"canvasrelay/internal/websocket"
	"canvasrelay/pkg/interfaces"
	"canvasrelay/pkg/types"
)

// DefaultQueueSize is the event channel buffer used when none is configured.
const DefaultQueueSize = 1024

type eventKind int

const (
	joinEvent eventKind = iota
	messageEvent
	leaveEvent
	barrierEvent
)

// event is one unit of work for the hub loop.
// ARCHITECTURAL DISCOVERY: Joins, messages and leaves share ONE FIFO channel so
// a connection's join is always processed before anything it sends
type event struct {
	kind    eventKind
	conn    interfaces.Connection
	connID  string
	info    types.ClientInfo
	inbound types.Inbound
	done    chan struct{}
}

// connStats is per-connection bookkeeping owned by the hub loop.
type connStats struct {
	strokes int64
	clears  int64
}

// Stats is a point-in-time view for info endpoints.
type Stats struct {
	ActiveUsers  int `json:"activeUsers"`
	HistoryCount int `json:"historyCount"`
}

// Hub coordinates the registry, the history ledger and the broadcaster
// ARCHITECTURAL DISCOVERY: Central coordination point for all canvas flow;
// only the hub goroutine mutates the registry and the ledger
type Hub struct {
	events chan event

	registry    *websocket.Registry
	ledger      *ledger.Ledger
	broadcaster *broadcast.Broadcaster
	store       interfaces.SessionStore // optional connection audit
	limiter     *RateLimiter            // optional, nil or disabled means unlimited
	clock       func() time.Time

	// Loop-owned state
	lastStamp int64
	stats     map[string]*connStats

	logger *slog.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	mu       sync.RWMutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithStore records one audit row per connection in store.
func WithStore(store interfaces.SessionStore) Option {
	return func(h *Hub) { h.store = store }
}

// WithRateLimiter limits draw and clear events per connection.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(h *Hub) { h.limiter = rl }
}

// WithClock overrides the time source used to stamp events.
func WithClock(clock func() time.Time) Option {
	return func(h *Hub) { h.clock = clock }
}

// WithQueueSize sets the event channel buffer.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.events = make(chan event, n)
		}
	}
}

// NewHub creates a hub over registry and ledger.
func NewHub(registry *websocket.Registry, history *ledger.Ledger, opts ...Option) *Hub {
	h := &Hub{
		events:      make(chan event, DefaultQueueSize),
		registry:    registry,
		ledger:      history,
		broadcaster: broadcast.New(registry),
		clock:       time.Now,
		stats:       make(map[string]*connStats),
		logger:      slog.Default().With(logging.Component("hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine prevents race conditions and keeps
// ledger append order identical to live delivery order
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.drainQueued()
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting canvas hub",
		slog.Int("history_ceiling", h.ledger.Ceiling()),
		slog.Int("history_retain", h.ledger.Retain()),
		slog.Bool("rate_limited", h.limiter.Enabled()))

	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop shuts the loop down, closes every registered connection and waits for
// the loop to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	h.logger.Info("stopping canvas hub")
	<-done
	return nil
}

// IsRunning reports whether the loop accepts events.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Join queues conn for registration and history replay.
func (h *Hub) Join(conn interfaces.Connection, info types.ClientInfo) error {
	if conn == nil {
		return ErrNilConnection
	}
	return h.enqueue(event{kind: joinEvent, conn: conn, connID: conn.ID(), info: info})
}

// Submit queues a decoded inbound event from connID.
func (h *Hub) Submit(connID string, inbound types.Inbound) error {
	return h.enqueue(event{kind: messageEvent, connID: connID, inbound: inbound})
}

// Leave queues conn for deregistration and the leave announcement.
func (h *Hub) Leave(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	return h.enqueue(event{kind: leaveEvent, conn: conn, connID: conn.ID()})
}

// Stats reads connection and replay counts without going through the loop.
func (h *Hub) Stats() Stats {
	return Stats{
		ActiveUsers:  h.registry.Size(),
		HistoryCount: h.ledger.ReplayLen(),
	}
}

// enqueue blocks until the loop has room, so a busy hub pushes back on the
// read pumps instead of dropping events.
func (h *Hub) enqueue(ev event) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	done := h.done
	h.mu.RUnlock()

	select {
	case <-done:
		return ErrHubNotRunning
	default:
	}

	select {
	case h.events <- ev:
		return nil
	case <-done:
		return ErrHubNotRunning
	}
}

// barrier returns once every event queued before it has been processed.
func (h *Hub) barrier() error {
	done := make(chan struct{})
	if err := h.enqueue(event{kind: barrierEvent, done: done}); err != nil {
		return err
	}
	h.mu.RLock()
	stopped := h.done
	h.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-stopped:
		return ErrHubNotRunning
	}
}

// run is the main hub processing loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer h.closeAll()

	var cleanup <-chan time.Time
	if h.limiter.Enabled() {
		ticker := time.NewTicker(h.limiter.window)
		defer ticker.Stop()
		cleanup = ticker.C
	}

	for {
		select {
		case ev := <-h.events:
			h.handle(ev)

		case <-cleanup:
			if n := h.limiter.Cleanup(); n > 0 {
				h.logger.Debug("rate limiter state pruned", slog.Int("removed", n))
			}

		case <-shutdown:
			h.logger.Info("hub shutdown requested")
			return

		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case joinEvent:
		h.handleJoin(ev.conn, ev.info)
	case messageEvent:
		h.handleMessage(ev.connID, ev.inbound)
	case leaveEvent:
		h.handleLeave(ev.conn)
	case barrierEvent:
		close(ev.done)
		return
	}

	metrics.ActiveConnections.Set(float64(h.registry.Size()))
	metrics.HistoryLength.Set(float64(h.ledger.Len()))
}

// handleJoin registers conn, replays history to it, then announces it to everyone else.
func (h *Hub) handleJoin(conn interfaces.Connection, info types.ClientInfo) {
	id := conn.ID()
	if err := h.registry.Register(id, conn); err != nil {
		// Invariant violation: never overwrite the existing mapping
		metrics.ConnectionsTotal.WithLabelValues(metrics.TransitionRejected).Inc()
		h.logger.Error("connection registration failed",
			logging.ConnectionID(id),
			logging.RemoteAddr(info.RemoteAddr),
			logging.Error(err))
		_ = conn.Close()
		return
	}
	metrics.ConnectionsTotal.WithLabelValues(metrics.TransitionOpened).Inc()
	h.stats[id] = &connStats{}

	now := h.clock()
	ts := h.stamp(now)

	// FUNCTIONAL DISCOVERY: The newcomer gets history directly and before the
	// announcement, so it never sees its own join and never sees a live event
	// ahead of the replay
	if err := broadcast.SendTo(conn, types.NewInitMessage(h.ledger.Snapshot(), ts)); err != nil {
		h.logger.Warn("history replay not delivered", logging.ConnectionID(id), logging.Error(err))
	}
	if _, err := h.broadcaster.Broadcast(types.NewPresenceEvent(types.KindUserJoin, id, ts), id); err != nil {
		h.logger.Error("join announcement failed", logging.ConnectionID(id), logging.Error(err))
	}

	h.logger.Info("canvas connection opened",
		logging.ConnectionID(id),
		logging.RemoteAddr(info.RemoteAddr),
		logging.Connections(h.registry.Size()))

	if h.store != nil {
		record := &types.SessionRecord{
			ID:          id,
			RemoteAddr:  info.RemoteAddr,
			UserAgent:   info.UserAgent,
			ConnectedAt: now,
		}
		if err := h.store.RecordSessionStart(context.Background(), record); err != nil {
			metrics.StoreErrors.WithLabelValues("session_start").Inc()
			h.logger.Warn("session audit start failed", logging.ConnectionID(id), logging.Error(err))
		}
	}
}

// handleMessage stamps and applies one client event, then relays it to every other connection.
func (h *Hub) handleMessage(connID string, inbound types.Inbound) {
	kind := metricKind(inbound)

	conn, ok := h.registry.Get(connID)
	if !ok {
		// Sender left, or never finished joining
		metrics.EventsTotal.WithLabelValues(kind, metrics.OutcomeOrphaned).Inc()
		h.logger.Debug("event from unregistered connection dropped",
			logging.ConnectionID(connID), logging.EventType(kind))
		return
	}

	var stamped types.DrawEvent
	switch ev := inbound.(type) {
	case types.DrawStroke:
		if !h.allow(conn, kind) {
			return
		}
		stamped = types.DrawEvent{Type: types.KindDraw, Data: ev.Data, Timestamp: h.stamp(h.clock()), UserID: connID}
		if h.ledger.Append(stamped) {
			metrics.HistoryTrims.Inc()
			h.logger.Info("history trimmed", logging.History(h.ledger.Len()))
		}
		if s := h.stats[connID]; s != nil {
			s.strokes++
		}

	case types.ClearCanvas:
		if !h.allow(conn, kind) {
			return
		}
		stamped = types.DrawEvent{Type: types.KindClear, Data: ev.Data, Timestamp: h.stamp(h.clock()), UserID: connID}
		h.ledger.Reset(stamped)
		metrics.HistoryResets.Inc()
		if s := h.stats[connID]; s != nil {
			s.clears++
		}
		h.logger.Info("canvas cleared", logging.ConnectionID(connID))

	case types.ServerOnly, types.Unknown:
		// FUNCTIONAL DISCOVERY: Presence kinds are server-synthesized only and
		// unknown kinds have no meaning; both are ignored without an error reply
		metrics.EventsTotal.WithLabelValues(kind, metrics.OutcomeIgnored).Inc()
		h.logger.Debug("client event ignored", logging.ConnectionID(connID), logging.EventType(kind))
		return

	default:
		metrics.EventsTotal.WithLabelValues(kind, metrics.OutcomeIgnored).Inc()
		return
	}

	metrics.EventsTotal.WithLabelValues(kind, metrics.OutcomeAccepted).Inc()
	if _, err := h.broadcaster.Broadcast(stamped, connID); err != nil {
		h.logger.Error("relay failed", logging.ConnectionID(connID), logging.EventType(kind), logging.Error(err))
	}
}

// metricKind maps inbound to a bounded label value; every unrecognized tag
// shares metrics.KindUnknown.
func metricKind(inbound types.Inbound) string {
	switch ev := inbound.(type) {
	case types.DrawStroke, types.ClearCanvas:
		return string(ev.Kind())
	case types.ServerOnly:
		if types.IsPresenceKind(ev.Type) {
			return string(ev.Type)
		}
	}
	return metrics.KindUnknown
}

// allow applies the rate limit and answers the sender when it is exceeded.
func (h *Hub) allow(conn interfaces.Connection, kind string) bool {
	if h.limiter.Allow(conn.ID()) {
		return true
	}
	metrics.EventsTotal.WithLabelValues(kind, metrics.OutcomeRateLimited).Inc()
	h.logger.Debug("rate limit exceeded", logging.ConnectionID(conn.ID()))
	if err := broadcast.SendTo(conn, types.NewErrorMessage(types.ErrorTextRateLimited, h.stamp(h.clock()))); err != nil {
		h.logger.Debug("rate limit reply dropped", logging.ConnectionID(conn.ID()), logging.Error(err))
	}
	return false
}

// handleLeave deregisters conn and announces the departure to everyone left.
// ARCHITECTURAL DISCOVERY: Local cleanup comes first; the announcement is best effort
func (h *Hub) handleLeave(conn interfaces.Connection) {
	id := conn.ID()

	// Only the connection that owns the id may remove it. A duplicate that was
	// refused at join time must not evict the original.
	registered, ok := h.registry.Get(id)
	if !ok || registered != conn {
		_ = conn.Close()
		return
	}

	h.registry.Deregister(id)
	_ = conn.Close()
	metrics.ConnectionsTotal.WithLabelValues(metrics.TransitionClosed).Inc()

	now := h.clock()
	if _, err := h.broadcaster.Broadcast(types.NewPresenceEvent(types.KindUserLeave, id, h.stamp(now)), ""); err != nil {
		h.logger.Error("leave announcement failed", logging.ConnectionID(id), logging.Error(err))
	}

	h.logger.Info("canvas connection closed",
		logging.ConnectionID(id),
		logging.Connections(h.registry.Size()))

	h.finishSession(id, now)
	h.limiter.Forget(id)
}

// finishSession writes the closing counters of id to the audit store.
func (h *Hub) finishSession(id string, endedAt time.Time) {
	stats := h.stats[id]
	delete(h.stats, id)
	if h.store == nil {
		return
	}
	if stats == nil {
		stats = &connStats{}
	}
	if err := h.store.RecordSessionEnd(context.Background(), id, endedAt, stats.strokes, stats.clears); err != nil {
		metrics.StoreErrors.WithLabelValues("session_end").Inc()
		h.logger.Warn("session audit end failed", logging.ConnectionID(id), logging.Error(err))
	}
}

// closeAll runs when the loop exits: queued joins are refused and every
// registered connection is closed without announcements.
func (h *Hub) closeAll() {
	h.drainQueued()

	now := h.clock()
	for _, conn := range h.registry.Snapshot() {
		h.registry.Deregister(conn.ID())
		_ = conn.Close()
		h.finishSession(conn.ID(), now)
		h.limiter.Forget(conn.ID())
	}
	metrics.ActiveConnections.Set(0)
}

// drainQueued discards events the loop will never process.
func (h *Hub) drainQueued() {
	for {
		select {
		case ev := <-h.events:
			switch ev.kind {
			case joinEvent, leaveEvent:
				_ = ev.conn.Close()
			case barrierEvent:
				close(ev.done)
			}
		default:
			return
		}
	}
}

// stamp converts now to wire milliseconds, never going backwards.
func (h *Hub) stamp(now time.Time) int64 {
	ts := types.UnixMillis(now)
	if ts < h.lastStamp {
		ts = h.lastStamp
	}
	h.lastStamp = ts
	return ts
}
