package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"canvasrelay/internal/logging"
	"canvasrelay/internal/metrics"
	"canvasrelay/pkg/interfaces"
	"canvasrelay/pkg/types"
)

// Sessions is the lifecycle side of the relay that the handler feeds.
// ARCHITECTURAL DISCOVERY: Declared here rather than imported so the transport
// layer stays free of hub dependencies and the hub can depend on Registry
type Sessions interface {
	// Join registers conn and delivers the history replay.
	Join(conn interfaces.Connection, info types.ClientInfo) error
	// Submit hands a decoded client event to the relay.
	Submit(connID string, event types.Inbound) error
	// Leave deregisters conn, closes it and announces the departure.
	Leave(conn interfaces.Connection) error
}

// HandlerConfig carries the transport settings for canvas connections.
type HandlerConfig struct {
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int
	MaxMessageSize   int64
	AllowedOrigins   []string // empty allows any origin
}

// DefaultHandlerConfig returns production defaults.
func DefaultHandlerConfig() HandlerConfig {
	opts := DefaultConnectionOptions()
	return HandlerConfig{
		ReadTimeout:      60 * time.Second,
		PingInterval:     opts.PingInterval,
		WriteTimeout:     opts.WriteTimeout,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       opts.BufferSize,
		MaxMessageSize:   64 * 1024,
	}
}

// Handler upgrades HTTP requests to canvas connections and pumps their
// inbound frames into Sessions
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic
type Handler struct {
	sessions Sessions
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(sessions Sessions, cfg HandlerConfig) *Handler {
	defaults := DefaultHandlerConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	h := &Handler{
		sessions: sessions,
		cfg:      cfg,
		logger:   slog.Default().With(logging.Component("websocket")),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	return h
}

// HandleWebSocket upgrades the request and hands the new connection to Sessions.
// FUNCTIONAL DISCOVERY: Canvas clients are anonymous; there is nothing to
// validate before the upgrade beyond the origin
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.Warn("websocket upgrade failed", logging.RemoteAddr(r.RemoteAddr), logging.Error(err))
		return
	}

	wsConn := NewConnection(conn, ConnectionOptions{
		BufferSize:   h.cfg.BufferSize,
		PingInterval: h.cfg.PingInterval,
		WriteTimeout: h.cfg.WriteTimeout,
	})

	info := types.ClientInfo{
		RemoteAddr: clientAddr(r),
		UserAgent:  r.UserAgent(),
	}

	if err := h.sessions.Join(wsConn, info); err != nil {
		h.logger.Warn("canvas join refused",
			logging.ConnectionID(wsConn.ID()),
			logging.RemoteAddr(info.RemoteAddr),
			logging.Error(err))
		_ = wsConn.Close()
		return
	}

	// TECHNICAL DISCOVERY: Separate goroutine for connection lifecycle management
	// lets the HTTP handler return once the socket is hijacked
	go h.readPump(wsConn)
}

// readPump reads frames until the socket fails, then routes cleanup through Leave.
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		if err := h.sessions.Leave(conn); err != nil {
			// Sessions is gone; make sure the socket does not leak.
			_ = conn.Close()
		}
	}()

	conn.conn.SetReadLimit(h.cfg.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("canvas connection error", logging.ConnectionID(conn.ID()), logging.Error(err))
			}
			return
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		event, err := types.DecodeInbound(data)
		if err != nil {
			// FUNCTIONAL DISCOVERY: A malformed frame is answered on the same
			// connection only; it never reaches the ledger or other clients
			metrics.InvalidMessages.Inc()
			h.logger.Debug("invalid canvas message", logging.ConnectionID(conn.ID()), logging.Error(err))
			h.replyError(conn, types.ErrorTextInvalidFormat)
			continue
		}

		if err := h.sessions.Submit(conn.ID(), event); err != nil {
			h.logger.Debug("canvas submit rejected", logging.ConnectionID(conn.ID()), logging.Error(err))
			return
		}
	}
}

func (h *Handler) replyError(conn *Connection, text string) {
	payload, err := json.Marshal(types.NewErrorMessage(text, time.Now().UnixMilli()))
	if err != nil {
		h.logger.Error("failed to encode error reply", logging.Error(err))
		return
	}
	if err := conn.Send(payload); err != nil {
		h.logger.Debug("error reply dropped", logging.ConnectionID(conn.ID()), logging.Error(err))
	}
}

// checkOrigin allows requests without an Origin header (non-browser clients),
// any origin when none are configured, and otherwise exact or "*.suffix" matches.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return OriginAllowed(origin, h.cfg.AllowedOrigins)
}

// OriginAllowed reports whether origin matches one of the allowed patterns.
func OriginAllowed(origin string, allowed []string) bool {
	for _, pattern := range allowed {
		switch {
		case pattern == "*":
			return true
		case strings.EqualFold(pattern, origin):
			return true
		case strings.HasPrefix(pattern, "*."):
			host := origin
			if i := strings.Index(host, "://"); i >= 0 {
				host = host[i+3:]
			}
			if strings.HasSuffix(strings.ToLower(host), strings.ToLower(pattern[1:])) {
				return true
			}
		}
	}
	return false
}

// clientAddr prefers the first X-Forwarded-For hop over the socket peer.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return r.RemoteAddr
}
