package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"canvasrelay/internal/logging"
)

// closeFrameTimeout bounds the close handshake write.
const closeFrameTimeout = 100 * time.Millisecond

// ConnectionOptions tunes the outbound side of a canvas connection.
type ConnectionOptions struct {
	BufferSize   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// DefaultConnectionOptions returns the settings used when none are configured.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		BufferSize:   256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// so every frame goes through writeCh and a single writer goroutine
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte // FUNCTIONAL DISCOVERY: buffer absorbs broadcast bursts during fast strokes
	opts    ConnectionOptions
	ctx     context.Context    // Cancelled by Close
	cancel  context.CancelFunc // Idempotent
}

// NewConnection wraps conn, assigns it a fresh identifier and starts its writer.
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	defaults := DefaultConnectionOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan []byte, opts.BufferSize),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ID returns the server-generated connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
// and also owns the ping ticker so control frames never interleave with data
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		// A failed write means the peer is gone: closing here makes the read
		// side fail too, which routes cleanup through the normal leave path.
		c.cancel()
		c.teardown()
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("canvas write failed", logging.ConnectionID(c.id), logging.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues data for delivery without blocking.
// FUNCTIONAL DISCOVERY: A full buffer means the peer is not keeping up; the
// frame is refused with ErrConnectionNotReady and the caller moves on
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrConnectionNotReady
	}
}

// IsOpen reports whether Close has not been called yet.
func (c *Connection) IsOpen() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close marks the connection closed and returns at once; the writer goroutine
// sends the close frame and releases the socket.
// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	c.cancel()
	return nil
}

// teardown runs on the writer goroutine once it has stopped writing frames.
func (c *Connection) teardown() {
	if c.conn == nil {
		return
	}
	// Best effort close frame; the peer may already be gone
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeFrameTimeout),
	)
	if err := c.conn.Close(); err != nil {
		slog.Debug("canvas socket close failed", logging.ConnectionID(c.id), logging.Error(err))
	}
}
