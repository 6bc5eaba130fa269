// Package database is the sqlite-backed audit log of canvas connections.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"canvasrelay/internal/logging"
	"canvasrelay/internal/metrics"
	dbconfig "canvasrelay/pkg/database"
	"canvasrelay/pkg/types"
)

// Manager errors
var (
	ErrManagerClosed  = errors.New("database manager is closed")
	ErrWriteQueueFull = errors.New("database write queue is full")
	ErrWriteTimeout   = errors.New("write operation timeout")
)

// Manager implements interfaces.SessionStore on sqlite
// ARCHITECTURAL DISCOVERY: Reads go straight to the pool; every write funnels
// through one goroutine so sqlite never sees competing writers
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
	retryDelay   time.Duration
	logger       *slog.Logger
}

// writeOperation represents a database write operation. A nil result channel
// marks a fire-and-forget write.
type writeOperation struct {
	name      string
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		logger:       slog.Default().With(logging.Component("database")),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.apply(op)

		case <-m.shutdown:
			// Drain what was queued before Close so session ends are not lost
			for {
				select {
				case op := <-m.writeChannel:
					m.apply(op)
				default:
					m.logger.Debug("database write loop shutting down")
					return
				}
			}
		}
	}
}

// apply runs op, retrying exactly once after retryDelay.
func (m *Manager) apply(op writeOperation) {
	err := op.operation(m.db)
	if err != nil {
		m.logger.Warn("database write failed, retrying",
			slog.String("operation", op.name),
			slog.Duration("delay", m.retryDelay),
			logging.Error(err))
		time.Sleep(m.retryDelay)
		err = op.operation(m.db)
		if err != nil {
			metrics.StoreErrors.WithLabelValues(op.name).Inc()
			m.logger.Error("database write failed after retry",
				slog.String("operation", op.name),
				logging.Error(err))
		}
	}
	if op.result != nil {
		op.result <- err
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, name string, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{name: name, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueWrite hands a write to the writer without waiting for it.
// FUNCTIONAL DISCOVERY: The session lifecycle loop must never wait on disk;
// a full queue is reported instead of blocking
func (m *Manager) queueWrite(name string, operation func(*sql.DB) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrManagerClosed
	}

	select {
	case m.writeChannel <- writeOperation{name: name, operation: operation}:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// RecordSessionStart queues the audit row for a newly joined connection.
func (m *Manager) RecordSessionStart(ctx context.Context, record *types.SessionRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("session record requires an id")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session start not queued: %w", err)
	}
	id := record.ID
	remoteAddr := record.RemoteAddr
	userAgent := record.UserAgent
	connectedAt := record.ConnectedAt.UTC()

	return m.queueWrite("session_start", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO canvas_sessions (id, remote_addr, user_agent, connected_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id, remoteAddr, userAgent, connectedAt)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// RecordSessionEnd queues the closing update for a connection.
func (m *Manager) RecordSessionEnd(ctx context.Context, id string, endedAt time.Time, strokes, clears int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session end not queued: %w", err)
	}
	endedAt = endedAt.UTC()
	return m.queueWrite("session_end", func(db *sql.DB) error {
		_, err := db.Exec(`
			UPDATE canvas_sessions
			SET disconnected_at = ?, strokes = ?, clears = ?
			WHERE id = ?
		`, endedAt, strokes, clears, id)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

// CloseDanglingSessions marks rows left open by a previous process as ended at
// endedAt and returns how many were closed.
func (m *Manager) CloseDanglingSessions(ctx context.Context, endedAt time.Time) (int64, error) {
	var closed int64
	err := m.executeWrite(ctx, "close_dangling", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE canvas_sessions
			SET disconnected_at = ?
			WHERE disconnected_at IS NULL
		`, endedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to close dangling sessions: %w", err)
		}
		closed, err = res.RowsAffected()
		return err
	})
	return closed, err
}

// Flush waits until every write queued before it has been applied.
func (m *Manager) Flush(ctx context.Context) error {
	return m.executeWrite(ctx, "flush", func(*sql.DB) error { return nil })
}

// ListRecentSessions returns the most recently connected sessions, newest first.
func (m *Manager) ListRecentSessions(ctx context.Context, limit int) ([]*types.SessionRecord, error) {
	if limit <= 0 {
		return []*types.SessionRecord{}, nil
	}

	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, remote_addr, user_agent, connected_at, disconnected_at, strokes, clears
		FROM canvas_sessions
		ORDER BY connected_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]*types.SessionRecord, 0, limit)
	for rows.Next() {
		var record types.SessionRecord
		var disconnectedAt sql.NullTime

		if err := rows.Scan(
			&record.ID,
			&record.RemoteAddr,
			&record.UserAgent,
			&record.ConnectedAt,
			&disconnectedAt,
			&record.Strokes,
			&record.Clears,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		// FUNCTIONAL DISCOVERY: Handle nullable disconnected_at for live connections
		if disconnectedAt.Valid {
			t := disconnectedAt.Time
			record.DisconnectedAt = &t
		}
		sessions = append(sessions, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM canvas_sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close drains queued writes and shuts down the database manager
func (m *Manager) Close() error {
	// TECHNICAL DISCOVERY: Prevent multiple close operations
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
