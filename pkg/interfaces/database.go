package interfaces

import (
	"context"
	"time"

	"canvasrelay/pkg/types"
)

// SessionStore records the lifecycle of canvas connections
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// keeps the session lifecycle independent of the storage engine
type SessionStore interface {
	// RecordSessionStart stores a row for a newly joined connection
	// FUNCTIONAL DISCOVERY: Implementations must not block the caller on disk I/O;
	// the lifecycle loop calls this while holding the event stream
	RecordSessionStart(ctx context.Context, record *types.SessionRecord) error

	// RecordSessionEnd closes the row for a connection and stores its counters
	RecordSessionEnd(ctx context.Context, id string, endedAt time.Time, strokes, clears int64) error

	// ListRecentSessions returns the most recently connected sessions, newest first
	ListRecentSessions(ctx context.Context, limit int) ([]*types.SessionRecord, error)

	// HealthCheck verifies storage connectivity
	HealthCheck(ctx context.Context) error

	// Close releases storage resources
	Close() error
}
