package websocket

import (
	"sync"

	"canvasrelay/pkg/interfaces"
)

// Registry tracks live canvas connections by identifier
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and message delivery
type Registry struct {
	mu          sync.RWMutex                     // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out
	connections map[string]interfaces.Connection // connectionID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
	}
}

// Register inserts conn under id.
// FUNCTIONAL DISCOVERY: An id that is already present is an invariant violation;
// the existing mapping is never overwritten
func (r *Registry) Register(id string, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if id == "" {
		return ErrEmptyConnectionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[id]; exists {
		return ErrDuplicateConnectionID
	}
	r.connections[id] = conn
	return nil
}

// Deregister removes id and reports whether it was present.
// FUNCTIONAL DISCOVERY: Idempotent operation safe for double-close races
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[id]; !exists {
		return false
	}
	delete(r.connections, id)
	return true
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[id]
	return conn, exists
}

// ForEachExcept calls fn once for every registered connection whose id is not
// excludeID, in no particular order.
// ARCHITECTURAL DISCOVERY: fn runs against a point-in-time copy taken under the
// read lock, so registrations during the fan-out cannot disturb the iteration
func (r *Registry) ForEachExcept(excludeID string, fn func(conn interfaces.Connection)) {
	for _, conn := range r.snapshotExcept(excludeID) {
		fn(conn)
	}
}

// Snapshot returns every registered connection.
func (r *Registry) Snapshot() []interfaces.Connection {
	return r.snapshotExcept("")
}

func (r *Registry) snapshotExcept(excludeID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]interfaces.Connection, 0, len(r.connections))
	for id, conn := range r.connections {
		if excludeID != "" && id == excludeID {
			continue
		}
		connections = append(connections, conn)
	}
	return connections
}

// Size returns the number of live connections.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
