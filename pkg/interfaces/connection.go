package interfaces

// Connection represents one live canvas transport session
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures the registry and broadcaster never touch the WebSocket library
type Connection interface {
	// ID returns the server-generated identifier, unique among live connections
	ID() string

	// Send queues an already serialized frame for delivery (thread-safe, non-blocking)
	// FUNCTIONAL DISCOVERY: Implementations report a recipient that cannot accept
	// the frame right now with an error instead of blocking the caller
	Send(data []byte) error

	// Close closes the connection and cleans up resources; safe to call repeatedly
	Close() error
}
