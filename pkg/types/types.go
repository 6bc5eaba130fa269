package types

import (
	"encoding/json"
	"time"
)

// EventKind is the "type" tag carried by every frame on the canvas socket.
type EventKind string

// ARCHITECTURAL DISCOVERY: Event kind constants mirror the wire protocol exactly
// so that front ends written against the original relay keep working unchanged
const (
	KindDraw      EventKind = "draw"
	KindClear     EventKind = "clear"
	KindUserJoin  EventKind = "user_join"
	KindUserLeave EventKind = "user_leave"
	KindInit      EventKind = "init"
	KindError     EventKind = "error"
)

// DrawEvent is one unit of canvas activity after the server has stamped it.
// FUNCTIONAL DISCOVERY: Data stays as raw JSON because the stroke payload is
// opaque to the relay; it is forwarded byte for byte to every peer
type DrawEvent struct {
	Type      EventKind       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
}

// IsDraw reports whether the event is a stroke segment.
func (e DrawEvent) IsDraw() bool {
	return e.Type == KindDraw
}

// InitMessage is sent once to a newly joined connection with the replayable history.
type InitMessage struct {
	Type      EventKind   `json:"type"`
	Data      []DrawEvent `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorMessage is a non-fatal acknowledgment sent only to the offending connection.
type ErrorMessage struct {
	Type      EventKind `json:"type"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"`
}

// Client-visible error texts
const (
	ErrorTextInvalidFormat = "Invalid message format"
	ErrorTextRateLimited   = "Rate limit exceeded"
)

// NewInitMessage builds the replay frame. A nil history is sent as [] so clients
// can always iterate data.
func NewInitMessage(history []DrawEvent, timestamp int64) InitMessage {
	if history == nil {
		history = []DrawEvent{}
	}
	return InitMessage{Type: KindInit, Data: history, Timestamp: timestamp}
}

// NewPresenceEvent builds a server-synthesized user_join or user_leave event.
func NewPresenceEvent(kind EventKind, userID string, timestamp int64) DrawEvent {
	return DrawEvent{Type: kind, Timestamp: timestamp, UserID: userID}
}

// NewErrorMessage builds an error acknowledgment.
func NewErrorMessage(message string, timestamp int64) ErrorMessage {
	return ErrorMessage{Type: KindError, Message: message, Timestamp: timestamp}
}

// ClientInfo describes the HTTP request a canvas connection was upgraded from.
type ClientInfo struct {
	RemoteAddr string `json:"remote_addr"`
	UserAgent  string `json:"user_agent"`
}

// SessionRecord is the audit row kept for one canvas connection.
// FUNCTIONAL DISCOVERY: Only connection metadata and counters are recorded,
// never the strokes themselves
type SessionRecord struct {
	ID             string     `json:"id" db:"id"`
	RemoteAddr     string     `json:"remote_addr" db:"remote_addr"`
	UserAgent      string     `json:"user_agent" db:"user_agent"`
	ConnectedAt    time.Time  `json:"connected_at" db:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty" db:"disconnected_at"`
	Strokes        int64      `json:"strokes" db:"strokes"`
	Clears         int64      `json:"clears" db:"clears"`
}

// Active reports whether the connection had not disconnected when the record was read.
func (r *SessionRecord) Active() bool {
	return r.DisconnectedAt == nil
}

// UnixMillis converts t to the millisecond timestamps used on the wire.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
