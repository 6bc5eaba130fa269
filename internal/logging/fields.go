package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldService      = "service"
	FieldComponent    = "component"
	FieldConnectionID = "connection_id"
	FieldEventType    = "event_type"
	FieldRemoteAddr   = "remote_addr"
	FieldConnections  = "connections"
	FieldHistory      = "history"
	FieldError        = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute naming the emitting component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// ConnectionID returns a slog attribute for a canvas connection id.
func ConnectionID(id string) slog.Attr {
	return slog.String(FieldConnectionID, id)
}

// EventType returns a slog attribute for a wire event kind.
func EventType(kind string) slog.Attr {
	return slog.String(FieldEventType, kind)
}

// RemoteAddr returns a slog attribute for the client address.
func RemoteAddr(addr string) slog.Attr {
	return slog.String(FieldRemoteAddr, addr)
}

// Connections returns a slog attribute for the live connection count.
func Connections(n int) slog.Attr {
	return slog.Int(FieldConnections, n)
}

// History returns a slog attribute for the ledger length.
func History(n int) slog.Attr {
	return slog.Int(FieldHistory, n)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
