package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound is a decoded client frame. The concrete type is one of DrawStroke,
// ClearCanvas, ServerOnly or Unknown.
type Inbound interface {
	Kind() EventKind
	inbound()
}

// DrawStroke is a client-submitted stroke segment.
type DrawStroke struct {
	Data json.RawMessage
}

// ClearCanvas is a client-submitted request to wipe the canvas for everyone.
type ClearCanvas struct {
	Data json.RawMessage
}

// ServerOnly is a presence kind that only the server may originate.
type ServerOnly struct {
	Type EventKind
}

// Unknown carries any other tag, including a missing one.
type Unknown struct {
	Type EventKind
}

func (DrawStroke) Kind() EventKind   { return KindDraw }
func (ClearCanvas) Kind() EventKind  { return KindClear }
func (s ServerOnly) Kind() EventKind { return s.Type }
func (u Unknown) Kind() EventKind    { return u.Type }

func (DrawStroke) inbound()  {}
func (ClearCanvas) inbound() {}
func (ServerOnly) inbound()  {}
func (Unknown) inbound()     {}

// inboundFrame is the client wire shape. timestamp and userId are accepted but
// never read: the server stamps both.
type inboundFrame struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeInbound parses one client frame into the Inbound union.
// FUNCTIONAL DISCOVERY: Decoding happens once at the socket boundary; everything
// behind it works with the typed variants and an exhaustive switch
func DecodeInbound(raw []byte) (Inbound, error) {
	// null decodes into a struct without error; only objects are frames
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidMessageFormat
	}

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageFormat, err)
	}

	switch {
	case frame.Type == KindDraw:
		return DrawStroke{Data: frame.Data}, nil
	case frame.Type == KindClear:
		return ClearCanvas{Data: frame.Data}, nil
	case IsPresenceKind(frame.Type):
		return ServerOnly{Type: frame.Type}, nil
	default:
		return Unknown{Type: frame.Type}, nil
	}
}

// IsPresenceKind reports whether kind is a server-synthesized presence notice.
func IsPresenceKind(kind EventKind) bool {
	switch kind {
	case KindUserJoin, KindUserLeave:
		return true
	default:
		return false
	}
}
