// Package broadcast fans one canvas event out to every live connection except
// an optionally excluded one.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"canvasrelay/internal/logging"
	"canvasrelay/internal/metrics"
	"canvasrelay/internal/websocket"
	"canvasrelay/pkg/interfaces"
)

// ErrSerialization means the event could not be encoded and nothing was sent.
var ErrSerialization = errors.New("broadcast: event could not be serialized")

// Recipients enumerates live connections. *websocket.Registry satisfies it.
type Recipients interface {
	ForEachExcept(excludeID string, fn func(conn interfaces.Connection))
}

// Result counts what happened to one broadcast.
type Result struct {
	Delivered int // frames queued to a recipient
	Skipped   int // recipients that were closed or not keeping up
}

// Broadcaster delivers events to Recipients.
// ARCHITECTURAL DISCOVERY: The broadcaster never deregisters anyone; a skipped
// recipient is cleaned up by its own read pump through the leave path
type Broadcaster struct {
	recipients Recipients
	logger     *slog.Logger
}

// New creates a broadcaster over recipients.
func New(recipients Recipients) *Broadcaster {
	return &Broadcaster{
		recipients: recipients,
		logger:     slog.Default().With(logging.Component("broadcast")),
	}
}

// Broadcast serializes event once and sends it to every recipient whose id is
// not excludeID. An empty excludeID reaches everyone.
func (b *Broadcaster) Broadcast(event any, excludeID string) (Result, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		// Malformed event, not a transient condition: abort the whole batch
		metrics.BroadcastFailures.Inc()
		b.logger.Error("broadcast aborted: event serialization failed", logging.Error(err))
		return Result{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	var result Result
	b.recipients.ForEachExcept(excludeID, func(conn interfaces.Connection) {
		if err := conn.Send(payload); err != nil {
			result.Skipped++
			if !websocket.IsNotReady(err) {
				b.logger.Warn("broadcast send failed", logging.ConnectionID(conn.ID()), logging.Error(err))
			}
			return
		}
		result.Delivered++
	})

	metrics.BroadcastDeliveries.Add(float64(result.Delivered))
	metrics.BroadcastSkipped.Add(float64(result.Skipped))
	return result, nil
}

// SendTo serializes event and queues it for a single connection. It is used for
// frames addressed to one peer, such as the history replay.
func SendTo(conn interfaces.Connection, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return conn.Send(payload)
}
