// Package ledger keeps the bounded, ordered history of canvas activity that is
// replayed to newly joined connections.
package ledger

import (
	"errors"
	"sync"

	"canvasrelay/pkg/types"
)

// Default trim policy: once the ledger grows past DefaultCeiling entries it is
// cut back to the most recent DefaultRetain.
const (
	DefaultCeiling = 10000
	DefaultRetain  = 8000
)

var (
	ErrInvalidCeiling = errors.New("history ceiling must be positive")
	ErrInvalidRetain  = errors.New("history retain must be positive and not exceed the ceiling")
)

// Ledger is an append-only log of draw events with a hard reset for clears.
// Mutation is expected from a single goroutine (the session lifecycle loop);
// the lock exists so info and metrics readers can observe it concurrently.
type Ledger struct {
	mu      sync.RWMutex
	events  []types.DrawEvent
	ceiling int
	retain  int
}

// New creates an empty ledger with the given trim policy.
func New(ceiling, retain int) (*Ledger, error) {
	if ceiling <= 0 {
		return nil, ErrInvalidCeiling
	}
	if retain <= 0 || retain > ceiling {
		return nil, ErrInvalidRetain
	}
	return &Ledger{
		events:  make([]types.DrawEvent, 0, 64),
		ceiling: ceiling,
		retain:  retain,
	}, nil
}

// Append adds ev at the end. When the length then exceeds the ceiling the
// ledger is replaced in one step by its last retain entries, and Append
// reports true.
func (l *Ledger) Append(ev types.DrawEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	if len(l.events) <= l.ceiling {
		return false
	}

	// Copy into a fresh array so the evicted prefix can be collected.
	tail := make([]types.DrawEvent, l.retain, l.ceiling+1)
	copy(tail, l.events[len(l.events)-l.retain:])
	l.events = tail
	return true
}

// Reset discards all history and leaves ev as the only entry.
func (l *Ledger) Reset(ev types.DrawEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = make([]types.DrawEvent, 1, 64)
	l.events[0] = ev
}

// Snapshot returns a point-in-time copy of the draw events in ledger order.
// The result is never nil and is not affected by later mutations.
func (l *Ledger) Snapshot() []types.DrawEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.DrawEvent, 0, len(l.events))
	for _, ev := range l.events {
		if ev.IsDraw() {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of stored entries, including a leading clear marker.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// ReplayLen returns len(Snapshot()) without copying.
func (l *Ledger) ReplayLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, ev := range l.events {
		if ev.IsDraw() {
			n++
		}
	}
	return n
}

// Ceiling returns the configured trim threshold.
func (l *Ledger) Ceiling() int { return l.ceiling }

// Retain returns the number of entries kept after a trim.
func (l *Ledger) Retain() int { return l.retain }
