// Package metrics exposes prometheus collectors for the canvas relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasrelay_active_connections",
			Help: "Number of currently registered canvas connections",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasrelay_connections_total",
			Help: "Total canvas connection lifecycle transitions",
		},
		[]string{"transition"},
	)

	// Event metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasrelay_events_total",
			Help: "Total inbound canvas events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	InvalidMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasrelay_invalid_messages_total",
			Help: "Total inbound frames that could not be decoded",
		},
	)

	// Broadcast metrics
	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasrelay_broadcast_deliveries_total",
			Help: "Total frames queued to recipients by broadcasts",
		},
	)

	BroadcastSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasrelay_broadcast_skipped_total",
			Help: "Total recipients skipped because they were not ready",
		},
	)

	BroadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasrelay_broadcast_failures_total",
			Help: "Total broadcasts aborted because the event could not be serialized",
		},
	)

	// History metrics
	HistoryLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvasrelay_history_length",
			Help: "Number of entries currently held in the history ledger",
		},
	)

	HistoryTrims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasrelay_history_trims_total",
			Help: "Total batch trims of the history ledger",
		},
	)

	HistoryResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canvasrelay_history_resets_total",
			Help: "Total clear-canvas resets of the history ledger",
		},
	)

	// Audit store metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvasrelay_store_errors_total",
			Help: "Total session audit store failures",
		},
		[]string{"operation"},
	)
)

// Outcome label values for EventsTotal.
const (
	OutcomeAccepted    = "accepted"
	OutcomeIgnored     = "ignored"
	OutcomeRateLimited = "rate_limited"
	OutcomeOrphaned    = "orphaned"
)

// KindUnknown is the type label for every tag outside the known event kinds.
const KindUnknown = "unknown"

// Transition label values for ConnectionsTotal.
const (
	TransitionOpened   = "opened"
	TransitionClosed   = "closed"
	TransitionRejected = "rejected"
)
