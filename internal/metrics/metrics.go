// Package metrics exposes Prometheus counters for the agent console feeds and session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for the console
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// =============================================================================
// FEEDS
// =============================================================================

// FeedMessagesTotal counts every frame read from a feed, valid or not.
var FeedMessagesTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "feed_messages_total",
	Help:      "Messages received per real-time feed",
}, []string{"feed"})

// FeedMalformedTotal counts frames dropped because they failed to decode or validate.
var FeedMalformedTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "feed_malformed_total",
	Help:      "Messages dropped as malformed per real-time feed",
}, []string{"feed"})

// FeedReconnectsTotal counts scheduled reconnect attempts.
var FeedReconnectsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "feed_reconnects_total",
	Help:      "Reconnect attempts per real-time feed",
}, []string{"feed"})

// =============================================================================
// SESSION
// =============================================================================

var TransitionsRejectedTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "transitions_rejected_total",
	Help:      "Status changes rejected by the transition table",
})

var StaleActionsTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "stale_actions_total",
	Help:      "Feed actions dropped because they targeted a call no longer selected",
})

var TranscriptLinesTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "transcript_lines_total",
	Help:      "Transcript lines appended to the selected call",
})

// QueueSize is the length of the latest queue snapshot.
var QueueSize = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "console",
	Name:      "queue_size",
	Help:      "Number of calls in the latest queue snapshot",
})

// ExportsTotal counts transcript exports by result (ok, error).
var ExportsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "exports_total",
	Help:      "Transcript workbook exports by result",
}, []string{"result"})
