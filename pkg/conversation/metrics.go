package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_events_processed_total",
		Help: "Events taken off session queues, by trigger or control name",
	}, []string{"event"})

	metricEventsDebounced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversation_events_debounced_total",
		Help: "Trigger events suppressed by the debounce window",
	})

	metricStaleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_stale_events_total",
		Help: "Timer, speech and command completions ignored because their interaction is no longer current",
	}, []string{"kind"})

	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_transitions_total",
		Help: "Interaction transitions, by trigger",
	}, []string{"trigger"})

	metricCommandFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_command_failures_total",
		Help: "External command failures",
	}, []string{"command"})

	metricDispatchPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversation_dispatch_panics_total",
		Help: "Panics recovered at the event dispatch boundary",
	})

	metricQueueDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversation_queue_depth",
		Help:    "Session queue depth observed at dequeue",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_active_sessions",
		Help: "Sessions with a running dispatch loop",
	})
)
