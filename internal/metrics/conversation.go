package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		conversationsStarted,
		conversationsFinished,
		conversationsActive,
		backendCallSeconds,
		deliveriesTotal,
	)
}

var (
	conversationsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_started_total",
			Help:      "Login conversations opened with /gensession.",
		},
	)

	conversationsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_finished_total",
			Help:      "Login conversations torn down, by outcome.",
		},
		[]string{"outcome"},
	)

	conversationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Conversations currently held in the registry.",
		},
	)

	backendCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_seconds",
			Help:      "Latency of MTProto backend calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"op", "result"},
	)

	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Session file deliveries, by result.",
		},
		[]string{"result"},
	)
)

// ConversationStarted counts a new conversation and bumps the active gauge.
func ConversationStarted() {
	conversationsStarted.Inc()
	conversationsActive.Inc()
}

// ConversationFinished records the terminal outcome and drops the active gauge.
func ConversationFinished(outcome string) {
	conversationsFinished.WithLabelValues(norm(outcome)).Inc()
	conversationsActive.Dec()
}

// ObserveBackendCall records one protocol call.
func ObserveBackendCall(op, result string, took time.Duration) {
	backendCallSeconds.WithLabelValues(norm(op), norm(result)).Observe(took.Seconds())
}

// IncDelivery counts a delivery attempt result.
func IncDelivery(result string) {
	deliveriesTotal.WithLabelValues(norm(result)).Inc()
}
