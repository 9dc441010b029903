package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes reported by the outbox relay.
const (
	DeliveryPublished    = "published"
	DeliveryRetried      = "retried"
	DeliveryDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks device event delivery to Pub/Sub.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	latency    prometheus.Histogram
	lag        prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_deliveries_total",
		Help:      "Outbox rows handled by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "outbox_publish_seconds",
		Help:      "Time spent waiting for Pub/Sub to acknowledge a publish.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
	})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "outbox_oldest_pending_seconds",
		Help:      "Age of the oldest row in the last fetched batch.",
	})
	reg.MustRegister(deliveries, latency, lag)
	return &OutboxMetrics{deliveries: deliveries, latency: latency, lag: lag}
}

func (m *OutboxMetrics) IncDelivery(eventType, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *OutboxMetrics) ObservePublish(elapsed time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.Observe(elapsed.Seconds())
}

// SetLag records how long the oldest fetched row waited; zero clears it.
func (m *OutboxMetrics) SetLag(age time.Duration) {
	if m == nil || m.lag == nil {
		return
	}
	if age < 0 {
		age = 0
	}
	m.lag.Set(age.Seconds())
}
