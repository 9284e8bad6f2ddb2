// Package metrics exposes Prometheus instrumentation for the FinTS client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fints"

type Metrics struct {
	roundTrips       *prometheus.CounterVec
	roundTripSeconds prometheus.Histogram
	messageBytes     *prometheus.CounterVec
	orders           *prometheus.CounterVec
	continuations    prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil registerer
// leaves the collectors unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		roundTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_trips_total",
			Help:      "Messages exchanged with the bank, by first business segment",
		}, []string{"segment"}),
		roundTripSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_seconds",
			Help:      "Duration of a single message exchange",
			Buckets:   prometheus.DefBuckets,
		}),
		messageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_bytes_total",
			Help:      "Raw protocol bytes sent and received",
		}, []string{"direction"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Business orders by transaction type and outcome",
		}, []string{"type", "outcome"}),
		continuations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "continuations_total",
			Help:      "Follow-up requests caused by a continuation point (3040)",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.roundTrips, m.roundTripSeconds, m.messageBytes, m.orders, m.continuations)
	}
	return m
}

func (m *Metrics) RoundTrip(segment string, sent, received int, took time.Duration) {
	if m == nil {
		return
	}
	m.roundTrips.WithLabelValues(segment).Inc()
	m.roundTripSeconds.Observe(took.Seconds())
	m.messageBytes.WithLabelValues("sent").Add(float64(sent))
	m.messageBytes.WithLabelValues("received").Add(float64(received))
}

func (m *Metrics) Order(typ, outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) Continuation() {
	if m == nil {
		return
	}
	m.continuations.Inc()
}
