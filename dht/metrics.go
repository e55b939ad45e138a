package dht

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opd-ai/discv/transport"
)

const metricsNamespace = "discv"

// Metrics exposes table and traffic counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	TableSize       prometheus.Gauge
	Evictions       prometheus.Counter
	LookupDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_received_total",
			Help:      "Verified packets received, by type.",
		}, []string{"type"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_dropped_total",
			Help:      "Datagrams discarded, by reason.",
		}, []string{"reason"}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packets_sent_total",
			Help:      "Packets sent, by type.",
		}, []string{"type"}),
		TableSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "table_entries",
			Help:      "Entries currently held by the node table.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "table_evictions_total",
			Help:      "Active entries evicted after an unanswered ping.",
		}),
		LookupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "lookup_duration_seconds",
			Help:      "Duration of iterative lookups.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
}

// ObserveReceived counts a verified inbound packet.
func (m *Metrics) ObserveReceived(t transport.PacketType) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(t.String()).Inc()
}

// ObserveDropped counts a discarded datagram.
func (m *Metrics) ObserveDropped(err error) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(transport.DropReason(err)).Inc()
}

func (m *Metrics) observeSent(t transport.PacketType) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) setTableSize(n int) {
	if m == nil {
		return
	}
	m.TableSize.Set(float64(n))
}

func (m *Metrics) observeEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

func (m *Metrics) observeLookup(d time.Duration) {
	if m == nil {
		return
	}
	m.LookupDuration.Observe(d.Seconds())
}
