// Package metrics provides Prometheus metrics for a lanchat node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the node.
type Metrics struct {
	// Router metrics
	Published   prometheus.Counter
	Delivered   prometheus.Counter
	Forwarded   prometheus.Counter
	Duplicates  prometheus.Counter
	CacheSize   prometheus.Gauge
	SendFailure *prometheus.CounterVec

	// Membership metrics
	Members         prometheus.Gauge
	DiscoveryEvents *prometheus.CounterVec

	// Transport metrics
	MalformedFrames prometheus.Counter
}

// DefaultMetrics is shared by every node in the process.
var DefaultMetrics = NewMetrics("lanchat")

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages published by this node",
		}),
		Delivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "New messages on subscribed topics handed to the application",
		}),
		Forwarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_forwarded_total",
			Help:      "Per-peer forward attempts of messages received from the network",
		}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_duplicate_total",
			Help:      "Inbound messages dropped by the recent-message cache",
		}),
		CacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recent_cache_entries",
			Help:      "Entries currently held by the recent-message cache",
		}),
		SendFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Frames that could not be handed to a peer, by reason",
		}, []string{"reason"}),

		Members: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Peers currently in the membership view",
		}),
		DiscoveryEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_events_total",
			Help:      "Discovery events by kind and source",
		}, []string{"kind", "source"}),

		MalformedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Inbound frames that failed to decode",
		}),
	}
}

// RecordSendFailure counts a frame that never reached a peer.
func (m *Metrics) RecordSendFailure(reason string) {
	m.SendFailure.WithLabelValues(reason).Inc()
}

// RecordDiscovery counts a discovery event and updates the member gauge.
func (m *Metrics) RecordDiscovery(kind, source string, members int) {
	m.DiscoveryEvents.WithLabelValues(kind, source).Inc()
	m.Members.Set(float64(members))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
