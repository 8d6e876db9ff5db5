package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mamastreams"

// Metrics are the process-wide metrics shared by the resource pool, the bridges and the
// listener.
type Metrics struct {
	// Resource pool
	BridgesLoaded          *prometheus.GaugeVec
	TransportsActive       *prometheus.GaugeVec
	SubscriptionsActive    *prometheus.GaugeVec
	SubscriptionsCreated   *prometheus.CounterVec
	SubscriptionsDestroyed *prometheus.CounterVec

	// Message flow
	MessagesReceived  *prometheus.CounterVec
	MessagesPublished *prometheus.CounterVec
	CachedFields      *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec

	// NATS bridge
	NATSConnected  *prometheus.GaugeVec
	NATSReconnects *prometheus.CounterVec
}

// NewMetrics creates the core metrics. They are not registered until handed to a
// MetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		BridgesLoaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "bridges_loaded",
				Help:      "Number of middleware bridges loaded by a resource pool",
			},
			[]string{"pool"},
		),

		TransportsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "transports_active",
				Help:      "Number of transports held by a resource pool",
			},
			[]string{"pool"},
		),

		SubscriptionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "subscriptions_active",
				Help:      "Number of subscriptions tracked by a resource pool",
			},
			[]string{"pool"},
		),

		SubscriptionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "subscriptions_created_total",
				Help:      "Total subscriptions created by a resource pool",
			},
			[]string{"pool"},
		),

		SubscriptionsDestroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "subscriptions_destroyed_total",
				Help:      "Total subscriptions destroyed through a resource pool",
			},
			[]string{"pool"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total messages delivered to subscribers",
			},
			[]string{"source"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total messages published",
			},
			[]string{"source"},
		),

		CachedFields: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "fields",
				Help:      "Number of fields held by a subscription's field cache",
			},
			[]string{"topic"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total errors by component and class",
			},
			[]string{"component", "class"},
		),

		NATSConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status per transport (0=disconnected, 1=connected)",
			},
			[]string{"transport"},
		),

		NATSReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total NATS reconnections per transport",
			},
			[]string{"transport"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BridgesLoaded,
		m.TransportsActive,
		m.SubscriptionsActive,
		m.SubscriptionsCreated,
		m.SubscriptionsDestroyed,
		m.MessagesReceived,
		m.MessagesPublished,
		m.CachedFields,
		m.ErrorsTotal,
		m.NATSConnected,
		m.NATSReconnects,
	}
}

// RecordMessageReceived increments the received counter for a source.
func (m *Metrics) RecordMessageReceived(source string) {
	m.MessagesReceived.WithLabelValues(source).Inc()
}

// RecordMessagePublished increments the published counter for a source.
func (m *Metrics) RecordMessagePublished(source string) {
	m.MessagesPublished.WithLabelValues(source).Inc()
}

// RecordCachedFields sets the cache size for a topic.
func (m *Metrics) RecordCachedFields(topic string, n int) {
	m.CachedFields.WithLabelValues(topic).Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus updates a transport's connection gauge.
func (m *Metrics) RecordNATSStatus(transport string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.WithLabelValues(transport).Set(value)
}

// RecordNATSReconnect increments a transport's reconnect counter.
func (m *Metrics) RecordNATSReconnect(transport string) {
	m.NATSReconnects.WithLabelValues(transport).Inc()
}
