// Package metric provides Prometheus metrics for mamastreams and an HTTP server that
// exposes them.
//
// A MetricsRegistry holds two kinds of metrics:
//
//  1. Core metrics (Metrics): resource pool bookkeeping, message flow counters, field
//     cache sizes and NATS connection health. These are registered at construction.
//  2. Component metrics: registered by components such as queue groups through the
//     MetricsRegistrar interface, keyed by component and metric name so duplicates are
//     rejected with an invalid-class error.
//
// # Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
//	registry.CoreMetrics().RecordMessageReceived("NYSE")
//
// Components accept a *MetricsRegistry through an option and skip metrics entirely when
// none is given.
package metric
