// Package health tracks the health of transports and rolls it up into pool-level status.
//
// A Status is one of three states. Healthy means the component is working normally,
// Degraded means it is working with reduced capability (for example a connection that is
// reconnecting), and Unhealthy means it has stopped working.
//
// A Monitor keeps the latest Status per named component and is safe for concurrent use.
// Bridges update it from their connection callbacks; readers aggregate a subset of it:
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("nats/md", "connected")
//	monitor.UpdateDegraded("nats/md", "reconnecting")
//
//	status := monitor.AggregateHealth("pool")
//	if status.IsUnhealthy() {
//	    ...
//	}
//
// Messages built from errors with FromError are scrubbed of URLs, paths, addresses and
// credentials before they are stored, since statuses are served over HTTP.
package health
