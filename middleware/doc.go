// Package middleware is the messaging runtime the resource pool is built on: bridges,
// transports, sources, subscriptions and publishers.
//
// Bridges register a factory by name, in the manner of database/sql drivers, and are
// loaded into an explicit Runtime:
//
//	import _ "github.com/c360/mamastreams/middleware/natsbridge"
//
//	rt := middleware.NewRuntime(props, middleware.WithLogger(logger))
//	bridge, err := rt.LoadBridge("nats")
//	if err := rt.Open(); err != nil { ... }
//	defer rt.Close()
//
//	tport, err := rt.NewTransport("sub", bridge)
//	src := middleware.NewSource("OPRA", tport)
//
// A Subscription delivers every message for "<namespace>.<symbol>" onto a queue so
// that all callbacks for it run on one goroutine:
//
//	sub := middleware.NewSubscription(middleware.DefaultSubscriptionOptions(), logger)
//	err = sub.Setup(q, src, "IBM", middleware.Callbacks{
//	    OnMsg: func(sub *middleware.Subscription, msg *message.Msg) { ... },
//	}, nil)
//
// Nothing is delivered after Destroy returns.
//
// The runtime's health.Monitor tracks every transport under HealthKey(bridge, transport).
// Bridges that know their connection state, such as the NATS bridge, update it as the
// connection drops and recovers.
package middleware
