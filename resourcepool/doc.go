// Package resourcepool manages the bridges, transports, sources and subscriptions of a
// named configuration block, routing each subscription to a dispatch queue.
//
// Configuration lives under mama.resource_pool.<pool>:
//
//	bridges              comma separated bridge names (default nats)
//	queues               dispatch queues per bridge (default 4)
//	queue_<i>.regex      topics matching the expression go to queue i
//	thread_name_prefix   queues are named <prefix>_<i>
//	default_transport_sub, default_source_sub
//	options.timeout, options.retries, options.subscription_type,
//	options.requires_initial, options.debug_level
//
// Topics are matched against the expressions as "<source>/<topic>" in configuration
// order; the first match wins and topics that match nothing are spread round robin.
//
//	rt := middleware.NewRuntime(props)
//	pool, err := resourcepool.New("default", rt)
//	sub, err := pool.CreateSubscriptionFromURI("nats://sub/OPRA/IBM?retries=5", callbacks, nil)
//	...
//	pool.DestroySubscription(sub)
//	pool.Destroy()
package resourcepool
