// Package mamastreams is a market data client toolkit: a typed field cache for building
// and publishing images, and a resource pool that turns subscription URIs and topics into
// live subscriptions over pluggable middleware bridges.
//
// # Packages
//
//   - message: field-oriented messages, field types, descriptors and the wire codec
//   - dictionary: fid and name lookup for messages whose payloads omit names
//   - fieldcache: typed cache cells with modification tracking, the Cache built from
//     them, and the sparse Properties cache
//   - channelfilter: regex routing of topics to queue indices
//   - queue: serialized dispatch queues and queue groups
//   - middleware: bridges, transports, sources and subscriptions, with the loopback and
//     NATS bridges under middleware/loopback and middleware/natsbridge
//   - resourcepool: configuration-driven creation and teardown of all of the above
//   - config: layered properties and YAML configuration
//   - metric, health, errors, pkg/retry: ambient infrastructure
//
// The command in cmd/mamalistencached ties them together: it subscribes through a pool
// and prints each cached update.
//
// # Quick start
//
//	props, _ := config.NewLoader().LoadFile("mama.properties")
//	rt := middleware.NewRuntime(props)
//	pool, err := resourcepool.New("default", rt)
//	if err != nil {
//	    return err
//	}
//	defer pool.Destroy()
//
//	cache := fieldcache.New()
//	_, err = pool.CreateSubscriptionFromURI("nats://md/NYSE/IBM", middleware.Callbacks{
//	    OnMsg: func(sub *middleware.Subscription, msg *message.Msg) {
//	        _ = cache.Apply(msg, nil, nil)
//	    },
//	}, nil)
package mamastreams
