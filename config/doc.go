// Package config provides the flat key/value configuration the resource pool and the
// middleware bridges read.
//
// Keys are dotted paths, for example:
//
//	mama.resource_pool.default.bridges=nats
//	mama.resource_pool.default.queues=4
//	mama.resource_pool.default.queue_0.regex=^IBM
//	mama.nats.transport.sub.url=nats://localhost:4222
//
// Loader merges layers in order. Properties files use Java properties syntax with
// ${} expansion disabled; YAML files are flattened so that
//
//	mama:
//	  resource_pool:
//	    default:
//	      queues: 2
//
// yields "mama.resource_pool.default.queues=2". Overrides supplied with AddOverride
// win over every file:
//
//	loader := config.NewLoader()
//	loader.AddLayer("mama.properties")
//	loader.AddLayer("local.yaml")
//	loader.AddOverride("mama.resource_pool.default.queues=1")
//	props, err := loader.Load()
package config
