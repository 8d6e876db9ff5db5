package resourcepool

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/c360/mamastreams/channelfilter"
	"github.com/c360/mamastreams/config"
	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/health"
	"github.com/c360/mamastreams/metric"
	"github.com/c360/mamastreams/middleware"
	"github.com/c360/mamastreams/queue"
)

const (
	// DefaultQueues is the queue group size when mama.resource_pool.<pool>.queues is unset.
	DefaultQueues = 4
	// DefaultBridges is used when mama.resource_pool.<pool>.bridges is unset.
	DefaultBridges = "nats"

	defaultDestroyTimeout = 5 * time.Second
)

type poolBridge struct {
	name   string
	bridge middleware.Bridge
	queues *queue.Group
}

type poolTransport struct {
	bridge    *poolBridge
	transport *middleware.Transport
}

type sourceKey struct {
	transport string
	name      string
}

// Pool creates and owns the transports, sources and subscriptions of one named
// configuration block. Every public method is serialized by one mutex; callbacks must
// not call back into the pool they were created by while it is being destroyed.
type Pool struct {
	mu sync.Mutex

	name     string
	rt       *middleware.Runtime
	props    *config.Properties
	logger   *slog.Logger
	metrics  *metric.Metrics
	registry *metric.MetricsRegistry

	destroyTimeout time.Duration

	bridgeNames   []string
	bridges       map[string]*poolBridge
	transports    map[string]*poolTransport
	sources       map[sourceKey]*middleware.Source
	subscriptions map[*middleware.Subscription]*middleware.Source

	// pendingDestroys holds subscriptions whose queued destroy may not have run yet.
	pendingDestroys map[*middleware.Subscription]struct{}

	filter   *channelfilter.Filter
	defaults middleware.SubscriptionOptions

	opened    bool
	destroyed bool
}

// New builds the pool named name. It loads every configured bridge into rt, creates a
// queue group per loaded bridge and opens rt. A bridge that fails to load is logged and
// skipped.
func New(name string, rt *middleware.Runtime, opts ...Option) (*Pool, error) {
	if name == "" || rt == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "Pool", "New", "pool name and runtime required")
	}

	cfg := poolConfig{logger: slog.Default(), destroyTimeout: defaultDestroyTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pool{
		name:            name,
		rt:              rt,
		props:           rt.Properties(),
		logger:          cfg.logger.With("pool", name),
		registry:        cfg.registry,
		destroyTimeout:  cfg.destroyTimeout,
		bridges:         make(map[string]*poolBridge),
		transports:      make(map[string]*poolTransport),
		sources:         make(map[sourceKey]*middleware.Source),
		subscriptions:   make(map[*middleware.Subscription]*middleware.Source),
		pendingDestroys: make(map[*middleware.Subscription]struct{}),
		filter:          channelfilter.New(),
		defaults:        middleware.DefaultSubscriptionOptions(),
	}
	switch {
	case cfg.registry != nil:
		p.metrics = cfg.registry.CoreMetrics()
	default:
		p.metrics = rt.Metrics()
	}

	for _, b := range strings.Split(p.props.GetDefault(p.key("bridges"), DefaultBridges), ",") {
		if b = strings.TrimSpace(b); b != "" {
			p.bridgeNames = append(p.bridgeNames, b)
		}
	}
	if len(p.bridgeNames) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pool", "New",
			fmt.Sprintf("no bridges defined in %s", p.key("bridges")))
	}

	numQueues := p.props.GetInt(p.key("queues"), DefaultQueues)
	if numQueues < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Pool", "New",
			fmt.Sprintf("%s must be at least 1", p.key("queues")))
	}

	p.filter.SetDefaultChannel(channelfilter.NoChannel)
	for i := 0; i < numQueues; i++ {
		key := p.key(fmt.Sprintf("queue_%d.regex", i))
		if expr, ok := p.props.Get(key); ok {
			if err := p.filter.AddRegex(expr, i); err != nil {
				return nil, errors.WrapInvalid(err, "Pool", "New", fmt.Sprintf("compile %s", key))
			}
		}
	}

	for _, bridgeName := range p.bridgeNames {
		p.logger.Debug("Loading bridge", "bridge", bridgeName)
		bridge, err := rt.LoadBridge(bridgeName)
		if err != nil {
			p.logger.Warn("Bridge failed to load and will not be available", "bridge", bridgeName, "error", err)
			continue
		}
		pb := &poolBridge{name: bridgeName, bridge: bridge, queues: p.newQueueGroup(bridgeName, numQueues, cfg)}
		if err := pb.queues.StartDispatch(); err != nil {
			p.teardownQueues()
			return nil, errors.Wrap(err, "Pool", "New", fmt.Sprintf("start queues for %s", bridgeName))
		}
		p.bridges[bridgeName] = pb
	}

	if err := rt.Open(); err != nil {
		p.teardownQueues()
		return nil, errors.Wrap(err, "Pool", "New", "open runtime")
	}
	p.opened = true

	applyOptions(p.logger, &p.defaults, p.props.WithPrefix(p.key("options.")))

	if p.metrics != nil {
		p.metrics.BridgesLoaded.WithLabelValues(name).Set(float64(len(p.bridges)))
	}
	p.logger.Info("Resource pool created", "bridges", len(p.bridges), "queues", numQueues)
	return p, nil
}

func (p *Pool) key(suffix string) string {
	return fmt.Sprintf("mama.resource_pool.%s.%s", p.name, suffix)
}

func (p *Pool) newQueueGroup(bridgeName string, n int, cfg poolConfig) *queue.Group {
	prefix := p.props.GetDefault(p.key("thread_name_prefix"), p.name+"_"+bridgeName)
	qopts := []queue.Option{queue.WithLogger(p.logger)}
	if cfg.queueSize > 0 {
		qopts = append(qopts, queue.WithSize(cfg.queueSize))
	}
	gopts := []queue.GroupOption{queue.WithNamePrefix(prefix), queue.WithQueueOptions(qopts...)}
	if p.registry != nil {
		gopts = append(gopts, queue.WithMetricsRegistry(p.registry, fmt.Sprintf("pool_%s_%s", p.name, bridgeName)))
	}
	return queue.NewGroup(n, gopts...)
}

func (p *Pool) teardownQueues() {
	for _, pb := range p.bridges {
		pb.queues.StopDispatch()
		_ = pb.queues.DestroyWait(p.destroyTimeout)
	}
	p.bridges = make(map[string]*poolBridge)
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Options returns a copy of the pool's default subscription options.
func (p *Pool) Options() middleware.SubscriptionOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaults
}

// Transport returns a transport the pool has created.
func (p *Pool) Transport(name string) (*middleware.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt, ok := p.transports[name]
	if !ok {
		return nil, false
	}
	return pt.transport, true
}

// Source returns a source the pool has created on the named transport.
func (p *Pool) Source(transport, name string) (*middleware.Source, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[sourceKey{transport: transport, name: name}]
	return src, ok
}

// Subscriptions returns the number of tracked subscriptions.
func (p *Pool) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscriptions)
}

// Health rolls up the status of every transport the pool has created. A destroyed pool
// is unhealthy.
func (p *Pool) Health() health.Status {
	component := "resource_pool." + p.name
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return health.NewUnhealthy(component, "pool destroyed")
	}
	subs := make([]health.Status, 0, len(p.transports))
	for _, pt := range p.transports {
		subs = append(subs, pt.transport.Health())
	}
	return health.Aggregate(component, subs)
}

// CreateTransportFromName returns the named transport, creating it on the bridge that
// has mama.<bridge>.transport.<name>.* configuration.
func (p *Pool) CreateTransportFromName(name string) (*middleware.Transport, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "Pool", "CreateTransportFromName", "transport name required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLive("CreateTransportFromName"); err != nil {
		return nil, err
	}
	pt, err := p.findOrCreateTransport(name)
	if err != nil {
		return nil, err
	}
	return pt.transport, nil
}

// CreateSubscriptionFromURI subscribes to bridge://transport/[source/]topic[?options].
// Query options override the pool defaults for this subscription only.
func (p *Pool) CreateSubscriptionFromURI(uri string, cb middleware.Callbacks, closure any) (*middleware.Subscription, error) {
	const method = "CreateSubscriptionFromURI"
	if uri == "" || cb.OnMsg == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "Pool", method, "uri and OnMsg callback required")
	}
	// url.Parse lowercases the scheme; bridge names are matched as written.
	bridgeName, _, found := strings.Cut(uri, "://")
	if !found || bridgeName == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidArg, "Pool", method, fmt.Sprintf("no bridge scheme in %q", uri))
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Pool", method, fmt.Sprintf("parse %q", uri))
	}
	transportName := u.Hostname()
	if transportName == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidArg, "Pool", method, fmt.Sprintf("no transport host in %q", uri))
	}
	segments := strings.Split(u.Path, "/")
	if len(segments) < 2 || segments[len(segments)-1] == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidArg, "Pool", method, fmt.Sprintf("no topic path in %q", uri))
	}
	var sourceName, topic string
	if len(segments) == 2 {
		topic = segments[1]
	} else {
		sourceName = segments[1]
		topic = strings.Join(segments[2:], "/")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLive(method); err != nil {
		return nil, err
	}

	pb, ok := p.bridges[bridgeName]
	if !ok {
		return nil, errors.WrapFatal(errors.ErrNoBridge, "Pool", method,
			fmt.Sprintf("bridge %q not loaded for pool %s", bridgeName, p.name))
	}
	pt, ok := p.transports[transportName]
	switch {
	case !ok:
		if pt, err = p.createTransport(transportName, pb); err != nil {
			return nil, err
		}
	case pt.bridge != pb:
		return nil, errors.WrapInvalid(errors.ErrInvalidArg, "Pool", method,
			fmt.Sprintf("transport %q already exists on bridge %q", transportName, pt.bridge.name))
	}

	opts := p.defaults
	applyOptions(p.logger, &opts, parseQuery(u.RawQuery))

	return p.createSubscription(pt, sourceName, topic, cb, closure, opts)
}

// CreateSubscriptionFromComponents subscribes to topic under sourceName on the named
// transport using the pool defaults.
func (p *Pool) CreateSubscriptionFromComponents(transportName, sourceName, topic string, cb middleware.Callbacks, closure any) (*middleware.Subscription, error) {
	const method = "CreateSubscriptionFromComponents"
	if transportName == "" || sourceName == "" || topic == "" || cb.OnMsg == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "Pool", method,
			"transport, source, topic and OnMsg callback required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLive(method); err != nil {
		return nil, err
	}
	return p.createFromComponents(transportName, sourceName, topic, cb, closure)
}

// CreateSubscriptionFromTopicWithSource subscribes on the pool's default_transport_sub.
func (p *Pool) CreateSubscriptionFromTopicWithSource(sourceName, topic string, cb middleware.Callbacks, closure any) (*middleware.Subscription, error) {
	const method = "CreateSubscriptionFromTopicWithSource"
	if sourceName == "" || topic == "" || cb.OnMsg == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "Pool", method, "source, topic and OnMsg callback required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLive(method); err != nil {
		return nil, err
	}

	key := p.key("default_transport_sub")
	transportName, ok := p.props.Get(key)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pool", method,
			fmt.Sprintf("cannot subscribe to %s.%s: %s is not set", sourceName, topic, key))
	}
	return p.createFromComponents(transportName, sourceName, topic, cb, closure)
}

// CreateSubscriptionFromTopic subscribes under the pool's default_source_sub. The
// transport is the source's mama.source.<source>.transport_sub, falling back to the
// pool's default_transport_sub.
func (p *Pool) CreateSubscriptionFromTopic(topic string, cb middleware.Callbacks, closure any) (*middleware.Subscription, error) {
	const method = "CreateSubscriptionFromTopic"
	if topic == "" || cb.OnMsg == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "Pool", method, "topic and OnMsg callback required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLive(method); err != nil {
		return nil, err
	}

	defaultSourceKey := p.key("default_source_sub")
	sourceName, ok := p.props.Get(defaultSourceKey)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pool", method,
			fmt.Sprintf("cannot subscribe to %s: %s is not set", topic, defaultSourceKey))
	}

	poolKey := p.key("default_transport_sub")
	srcKey := fmt.Sprintf("mama.source.%s.transport_sub", sourceName)
	transportName, ok := p.props.Get(srcKey)
	if !ok {
		if transportName, ok = p.props.Get(poolKey); !ok {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pool", method,
				fmt.Sprintf("cannot subscribe to %s: neither %s nor %s is set", topic, srcKey, poolKey))
		}
	}
	return p.createFromComponents(transportName, sourceName, topic, cb, closure)
}

// DestroySubscription stops tracking sub and queues its destruction on its own queue.
// It returns before OnDestroy runs.
func (p *Pool) DestroySubscription(sub *middleware.Subscription) error {
	const method = "DestroySubscription"
	if sub == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Pool", method, "nil subscription")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subscriptions[sub]; !ok {
		return errors.WrapInvalid(errors.ErrNotFound, "Pool", method,
			fmt.Sprintf("subscription %s is not tracked by pool %s", sub.ID(), p.name))
	}
	delete(p.subscriptions, sub)

	destroy := func() {
		if err := sub.Destroy(); err != nil {
			p.logger.Warn("Subscription destroy failed", "subscription", sub.ID().String(), "error", err)
		}
	}
	if err := sub.Queue().Enqueue(destroy); err != nil {
		p.logger.Warn("Queue rejected subscription destroy; destroying inline",
			"subscription", sub.ID().String(), "error", err)
		destroy()
	} else {
		p.pendingDestroys[sub] = struct{}{}
	}
	for pending := range p.pendingDestroys {
		if !pending.IsActive() {
			delete(p.pendingDestroys, pending)
		}
	}

	if p.metrics != nil {
		p.metrics.SubscriptionsDestroyed.WithLabelValues(p.name).Inc()
		p.metrics.SubscriptionsActive.WithLabelValues(p.name).Set(float64(len(p.subscriptions)))
	}
	return nil
}

// Destroy tears the pool down: it stops dispatch on every queue, destroys the
// subscriptions, the sources, the queues and the transports, then closes the runtime.
// No callback runs after Destroy returns. Later calls are no-ops.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return nil
	}
	p.destroyed = true

	var firstErr error
	keep := func(err error) {
		if err == nil {
			return
		}
		p.logger.Warn("Error during resource pool destroy", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, pb := range p.bridges {
		pb.queues.StopDispatch()
	}

	for sub := range p.subscriptions {
		keep(sub.Destroy())
	}
	p.subscriptions = make(map[*middleware.Subscription]*middleware.Source)

	// Dispatch is stopped, so a queued destroy that has not run never will.
	for sub := range p.pendingDestroys {
		keep(sub.Destroy())
	}
	p.pendingDestroys = make(map[*middleware.Subscription]struct{})

	for _, src := range p.sources {
		src.Destroy()
	}
	p.sources = make(map[sourceKey]*middleware.Source)

	for _, pb := range p.bridges {
		keep(pb.queues.DestroyWait(p.destroyTimeout))
	}

	for _, pt := range p.transports {
		keep(pt.transport.Destroy())
	}
	p.transports = make(map[string]*poolTransport)
	p.bridges = make(map[string]*poolBridge)

	if p.opened {
		p.opened = false
		keep(p.rt.Close())
	}

	if p.metrics != nil {
		p.metrics.SubscriptionsActive.WithLabelValues(p.name).Set(0)
		p.metrics.TransportsActive.WithLabelValues(p.name).Set(0)
		p.metrics.BridgesLoaded.WithLabelValues(p.name).Set(0)
	}
	p.logger.Info("Resource pool destroyed")
	return firstErr
}

func (p *Pool) checkLive(method string) error {
	if p.destroyed {
		return errors.WrapFatal(errors.ErrAlreadyDestroyed, "Pool", method, fmt.Sprintf("pool %s destroyed", p.name))
	}
	return nil
}

func (p *Pool) createFromComponents(transportName, sourceName, topic string, cb middleware.Callbacks, closure any) (*middleware.Subscription, error) {
	pt, err := p.findOrCreateTransport(transportName)
	if err != nil {
		return nil, err
	}
	return p.createSubscription(pt, sourceName, topic, cb, closure, p.defaults)
}

func (p *Pool) findOrCreateTransport(name string) (*poolTransport, error) {
	if pt, ok := p.transports[name]; ok {
		return pt, nil
	}
	bridgeName, ok := p.bridgeForTransport(name)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pool", "findOrCreateTransport",
			fmt.Sprintf("no bridge configured for transport %q (expected mama.<bridge>.transport.%s.*)", name, name))
	}
	pb, ok := p.bridges[bridgeName]
	if !ok {
		return nil, errors.WrapFatal(errors.ErrNoBridge, "Pool", "findOrCreateTransport",
			fmt.Sprintf("bridge %q for transport %q is not loaded", bridgeName, name))
	}
	return p.createTransport(name, pb)
}

// bridgeForTransport returns the first configured bridge with settings for the transport.
func (p *Pool) bridgeForTransport(name string) (string, bool) {
	for _, b := range p.bridgeNames {
		if p.props.HasPrefix(fmt.Sprintf("mama.%s.transport.%s.", b, name)) {
			return b, true
		}
	}
	return "", false
}

func (p *Pool) createTransport(name string, pb *poolBridge) (*poolTransport, error) {
	t, err := p.rt.NewTransport(name, pb.bridge)
	if err != nil {
		return nil, err
	}
	pt := &poolTransport{bridge: pb, transport: t}
	p.transports[name] = pt
	if p.metrics != nil {
		p.metrics.TransportsActive.WithLabelValues(p.name).Set(float64(len(p.transports)))
	}
	p.logger.Debug("Created transport", "transport", name, "bridge", pb.name)
	return pt, nil
}

func (p *Pool) findOrCreateSource(name string, pt *poolTransport) *middleware.Source {
	key := sourceKey{transport: pt.transport.Name(), name: name}
	if src, ok := p.sources[key]; ok {
		return src
	}
	src := middleware.NewSource(name, pt.transport)
	p.sources[key] = src
	return src
}

func (p *Pool) createSubscription(pt *poolTransport, sourceName, topic string, cb middleware.Callbacks, closure any, opts middleware.SubscriptionOptions) (*middleware.Subscription, error) {
	fqTopic := topic
	if sourceName != "" {
		fqTopic = sourceName + "/" + topic
	}

	var q *queue.Queue
	if ch := p.filter.Channel(fqTopic); ch == channelfilter.NoChannel {
		q = pt.bridge.queues.Next()
	} else {
		var err error
		if q, err = pt.bridge.queues.Queue(ch); err != nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Pool", "createSubscription",
				fmt.Sprintf("%s routes to queue %d but bridge %s has %d queues", fqTopic, ch, pt.bridge.name, pt.bridge.queues.Len()))
		}
	}

	src := p.findOrCreateSource(sourceName, pt)
	sub := middleware.NewSubscription(opts, p.logger)
	if err := sub.Setup(q, src, topic, cb, closure); err != nil {
		return nil, err
	}
	p.subscriptions[sub] = src

	if p.metrics != nil {
		p.metrics.SubscriptionsCreated.WithLabelValues(p.name).Inc()
		p.metrics.SubscriptionsActive.WithLabelValues(p.name).Set(float64(len(p.subscriptions)))
	}
	p.logger.Debug("Created subscription", "source", sourceName, "topic", topic, "queue", q.Name())
	return sub, nil
}
