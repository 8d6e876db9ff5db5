package resourcepool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/mamastreams/config"
	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/metric"
	"github.com/c360/mamastreams/middleware"
	"github.com/c360/mamastreams/middleware/loopback"
)

// mixedCaseBridge is the loopback bridge registered under a name url.Parse would lowercase.
const mixedCaseBridge = "loopBackX"

func init() {
	middleware.Register(mixedCaseBridge, loopback.New)
}

type PoolSuite struct {
	suite.Suite
	props *config.Properties
	pool  *Pool
}

func TestPoolSuite(t *testing.T) {
	suite.Run(t, new(PoolSuite))
}

func (s *PoolSuite) SetupTest() {
	s.props = config.NewProperties(map[string]string{
		"mama.resource_pool.test.bridges":                  loopback.Name,
		"mama.resource_pool.test.queues":                   "3",
		"mama.resource_pool.test.thread_name_prefix":       "mrp",
		"mama.resource_pool.test.queue_2.regex":            "^SRC/B",
		"mama.resource_pool.test.queue_0.regex":            "^SRC/A",
		"mama.resource_pool.test.options.requires_initial": "false",
		"mama.resource_pool.test.default_transport_sub":    "sub",
		"mama.resource_pool.test.default_source_sub":       "SRC",
		"mama.loopback.transport.sub.enabled":              "true",
		"mama.loopback.transport.alt.enabled":              "true",
		"mama.source.OTHER.transport_sub":                  "alt",
	})
}

func (s *PoolSuite) TearDownTest() {
	if s.pool != nil {
		s.NoError(s.pool.Destroy())
		s.pool = nil
	}
}

func (s *PoolSuite) newPool(opts ...Option) *Pool {
	pool, err := New("test", middleware.NewRuntime(s.props), opts...)
	s.Require().NoError(err)
	s.pool = pool
	return pool
}

func onMsg(counter *int64) middleware.Callbacks {
	return middleware.Callbacks{
		OnMsg: func(*middleware.Subscription, *message.Msg) { atomic.AddInt64(counter, 1) },
	}
}

func (s *PoolSuite) TestCreateSubscriptionFromURI_RoundTrip() {
	pool := s.newPool()
	var n int64

	sub, err := pool.CreateSubscriptionFromURI("loopback://transportY/sourceZ/topic.A", onMsg(&n), nil)
	s.Require().NoError(err)

	s.Equal("sourceZ", sub.Source().SymbolNamespace())
	s.Equal("topic.A", sub.Symbol())
	s.Equal("transportY", sub.Transport().Name())
	s.Equal(1, pool.Subscriptions())

	tport, ok := pool.Transport("transportY")
	s.Require().True(ok)
	s.Same(tport, sub.Transport())
	src, ok := pool.Source("transportY", "sourceZ")
	s.Require().True(ok)
	s.Same(src, sub.Source())
}

func (s *PoolSuite) TestCreateSubscriptionFromURI_TopicOnly() {
	pool := s.newPool()
	var n int64

	sub, err := pool.CreateSubscriptionFromURI("loopback://sub/IBM", onMsg(&n), nil)
	s.Require().NoError(err)
	s.Equal("", sub.Source().SymbolNamespace())
	s.Equal("IBM", sub.Subject())
}

func (s *PoolSuite) TestCreateSubscriptionFromURI_QueryDoesNotLeak() {
	pool := s.newPool()
	var n int64

	sub, err := pool.CreateSubscriptionFromURI(
		"loopback://sub/SRC/IBM?retries=7&subscription_type=BOOK&timeout=0.5", onMsg(&n), nil)
	s.Require().NoError(err)

	s.Equal(7, sub.Options().Retries)
	s.Equal(middleware.SubscriptionBook, sub.Options().Type)
	s.Equal(500*time.Millisecond, sub.Options().Timeout)

	defaults := pool.Options()
	s.Equal(2, defaults.Retries)
	s.Equal(middleware.SubscriptionNormal, defaults.Type)
	s.Equal(30*time.Second, defaults.Timeout)

	next, err := pool.CreateSubscriptionFromURI("loopback://sub/SRC/MSFT", onMsg(&n), nil)
	s.Require().NoError(err)
	s.Equal(2, next.Options().Retries)
}

func (s *PoolSuite) TestCreateSubscriptionFromURI_MixedCaseBridge() {
	props := config.NewProperties(map[string]string{
		"mama.resource_pool.mixed.bridges":                  mixedCaseBridge,
		"mama.resource_pool.mixed.queues":                   "1",
		"mama.resource_pool.mixed.options.requires_initial": "false",
	})
	pool, err := New("mixed", middleware.NewRuntime(props))
	s.Require().NoError(err)
	defer func() { s.NoError(pool.Destroy()) }()

	var n int64
	sub, err := pool.CreateSubscriptionFromURI(mixedCaseBridge+"://transportY/sourceZ/topic.A", onMsg(&n), nil)
	s.Require().NoError(err)
	s.Equal("transportY", sub.Transport().Name())
	s.Equal("sourceZ", sub.Source().SymbolNamespace())
	s.Equal("topic.A", sub.Symbol())

	_, err = pool.CreateSubscriptionFromURI("loopbackx://transportY/sourceZ/topic.B", onMsg(&n), nil)
	s.ErrorIs(err, errors.ErrNoBridge, "bridge names are case sensitive")
}

func (s *PoolSuite) TestCreateSubscriptionFromURI_Errors() {
	pool := s.newPool()
	var n int64

	tests := []struct {
		name   string
		uri    string
		cb     middleware.Callbacks
		target error
	}{
		{"empty", "", onMsg(&n), errors.ErrNullArg},
		{"no callback", "loopback://sub/SRC/IBM", middleware.Callbacks{}, errors.ErrNullArg},
		{"no scheme", "sub/SRC/IBM", onMsg(&n), errors.ErrInvalidArg},
		{"no host", "loopback:///SRC/IBM", onMsg(&n), errors.ErrInvalidArg},
		{"no path", "loopback://sub", onMsg(&n), errors.ErrInvalidArg},
		{"empty topic", "loopback://sub/", onMsg(&n), errors.ErrInvalidArg},
		{"bridge not loaded", "nats://sub/SRC/IBM", onMsg(&n), errors.ErrNoBridge},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := pool.CreateSubscriptionFromURI(tt.uri, tt.cb, nil)
			s.Require().Error(err)
			s.ErrorIs(err, tt.target)
		})
	}
	s.Equal(0, pool.Subscriptions())
}

func (s *PoolSuite) TestQueueRouting() {
	pool := s.newPool()
	var n int64

	banana, err := pool.CreateSubscriptionFromComponents("sub", "SRC", "BANANA", onMsg(&n), nil)
	s.Require().NoError(err)
	s.Equal("mrp_2", banana.Queue().Name())

	apple, err := pool.CreateSubscriptionFromComponents("sub", "SRC", "APPLE", onMsg(&n), nil)
	s.Require().NoError(err)
	s.Equal("mrp_0", apple.Queue().Name())

	// Unmatched topics are spread round robin.
	first, err := pool.CreateSubscriptionFromComponents("sub", "SRC", "zz1", onMsg(&n), nil)
	s.Require().NoError(err)
	second, err := pool.CreateSubscriptionFromComponents("sub", "SRC", "zz2", onMsg(&n), nil)
	s.Require().NoError(err)
	s.NotEqual(first.Queue().Name(), second.Queue().Name())
}

func (s *PoolSuite) TestCreateSubscriptionFromComponents_Validation() {
	pool := s.newPool()
	var n int64

	_, err := pool.CreateSubscriptionFromComponents("", "SRC", "IBM", onMsg(&n), nil)
	s.ErrorIs(err, errors.ErrNullArg)
	_, err = pool.CreateSubscriptionFromComponents("sub", "SRC", "IBM", middleware.Callbacks{}, nil)
	s.ErrorIs(err, errors.ErrNullArg)

	_, err = pool.CreateSubscriptionFromComponents("unconfigured", "SRC", "IBM", onMsg(&n), nil)
	s.ErrorIs(err, errors.ErrMissingConfig)
	s.Contains(err.Error(), "unconfigured")
}

func (s *PoolSuite) TestCreateSubscriptionFromTopic_Defaults() {
	pool := s.newPool()
	var n int64

	sub, err := pool.CreateSubscriptionFromTopic("IBM", onMsg(&n), nil)
	s.Require().NoError(err)
	s.Equal("SRC", sub.Source().SymbolNamespace())
	s.Equal("sub", sub.Transport().Name())

	sub, err = pool.CreateSubscriptionFromTopicWithSource("OTHER", "IBM", onMsg(&n), nil)
	s.Require().NoError(err)
	s.Equal("sub", sub.Transport().Name(), "with-source uses the pool default transport")
}

func (s *PoolSuite) TestCreateSubscriptionFromTopic_SourceTransportWins() {
	s.props.Set("mama.resource_pool.test.default_source_sub", "OTHER")
	pool := s.newPool()
	var n int64

	sub, err := pool.CreateSubscriptionFromTopic("IBM", onMsg(&n), nil)
	s.Require().NoError(err)
	s.Equal("alt", sub.Transport().Name())
}

func (s *PoolSuite) TestCreateSubscriptionFromTopic_MissingConfig() {
	s.props.Delete("mama.resource_pool.test.default_source_sub")
	s.props.Delete("mama.resource_pool.test.default_transport_sub")
	pool := s.newPool()
	var n int64

	_, err := pool.CreateSubscriptionFromTopic("IBM", onMsg(&n), nil)
	s.ErrorIs(err, errors.ErrMissingConfig)
	s.Contains(err.Error(), "mama.resource_pool.test.default_source_sub")

	_, err = pool.CreateSubscriptionFromTopicWithSource("SRC", "IBM", onMsg(&n), nil)
	s.ErrorIs(err, errors.ErrMissingConfig)
	s.Contains(err.Error(), "mama.resource_pool.test.default_transport_sub")

	s.props.Set("mama.resource_pool.test.default_source_sub", "SRC")
	_, err = pool.CreateSubscriptionFromTopic("IBM", onMsg(&n), nil)
	s.ErrorIs(err, errors.ErrMissingConfig)
	s.Contains(err.Error(), "mama.source.SRC.transport_sub")
}

func (s *PoolSuite) TestTransportOnSecondBridge() {
	s.props.Set("mama.resource_pool.test.bridges", "nosuchbridge, loopback")
	s.props.Set("mama.nosuchbridge.transport.orphan.url", "x")
	pool := s.newPool()

	tport, err := pool.CreateTransportFromName("sub")
	s.Require().NoError(err)
	s.Equal(loopback.Name, tport.Bridge().Name())

	again, err := pool.CreateTransportFromName("sub")
	s.Require().NoError(err)
	s.Same(tport, again)

	_, err = pool.CreateTransportFromName("orphan")
	s.ErrorIs(err, errors.ErrNoBridge)
}

func (s *PoolSuite) TestOptionsFromConfiguration() {
	s.props.Set("mama.resource_pool.test.options.timeout", "1.5")
	s.props.Set("mama.resource_pool.test.options.retries", "abc")
	s.props.Set("mama.resource_pool.test.options.subscription_type", "BASIC")
	s.props.Set("mama.resource_pool.test.options.debug_level", "FINER")
	s.props.Set("mama.resource_pool.test.options.unknown", "1")
	pool := s.newPool()

	opts := pool.Options()
	s.Equal(1500*time.Millisecond, opts.Timeout)
	s.Equal(2, opts.Retries, "invalid value ignored")
	s.Equal(middleware.SubscriptionBasic, opts.Type)
	s.Equal(middleware.LogFiner, opts.DebugLevel)
	s.False(opts.RequiresInitial)
}

func (s *PoolSuite) TestDestroySubscription() {
	pool := s.newPool()

	destroyed := make(chan struct{})
	cb := middleware.Callbacks{
		OnMsg:     func(*middleware.Subscription, *message.Msg) {},
		OnDestroy: func(*middleware.Subscription) { close(destroyed) },
	}
	sub, err := pool.CreateSubscriptionFromComponents("sub", "SRC", "IBM", cb, nil)
	s.Require().NoError(err)

	s.Require().NoError(pool.DestroySubscription(sub))
	s.Equal(0, pool.Subscriptions(), "bookkeeping is synchronous")

	select {
	case <-destroyed:
	case <-time.After(2 * time.Second):
		s.Fail("OnDestroy not called")
	}
	s.False(sub.IsActive())

	err = pool.DestroySubscription(sub)
	s.ErrorIs(err, errors.ErrNotFound)
	s.ErrorIs(pool.DestroySubscription(nil), errors.ErrNullArg)
}

func (s *PoolSuite) TestDestroy_RunsQueuedSubscriptionDestroy() {
	pool := s.newPool()

	gate := make(chan struct{})
	var destroys int64
	cb := middleware.Callbacks{
		OnCreate:  func(*middleware.Subscription) { <-gate },
		OnMsg:     func(*middleware.Subscription, *message.Msg) {},
		OnDestroy: func(*middleware.Subscription) { atomic.AddInt64(&destroys, 1) },
	}
	sub, err := pool.CreateSubscriptionFromComponents("sub", "SRC", "IBM", cb, nil)
	s.Require().NoError(err)

	// The destroy event waits behind the blocked OnCreate.
	s.Require().NoError(pool.DestroySubscription(sub))
	s.True(sub.IsActive())

	done := make(chan error, 1)
	go func() { done <- pool.Destroy() }()

	s.Require().Eventually(func() bool { return !sub.Queue().IsDispatching() }, 2*time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(gate)

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("pool destroy did not return")
	}
	s.False(sub.IsActive())
	s.Equal(int64(1), atomic.LoadInt64(&destroys))
}

func (s *PoolSuite) TestDestroy_NoCallbacksAfterReturn() {
	pool := s.newPool()
	var delivered int64

	sub, err := pool.CreateSubscriptionFromComponents("sub", "SRC", "IBM", onMsg(&delivered), nil)
	s.Require().NoError(err)
	pub, err := middleware.NewPublisher(sub.Transport(), "SRC", "IBM")
	s.Require().NoError(err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			m := message.NewMsg()
			_ = m.AddI32("SEQ", 1, 1)
			_ = pub.Send(m)
			time.Sleep(50 * time.Microsecond)
		}
	}()

	s.Require().Eventually(func() bool { return atomic.LoadInt64(&delivered) > 10 }, 2*time.Second, time.Millisecond)

	s.Require().NoError(pool.Destroy())
	atReturn := atomic.LoadInt64(&delivered)
	time.Sleep(30 * time.Millisecond)
	close(stop)
	wg.Wait()

	s.Equal(atReturn, atomic.LoadInt64(&delivered))
	s.Equal(0, pool.Subscriptions())
	s.NoError(pool.Destroy(), "second destroy is a no-op")

	_, err = pool.CreateSubscriptionFromComponents("sub", "SRC", "IBM", onMsg(&delivered), nil)
	s.ErrorIs(err, errors.ErrAlreadyDestroyed)
}

func (s *PoolSuite) TestMetrics() {
	registry := metric.NewMetricsRegistry()
	pool := s.newPool(WithMetricsRegistry(registry))
	var n int64

	sub, err := pool.CreateSubscriptionFromComponents("sub", "SRC", "IBM", onMsg(&n), nil)
	s.Require().NoError(err)

	m := registry.CoreMetrics()
	s.Equal(1.0, testutil.ToFloat64(m.SubscriptionsActive.WithLabelValues("test")))
	s.Equal(1.0, testutil.ToFloat64(m.TransportsActive.WithLabelValues("test")))
	s.Equal(1.0, testutil.ToFloat64(m.BridgesLoaded.WithLabelValues("test")))

	s.Require().NoError(pool.DestroySubscription(sub))
	s.Equal(0.0, testutil.ToFloat64(m.SubscriptionsActive.WithLabelValues("test")))
	s.Equal(1.0, testutil.ToFloat64(m.SubscriptionsDestroyed.WithLabelValues("test")))
}

func (s *PoolSuite) TestHealth() {
	rt := middleware.NewRuntime(s.props)
	pool, err := New("test", rt)
	s.Require().NoError(err)
	s.pool = pool

	s.True(pool.Health().IsHealthy(), "no transports yet")

	_, err = pool.CreateTransportFromName("sub")
	s.Require().NoError(err)
	_, err = pool.CreateTransportFromName("alt")
	s.Require().NoError(err)

	status := pool.Health()
	s.True(status.IsHealthy())
	s.Equal("resource_pool.test", status.Component)
	s.Require().Len(status.SubStatuses, 2)
	s.Equal("loopback/alt", status.SubStatuses[0].Component)

	rt.Health().UpdateDegraded(middleware.HealthKey(loopback.Name, "sub"), "reconnecting")
	s.True(pool.Health().IsDegraded())

	s.Require().NoError(pool.Destroy())
	s.True(pool.Health().IsUnhealthy())
	s.Empty(rt.Health().Components(), "destroyed transports leave the monitor")
}

func TestNew_Errors(t *testing.T) {
	rt := middleware.NewRuntime(config.NewProperties(nil))

	_, err := New("", rt)
	assert.ErrorIs(t, err, errors.ErrNullArg)
	_, err = New("p", nil)
	assert.ErrorIs(t, err, errors.ErrNullArg)

	tests := []struct {
		name   string
		props  map[string]string
		target error
	}{
		{"no bridges", map[string]string{"mama.resource_pool.p.bridges": " , "}, errors.ErrMissingConfig},
		{"zero queues", map[string]string{"mama.resource_pool.p.queues": "0"}, errors.ErrInvalidConfig},
		{"bad regex", map[string]string{
			"mama.resource_pool.p.bridges":       loopback.Name,
			"mama.resource_pool.p.queue_1.regex": "([",
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("p", middleware.NewRuntime(config.NewProperties(tt.props)))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestParseQuery(t *testing.T) {
	got := parseQuery("?retries=3&bad&=x&timeout=&debug_level=FINE")
	assert.Equal(t, map[string]string{"retries": "3", "debug_level": "FINE"}, got)
	assert.Empty(t, parseQuery(""))
}
