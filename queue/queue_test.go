package queue

import (
	"bytes"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mamastreams/metric"
)

func TestQueue_RunsInOrder(t *testing.T) {
	q := New("q")
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, q.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		}))
	}
	assert.Equal(t, 100, q.Depth(), "nothing runs before dispatch starts")

	require.NoError(t, q.StartDispatch())
	require.NoError(t, q.StartDispatch(), "second start is a no-op")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not dispatched")
	}
	q.StopDispatch()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	stats := q.Stats()
	assert.Equal(t, int64(100), stats.Enqueued)
	assert.Equal(t, int64(100), stats.Dispatched)
	assert.False(t, stats.Dispatching)
}

func TestQueue_NoEventsAfterStop(t *testing.T) {
	q := New("q")
	require.NoError(t, q.StartDispatch())

	var ran int64
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Enqueue(func() {
		close(started)
		<-release
		atomic.AddInt64(&ran, 1)
	}))
	<-started
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(func() { atomic.AddInt64(&ran, 1) }))
	}

	stopped := make(chan struct{})
	go func() {
		q.StopDispatch()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopDispatch returned while an event was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran), "only the running event completed")
	assert.Equal(t, 10, q.Depth(), "pending events stay queued")

	// Restarting resumes with the pending events in order.
	require.NoError(t, q.StartDispatch())
	assert.Eventually(t, func() bool { return atomic.LoadInt64(&ran) == 11 }, 2*time.Second, 5*time.Millisecond)
	q.Destroy()
}

func TestQueue_Full(t *testing.T) {
	q := New("q", WithSize(2))
	require.NoError(t, q.Enqueue(func() {}))
	require.NoError(t, q.Enqueue(func() {}))
	assert.ErrorIs(t, q.Enqueue(func() {}), ErrQueueFull)
	assert.ErrorIs(t, q.Enqueue(nil), ErrNilEvent)
	assert.Equal(t, int64(1), q.Stats().Dropped)
}

func TestQueue_Destroy(t *testing.T) {
	q := New("q")
	var ran int64
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(func() { atomic.AddInt64(&ran, 1) }))
	}
	assert.Equal(t, 5, q.Destroy())
	assert.Equal(t, 0, q.Destroy())
	assert.ErrorIs(t, q.Enqueue(func() {}), ErrQueueDestroyed)
	assert.ErrorIs(t, q.StartDispatch(), ErrQueueDestroyed)
	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))
}

func TestQueue_PanicIsContained(t *testing.T) {
	q := New("q")
	require.NoError(t, q.StartDispatch())
	defer q.Destroy()

	done := make(chan struct{})
	require.NoError(t, q.Enqueue(func() { panic("boom") }))
	require.NoError(t, q.Enqueue(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher died after panic")
	}
}

func TestQueue_SetName(t *testing.T) {
	q := New("a")
	q.SetName("b")
	assert.Equal(t, "b", q.Name())
}

func TestGroup_RoundRobinAndIndex(t *testing.T) {
	g := NewGroup(3, WithNamePrefix("pool"))
	assert.Equal(t, 3, g.Len())

	var names []string
	for i := 0; i < 4; i++ {
		names = append(names, g.Next().Name())
	}
	assert.Equal(t, []string{"pool_0", "pool_1", "pool_2", "pool_0"}, names)

	q, err := g.Queue(2)
	require.NoError(t, err)
	assert.Equal(t, "pool_2", q.Name())

	_, err = g.Queue(3)
	assert.ErrorIs(t, err, ErrNoSuchQueue)
	_, err = g.Queue(-1)
	assert.ErrorIs(t, err, ErrNoSuchQueue)

	assert.Equal(t, 1, NewGroup(0).Len())
}

func TestGroup_Lifecycle(t *testing.T) {
	g := NewGroup(2)
	require.NoError(t, g.StartDispatch())

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		q, err := g.Queue(i)
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(wg.Done))
	}
	wg.Wait()

	g.StopDispatch()
	for _, s := range g.Stats() {
		assert.False(t, s.Dispatching)
		assert.Equal(t, int64(1), s.Dispatched)
	}
	require.NoError(t, g.DestroyWait(time.Second))
}

func TestGroup_DestroyWaitTimeout(t *testing.T) {
	g := NewGroup(1)
	require.NoError(t, g.StartDispatch())

	release := make(chan struct{})
	started := make(chan struct{})
	q, _ := g.Queue(0)
	require.NoError(t, q.Enqueue(func() {
		close(started)
		<-release
	}))
	<-started

	assert.ErrorIs(t, g.DestroyWait(20*time.Millisecond), ErrStopTimeout)
	close(release)
}

func TestGroup_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	g := NewGroup(2, WithNamePrefix("p"), WithMetricsRegistry(registry, "default.nats"))

	q, _ := g.Queue(0)
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(func() { close(done) }))
	require.NoError(t, g.StartDispatch())
	<-done
	g.StopDispatch()

	assert.Equal(t, 1.0, testutil.ToFloat64(q.metrics.dispatched))
	assert.True(t, registry.Unregister("queue_group", "default_nats_dropped_total"))

	// A second group with the same prefix runs without metrics.
	g2 := NewGroup(1, WithMetricsRegistry(registry, "default.nats"))
	q2, _ := g2.Queue(0)
	assert.Nil(t, q2.metrics)

	require.NoError(t, g.DestroyWait(time.Second))
}

func gatheredFamilies(t *testing.T, registry *metric.MetricsRegistry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestGroup_MetricsCounterConflictDisablesMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	taken := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "x_dropped_total", Help: "taken"}, []string{"queue"})
	require.NoError(t, registry.RegisterCounterVec("queue_group", "x_dropped_total", taken))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	g := NewGroup(1, WithMetricsRegistry(registry, "x"), WithQueueOptions(WithLogger(logger)))

	q, _ := g.Queue(0)
	assert.Nil(t, q.metrics)
	assert.Contains(t, buf.String(), "Queue metrics disabled")
	assert.False(t, registry.Unregister("queue_group", "x_queue_depth"), "depth gauge rolled back")
	assert.False(t, registry.Unregister("queue_group", "x_dispatched_total"), "dispatched counter rolled back")

	require.NoError(t, g.StartDispatch())
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(func() { close(done) }))
	<-done
	require.NoError(t, g.DestroyWait(time.Second))

	families := gatheredFamilies(t, registry)
	assert.NotContains(t, families, "x_queue_depth")
	assert.NotContains(t, families, "x_dispatched_total")
}
