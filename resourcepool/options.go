package resourcepool

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/mamastreams/metric"
	"github.com/c360/mamastreams/middleware"
)

// Option configures a Pool.
type Option func(*poolConfig)

type poolConfig struct {
	logger         *slog.Logger
	registry       *metric.MetricsRegistry
	destroyTimeout time.Duration
	queueSize      int
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *poolConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricsRegistry records pool metrics and registers per-queue metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(c *poolConfig) { c.registry = registry }
}

// WithDestroyTimeout bounds how long Destroy waits for each queue group. Default 5s.
func WithDestroyTimeout(d time.Duration) Option {
	return func(c *poolConfig) {
		if d > 0 {
			c.destroyTimeout = d
		}
	}
}

// WithQueueSize sets the capacity of every dispatch queue.
func WithQueueSize(n int) Option {
	return func(c *poolConfig) { c.queueSize = n }
}

// applyOptions applies key/value pairs to opts in key order.
func applyOptions(logger *slog.Logger, opts *middleware.SubscriptionOptions, kv map[string]string) {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		applyOption(logger, opts, k, kv[k])
	}
}

// applyOption sets one subscription option. Unknown keys and unparsable values are
// logged and ignored.
func applyOption(logger *slog.Logger, opts *middleware.SubscriptionOptions, key, value string) {
	logger.Debug("Found pool option", "key", key, "value", value)
	value = strings.TrimSpace(value)

	var err error
	switch key {
	case "timeout":
		var secs float64
		if secs, err = strconv.ParseFloat(value, 64); err == nil {
			opts.Timeout = time.Duration(secs * float64(time.Second))
		}
	case "retries":
		var n int
		if n, err = strconv.Atoi(value); err == nil {
			opts.Retries = n
		}
	case "subscription_type":
		var t middleware.SubscriptionType
		if t, err = middleware.ParseSubscriptionType(value); err == nil {
			opts.Type = t
		}
	case "requires_initial":
		var b bool
		if b, err = strconv.ParseBool(value); err == nil {
			opts.RequiresInitial = b
		}
	case "debug_level":
		var l middleware.LogLevel
		if l, err = middleware.ParseLogLevel(value); err == nil {
			opts.DebugLevel = l
		}
	default:
		logger.Warn("Ignoring unrecognized resource pool option", "key", key)
		return
	}
	if err != nil {
		logger.Warn("Ignoring invalid resource pool option", "key", key, "value", value, "error", err)
	}
}

// parseQuery applies "k=v&k=v" pairs. Pairs without a key or value are skipped.
func parseQuery(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimPrefix(raw, "?"), "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
