// Package main implements mamalistencached, a command-line market data listener that
// keeps a field cache for each subscription and prints the cached image as updates arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/mamastreams/config"
	"github.com/c360/mamastreams/dictionary"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/metric"
	"github.com/c360/mamastreams/middleware"
	"github.com/c360/mamastreams/resourcepool"

	_ "github.com/c360/mamastreams/middleware/loopback"
	_ "github.com/c360/mamastreams/middleware/natsbridge"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mamalistencached"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI(os.Args[1:])
	if shouldExit || err != nil {
		return err
	}

	props, err := loadProperties(cliCfg)
	if err != nil {
		return err
	}

	dict, err := loadDictionary(cliCfg.DictionaryPath)
	if err != nil {
		return err
	}

	registry := metric.NewMetricsRegistry()
	running, err := start(cliCfg, props, dict, registry, os.Stdout, logger)
	if err != nil {
		return err
	}

	if cliCfg.MetricsPort > 0 {
		server := metric.NewServer(cliCfg.MetricsPort, "/metrics", registry)
		server.SetHealthCheck(running.pool.Health)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() { _ = server.Stop() }()
		logger.Info("Serving metrics", "address", server.Address())
	}

	return runWithSignalHandling(context.Background(), running, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil, nil, true, nil
		}
		return nil, nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp(os.Stdout, fs)
		return nil, nil, true, nil
	}

	// stdout carries the printed updates.
	logger := newLogger(os.Stderr, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting mamalistencached",
		"version", Version,
		"build_time", BuildTime,
		"config", cliCfg.ConfigPaths,
		"pool", cliCfg.Pool)

	return cliCfg, logger, false, nil
}

// parseLogLevel accepts debug plus the subscription level names (FINEST through SEVERE,
// OFF, and their INFO and WARNING aliases) so one flag covers both vocabularies.
func parseLogLevel(name string) (slog.Level, error) {
	if strings.EqualFold(name, "debug") {
		return slog.LevelDebug, nil
	}
	level, err := middleware.ParseLogLevel(name)
	if err != nil {
		return slog.LevelInfo, err
	}
	return level.SlogLevel(), nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, err := parseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", appName, "version", Version, "pid", os.Getpid())
}

// loadProperties layers the configuration files and the -D overrides.
func loadProperties(cliCfg *CLIConfig) (*config.Properties, error) {
	loader := config.NewLoader()
	for _, path := range cliCfg.ConfigPaths {
		loader.AddLayer(path)
	}
	for _, kv := range cliCfg.Overrides {
		loader.AddOverride(kv)
	}
	props, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.Debug("Configuration loaded", "properties", props.Len())
	return props, nil
}

func loadDictionary(path string) (message.Dictionary, error) {
	if path == "" {
		return nil, nil
	}
	dict, err := dictionary.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	slog.Info("Dictionary loaded", "path", path, "fields", dict.Len(), "max_fid", dict.MaxFid())
	return dict, nil
}

// app is a running listener: the pool and the one subscription it owns.
type app struct {
	pool *resourcepool.Pool
	sub  *middleware.Subscription
}

// start creates the runtime, the pool and the subscription.
func start(
	cliCfg *CLIConfig,
	props *config.Properties,
	dict message.Dictionary,
	registry *metric.MetricsRegistry,
	out io.Writer,
	logger *slog.Logger,
) (*app, error) {
	rt := middleware.NewRuntime(props,
		middleware.WithLogger(logger),
		middleware.WithMetrics(registry.CoreMetrics()))

	pool, err := resourcepool.New(cliCfg.Pool, rt,
		resourcepool.WithLogger(logger),
		resourcepool.WithMetricsRegistry(registry))
	if err != nil {
		return nil, fmt.Errorf("create resource pool: %w", err)
	}

	l := newListener(cliCfg, dict, out, logger, registry.CoreMetrics())
	sub, err := subscribe(pool, cliCfg, l)
	if err != nil {
		_ = pool.Destroy()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	if status := pool.Health(); !status.IsHealthy() {
		logger.Warn("Resource pool is not healthy", "state", status.Status, "message", status.Message)
	}
	return &app{pool: pool, sub: sub}, nil
}

func subscribe(pool *resourcepool.Pool, cliCfg *CLIConfig, l *listener) (*middleware.Subscription, error) {
	switch {
	case cliCfg.URI != "":
		return pool.CreateSubscriptionFromURI(cliCfg.URI, l.callbacks(), l.newCache())
	case cliCfg.Source != "":
		return pool.CreateSubscriptionFromTopicWithSource(cliCfg.Source, cliCfg.Topic, l.callbacks(), l.newCache())
	default:
		return pool.CreateSubscriptionFromTopic(cliCfg.Topic, l.callbacks(), l.newCache())
	}
}

// stop destroys the pool, which destroys the subscription.
func (a *app) stop() error {
	return a.pool.Destroy()
}

// runWithSignalHandling blocks until SIGINT or SIGTERM, then stops the app
func runWithSignalHandling(ctx context.Context, a *app, shutdownTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Listening", "subject", a.sub.Subject())
	<-ctx.Done()
	slog.Info("Received shutdown signal")

	done := make(chan error, 1)
	go func() { done <- a.stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		slog.Info("Shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}
}
