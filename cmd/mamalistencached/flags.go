package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	Overrides       []string
	Pool            string
	URI             string
	Source          string
	Topic           string
	DictionaryPath  string
	UseFieldNames   bool
	TrackModState   bool
	PrintDelta      bool
	MetricsPort     int
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
}

// stringList collects a repeatable flag. Each value may itself be comma separated.
type stringList struct {
	values *[]string
	split  bool
}

func (s stringList) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, ",")
}

func (s stringList) Set(v string) error {
	if !s.split {
		*s.values = append(*s.values, v)
		return nil
	}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s.values = append(*s.values, part)
		}
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	fs.Var(stringList{values: &cfg.ConfigPaths, split: true}, "config",
		"Configuration file, .properties or .yaml; repeat or comma separate to layer (env: MAMALISTEN_CONFIG)")

	fs.Var(stringList{values: &cfg.Overrides}, "D",
		"Property override key=value, repeatable")

	fs.StringVar(&cfg.Pool, "pool",
		getEnv("MAMALISTEN_POOL", "default"),
		"Resource pool name (env: MAMALISTEN_POOL)")

	fs.StringVar(&cfg.URI, "uri",
		getEnv("MAMALISTEN_URI", ""),
		"Subscription URI bridge://transport/source/topic?options (env: MAMALISTEN_URI)")

	fs.StringVar(&cfg.Source, "source",
		getEnv("MAMALISTEN_SOURCE", ""),
		"Source namespace, used with --topic (env: MAMALISTEN_SOURCE)")

	fs.StringVar(&cfg.Topic, "topic",
		getEnv("MAMALISTEN_TOPIC", ""),
		"Topic to subscribe to when --uri is not given (env: MAMALISTEN_TOPIC)")

	fs.StringVar(&cfg.DictionaryPath, "dictionary",
		getEnv("MAMALISTEN_DICTIONARY", ""),
		"YAML data dictionary supplying field names (env: MAMALISTEN_DICTIONARY)")

	fs.BoolVar(&cfg.UseFieldNames, "use-field-names",
		getEnvBool("MAMALISTEN_USE_FIELD_NAMES", false),
		"Print field names as well as fids (env: MAMALISTEN_USE_FIELD_NAMES)")

	fs.BoolVar(&cfg.TrackModState, "track-mod-state",
		getEnvBool("MAMALISTEN_TRACK_MOD_STATE", true),
		"Track field modification state in the cache (env: MAMALISTEN_TRACK_MOD_STATE)")

	fs.BoolVar(&cfg.PrintDelta, "print-delta",
		getEnvBool("MAMALISTEN_PRINT_DELTA", true),
		"Print only changed fields instead of the full image (env: MAMALISTEN_PRINT_DELTA)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("MAMALISTEN_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: MAMALISTEN_METRICS_PORT)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("MAMALISTEN_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error, or OFF, SEVERE, NORMAL, FINE, FINER, FINEST (env: MAMALISTEN_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("MAMALISTEN_LOG_FORMAT", "text"),
		"Log format: json, text (env: MAMALISTEN_LOG_FORMAT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("MAMALISTEN_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: MAMALISTEN_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	// Custom usage
	fs.Usage = func() {
		printDetailedHelp(fs.Output(), fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Command line layers replace the environment's rather than adding to them
	if len(cfg.ConfigPaths) == 0 {
		if env := getEnv("MAMALISTEN_CONFIG", ""); env != "" {
			_ = stringList{values: &cfg.ConfigPaths, split: true}.Set(env)
		}
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	for _, kv := range cfg.Overrides {
		if key, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("invalid override %q, want key=value", kv)
		}
	}

	if cfg.Pool == "" {
		return fmt.Errorf("pool name is required")
	}

	if cfg.URI == "" && cfg.Topic == "" {
		return fmt.Errorf("one of --uri or --topic is required")
	}
	if cfg.URI != "" && (cfg.Topic != "" || cfg.Source != "") {
		return fmt.Errorf("--uri cannot be combined with --source or --topic")
	}

	if cfg.DictionaryPath != "" {
		if _, err := os.Stat(cfg.DictionaryPath); err != nil {
			return fmt.Errorf("dictionary file not found: %s", cfg.DictionaryPath)
		}
	}

	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	// Validate log format
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - cached market data listener

Subscribes through a resource pool and keeps a field cache per subscription,
printing every update as it arrives.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.SetOutput(w)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Subscribe by URI on the NATS bridge
  %s --config=mama.properties --uri=nats://md/NYSE/IBM

  # Subscribe by source and topic using the pool defaults
  %s --config=mama.yaml --source=NYSE --topic=IBM --dictionary=fields.yaml

  # Override properties on the command line
  %s --config=mama.properties -D mama.resource_pool.default.options.retries=5 --topic=IBM

  # Run with environment variables
  export MAMALISTEN_CONFIG=/etc/mama/mama.properties
  export MAMALISTEN_TOPIC=IBM
  %s

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
