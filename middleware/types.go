package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/mamastreams/errors"
)

// SubscriptionType selects how the middleware treats a subscription.
type SubscriptionType int

// Subscription types.
const (
	SubscriptionNormal SubscriptionType = iota
	SubscriptionGroup
	SubscriptionBook
	SubscriptionBasic
	SubscriptionDictionary
	SubscriptionSymbolList
	SubscriptionSymbolListNormal
	SubscriptionSymbolListGroup
	SubscriptionSymbolListBook
)

var subscriptionTypeNames = [...]string{
	SubscriptionNormal:           "NORMAL",
	SubscriptionGroup:            "GROUP",
	SubscriptionBook:             "BOOK",
	SubscriptionBasic:            "BASIC",
	SubscriptionDictionary:       "DICTIONARY",
	SubscriptionSymbolList:       "SYMBOL_LIST",
	SubscriptionSymbolListNormal: "SYMBOL_LIST_NORMAL",
	SubscriptionSymbolListGroup:  "SYMBOL_LIST_GROUP",
	SubscriptionSymbolListBook:   "SYMBOL_LIST_BOOK",
}

func (t SubscriptionType) String() string {
	if t >= 0 && int(t) < len(subscriptionTypeNames) {
		return subscriptionTypeNames[t]
	}
	return fmt.Sprintf("SubscriptionType(%d)", int(t))
}

// ParseSubscriptionType parses the upper-case name of a subscription type.
func ParseSubscriptionType(s string) (SubscriptionType, error) {
	for i, name := range subscriptionTypeNames {
		if name == s {
			return SubscriptionType(i), nil
		}
	}
	return SubscriptionNormal, errors.WrapInvalid(errors.ErrInvalidArg, "middleware", "ParseSubscriptionType",
		fmt.Sprintf("unknown subscription_type %q", s))
}

// LogLevel is a subscription diagnostic level.
type LogLevel int

// Log levels, least to most verbose.
const (
	LogOff LogLevel = iota
	LogSevere
	LogError
	LogWarn
	LogNormal
	LogFine
	LogFiner
	LogFinest
)

var logLevelNames = [...]string{
	LogOff:    "OFF",
	LogSevere: "SEVERE",
	LogError:  "ERROR",
	LogWarn:   "WARN",
	LogNormal: "NORMAL",
	LogFine:   "FINE",
	LogFiner:  "FINER",
	LogFinest: "FINEST",
}

var logLevelAliases = map[string]LogLevel{
	"WARNING": LogWarn,
	"INFO":    LogNormal,
	"CONFIG":  LogNormal,
	"ALL":     LogFinest,
}

func (l LogLevel) String() string {
	if l >= 0 && int(l) < len(logLevelNames) {
		return logLevelNames[l]
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLogLevel accepts the level names above plus WARNING, INFO, CONFIG and ALL.
func ParseLogLevel(s string) (LogLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range logLevelNames {
		if n == name {
			return LogLevel(i), nil
		}
	}
	if l, ok := logLevelAliases[name]; ok {
		return l, nil
	}
	return LogOff, errors.WrapInvalid(errors.ErrInvalidArg, "middleware", "ParseLogLevel",
		fmt.Sprintf("unknown log level %q", s))
}

// levelOff sits above every slog level so nothing is enabled.
const levelOff = slog.Level(1 << 10)

// SlogLevel maps the level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogOff:
		return levelOff
	case LogSevere, LogError:
		return slog.LevelError
	case LogWarn:
		return slog.LevelWarn
	case LogNormal:
		return slog.LevelInfo
	case LogFine:
		return slog.LevelDebug
	case LogFiner:
		return slog.LevelDebug - 2
	default:
		return slog.LevelDebug - 4
	}
}

// Enabled reports whether messages at level v should be logged under l.
func (l LogLevel) Enabled(v LogLevel) bool {
	return l != LogOff && v != LogOff && v <= l
}

// SubscriptionOptions are the per-subscription settings the resource pool supplies.
type SubscriptionOptions struct {
	Timeout         time.Duration
	Retries         int
	Type            SubscriptionType
	RequiresInitial bool
	DebugLevel      LogLevel
}

// DefaultSubscriptionOptions returns a 30s timeout, 2 retries, NORMAL, initial required
// and diagnostics off.
func DefaultSubscriptionOptions() SubscriptionOptions {
	return SubscriptionOptions{
		Timeout:         30 * time.Second,
		Retries:         2,
		Type:            SubscriptionNormal,
		RequiresInitial: true,
		DebugLevel:      LogOff,
	}
}

// Subject builds the transport subject for a source namespace and symbol.
func Subject(source, symbol string) string {
	if source == "" {
		return symbol
	}
	return source + "." + symbol
}

// logAt logs through logger when the subscription level admits v.
func logAt(ctx context.Context, logger *slog.Logger, level, v LogLevel, msg string, args ...any) {
	if !level.Enabled(v) {
		return
	}
	logger.Log(ctx, v.SlogLevel(), msg, args...)
}
