package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/fieldcache"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/metric"
	"github.com/c360/mamastreams/middleware"
)

// listener keeps one field cache per subscription and prints each update.
type listener struct {
	dict          message.Dictionary
	useFieldNames bool
	trackModState bool
	printDelta    bool
	logger        *slog.Logger
	metrics       *metric.Metrics

	// out is shared by every dispatch queue.
	outMu sync.Mutex
	out   io.Writer
}

func newListener(cfg *CLIConfig, dict message.Dictionary, out io.Writer, logger *slog.Logger, metrics *metric.Metrics) *listener {
	return &listener{
		dict:          dict,
		useFieldNames: cfg.UseFieldNames,
		trackModState: cfg.TrackModState,
		printDelta:    cfg.PrintDelta,
		logger:        logger,
		metrics:       metrics,
		out:           out,
	}
}

// newCache returns the closure handed to a new subscription.
func (l *listener) newCache() *fieldcache.Cache {
	return fieldcache.New(
		fieldcache.WithUseFieldNames(l.useFieldNames),
		fieldcache.WithTrackModState(l.trackModState),
		fieldcache.WithLogger(l.logger),
	)
}

func (l *listener) callbacks() middleware.Callbacks {
	return middleware.Callbacks{
		OnCreate:  l.onCreate,
		OnError:   l.onError,
		OnMsg:     l.onMsg,
		OnDestroy: l.onDestroy,
	}
}

func (l *listener) onCreate(sub *middleware.Subscription) {
	l.logger.Info("Subscription created", "subject", sub.Subject(), "id", sub.ID().String())
}

func (l *listener) onError(sub *middleware.Subscription, err error) {
	l.logger.Error("Subscription error",
		"subject", sub.Subject(), "class", errors.Classify(err).String(), "error", err)
}

func (l *listener) onDestroy(sub *middleware.Subscription) {
	cache, ok := sub.Closure().(*fieldcache.Cache)
	if !ok {
		return
	}
	l.logger.Info("Subscription destroyed", "subject", sub.Subject(), "cached_fields", cache.Len())
}

func (l *listener) onMsg(sub *middleware.Subscription, msg *message.Msg) {
	cache, ok := sub.Closure().(*fieldcache.Cache)
	if !ok {
		l.logger.Error("Subscription has no cache", "subject", sub.Subject())
		return
	}

	if err := cache.Apply(msg, l.dict, nil); err != nil {
		l.logger.Warn("Failed to apply update", "subject", sub.Subject(), "error", err)
		return
	}
	if l.metrics != nil {
		l.metrics.RecordCachedFields(sub.Subject(), cache.Len())
	}

	var fields []fieldcache.ReadOnlyField
	if l.printDelta {
		fields = cache.DeltaFields()
	} else {
		fields = cache.FullFields()
	}
	l.print(sub.Subject(), fields)
}

func (l *listener) print(subject string, fields []fieldcache.ReadOnlyField) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d fields)\n", subject, len(fields))
	for _, f := range fields {
		b.WriteString(l.formatField(f))
		b.WriteByte('\n')
	}

	l.outMu.Lock()
	defer l.outMu.Unlock()
	_, _ = io.WriteString(l.out, b.String())
}

func (l *listener) formatField(f fieldcache.ReadOnlyField) string {
	name := f.Name()
	if name == "" || !l.useFieldNames {
		return fmt.Sprintf("  %5d %-8s %s", f.Fid(), f.Type(), f.String())
	}
	return fmt.Sprintf("  %5d %-20s %-8s %s", f.Fid(), name, f.Type(), f.String())
}
