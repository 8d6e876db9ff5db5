package fieldcache

import "log/slog"

type options struct {
	useFieldNames           bool
	trackModState           bool
	overrideDescriptorTrack bool
	logger                  *slog.Logger
}

func defaultOptions() options {
	return options{
		trackModState:           true,
		overrideDescriptorTrack: true,
		logger:                  slog.Default(),
	}
}

// Option configures a Cache or Properties.
type Option func(*options)

// WithUseFieldNames makes DeltaMsg and FullMsg write field names as well as fids.
func WithUseFieldNames(use bool) Option {
	return func(o *options) { o.useFieldNames = use }
}

// WithTrackModState sets the tracking mode given to new cells. Defaults to true.
func WithTrackModState(track bool) Option {
	return func(o *options) { o.trackModState = track }
}

// WithOverrideDescriptorTrackModState controls whether new cells take the cache's tracking
// mode (true, the default) or the one carried by their descriptor (false).
func WithOverrideDescriptorTrackModState(override bool) Option {
	return func(o *options) { o.overrideDescriptorTrack = override }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
