// Package channelfilter maps topics to integer channels by ordered regular expression
// matching. The resource pool uses it to pin related subscriptions to one dispatch queue.
package channelfilter

import (
	"math"
	"regexp"
	"sync"

	"github.com/c360/mamastreams/errors"
)

// NoChannel is a default channel meaning "no preference". The resource pool assigns a
// round-robin queue when it sees it.
const NoChannel = math.MaxInt

type pattern struct {
	re      *regexp.Regexp
	channel int
}

// Filter holds patterns in insertion order. The first pattern found anywhere in a topic
// decides its channel; later, more specific patterns never override an earlier match.
// A Filter is safe for concurrent use.
type Filter struct {
	mu             sync.RWMutex
	patterns       []pattern
	defaultChannel int
}

// New returns a filter with no patterns and default channel 0.
func New() *Filter {
	return &Filter{}
}

// AddRegex compiles expr and appends it with its channel.
func (f *Filter) AddRegex(expr string, channel int) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return errors.WrapInvalid(err, "Filter", "AddRegex", "compile "+expr)
	}
	f.mu.Lock()
	f.patterns = append(f.patterns, pattern{re: re, channel: channel})
	f.mu.Unlock()
	return nil
}

// SetDefaultChannel sets the channel returned when no pattern matches.
func (f *Filter) SetDefaultChannel(channel int) {
	f.mu.Lock()
	f.defaultChannel = channel
	f.mu.Unlock()
}

// DefaultChannel returns the channel used when no pattern matches.
func (f *Filter) DefaultChannel() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultChannel
}

// Len returns the number of patterns.
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.patterns)
}

// Channel returns the channel of the first pattern that matches somewhere in target, or
// the default channel.
func (f *Filter) Channel(target string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.patterns {
		if p.re.MatchString(target) {
			return p.channel
		}
	}
	return f.defaultChannel
}
