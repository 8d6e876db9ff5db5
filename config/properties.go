package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Properties is a flat, string-keyed configuration store. Keys use dotted paths such as
// "mama.resource_pool.default.queues". All methods are safe for concurrent use.
type Properties struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewProperties creates a store seeded with the given values.
func NewProperties(values map[string]string) *Properties {
	p := &Properties{values: make(map[string]string, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

// Get returns the value for key and whether it was present.
func (p *Properties) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// GetDefault returns the value for key, or def when the key is absent.
func (p *Properties) GetDefault(key, def string) string {
	if v, ok := p.Get(key); ok {
		return v
	}
	return def
}

// GetInt parses the value for key as an int. Absent or malformed values yield def.
func (p *Properties) GetInt(key string, def int) int {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetBool parses the value for key as a bool. Absent or malformed values yield def.
func (p *Properties) GetBool(key string, def bool) bool {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetFloat parses the value for key as a float64. Absent or malformed values yield def.
func (p *Properties) GetFloat(key string, def float64) float64 {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// Set stores value under key, replacing any previous value.
func (p *Properties) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[string]string)
	}
	p.values[key] = value
}

// Delete removes key.
func (p *Properties) Delete(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
}

// WithPrefix returns the entries whose key starts with prefix, with the prefix removed.
func (p *Properties) WithPrefix(prefix string) map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range p.values {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = v
		}
	}
	return out
}

// HasPrefix reports whether any key starts with prefix.
func (p *Properties) HasPrefix(prefix string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for k := range p.values {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Keys returns every key in sorted order.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (p *Properties) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

// Merge copies every entry of other into p, overwriting existing keys.
func (p *Properties) Merge(other map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[string]string, len(other))
	}
	for k, v := range other {
		p.values[k] = v
	}
}
