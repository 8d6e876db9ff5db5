package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"

	"github.com/c360/mamastreams/errors"
)

// Loader builds a Properties store from ordered file layers and key=value overrides.
// Later layers override earlier ones; overrides apply last.
type Loader struct {
	layers    []string
	overrides []string
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{}
}

// AddLayer appends a configuration file. Files ending in .yaml or .yml are read as YAML
// with nested maps flattened into dotted keys; anything else is read as a Java-style
// properties file.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// AddOverride appends a "key=value" override, typically from a repeated -D flag.
func (l *Loader) AddOverride(kv string) {
	l.overrides = append(l.overrides, kv)
}

// LoadFile loads a single file.
func (l *Loader) LoadFile(path string) (*Properties, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load reads every layer in order and applies the overrides.
func (l *Loader) Load() (*Properties, error) {
	props := NewProperties(nil)

	for _, path := range l.layers {
		values, err := loadLayer(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		props.Merge(values)
	}

	for _, kv := range l.overrides {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "Load",
				fmt.Sprintf("override %q is not key=value", kv))
		}
		props.Set(key, strings.TrimSpace(value))
	}

	return props, nil
}

func loadLayer(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseProperties(data)
	}
}

// ParseProperties parses Java properties syntax. ${key} expansion is disabled so values
// such as regular expressions are kept verbatim.
func ParseProperties(data []byte) (map[string]string, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, p.Len())
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		out[k] = v
	}
	return out, nil
}

// ParseYAML parses a YAML document and flattens nested mappings into dotted keys.
// Sequences are joined with commas so "bridges: [nats, loopback]" reads like the
// properties form.
func ParseYAML(data []byte) (map[string]string, error) {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	flatten("", root, out)
	return out, nil
}

func flatten(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			flatten(join(prefix, k), child, out)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
