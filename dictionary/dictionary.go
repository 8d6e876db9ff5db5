// Package dictionary holds field descriptors keyed by fid and by name.
//
// A Dictionary satisfies message.Dictionary, so it can be handed to message iteration and to
// the field cache to resolve names and declared types that the payload does not carry.
package dictionary

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
)

// Dictionary is an in-memory descriptor table. It is safe for concurrent use.
type Dictionary struct {
	mu     sync.RWMutex
	byFid  map[uint16]*message.Descriptor
	byName map[string]*message.Descriptor
	maxFid uint16
}

// New returns a dictionary pre-populated with descs. It panics if descs contains an invalid
// or duplicate descriptor; use Add for untrusted input.
func New(descs ...*message.Descriptor) *Dictionary {
	d := &Dictionary{
		byFid:  make(map[uint16]*message.Descriptor, len(descs)),
		byName: make(map[string]*message.Descriptor, len(descs)),
	}
	for _, desc := range descs {
		if err := d.Add(desc); err != nil {
			panic(err)
		}
	}
	return d
}

// Add registers a descriptor. Fid zero is rejected; a fid or name already present is
// rejected with ErrInvalidArg.
func (d *Dictionary) Add(desc *message.Descriptor) error {
	if desc == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Dictionary", "Add", "validate descriptor")
	}
	if desc.Fid() == 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: fid 0 (%s)", errors.ErrInvalidArg, desc.Name()),
			"Dictionary", "Add", "validate fid")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byFid[desc.Fid()]; ok {
		return errors.WrapInvalid(fmt.Errorf("%w: duplicate fid %d", errors.ErrInvalidArg, desc.Fid()),
			"Dictionary", "Add", "register descriptor")
	}
	if desc.Name() != "" {
		if _, ok := d.byName[desc.Name()]; ok {
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate name %q", errors.ErrInvalidArg, desc.Name()),
				"Dictionary", "Add", "register descriptor")
		}
		d.byName[desc.Name()] = desc
	}
	d.byFid[desc.Fid()] = desc
	if desc.Fid() > d.maxFid {
		d.maxFid = desc.Fid()
	}
	return nil
}

// FieldByFid implements message.Dictionary.
func (d *Dictionary) FieldByFid(fid uint16) (*message.Descriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.byFid[fid]
	return desc, ok
}

// FieldByName implements message.Dictionary.
func (d *Dictionary) FieldByName(name string) (*message.Descriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.byName[name]
	return desc, ok
}

// Len returns the number of descriptors.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byFid)
}

// MaxFid returns the largest registered fid.
func (d *Dictionary) MaxFid() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.maxFid
}

// Each calls fn for every descriptor in ascending fid order.
func (d *Dictionary) Each(fn func(*message.Descriptor)) {
	d.mu.RLock()
	descs := make([]*message.Descriptor, 0, len(d.byFid))
	for _, desc := range d.byFid {
		descs = append(descs, desc)
	}
	d.mu.RUnlock()

	sort.Slice(descs, func(i, j int) bool { return descs[i].Fid() < descs[j].Fid() })
	for _, desc := range descs {
		fn(desc)
	}
}

type fileFormat struct {
	Fields []fileField `yaml:"fields"`
}

type fileField struct {
	Fid  uint16 `yaml:"fid"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Load reads a YAML dictionary of the form
//
//	fields:
//	  - fid: 22
//	    name: BID
//	    type: F64
func Load(r io.Reader) (*Dictionary, error) {
	var f fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.WrapInvalid(err, "dictionary", "Load", "decode yaml")
	}

	d := New()
	for _, field := range f.Fields {
		typ, err := message.ParseFieldType(field.Type)
		if err != nil {
			return nil, errors.WrapInvalid(err, "dictionary", "Load", fmt.Sprintf("parse type of fid %d", field.Fid))
		}
		if err := d.Add(message.NewDescriptor(field.Fid, typ, field.Name)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// LoadFile reads a YAML dictionary from path.
func LoadFile(path string) (*Dictionary, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "dictionary", "LoadFile", "open "+path)
	}
	defer fh.Close()
	return Load(fh)
}

// FromMessage builds a dictionary from a dictionary message: every field contributes its
// fid, name and wire type. Fields without a name or fid are skipped.
func FromMessage(msg message.Message) (*Dictionary, error) {
	if msg == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "dictionary", "FromMessage", "validate message")
	}
	d := New()
	err := msg.Iterate(func(_ message.Message, f message.Field) error {
		name, err := f.Name()
		if err != nil || f.Fid() == 0 {
			return nil
		}
		if _, dup := d.FieldByFid(f.Fid()); dup {
			return nil
		}
		return d.Add(message.NewDescriptor(f.Fid(), f.Type(), name))
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dictionary", "FromMessage", "iterate fields")
	}
	return d, nil
}
