package fieldcache

import (
	"fmt"
	"io"
	"sort"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
)

// Properties is a sparse cache keyed by fid. Cells are registered up front and only become
// visible once a value has been applied to them in the current generation.
//
// Clear starts a new generation in constant time: every entry stays registered but turns
// invisible until it is applied again. Like Cache, Properties is single-writer.
type Properties struct {
	entries map[uint16]*propertyEntry
	serial  uint64
	opts    options
}

type propertyEntry struct {
	field  Field
	serial uint64
}

// unregistered is the serial of an entry that has never been applied. Live serials are
// always odd, starting at 1.
const unregistered = 0

// NewProperties returns an empty property cache. Only WithLogger applies.
func NewProperties(opts ...Option) *Properties {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Properties{
		entries: make(map[uint16]*propertyEntry),
		serial:  1,
		opts:    o,
	}
}

// Clone returns an independent deep copy, including registrations and generation.
func (p *Properties) Clone() *Properties {
	c := &Properties{
		entries: make(map[uint16]*propertyEntry, len(p.entries)),
		serial:  p.serial,
		opts:    p.opts,
	}
	for fid, e := range p.entries {
		c.entries[fid] = &propertyEntry{field: e.field.Copy(), serial: e.serial}
	}
	return c
}

// Clear hides every entry until it is applied again.
func (p *Properties) Clear() {
	p.serial += 2
}

// ClearAndDelete is the same as Clear.
func (p *Properties) ClearAndDelete() {
	p.Clear()
}

// ClearAndUnregisterAll removes every entry and resets the generation.
func (p *Properties) ClearAndUnregisterAll() {
	p.serial = 1
	clear(p.entries)
}

// Add inserts f as visible, replacing any entry for the same fid.
func (p *Properties) Add(f Field) {
	if f == nil || f.Descriptor() == nil {
		return
	}
	p.entries[f.Fid()] = &propertyEntry{field: f, serial: p.serial}
}

// AddIfModified is Add restricted to cells in the Modified state.
func (p *Properties) AddIfModified(f Field) {
	if f == nil || !f.IsModified() {
		return
	}
	p.Add(f)
}

// RegisterProperty inserts f for fid as invisible. It returns false without replacing
// anything if fid is already registered.
func (p *Properties) RegisterProperty(fid uint16, f Field) bool {
	if _, ok := p.entries[fid]; ok {
		return false
	}
	if f == nil || f.Descriptor() == nil {
		return false
	}
	p.entries[fid] = &propertyEntry{field: f, serial: unregistered}
	return true
}

// RegisterProperties registers a new cell for each fid using the type declared in dict.
// Fids missing from dict and types the cache cannot hold are skipped.
func (p *Properties) RegisterProperties(fids []uint16, dict message.Dictionary) error {
	if dict == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Properties", "RegisterProperties", "validate dictionary")
	}
	for _, fid := range fids {
		desc, ok := dict.FieldByFid(fid)
		if !ok {
			p.opts.logger.Debug("Property field not in dictionary", "fid", fid)
			continue
		}
		f, ok := NewField(desc.Type(), desc)
		if !ok {
			p.opts.logger.Debug("Property type not supported", "fid", fid, "type", desc.Type().String())
			continue
		}
		p.RegisterProperty(fid, f)
	}
	return nil
}

// ApplyField assigns a raw message field to its registered cell and makes it visible. It
// reports whether the fid is registered.
func (p *Properties) ApplyField(raw message.Field) (bool, error) {
	if raw == nil {
		return false, errors.WrapInvalid(errors.ErrNullArg, "Properties", "ApplyField", "validate field")
	}
	e, ok := p.entries[raw.Fid()]
	if !ok {
		return false, nil
	}
	e.serial = p.serial
	return true, e.field.ApplyField(raw)
}

// Apply assigns a cache cell's value to the registered cell with the same fid.
func (p *Properties) Apply(f Field) (bool, error) {
	if f == nil || f.Descriptor() == nil {
		return false, errors.WrapInvalid(errors.ErrNullArg, "Properties", "Apply", "validate field")
	}
	e, ok := p.entries[f.Fid()]
	if !ok {
		return false, nil
	}
	e.serial = p.serial
	return true, e.field.Apply(f)
}

// ApplyList applies every cell of l. Unregistered fids are ignored.
func (p *Properties) ApplyList(l *List) error {
	if l == nil {
		return nil
	}
	for _, f := range l.fields {
		if _, err := p.Apply(f); err != nil {
			return errors.Wrap(err, "Properties", "ApplyList", fmt.Sprintf("apply fid %d", f.Fid()))
		}
	}
	return nil
}

// ApplyMsg applies every field of msg. Unregistered fids are ignored.
func (p *Properties) ApplyMsg(msg message.Message) error {
	if msg == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Properties", "ApplyMsg", "validate message")
	}
	return msg.Iterate(func(_ message.Message, raw message.Field) error {
		_, err := p.ApplyField(raw)
		return err
	}, nil)
}

func (p *Properties) visible(e *propertyEntry) bool {
	return e.serial == p.serial
}

// Find returns the visible cell for fid, or nil.
func (p *Properties) Find(fid uint16) Field {
	if e, ok := p.entries[fid]; ok && p.visible(e) {
		return e.field
	}
	return nil
}

// FindByName returns a visible cell named name, or nil.
func (p *Properties) FindByName(name string) Field {
	for _, e := range p.entries {
		if p.visible(e) && e.field.Name() == name {
			return e.field
		}
	}
	return nil
}

// FindByDescriptor looks up desc's fid.
func (p *Properties) FindByDescriptor(desc *message.Descriptor) Field {
	if desc == nil {
		return nil
	}
	return p.Find(desc.Fid())
}

// Len returns the number of visible entries.
func (p *Properties) Len() int {
	n := 0
	for _, e := range p.entries {
		if p.visible(e) {
			n++
		}
	}
	return n
}

// Registered returns the number of entries, visible or not.
func (p *Properties) Registered() int { return len(p.entries) }

// IsEmpty reports whether no entry is visible.
func (p *Properties) IsEmpty() bool { return p.Len() == 0 }

// Each calls fn for every visible cell in ascending fid order.
func (p *Properties) Each(fn func(Field)) {
	fids := make([]uint16, 0, len(p.entries))
	for fid, e := range p.entries {
		if p.visible(e) {
			fids = append(fids, fid)
		}
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })
	for _, fid := range fids {
		fn(p.entries[fid].field)
	}
}

// Dump writes the visible properties as "Properties:" followed by one "\tname=value" line
// each.
func (p *Properties) Dump(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "Properties:"); err != nil {
		return err
	}
	var err error
	p.Each(func(f Field) {
		if err == nil {
			_, err = fmt.Fprintf(w, "\t%s=%s\n", f.Name(), f.String())
		}
	})
	return err
}
