package fieldcache

import (
	"fmt"
	"time"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
)

// Cache holds one cell per field and tracks which cells changed, so that a subscriber can
// publish either the changes since the last delta or the full image.
//
// A Cache is not synchronized. It is meant to be owned by a single subscription and
// mutated only from that subscription's dispatch queue.
type Cache struct {
	fields List
	opts   options
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache{opts: o}
}

// UseFieldNames reports whether outbound messages carry field names.
func (c *Cache) UseFieldNames() bool { return c.opts.useFieldNames }

// SetUseFieldNames changes whether outbound messages carry field names.
func (c *Cache) SetUseFieldNames(use bool) { c.opts.useFieldNames = use }

// TrackModState reports the tracking mode given to new cells.
func (c *Cache) TrackModState() bool { return c.opts.trackModState }

// SetTrackModState changes the tracking mode given to cells created from now on.
func (c *Cache) SetTrackModState(track bool) { c.opts.trackModState = track }

// Find returns the cell for fid, or nil.
func (c *Cache) Find(fid uint16) Field { return c.fields.FindByFid(fid) }

// FindByName returns the first cell named name, or nil.
func (c *Cache) FindByName(name string) Field { return c.fields.FindByName(name) }

// FindByDescriptor returns the cell for desc's fid, or nil.
func (c *Cache) FindByDescriptor(desc *message.Descriptor) Field {
	return c.fields.FindByDescriptor(desc)
}

// lookup matches by fid, or by name when fid is 0. A field with neither matches nothing.
func (c *Cache) lookup(fid uint16, name string) Field {
	if fid == 0 {
		if name == "" {
			return nil
		}
		return c.fields.FindByName(name)
	}
	return c.fields.FindByFid(fid)
}

func (c *Cache) attach(f Field) {
	if c.opts.overrideDescriptorTrack {
		f.SetTrackModState(c.opts.trackModState)
	}
	c.fields.Add(f)
}

// FindOrAdd returns the cell for desc, creating one of desc's declared type if absent.
// It returns nil for types the cache cannot hold.
func (c *Cache) FindOrAdd(desc *message.Descriptor) Field {
	if desc == nil {
		return nil
	}
	return c.findOrAddType(desc, desc.Type())
}

// Add is FindOrAdd under its original name.
func (c *Cache) Add(desc *message.Descriptor) Field { return c.FindOrAdd(desc) }

// AddType returns the cell for fid, creating one of type typ named name if absent.
func (c *Cache) AddType(fid uint16, typ message.FieldType, name string) Field {
	return c.findOrAddType(message.NewDescriptor(fid, typ, name), typ)
}

func (c *Cache) findOrAddType(desc *message.Descriptor, typ message.FieldType) Field {
	if existing := c.lookup(desc.Fid(), desc.Name()); existing != nil {
		if existing.Type() != typ {
			return nil
		}
		return existing
	}
	f, ok := NewField(typ, desc)
	if !ok {
		return nil
	}
	c.attach(f)
	return f
}

func findOrAdd[T any](c *Cache, desc *message.Descriptor, k *kind[T]) *TypedField[T] {
	if desc == nil {
		return nil
	}
	if existing := c.lookup(desc.Fid(), desc.Name()); existing != nil {
		if tf, ok := existing.(*TypedField[T]); ok && tf.kind == k {
			return tf
		}
		return nil
	}
	f := newTyped(k, desc)
	c.attach(f)
	return f
}

func newDesc(fid uint16, typ message.FieldType, name string) *message.Descriptor {
	return message.NewDescriptor(fid, typ, name)
}

// FindOrAddBool returns the BOOL cell for fid, creating it if absent. It returns nil if
// fid is already cached with a different type; the same holds for every FindOrAdd method.
func (c *Cache) FindOrAddBool(fid uint16, name string) *TypedField[bool] {
	return findOrAdd(c, newDesc(fid, message.TypeBool, name), boolKind)
}

func (c *Cache) FindOrAddChar(fid uint16, name string) *TypedField[byte] {
	return findOrAdd(c, newDesc(fid, message.TypeChar, name), charKind)
}

func (c *Cache) FindOrAddInt8(fid uint16, name string) *TypedField[int8] {
	return findOrAdd(c, newDesc(fid, message.TypeI8, name), i8Kind)
}

func (c *Cache) FindOrAddUint8(fid uint16, name string) *TypedField[uint8] {
	return findOrAdd(c, newDesc(fid, message.TypeU8, name), u8Kind)
}

func (c *Cache) FindOrAddInt16(fid uint16, name string) *TypedField[int16] {
	return findOrAdd(c, newDesc(fid, message.TypeI16, name), i16Kind)
}

func (c *Cache) FindOrAddUint16(fid uint16, name string) *TypedField[uint16] {
	return findOrAdd(c, newDesc(fid, message.TypeU16, name), u16Kind)
}

func (c *Cache) FindOrAddInt32(fid uint16, name string) *TypedField[int32] {
	return findOrAdd(c, newDesc(fid, message.TypeI32, name), i32Kind)
}

func (c *Cache) FindOrAddUint32(fid uint16, name string) *TypedField[uint32] {
	return findOrAdd(c, newDesc(fid, message.TypeU32, name), u32Kind)
}

func (c *Cache) FindOrAddInt64(fid uint16, name string) *TypedField[int64] {
	return findOrAdd(c, newDesc(fid, message.TypeI64, name), i64Kind)
}

func (c *Cache) FindOrAddUint64(fid uint16, name string) *TypedField[uint64] {
	return findOrAdd(c, newDesc(fid, message.TypeU64, name), u64Kind)
}

func (c *Cache) FindOrAddFloat32(fid uint16, name string) *TypedField[float32] {
	return findOrAdd(c, newDesc(fid, message.TypeF32, name), f32Kind)
}

func (c *Cache) FindOrAddFloat64(fid uint16, name string) *TypedField[float64] {
	return findOrAdd(c, newDesc(fid, message.TypeF64, name), f64Kind)
}

func (c *Cache) FindOrAddString(fid uint16, name string) *TypedField[string] {
	return findOrAdd(c, newDesc(fid, message.TypeString, name), stringKind)
}

func (c *Cache) FindOrAddDateTime(fid uint16, name string) *TypedField[time.Time] {
	return findOrAdd(c, newDesc(fid, message.TypeTime, name), dateTimeKind)
}

func (c *Cache) FindOrAddPrice(fid uint16, name string) *TypedField[message.Price] {
	return findOrAdd(c, newDesc(fid, message.TypePrice, name), priceKind)
}

// FindOrAddBoolByDescriptor is FindOrAddBool keyed by a dictionary descriptor. A new cell
// shares desc; the ByDescriptor variants of the other types behave the same way.
func (c *Cache) FindOrAddBoolByDescriptor(desc *message.Descriptor) *TypedField[bool] {
	return findOrAdd(c, desc, boolKind)
}

func (c *Cache) FindOrAddCharByDescriptor(desc *message.Descriptor) *TypedField[byte] {
	return findOrAdd(c, desc, charKind)
}

func (c *Cache) FindOrAddInt8ByDescriptor(desc *message.Descriptor) *TypedField[int8] {
	return findOrAdd(c, desc, i8Kind)
}

func (c *Cache) FindOrAddUint8ByDescriptor(desc *message.Descriptor) *TypedField[uint8] {
	return findOrAdd(c, desc, u8Kind)
}

func (c *Cache) FindOrAddInt16ByDescriptor(desc *message.Descriptor) *TypedField[int16] {
	return findOrAdd(c, desc, i16Kind)
}

func (c *Cache) FindOrAddUint16ByDescriptor(desc *message.Descriptor) *TypedField[uint16] {
	return findOrAdd(c, desc, u16Kind)
}

func (c *Cache) FindOrAddInt32ByDescriptor(desc *message.Descriptor) *TypedField[int32] {
	return findOrAdd(c, desc, i32Kind)
}

func (c *Cache) FindOrAddUint32ByDescriptor(desc *message.Descriptor) *TypedField[uint32] {
	return findOrAdd(c, desc, u32Kind)
}

func (c *Cache) FindOrAddInt64ByDescriptor(desc *message.Descriptor) *TypedField[int64] {
	return findOrAdd(c, desc, i64Kind)
}

func (c *Cache) FindOrAddUint64ByDescriptor(desc *message.Descriptor) *TypedField[uint64] {
	return findOrAdd(c, desc, u64Kind)
}

func (c *Cache) FindOrAddFloat32ByDescriptor(desc *message.Descriptor) *TypedField[float32] {
	return findOrAdd(c, desc, f32Kind)
}

func (c *Cache) FindOrAddFloat64ByDescriptor(desc *message.Descriptor) *TypedField[float64] {
	return findOrAdd(c, desc, f64Kind)
}

func (c *Cache) FindOrAddStringByDescriptor(desc *message.Descriptor) *TypedField[string] {
	return findOrAdd(c, desc, stringKind)
}

func (c *Cache) FindOrAddDateTimeByDescriptor(desc *message.Descriptor) *TypedField[time.Time] {
	return findOrAdd(c, desc, dateTimeKind)
}

func (c *Cache) FindOrAddPriceByDescriptor(desc *message.Descriptor) *TypedField[message.Price] {
	return findOrAdd(c, desc, priceKind)
}

// Apply writes every cacheable field of msg into the cache, creating cells on first sight.
// Fields of uncacheable types are skipped. When dict is non-nil it supplies names and
// descriptors for new cells.
//
// When delta is non-nil it is cleared first and then receives each cell that this call
// left Modified, once, in the order the fields first appeared in msg. A fid repeated
// within msg updates the same cell and the last value wins.
func (c *Cache) Apply(msg message.Message, dict message.Dictionary, delta *List) error {
	if msg == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Cache", "Apply", "validate message")
	}
	if delta != nil {
		delta.Clear()
	}
	v := applyVisitor{cache: c, dict: dict, delta: delta}
	if err := msg.Iterate(v.visit, dict); err != nil {
		return errors.Wrap(err, "Cache", "Apply", "iterate message")
	}
	return nil
}

// applyVisitor is created per Apply call so no iteration state outlives it.
type applyVisitor struct {
	cache *Cache
	dict  message.Dictionary
	delta *List
	added map[Field]struct{}
}

func (v *applyVisitor) visit(_ message.Message, raw message.Field) error {
	typ := raw.Type()
	if !typ.Cacheable() {
		return nil
	}

	c := v.cache
	fid := raw.Fid()
	var cell Field
	if fid != 0 {
		cell = c.fields.FindByFid(fid)
	}
	if cell == nil {
		desc := v.descriptor(raw, typ)
		if fid == 0 {
			if desc.Name() == "" {
				return nil
			}
			cell = c.fields.FindByName(desc.Name())
		}
		if cell == nil {
			f, _ := NewField(typ, desc)
			c.attach(f)
			cell = f
		}
	}

	if err := cell.ApplyField(raw); err != nil {
		c.opts.logger.Debug("Skipping field with incompatible type",
			"fid", fid, "cached_type", cell.Type().String(), "wire_type", typ.String(), "error", err)
		return nil
	}

	if v.delta != nil && cell.IsModified() {
		if v.added == nil {
			v.added = make(map[Field]struct{})
		}
		if _, dup := v.added[cell]; !dup {
			v.added[cell] = struct{}{}
			v.delta.Add(cell)
		}
	}
	return nil
}

// descriptor picks the descriptor for a new cell: the dictionary's when it knows the fid,
// otherwise an ad hoc one named from the payload if the payload has names.
func (v *applyVisitor) descriptor(raw message.Field, typ message.FieldType) *message.Descriptor {
	if v.dict != nil && raw.Fid() != 0 {
		if desc, ok := v.dict.FieldByFid(raw.Fid()); ok {
			return desc
		}
	}
	name, err := raw.Name()
	if err != nil {
		name = ""
	}
	return message.NewDescriptor(raw.Fid(), typ, name).WithTrackModState(v.cache.opts.trackModState)
}

// DeltaMsg writes every cell that is not NotModified into msg and clears its state.
func (c *Cache) DeltaMsg(msg message.Message) error {
	for _, f := range c.fields.fields {
		if f.IsUnmodified() {
			continue
		}
		if err := f.AddToMessage(c.opts.useFieldNames, msg); err != nil {
			return errors.Wrap(err, "Cache", "DeltaMsg", fmt.Sprintf("write fid %d", f.Fid()))
		}
		f.ClearModState()
	}
	return nil
}

// FullMsg writes every cell into msg without touching modification state.
func (c *Cache) FullMsg(msg message.Message) error {
	for _, f := range c.fields.fields {
		if err := f.AddToMessage(c.opts.useFieldNames, msg); err != nil {
			return errors.Wrap(err, "Cache", "FullMsg", fmt.Sprintf("write fid %d", f.Fid()))
		}
	}
	return nil
}

// DeltaFields returns the cells DeltaMsg would write and clears their state.
func (c *Cache) DeltaFields() []ReadOnlyField {
	var out []ReadOnlyField
	for _, f := range c.fields.fields {
		if f.IsUnmodified() {
			continue
		}
		out = append(out, f)
		f.ClearModState()
	}
	return out
}

// FullFields returns every cell in insertion order.
func (c *Cache) FullFields() []ReadOnlyField {
	out := make([]ReadOnlyField, len(c.fields.fields))
	for i, f := range c.fields.fields {
		out[i] = f
	}
	return out
}

// Clear drops every cell.
func (c *Cache) Clear() { c.fields.Clear() }

func (c *Cache) Len() int      { return c.fields.Len() }
func (c *Cache) IsEmpty() bool { return c.fields.IsEmpty() }

// Each calls fn for every cell in insertion order.
func (c *Cache) Each(fn func(Field)) { c.fields.Each(fn) }
