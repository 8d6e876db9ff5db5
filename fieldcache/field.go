package fieldcache

import (
	"fmt"
	"time"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
)

// ReadOnlyField is the view of a cell returned by the snapshot accessors.
type ReadOnlyField interface {
	Descriptor() *message.Descriptor
	Fid() uint16
	Name() string
	// Type is the cell's actual type, which may differ from the descriptor's declared type.
	Type() message.FieldType

	ModState() ModState
	IsModified() bool
	IsUnmodified() bool
	IsTouched() bool
	TrackModState() bool

	// IsNull reports whether the cell has never been assigned (or was reset to null).
	IsNull() bool
	// Value returns the current value, or nil while the cell is null.
	Value() any
	AddToMessage(includeName bool, msg message.Message) error
	String() string
}

// Field is a typed cache cell.
type Field interface {
	ReadOnlyField

	SetModState(state ModState)
	ClearModState()
	Touch()
	SetTrackModState(track bool)

	// Apply copies other's value into this cell. other must be a cell of the same type.
	Apply(other Field) error
	// ApplyField reads this cell's type out of a raw message field and assigns it.
	ApplyField(f message.Field) error
	// Copy returns a deep copy with its own descriptor.
	Copy() Field
}

// TypedField is the cell implementation for every cacheable type. The behaviour that
// differs per type lives in its kind.
type TypedField[T any] struct {
	kind  *kind[T]
	desc  *message.Descriptor
	value T
	isSet bool
	state ModState
	track bool
}

func newTyped[T any](k *kind[T], desc *message.Descriptor) *TypedField[T] {
	track := true
	if desc != nil {
		track = desc.TrackModState()
	}
	f := &TypedField[T]{kind: k, desc: desc, track: track}
	if !track {
		f.state = Modified
	}
	return f
}

func (f *TypedField[T]) Descriptor() *message.Descriptor {
	if f == nil {
		return nil
	}
	return f.desc
}

func (f *TypedField[T]) Fid() uint16 {
	if f.desc == nil {
		return 0
	}
	return f.desc.Fid()
}

func (f *TypedField[T]) Name() string {
	if f.desc == nil {
		return ""
	}
	return f.desc.Name()
}

func (f *TypedField[T]) Type() message.FieldType { return f.kind.typ }

// Get returns the current value, or the zero value while null.
func (f *TypedField[T]) Get() T { return f.value }

// Set assigns v. With tracking enabled a changed value marks the cell Modified and an
// equal value demotes a Modified cell to Touched.
func (f *TypedField[T]) Set(v T) {
	if !f.track {
		f.value, f.isSet = v, true
		return
	}
	if f.isSet && f.kind.equal(f.value, v) {
		if f.state == Modified {
			f.state = Touched
		}
		return
	}
	f.value, f.isSet = v, true
	f.state = Modified
}

// IsEqual reports whether the cell holds v. A null cell equals nothing.
func (f *TypedField[T]) IsEqual(v T) bool {
	return f.isSet && f.kind.equal(f.value, v)
}

// SetNull resets a string, date-time or price cell to null. It is a no-op for other
// types, which always hold a value once assigned.
func (f *TypedField[T]) SetNull() {
	if !f.kind.nullable || !f.isSet {
		return
	}
	var zero T
	f.value, f.isSet = zero, false
	if f.track {
		f.state = Modified
	}
}

func (f *TypedField[T]) IsNull() bool { return !f.isSet }

func (f *TypedField[T]) Value() any {
	if !f.isSet {
		return nil
	}
	return f.value
}

func (f *TypedField[T]) ModState() ModState { return f.state }
func (f *TypedField[T]) IsModified() bool   { return f.state == Modified }
func (f *TypedField[T]) IsUnmodified() bool { return f.state == NotModified }
func (f *TypedField[T]) IsTouched() bool    { return f.state == Touched }
func (f *TypedField[T]) TrackModState() bool {
	return f.track
}

// SetModState is ignored when tracking is disabled.
func (f *TypedField[T]) SetModState(state ModState) {
	if f.track {
		f.state = state
	}
}

// ClearModState is ignored when tracking is disabled.
func (f *TypedField[T]) ClearModState() {
	if f.track {
		f.state = NotModified
	}
}

// Touch marks an unmodified cell Touched. Modified cells stay Modified.
func (f *TypedField[T]) Touch() {
	if f.track && f.state == NotModified {
		f.state = Touched
	}
}

// SetTrackModState switches tracking. Disabling pins the state at Modified; enabling
// starts again from NotModified.
func (f *TypedField[T]) SetTrackModState(track bool) {
	if f.track == track {
		return
	}
	f.track = track
	if track {
		f.state = NotModified
	} else {
		f.state = Modified
	}
}

func (f *TypedField[T]) Apply(other Field) error {
	if other == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Field", "Apply", "validate source")
	}
	src, ok := other.(*TypedField[T])
	if !ok || src == nil || src.kind != f.kind {
		return errors.WrapInvalid(
			fmt.Errorf("%w: cannot apply %s to %s", errors.ErrTypeMismatch, other.Type(), f.kind.typ),
			"Field", "Apply", "check source type")
	}
	if !src.isSet {
		f.SetNull()
		return nil
	}
	f.Set(src.value)
	return nil
}

func (f *TypedField[T]) ApplyField(raw message.Field) error {
	if raw == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Field", "ApplyField", "validate source")
	}
	v, err := f.kind.read(raw)
	if err != nil {
		return errors.WrapInvalid(err, "Field", "ApplyField", fmt.Sprintf("read %s fid %d", f.kind.typ, raw.Fid()))
	}
	f.Set(v)
	return nil
}

func (f *TypedField[T]) Copy() Field {
	c := *f
	if f.desc != nil {
		c.desc = f.desc.Clone()
	}
	return &c
}

// AddToMessage writes the cell into msg. A null cell is written as its type's zero value.
func (f *TypedField[T]) AddToMessage(includeName bool, msg message.Message) error {
	if msg == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Field", "AddToMessage", "validate message")
	}
	name := ""
	if includeName {
		name = f.Name()
	}
	if err := f.kind.add(msg, name, f.Fid(), f.value); err != nil {
		return errors.Wrap(err, "Field", "AddToMessage", fmt.Sprintf("add fid %d", f.Fid()))
	}
	return nil
}

// String returns the value as text, or "null" for a null string, date-time or price.
func (f *TypedField[T]) String() string {
	if !f.isSet && f.kind.nullable {
		return "null"
	}
	return f.kind.format(f.value)
}

// DateTimeLayout is the text form of date-time cells.
const DateTimeLayout = "2006-01-02 15:04:05.000000"

// NewBool returns a BOOL cell.
func NewBool(desc *message.Descriptor) *TypedField[bool] { return newTyped(boolKind, desc) }

// NewChar returns a CHAR cell.
func NewChar(desc *message.Descriptor) *TypedField[byte] { return newTyped(charKind, desc) }

// NewInt8 returns an I8 cell.
func NewInt8(desc *message.Descriptor) *TypedField[int8] { return newTyped(i8Kind, desc) }

// NewUint8 returns a U8 cell.
func NewUint8(desc *message.Descriptor) *TypedField[uint8] { return newTyped(u8Kind, desc) }

// NewInt16 returns an I16 cell.
func NewInt16(desc *message.Descriptor) *TypedField[int16] { return newTyped(i16Kind, desc) }

// NewUint16 returns a U16 cell.
func NewUint16(desc *message.Descriptor) *TypedField[uint16] { return newTyped(u16Kind, desc) }

// NewInt32 returns an I32 cell.
func NewInt32(desc *message.Descriptor) *TypedField[int32] { return newTyped(i32Kind, desc) }

// NewUint32 returns a U32 cell.
func NewUint32(desc *message.Descriptor) *TypedField[uint32] { return newTyped(u32Kind, desc) }

// NewInt64 returns an I64 cell.
func NewInt64(desc *message.Descriptor) *TypedField[int64] { return newTyped(i64Kind, desc) }

// NewUint64 returns a U64 cell.
func NewUint64(desc *message.Descriptor) *TypedField[uint64] { return newTyped(u64Kind, desc) }

// NewFloat32 returns an F32 cell.
func NewFloat32(desc *message.Descriptor) *TypedField[float32] { return newTyped(f32Kind, desc) }

// NewFloat64 returns an F64 cell.
func NewFloat64(desc *message.Descriptor) *TypedField[float64] { return newTyped(f64Kind, desc) }

// NewString returns a STRING cell.
func NewString(desc *message.Descriptor) *TypedField[string] { return newTyped(stringKind, desc) }

// NewDateTime returns a TIME cell.
func NewDateTime(desc *message.Descriptor) *TypedField[time.Time] {
	return newTyped(dateTimeKind, desc)
}

// NewPrice returns a PRICE cell.
func NewPrice(desc *message.Descriptor) *TypedField[message.Price] {
	return newTyped(priceKind, desc)
}

// NewField returns a cell of wire type typ. ok is false for types the cache cannot hold:
// messages, opaque data, vectors, collections and unknown types.
func NewField(typ message.FieldType, desc *message.Descriptor) (f Field, ok bool) {
	ctor, ok := constructors[typ]
	if !ok {
		return nil, false
	}
	return ctor(desc), true
}

var constructors = map[message.FieldType]func(*message.Descriptor) Field{
	message.TypeBool:   func(d *message.Descriptor) Field { return NewBool(d) },
	message.TypeChar:   func(d *message.Descriptor) Field { return NewChar(d) },
	message.TypeI8:     func(d *message.Descriptor) Field { return NewInt8(d) },
	message.TypeU8:     func(d *message.Descriptor) Field { return NewUint8(d) },
	message.TypeI16:    func(d *message.Descriptor) Field { return NewInt16(d) },
	message.TypeU16:    func(d *message.Descriptor) Field { return NewUint16(d) },
	message.TypeI32:    func(d *message.Descriptor) Field { return NewInt32(d) },
	message.TypeU32:    func(d *message.Descriptor) Field { return NewUint32(d) },
	message.TypeI64:    func(d *message.Descriptor) Field { return NewInt64(d) },
	message.TypeU64:    func(d *message.Descriptor) Field { return NewUint64(d) },
	message.TypeF32:    func(d *message.Descriptor) Field { return NewFloat32(d) },
	message.TypeF64:    func(d *message.Descriptor) Field { return NewFloat64(d) },
	message.TypeString: func(d *message.Descriptor) Field { return NewString(d) },
	message.TypeTime:   func(d *message.Descriptor) Field { return NewDateTime(d) },
	message.TypePrice:  func(d *message.Descriptor) Field { return NewPrice(d) },
}
