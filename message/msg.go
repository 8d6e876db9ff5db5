package message

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/c360/mamastreams/errors"
)

// Msg is an in-memory Message. Fields keep insertion order and duplicate fids are allowed;
// iteration presents them in the order they were added.
//
// Msg is not safe for concurrent mutation.
type Msg struct {
	fields []msgField
}

type msgField struct {
	fid   uint16
	name  string
	typ   FieldType
	value any
}

// NewMsg returns an empty message.
func NewMsg() *Msg {
	return &Msg{}
}

// NumFields returns the number of fields, counting duplicates.
func (m *Msg) NumFields() int {
	return len(m.fields)
}

// Clear removes every field.
func (m *Msg) Clear() {
	m.fields = m.fields[:0]
}

// Iterate visits every field in insertion order.
func (m *Msg) Iterate(fn FieldFunc, dict Dictionary) error {
	if fn == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Msg", "Iterate", "validate callback")
	}
	view := fieldView{dict: dict}
	for i := range m.fields {
		view.f = &m.fields[i]
		if err := fn(m, &view); err != nil {
			return err
		}
	}
	return nil
}

// Field returns the first field matching fid, or name when fid is zero.
func (m *Msg) Field(name string, fid uint16) (Field, error) {
	for i := range m.fields {
		f := &m.fields[i]
		if (fid != 0 && f.fid == fid) || (fid == 0 && name != "" && f.name == name) {
			return &fieldView{f: f}, nil
		}
	}
	return nil, errors.ErrFieldNotFound
}

func (m *Msg) add(name string, fid uint16, typ FieldType, v any) error {
	if fid == 0 && name == "" {
		return errors.WrapInvalid(errors.ErrNullArg, "Msg", "Add"+typ.String(), "validate field identity")
	}
	m.fields = append(m.fields, msgField{fid: fid, name: name, typ: typ, value: v})
	return nil
}

// AddBool appends a BOOL field.
func (m *Msg) AddBool(name string, fid uint16, v bool) error { return m.add(name, fid, TypeBool, v) }

// AddChar appends a CHAR field.
func (m *Msg) AddChar(name string, fid uint16, v byte) error { return m.add(name, fid, TypeChar, v) }

// AddI8 appends an I8 field.
func (m *Msg) AddI8(name string, fid uint16, v int8) error { return m.add(name, fid, TypeI8, v) }

// AddU8 appends a U8 field.
func (m *Msg) AddU8(name string, fid uint16, v uint8) error { return m.add(name, fid, TypeU8, v) }

// AddI16 appends an I16 field.
func (m *Msg) AddI16(name string, fid uint16, v int16) error { return m.add(name, fid, TypeI16, v) }

// AddU16 appends a U16 field.
func (m *Msg) AddU16(name string, fid uint16, v uint16) error { return m.add(name, fid, TypeU16, v) }

// AddI32 appends an I32 field.
func (m *Msg) AddI32(name string, fid uint16, v int32) error { return m.add(name, fid, TypeI32, v) }

// AddU32 appends a U32 field.
func (m *Msg) AddU32(name string, fid uint16, v uint32) error { return m.add(name, fid, TypeU32, v) }

// AddI64 appends an I64 field.
func (m *Msg) AddI64(name string, fid uint16, v int64) error { return m.add(name, fid, TypeI64, v) }

// AddU64 appends a U64 field.
func (m *Msg) AddU64(name string, fid uint16, v uint64) error { return m.add(name, fid, TypeU64, v) }

// AddF32 appends an F32 field.
func (m *Msg) AddF32(name string, fid uint16, v float32) error { return m.add(name, fid, TypeF32, v) }

// AddF64 appends an F64 field.
func (m *Msg) AddF64(name string, fid uint16, v float64) error { return m.add(name, fid, TypeF64, v) }

// AddString appends a STRING field.
func (m *Msg) AddString(name string, fid uint16, v string) error {
	return m.add(name, fid, TypeString, v)
}

// AddDateTime appends a TIME field. Values are stored in UTC.
func (m *Msg) AddDateTime(name string, fid uint16, v time.Time) error {
	return m.add(name, fid, TypeTime, v.UTC())
}

// AddPrice appends a PRICE field.
func (m *Msg) AddPrice(name string, fid uint16, v Price) error {
	return m.add(name, fid, TypePrice, v)
}

// AddOpaque appends an OPAQUE field. Opaque fields are carried but never cached.
func (m *Msg) AddOpaque(name string, fid uint16, v []byte) error {
	return m.add(name, fid, TypeOpaque, append([]byte(nil), v...))
}

// AddVectorI32 appends a VECTOR_I32 field. Vector fields are carried but never cached.
func (m *Msg) AddVectorI32(name string, fid uint16, v []int32) error {
	return m.add(name, fid, TypeVectorI32, append([]int32(nil), v...))
}

// AddMsg appends a nested message field.
func (m *Msg) AddMsg(name string, fid uint16, v *Msg) error {
	return m.add(name, fid, TypeMsg, v)
}

// String renders the message for diagnostics.
func (m *Msg) String() string {
	s := "{"
	for i := range m.fields {
		f := &m.fields[i]
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s|%d|%s=%v", f.name, f.fid, f.typ, f.value)
	}
	return s + "}"
}

// fieldView is the transient Field handed to iteration callbacks.
type fieldView struct {
	f    *msgField
	dict Dictionary
}

func (v *fieldView) Type() FieldType { return v.f.typ }
func (v *fieldView) Fid() uint16     { return v.f.fid }

func (v *fieldView) Name() (string, error) {
	if v.f.name != "" {
		return v.f.name, nil
	}
	if v.dict != nil {
		if d, ok := v.dict.FieldByFid(v.f.fid); ok && d.Name() != "" {
			return d.Name(), nil
		}
	}
	return "", errors.ErrNoFieldName
}

func (v *fieldView) mismatch(want FieldType) error {
	return fmt.Errorf("%w: fid %d is %s, requested %s", errors.ErrTypeMismatch, v.f.fid, v.f.typ, want)
}

// signed widens any integer or float value to int64.
func (v *fieldView) signed(want FieldType) (int64, error) {
	switch x := v.f.value.(type) {
	case int8:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case Price:
		return x.Value.IntPart(), nil
	}
	return 0, v.mismatch(want)
}

func (v *fieldView) unsigned(want FieldType) (uint64, error) {
	if x, ok := v.f.value.(uint64); ok {
		return x, nil
	}
	n, err := v.signed(want)
	return uint64(n), err
}

func (v *fieldView) float(want FieldType) (float64, error) {
	switch x := v.f.value.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case uint64:
		return float64(x), nil
	case Price:
		return x.Float64(), nil
	}
	n, err := v.signed(want)
	return float64(n), err
}

func (v *fieldView) Bool() (bool, error) {
	n, err := v.signed(TypeBool)
	return n != 0, err
}

func (v *fieldView) Char() (byte, error) {
	n, err := v.signed(TypeChar)
	return byte(n), err
}

func (v *fieldView) I8() (int8, error) {
	n, err := v.signed(TypeI8)
	return int8(n), err
}

func (v *fieldView) U8() (uint8, error) {
	n, err := v.unsigned(TypeU8)
	return uint8(n), err
}

func (v *fieldView) I16() (int16, error) {
	n, err := v.signed(TypeI16)
	return int16(n), err
}

func (v *fieldView) U16() (uint16, error) {
	n, err := v.unsigned(TypeU16)
	return uint16(n), err
}

func (v *fieldView) I32() (int32, error) {
	n, err := v.signed(TypeI32)
	return int32(n), err
}

func (v *fieldView) U32() (uint32, error) {
	n, err := v.unsigned(TypeU32)
	return uint32(n), err
}

func (v *fieldView) I64() (int64, error) {
	return v.signed(TypeI64)
}

func (v *fieldView) U64() (uint64, error) {
	return v.unsigned(TypeU64)
}

func (v *fieldView) F32() (float32, error) {
	f, err := v.float(TypeF32)
	return float32(f), err
}

func (v *fieldView) F64() (float64, error) {
	return v.float(TypeF64)
}

func (v *fieldView) Str() (string, error) {
	if s, ok := v.f.value.(string); ok {
		return s, nil
	}
	return "", v.mismatch(TypeString)
}

func (v *fieldView) DateTime() (time.Time, error) {
	if t, ok := v.f.value.(time.Time); ok {
		return t, nil
	}
	return time.Time{}, v.mismatch(TypeTime)
}

func (v *fieldView) Price() (Price, error) {
	switch x := v.f.value.(type) {
	case Price:
		return x, nil
	case float32:
		return Price{Value: decimal.NewFromFloat32(x)}, nil
	case float64:
		return Price{Value: decimal.NewFromFloat(x)}, nil
	}
	n, err := v.signed(TypePrice)
	if err != nil {
		return Price{}, v.mismatch(TypePrice)
	}
	return Price{Value: decimal.NewFromInt(n)}, nil
}
