package message

import "time"

// Field is a read-only view of one field during message iteration. A Field passed to a
// FieldFunc is only valid for the duration of the callback.
//
// Typed getters convert between numeric types the way a wire accessor would: narrowing
// conversions wrap and are not reported. A getter that cannot produce its type returns
// ErrTypeMismatch.
type Field interface {
	Type() FieldType
	Fid() uint16
	// Name returns ErrNoFieldName when the payload carries no names and no dictionary
	// was supplied to the iteration.
	Name() (string, error)

	Bool() (bool, error)
	Char() (byte, error)
	I8() (int8, error)
	U8() (uint8, error)
	I16() (int16, error)
	U16() (uint16, error)
	I32() (int32, error)
	U32() (uint32, error)
	I64() (int64, error)
	U64() (uint64, error)
	F32() (float32, error)
	F64() (float64, error)
	Str() (string, error)
	DateTime() (time.Time, error)
	Price() (Price, error)
}

// FieldFunc is called for each field of a message in wire order. Returning an error stops
// the iteration and is returned from Iterate.
type FieldFunc func(msg Message, field Field) error

// Message is the container the field cache reads from and writes to.
type Message interface {
	// Iterate visits every field in wire order. A non-nil dictionary is used to resolve
	// names that are not embedded in the payload.
	Iterate(fn FieldFunc, dict Dictionary) error
	NumFields() int

	// Field looks a field up by fid, or by name when fid is zero. It returns
	// ErrFieldNotFound when absent.
	Field(name string, fid uint16) (Field, error)

	AddBool(name string, fid uint16, v bool) error
	AddChar(name string, fid uint16, v byte) error
	AddI8(name string, fid uint16, v int8) error
	AddU8(name string, fid uint16, v uint8) error
	AddI16(name string, fid uint16, v int16) error
	AddU16(name string, fid uint16, v uint16) error
	AddI32(name string, fid uint16, v int32) error
	AddU32(name string, fid uint16, v uint32) error
	AddI64(name string, fid uint16, v int64) error
	AddU64(name string, fid uint16, v uint64) error
	AddF32(name string, fid uint16, v float32) error
	AddF64(name string, fid uint16, v float64) error
	AddString(name string, fid uint16, v string) error
	AddDateTime(name string, fid uint16, v time.Time) error
	AddPrice(name string, fid uint16, v Price) error
}

// Dictionary resolves field ids and names to descriptors.
type Dictionary interface {
	FieldByFid(fid uint16) (*Descriptor, bool)
	FieldByName(name string) (*Descriptor, bool)
}
