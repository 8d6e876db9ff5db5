package fieldcache

import (
	"strconv"
	"time"

	"github.com/c360/mamastreams/message"
)

// kind carries the per-type behaviour of a TypedField.
type kind[T any] struct {
	typ      message.FieldType
	read     func(message.Field) (T, error)
	add      func(msg message.Message, name string, fid uint16, v T) error
	equal    func(a, b T) bool
	format   func(T) string
	nullable bool
}

func comparableKind[T comparable](
	typ message.FieldType,
	read func(message.Field) (T, error),
	add func(message.Message, string, uint16, T) error,
	format func(T) string,
) *kind[T] {
	return &kind[T]{
		typ:    typ,
		read:   read,
		add:    add,
		equal:  func(a, b T) bool { return a == b },
		format: format,
	}
}

func formatInt[T int8 | int16 | int32 | int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatUint[T uint8 | uint16 | uint32 | uint64](v T) string {
	return strconv.FormatUint(uint64(v), 10)
}

var (
	boolKind = comparableKind(message.TypeBool,
		message.Field.Bool, message.Message.AddBool, strconv.FormatBool)
	charKind = comparableKind(message.TypeChar,
		message.Field.Char, message.Message.AddChar, func(c byte) string { return string([]byte{c}) })

	i8Kind  = comparableKind(message.TypeI8, message.Field.I8, message.Message.AddI8, formatInt[int8])
	u8Kind  = comparableKind(message.TypeU8, message.Field.U8, message.Message.AddU8, formatUint[uint8])
	i16Kind = comparableKind(message.TypeI16, message.Field.I16, message.Message.AddI16, formatInt[int16])
	u16Kind = comparableKind(message.TypeU16, message.Field.U16, message.Message.AddU16, formatUint[uint16])
	i32Kind = comparableKind(message.TypeI32, message.Field.I32, message.Message.AddI32, formatInt[int32])
	u32Kind = comparableKind(message.TypeU32, message.Field.U32, message.Message.AddU32, formatUint[uint32])
	i64Kind = comparableKind(message.TypeI64, message.Field.I64, message.Message.AddI64, formatInt[int64])
	u64Kind = comparableKind(message.TypeU64, message.Field.U64, message.Message.AddU64, formatUint[uint64])

	f32Kind = comparableKind(message.TypeF32, message.Field.F32, message.Message.AddF32,
		func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) })
	f64Kind = comparableKind(message.TypeF64, message.Field.F64, message.Message.AddF64,
		func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) })

	stringKind = &kind[string]{
		typ:      message.TypeString,
		read:     message.Field.Str,
		add:      message.Message.AddString,
		equal:    func(a, b string) bool { return a == b },
		format:   func(s string) string { return s },
		nullable: true,
	}

	dateTimeKind = &kind[time.Time]{
		typ:      message.TypeTime,
		read:     message.Field.DateTime,
		add:      message.Message.AddDateTime,
		equal:    time.Time.Equal,
		format:   func(t time.Time) string { return t.UTC().Format(DateTimeLayout) },
		nullable: true,
	}

	priceKind = &kind[message.Price]{
		typ:      message.TypePrice,
		read:     message.Field.Price,
		add:      message.Message.AddPrice,
		equal:    message.Price.Equal,
		format:   message.Price.String,
		nullable: true,
	}
)
