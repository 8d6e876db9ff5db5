package message

import (
	"fmt"
	"strings"
)

// FieldType is the wire type tag of a message field.
type FieldType uint8

// Wire type tags.
const (
	TypeMsg          FieldType = 1
	TypeOpaque       FieldType = 7
	TypeString       FieldType = 8
	TypeBool         FieldType = 9
	TypeChar         FieldType = 10
	TypeI8           FieldType = 14
	TypeU8           FieldType = 15
	TypeI16          FieldType = 16
	TypeU16          FieldType = 17
	TypeI32          FieldType = 18
	TypeU32          FieldType = 19
	TypeI64          FieldType = 20
	TypeU64          FieldType = 21
	TypeF32          FieldType = 24
	TypeF64          FieldType = 25
	TypeTime         FieldType = 26
	TypePrice        FieldType = 27
	TypeVectorI8     FieldType = 34
	TypeVectorU8     FieldType = 35
	TypeVectorI16    FieldType = 36
	TypeVectorU16    FieldType = 37
	TypeVectorI32    FieldType = 38
	TypeVectorU32    FieldType = 39
	TypeVectorI64    FieldType = 40
	TypeVectorU64    FieldType = 41
	TypeVectorF32    FieldType = 44
	TypeVectorF64    FieldType = 45
	TypeVectorString FieldType = 46
	TypeVectorMsg    FieldType = 47
	TypeVectorTime   FieldType = 48
	TypeVectorPrice  FieldType = 49
	TypeQuantity     FieldType = 50
	TypeCollection   FieldType = 99
	TypeUnknown      FieldType = 100
)

// TypeDateTime names the same wire tag as TypeTime. The wire enumeration has a single
// date-time tag; the second name exists for callers that spell it that way.
const TypeDateTime = TypeTime

var typeNames = map[FieldType]string{
	TypeMsg:          "MSG",
	TypeOpaque:       "OPAQUE",
	TypeString:       "STRING",
	TypeBool:         "BOOL",
	TypeChar:         "CHAR",
	TypeI8:           "I8",
	TypeU8:           "U8",
	TypeI16:          "I16",
	TypeU16:          "U16",
	TypeI32:          "I32",
	TypeU32:          "U32",
	TypeI64:          "I64",
	TypeU64:          "U64",
	TypeF32:          "F32",
	TypeF64:          "F64",
	TypeTime:         "TIME",
	TypePrice:        "PRICE",
	TypeVectorI8:     "VECTOR_I8",
	TypeVectorU8:     "VECTOR_U8",
	TypeVectorI16:    "VECTOR_I16",
	TypeVectorU16:    "VECTOR_U16",
	TypeVectorI32:    "VECTOR_I32",
	TypeVectorU32:    "VECTOR_U32",
	TypeVectorI64:    "VECTOR_I64",
	TypeVectorU64:    "VECTOR_U64",
	TypeVectorF32:    "VECTOR_F32",
	TypeVectorF64:    "VECTOR_F64",
	TypeVectorString: "VECTOR_STRING",
	TypeVectorMsg:    "VECTOR_MSG",
	TypeVectorTime:   "VECTOR_TIME",
	TypeVectorPrice:  "VECTOR_PRICE",
	TypeQuantity:     "QUANTITY",
	TypeCollection:   "COLLECTION",
	TypeUnknown:      "UNKNOWN",
}

var typesByName = func() map[string]FieldType {
	m := make(map[string]FieldType, len(typeNames)+1)
	for t, name := range typeNames {
		m[name] = t
	}
	m["DATETIME"] = TypeDateTime
	return m
}()

// String returns the wire name of the type, e.g. "I32".
func (t FieldType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// ParseFieldType resolves a wire name (case-insensitive) to its tag.
func ParseFieldType(name string) (FieldType, error) {
	if t, ok := typesByName[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	return TypeUnknown, fmt.Errorf("unknown field type %q", name)
}

// Cacheable reports whether values of this type can be held by a field cache.
// Messages, opaque blobs, vectors, collections and unknown types cannot.
func (t FieldType) Cacheable() bool {
	switch t {
	case TypeString, TypeBool, TypeChar,
		TypeI8, TypeU8, TypeI16, TypeU16, TypeI32, TypeU32, TypeI64, TypeU64,
		TypeF32, TypeF64, TypeTime, TypePrice:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
