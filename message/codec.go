package message

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/c360/mamastreams/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireMsg is the JSON envelope carried by transports.
type wireMsg struct {
	Fields []wireField `json:"fields"`
}

type wireField struct {
	Fid   uint16              `json:"fid,omitempty"`
	Name  string              `json:"name,omitempty"`
	Type  FieldType           `json:"type"`
	Value jsoniter.RawMessage `json:"value"`
}

// Marshal encodes a message for the wire. Field order and duplicates are preserved.
func Marshal(m *Msg) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func toWire(m *Msg) (*wireMsg, error) {
	w := &wireMsg{Fields: make([]wireField, 0, len(m.fields))}
	for i := range m.fields {
		f := &m.fields[i]
		var (
			raw []byte
			err error
		)
		switch v := f.value.(type) {
		case time.Time:
			raw, err = json.Marshal(v.Format(time.RFC3339Nano))
		case *Msg:
			var nested *wireMsg
			if nested, err = toWire(v); err == nil {
				raw, err = json.Marshal(nested)
			}
		default:
			raw, err = json.Marshal(v)
		}
		if err != nil {
			return nil, errors.WrapInvalid(err, "message", "Marshal", fmt.Sprintf("encode fid %d", f.fid))
		}
		w.Fields = append(w.Fields, wireField{Fid: f.fid, Name: f.name, Type: f.typ, Value: raw})
	}
	return w, nil
}

// Unmarshal decodes a wire payload produced by Marshal.
func Unmarshal(data []byte) (*Msg, error) {
	var w wireMsg
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.WrapInvalid(err, "message", "Unmarshal", "decode envelope")
	}
	return fromWire(&w)
}

func fromWire(w *wireMsg) (*Msg, error) {
	m := &Msg{fields: make([]msgField, 0, len(w.Fields))}
	for _, wf := range w.Fields {
		v, err := decodeValue(wf.Type, wf.Value)
		if err != nil {
			return nil, errors.WrapInvalid(err, "message", "Unmarshal", fmt.Sprintf("decode fid %d", wf.Fid))
		}
		m.fields = append(m.fields, msgField{fid: wf.Fid, name: wf.Name, typ: wf.Type, value: v})
	}
	return m, nil
}

func decodeValue(typ FieldType, raw jsoniter.RawMessage) (any, error) {
	switch typ {
	case TypeBool:
		return decodeAs[bool](raw)
	case TypeChar, TypeU8:
		return decodeAs[uint8](raw)
	case TypeI8:
		return decodeAs[int8](raw)
	case TypeI16:
		return decodeAs[int16](raw)
	case TypeU16:
		return decodeAs[uint16](raw)
	case TypeI32:
		return decodeAs[int32](raw)
	case TypeU32:
		return decodeAs[uint32](raw)
	case TypeI64:
		return decodeAs[int64](raw)
	case TypeU64:
		return decodeAs[uint64](raw)
	case TypeF32:
		return decodeAs[float32](raw)
	case TypeF64:
		return decodeAs[float64](raw)
	case TypeString:
		return decodeAs[string](raw)
	case TypePrice:
		return decodeAs[Price](raw)
	case TypeOpaque:
		return decodeAs[[]byte](raw)
	case TypeVectorI32:
		return decodeAs[[]int32](raw)
	case TypeTime:
		s, err := decodeAs[string](raw)
		if err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case TypeMsg:
		var nested wireMsg
		if err := json.Unmarshal(raw, &nested); err != nil {
			return nil, err
		}
		return fromWire(&nested)
	}
	return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedType, typ)
}

func decodeAs[T any](raw jsoniter.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
