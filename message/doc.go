// Package message defines the field-oriented market data message model used by the
// cache, the middleware bridges and the resource pool.
//
// A message is an ordered list of fields. Each field carries a numeric id (fid), an
// optional name and a wire type tag (FieldType). Duplicate fids are legal and are
// presented in wire order.
//
// # Reading
//
// Consumers walk a message with Iterate, passing a FieldFunc and an optional Dictionary.
// The Field handed to the callback is a transient view; copy values out before
// returning. When the payload omits names the dictionary supplies them:
//
//	err := msg.Iterate(func(_ message.Message, f message.Field) error {
//	    name, _ := f.Name()
//	    v, err := f.F64()
//	    ...
//	}, dict)
//
// # Writing
//
// Msg is the in-memory implementation. Its Add methods append typed fields and the
// package-level Marshal and Unmarshal functions move it across a transport as JSON.
//
// # Prices
//
// Price wraps a shopspring decimal with a display precision hint so that values such as
// 101.250 round-trip without binary float error.
package message
