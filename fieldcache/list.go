package fieldcache

import "github.com/c360/mamastreams/message"

// List is an ordered collection of cells. Lookups scan in insertion order and return the
// first match; duplicate fids are not rejected on insert.
type List struct {
	fields []Field
}

// NewList returns an empty list.
func NewList() *List {
	return &List{}
}

// Add appends f when it is non-nil and carries a descriptor.
func (l *List) Add(f Field) bool {
	if f == nil || f.Descriptor() == nil {
		return false
	}
	l.fields = append(l.fields, f)
	return true
}

// AddIfModified appends f when Add would and f is not in the NotModified state.
func (l *List) AddIfModified(f Field) bool {
	if f == nil || f.Descriptor() == nil || f.IsUnmodified() {
		return false
	}
	l.fields = append(l.fields, f)
	return true
}

// FindByName returns the first cell named name, or nil.
func (l *List) FindByName(name string) Field {
	for _, f := range l.fields {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// FindByFid returns the first cell with the given fid, or nil.
func (l *List) FindByFid(fid uint16) Field {
	for _, f := range l.fields {
		if f.Fid() == fid {
			return f
		}
	}
	return nil
}

// FindByDescriptor looks up desc's fid.
func (l *List) FindByDescriptor(desc *message.Descriptor) Field {
	if desc == nil {
		return nil
	}
	return l.FindByFid(desc.Fid())
}

// Clear removes every cell.
func (l *List) Clear() {
	clear(l.fields)
	l.fields = l.fields[:0]
}

func (l *List) Len() int      { return len(l.fields) }
func (l *List) IsEmpty() bool { return len(l.fields) == 0 }

// At returns the i'th cell in insertion order.
func (l *List) At(i int) Field { return l.fields[i] }

// Fields returns a copy of the cells in insertion order.
func (l *List) Fields() []Field {
	out := make([]Field, len(l.fields))
	copy(out, l.fields)
	return out
}

// Each calls fn for every cell in insertion order.
func (l *List) Each(fn func(Field)) {
	for _, f := range l.fields {
		fn(f)
	}
}
