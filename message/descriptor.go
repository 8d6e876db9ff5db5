package message

import "fmt"

// Descriptor identifies a field: its id, name and declared type. A fid of zero means the
// field has no unique id and is matched by name only.
//
// Descriptors are immutable once built; WithTrackModState returns a modified copy.
type Descriptor struct {
	fid           uint16
	name          string
	typ           FieldType
	trackModState bool
}

// NewDescriptor returns a descriptor with modification tracking enabled.
func NewDescriptor(fid uint16, typ FieldType, name string) *Descriptor {
	return &Descriptor{
		fid:           fid,
		name:          name,
		typ:           typ,
		trackModState: true,
	}
}

// Fid returns the field id.
func (d *Descriptor) Fid() uint16 { return d.fid }

// Name returns the field name.
func (d *Descriptor) Name() string { return d.name }

// Type returns the declared type.
func (d *Descriptor) Type() FieldType { return d.typ }

// TrackModState reports whether fields built from this descriptor track modification
// state by default.
func (d *Descriptor) TrackModState() bool { return d.trackModState }

// WithTrackModState returns a copy with the tracking default replaced.
func (d *Descriptor) WithTrackModState(track bool) *Descriptor {
	c := *d
	c.trackModState = track
	return &c
}

// Clone returns an independent copy.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	return &c
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(fid=%d, type=%s)", d.name, d.fid, d.typ)
}
