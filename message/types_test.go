package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		in   string
		want FieldType
	}{
		{"I32", TypeI32},
		{"string", TypeString},
		{" price ", TypePrice},
		{"DATETIME", TypeTime},
		{"TIME", TypeDateTime},
		{"VECTOR_MSG", TypeVectorMsg},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFieldType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseFieldType("DOUBLE")
	assert.Error(t, err)
}

func TestFieldType_Cacheable(t *testing.T) {
	for _, typ := range []FieldType{
		TypeString, TypeBool, TypeChar, TypeI8, TypeU8, TypeI16, TypeU16, TypeI32,
		TypeU32, TypeI64, TypeU64, TypeF32, TypeF64, TypeTime, TypePrice,
	} {
		assert.True(t, typ.Cacheable(), typ.String())
	}
	for _, typ := range []FieldType{
		TypeMsg, TypeOpaque, TypeVectorI32, TypeVectorString, TypeQuantity, TypeCollection, TypeUnknown,
	} {
		assert.False(t, typ.Cacheable(), typ.String())
	}
}

func TestFieldType_String(t *testing.T) {
	assert.Equal(t, "U16", TypeU16.String())
	assert.Equal(t, "FieldType(200)", FieldType(200).String())
}

func TestDescriptor_WithTrackModState(t *testing.T) {
	d := NewDescriptor(10, TypeF64, "BID")
	assert.True(t, d.TrackModState())

	off := d.WithTrackModState(false)
	assert.False(t, off.TrackModState())
	assert.True(t, d.TrackModState(), "original untouched")
	assert.Equal(t, d.Fid(), off.Fid())
	assert.Equal(t, "BID(fid=10, type=F64)", d.String())
}

func TestPrice_Formatting(t *testing.T) {
	p := NewPrice(1.5)
	assert.Equal(t, "1.5", p.String())
	assert.Equal(t, "1.5000", p.WithHint(Decimals(4)).String())
	assert.Equal(t, "2", p.WithHint(Decimals(0)).String())
	assert.False(t, p.Equal(p.WithHint(Decimals(1))))

	places, ok := Decimals(40).Places()
	assert.True(t, ok)
	assert.Equal(t, int32(16), places)

	_, err := ParsePrice("abc")
	assert.Error(t, err)
}
