package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mamastreams/errors"
)

func TestMarshal_PreservesTypesAndOrder(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
	price, err := ParsePrice("101.250")
	require.NoError(t, err)
	price = price.WithHint(Decimals(3))

	nested := NewMsg()
	require.NoError(t, nested.AddString("inner", 1, "v"))

	m := NewMsg()
	require.NoError(t, m.AddBool("flag", 1, true))
	require.NoError(t, m.AddChar("side", 2, 'B'))
	require.NoError(t, m.AddI8("i8", 3, -8))
	require.NoError(t, m.AddU64("u64", 4, 1<<63))
	require.NoError(t, m.AddF32("f32", 5, 1.25))
	require.NoError(t, m.AddString("", 6, "hello"))
	require.NoError(t, m.AddDateTime("time", 7, ts))
	require.NoError(t, m.AddPrice("bid", 8, price))
	require.NoError(t, m.AddOpaque("blob", 9, []byte{1, 2, 3}))
	require.NoError(t, m.AddMsg("sub", 10, nested))
	require.NoError(t, m.AddI8("i8", 3, 9))

	data, err := Marshal(m)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, m.NumFields(), got.NumFields())

	var types []FieldType
	require.NoError(t, got.Iterate(func(_ Message, f Field) error {
		types = append(types, f.Type())
		return nil
	}, nil))
	assert.Equal(t, []FieldType{
		TypeBool, TypeChar, TypeI8, TypeU64, TypeF32, TypeString,
		TypeTime, TypePrice, TypeOpaque, TypeMsg, TypeI8,
	}, types)

	f, err := got.Field("", 4)
	require.NoError(t, err)
	u, err := f.U64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), u)

	f, err = got.Field("", 7)
	require.NoError(t, err)
	gotTime, err := f.DateTime()
	require.NoError(t, err)
	assert.True(t, ts.Equal(gotTime))

	f, err = got.Field("", 8)
	require.NoError(t, err)
	gotPrice, err := f.Price()
	require.NoError(t, err)
	assert.True(t, price.Equal(gotPrice))
	assert.Equal(t, "101.250", gotPrice.String())
}

func TestUnmarshal_RejectsUnsupportedType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"fields":[{"fid":1,"type":"COLLECTION","value":null}]}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedType)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte(`{not json`))
	assert.Error(t, err)
}
