package fieldcache

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mamastreams/dictionary"
	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
)

func fids(fields []ReadOnlyField) []uint16 {
	out := make([]uint16, len(fields))
	for i, f := range fields {
		out[i] = f.Fid()
	}
	return out
}

func msgFids(t *testing.T, m message.Message) []uint16 {
	t.Helper()
	var out []uint16
	require.NoError(t, m.Iterate(func(_ message.Message, f message.Field) error {
		out = append(out, f.Fid())
		return nil
	}, nil))
	return out
}

func quote(t *testing.T, bid, ask float64, sym string) *message.Msg {
	t.Helper()
	m := message.NewMsg()
	require.NoError(t, m.AddString("SYMBOL", 1, sym))
	require.NoError(t, m.AddF64("BID", 2, bid))
	require.NoError(t, m.AddF64("ASK", 3, ask))
	return m
}

func TestCache_DeltaAndFull(t *testing.T) {
	c := New()

	require.NoError(t, c.Apply(quote(t, 10, 11, "IBM"), nil, nil))
	assert.Equal(t, 3, c.Len())

	delta := message.NewMsg()
	require.NoError(t, c.DeltaMsg(delta))
	assert.Equal(t, []uint16{1, 2, 3}, msgFids(t, delta))

	second := message.NewMsg()
	require.NoError(t, c.DeltaMsg(second))
	assert.Equal(t, 0, second.NumFields(), "second delta with no apply is empty")

	require.NoError(t, c.Apply(quote(t, 10, 12, "IBM"), nil, nil))
	delta = message.NewMsg()
	require.NoError(t, c.DeltaMsg(delta))
	assert.Equal(t, []uint16{3}, msgFids(t, delta))

	full := message.NewMsg()
	require.NoError(t, c.FullMsg(full))
	assert.Equal(t, []uint16{1, 2, 3}, msgFids(t, full))

	ask, err := full.Field("", 3)
	require.NoError(t, err)
	v, err := ask.F64()
	require.NoError(t, err)
	assert.Equal(t, 12.0, v, "full carries latest value")

	// FullMsg leaves state alone.
	again := message.NewMsg()
	require.NoError(t, c.DeltaMsg(again))
	assert.Equal(t, 0, again.NumFields())
}

func TestCache_ApplyDeltaList(t *testing.T) {
	c := New()
	delta := NewList()

	require.NoError(t, c.Apply(quote(t, 10, 11, "IBM"), nil, delta))
	assert.Equal(t, 3, delta.Len())
	c.DeltaFields()

	require.NoError(t, c.Apply(quote(t, 10, 11.5, "IBM"), nil, delta))
	require.Equal(t, 1, delta.Len(), "delta is cleared and holds only changed cells")
	assert.Equal(t, uint16(3), delta.At(0).Fid())
}

func TestCache_ApplyRepeatedFidLastWriteWins(t *testing.T) {
	c := New()
	m := message.NewMsg()
	require.NoError(t, m.AddI32("SIZE", 5, 100))
	require.NoError(t, m.AddI32("SIZE", 5, 200))
	require.NoError(t, m.AddI32("SIZE", 5, 200))

	delta := NewList()
	require.NoError(t, c.Apply(m, nil, delta))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, delta.Len(), "cell appears once")
	f := c.FindOrAddInt32(5, "SIZE")
	require.NotNil(t, f)
	assert.Equal(t, int32(200), f.Get())
}

func TestCache_ApplySkipsUncacheableTypes(t *testing.T) {
	c := New()
	m := message.NewMsg()
	require.NoError(t, m.AddOpaque("BLOB", 1, []byte{1}))
	require.NoError(t, m.AddVectorI32("VEC", 2, []int32{1, 2}))
	require.NoError(t, m.AddMsg("SUB", 3, message.NewMsg()))
	require.NoError(t, m.AddBool("OK", 4, true))

	require.NoError(t, c.Apply(m, nil, nil))
	assert.Equal(t, 1, c.Len())
	assert.NotNil(t, c.Find(4))
	assert.Nil(t, c.Find(1))
}

func TestCache_ApplyWithDictionary(t *testing.T) {
	bid := message.NewDescriptor(22, message.TypeF64, "BID")
	dict := dictionary.New(bid)

	m := message.NewMsg()
	require.NoError(t, m.AddF64("", 22, 99.5))
	require.NoError(t, m.AddI32("", 40, 7))

	c := New(WithUseFieldNames(true))
	require.NoError(t, c.Apply(m, dict, nil))

	f := c.Find(22)
	require.NotNil(t, f)
	assert.Equal(t, "BID", f.Name())
	assert.Same(t, bid, f.Descriptor(), "dictionary descriptor is shared")

	unnamed := c.Find(40)
	require.NotNil(t, unnamed)
	assert.Equal(t, "", unnamed.Name(), "name lookup failure is tolerated")

	out := message.NewMsg()
	require.NoError(t, c.FullMsg(out))
	_, err := out.Field("BID", 0)
	assert.NoError(t, err)
}

func TestCache_ApplyTypeConflictIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := New(WithLogger(logger))

	first := message.NewMsg()
	require.NoError(t, first.AddString("SYM", 1, "IBM"))
	require.NoError(t, c.Apply(first, nil, nil))

	second := message.NewMsg()
	require.NoError(t, second.AddI32("SYM", 1, 5))
	require.NoError(t, c.Apply(second, nil, nil))

	f := c.FindOrAddString(1, "SYM")
	require.NotNil(t, f)
	assert.Equal(t, "IBM", f.Get())
	assert.Contains(t, buf.String(), "incompatible type")
}

func TestCache_ApplyNilMessage(t *testing.T) {
	err := New().Apply(nil, nil, nil)
	assert.ErrorIs(t, err, errors.ErrNullArg)
}

func TestCache_FindOrAdd(t *testing.T) {
	c := New()

	b := c.FindOrAddBool(1, "FLAG")
	require.NotNil(t, b)
	assert.Same(t, b, c.FindOrAddBool(1, "FLAG"))
	assert.Nil(t, c.FindOrAddInt32(1, "FLAG"), "existing cell of another type")

	p := c.FindOrAddPriceByDescriptor(message.NewDescriptor(2, message.TypePrice, "BID"))
	require.NotNil(t, p)
	assert.Equal(t, "BID", c.FindByName("BID").Name())
	assert.Same(t, Field(p), c.FindByDescriptor(message.NewDescriptor(2, message.TypePrice, "")))

	assert.Nil(t, c.Add(message.NewDescriptor(3, message.TypeOpaque, "BLOB")))
	assert.Nil(t, c.AddType(4, message.TypeVectorString, "V"))
	assert.Nil(t, c.FindOrAddStringByDescriptor(nil))

	dt := c.AddType(5, message.TypeDateTime, "TIME")
	require.NotNil(t, dt)
	assert.Equal(t, message.TypeTime, dt.Type())

	assert.Equal(t, 3, c.Len())

	c.Clear()
	assert.True(t, c.IsEmpty())
}

func TestCache_TrackModStatePolicy(t *testing.T) {
	untracked := message.NewDescriptor(1, message.TypeI32, "X").WithTrackModState(false)

	// Default: the cache's mode wins over the descriptor's.
	c := New(WithTrackModState(true))
	assert.True(t, c.FindOrAddInt32ByDescriptor(untracked).TrackModState())

	c = New(WithTrackModState(true), WithOverrideDescriptorTrackModState(false))
	f := c.FindOrAddInt32ByDescriptor(untracked)
	assert.False(t, f.TrackModState())
	assert.Equal(t, Modified, f.ModState())

	c = New(WithTrackModState(false))
	g := c.FindOrAddInt64(2, "Y")
	assert.False(t, g.TrackModState())

	c.SetTrackModState(true)
	h := c.FindOrAddInt64(3, "Z")
	assert.True(t, h.TrackModState())
}

func TestCache_UntrackedCellsAlwaysInDelta(t *testing.T) {
	c := New(WithTrackModState(false))
	require.NoError(t, c.Apply(quote(t, 1, 2, "X"), nil, nil))

	assert.Len(t, c.DeltaFields(), 3)
	assert.Len(t, c.DeltaFields(), 3)
}

func TestCache_ReadOnlyArrays(t *testing.T) {
	c := New()
	require.NoError(t, c.Apply(quote(t, 1, 2, "X"), nil, nil))

	if diff := cmp.Diff([]uint16{1, 2, 3}, fids(c.FullFields())); diff != "" {
		t.Errorf("full fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint16{1, 2, 3}, fids(c.DeltaFields())); diff != "" {
		t.Errorf("delta fields mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, c.DeltaFields())
	assert.Len(t, c.FullFields(), 3)

	c.FindOrAddFloat64(2, "BID").Set(5)
	c.FindOrAddFloat64(3, "ASK").Touch()
	assert.Equal(t, []uint16{2, 3}, fids(c.DeltaFields()), "touched cells are in the delta")
}

func TestCache_UseFieldNames(t *testing.T) {
	c := New()
	assert.False(t, c.UseFieldNames())
	require.NoError(t, c.Apply(quote(t, 1, 2, "X"), nil, nil))

	out := message.NewMsg()
	require.NoError(t, c.FullMsg(out))
	_, err := out.Field("BID", 0)
	assert.ErrorIs(t, err, errors.ErrFieldNotFound)

	c.SetUseFieldNames(true)
	out = message.NewMsg()
	require.NoError(t, c.FullMsg(out))
	_, err = out.Field("BID", 0)
	assert.NoError(t, err)
}

func TestCache_FieldsWithoutFidMatchByName(t *testing.T) {
	c := New()
	m := message.NewMsg()
	require.NoError(t, m.AddString("NOTE", 0, "a"))
	require.NoError(t, m.AddString("NOTE", 0, "b"))
	require.NoError(t, m.AddString("OTHER", 0, "c"))

	require.NoError(t, c.Apply(m, nil, nil))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "b", c.FindByName("NOTE").String())
}

func TestCache_AddTypeRejectsTypeMismatch(t *testing.T) {
	c := New()
	size := c.AddType(5, message.TypeI32, "SIZE")
	require.NotNil(t, size)

	assert.Nil(t, c.AddType(5, message.TypeString, ""), "fid cached as I32")
	assert.Nil(t, c.FindOrAdd(message.NewDescriptor(5, message.TypeF64, "SIZE")))
	assert.Same(t, size, c.AddType(5, message.TypeI32, ""))

	note := c.AddType(0, message.TypeString, "NOTE")
	require.NotNil(t, note)
	assert.Nil(t, c.AddType(0, message.TypeBool, "NOTE"), "name cached as STRING")
	assert.Equal(t, 2, c.Len())
}

func TestCache_UnnamedZeroFidMatchesNothing(t *testing.T) {
	c := New()
	blank := c.FindOrAddInt32(0, "")
	require.NotNil(t, blank)

	other := c.AddType(0, message.TypeString, "")
	require.NotNil(t, other, "a blank key does not resolve to the existing blank cell")
	assert.NotSame(t, blank, other)
	assert.Equal(t, message.TypeString, other.Type())
	assert.Equal(t, 2, c.Len())
}
