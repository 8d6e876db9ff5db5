package fieldcache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mamastreams/dictionary"
	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
)

func TestProperties_RegisteredInvisibleUntilApplied(t *testing.T) {
	p := NewProperties()
	require.True(t, p.RegisterProperty(1, NewString(desc(1, message.TypeString, "SYMBOL"))))
	assert.False(t, p.RegisterProperty(1, NewString(desc(1, message.TypeString, "OTHER"))), "already registered")

	assert.Nil(t, p.Find(1))
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 1, p.Registered())

	m := message.NewMsg()
	require.NoError(t, m.AddString("SYMBOL", 1, "IBM"))
	require.NoError(t, m.AddString("UNKNOWN", 2, "x"))
	require.NoError(t, p.ApplyMsg(m))

	f := p.Find(1)
	require.NotNil(t, f)
	assert.Equal(t, "IBM", f.String())
	assert.Same(t, f, p.FindByName("SYMBOL"))
	assert.Nil(t, p.Find(2), "unregistered fids are ignored")
}

func TestProperties_ClearIsLogical(t *testing.T) {
	const n = 50
	p := NewProperties()
	for fid := uint16(1); fid <= n; fid++ {
		require.True(t, p.RegisterProperty(fid, NewInt32(desc(fid, message.TypeI32, ""))))
	}
	m := message.NewMsg()
	for fid := uint16(1); fid <= n; fid++ {
		require.NoError(t, m.AddI32("", fid, int32(fid)))
	}
	require.NoError(t, p.ApplyMsg(m))
	assert.Equal(t, n, p.Len())

	p.Clear()
	for fid := uint16(1); fid <= n; fid++ {
		assert.Nil(t, p.Find(fid))
	}
	assert.True(t, p.IsEmpty())
	assert.Equal(t, n, p.Registered(), "registrations survive clear")
	assert.False(t, p.RegisterProperty(1, NewInt32(desc(1, message.TypeI32, ""))))

	p.ClearAndDelete()
	p.ClearAndUnregisterAll()
	assert.Equal(t, 0, p.Registered())
	assert.True(t, p.RegisterProperty(1, NewInt32(desc(1, message.TypeI32, ""))), "fresh after unregister")
	assert.Nil(t, p.Find(1))
}

func TestProperties_AddIsImmediatelyVisible(t *testing.T) {
	p := NewProperties()
	f := NewFloat64(desc(7, message.TypeF64, "BID"))
	p.Add(f)
	assert.Same(t, Field(f), p.Find(7))

	p.Clear()
	unmodified := NewFloat64(desc(8, message.TypeF64, "ASK"))
	p.AddIfModified(unmodified)
	assert.Nil(t, p.Find(8))

	unmodified.Set(1)
	p.AddIfModified(unmodified)
	assert.NotNil(t, p.Find(8))

	p.Add(nil)
	p.Add(NewFloat64(nil))
	assert.Equal(t, 1, p.Len())
}

func TestProperties_ApplyCells(t *testing.T) {
	p := NewProperties()
	p.RegisterProperty(2, NewFloat64(desc(2, message.TypeF64, "BID")))

	c := New()
	require.NoError(t, c.Apply(quote(t, 10, 11, "IBM"), nil, nil))

	l := NewList()
	c.Each(func(f Field) { l.Add(f) })
	require.NoError(t, p.ApplyList(l))

	bid := p.Find(2)
	require.NotNil(t, bid)
	assert.Equal(t, 10.0, bid.Value())
	assert.Nil(t, p.Find(3))

	found, err := p.Apply(c.Find(3))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = p.Apply(nil)
	assert.ErrorIs(t, err, errors.ErrNullArg)

	// A registered fid holding another type reports the mismatch.
	p.RegisterProperty(1, NewInt32(desc(1, message.TypeI32, "SYMBOL")))
	found, err = p.Apply(c.Find(1))
	assert.True(t, found)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestProperties_RegisterProperties(t *testing.T) {
	dict := dictionary.New(
		message.NewDescriptor(1, message.TypeString, "SYMBOL"),
		message.NewDescriptor(2, message.TypePrice, "BID"),
		message.NewDescriptor(3, message.TypeOpaque, "BLOB"),
		message.NewDescriptor(4, message.TypeVectorF64, "CURVE"),
	)
	p := NewProperties()
	require.NoError(t, p.RegisterProperties([]uint16{1, 2, 3, 4, 99}, dict))
	assert.Equal(t, 2, p.Registered(), "unsupported types and unknown fids skipped")

	assert.ErrorIs(t, p.RegisterProperties([]uint16{1}, nil), errors.ErrNullArg)
}

func TestProperties_CloneIsIndependent(t *testing.T) {
	p := NewProperties()
	p.RegisterProperty(1, NewInt32(desc(1, message.TypeI32, "A")))
	p.RegisterProperty(2, NewInt32(desc(2, message.TypeI32, "B")))

	m := message.NewMsg()
	require.NoError(t, m.AddI32("A", 1, 5))
	require.NoError(t, p.ApplyMsg(m))

	c := p.Clone()
	require.NotNil(t, c.Find(1))
	assert.Nil(t, c.Find(2))
	assert.Equal(t, 2, c.Registered())

	c.Find(1).(*TypedField[int32]).Set(9)
	assert.Equal(t, int32(5), p.Find(1).(*TypedField[int32]).Get())

	c.Clear()
	assert.NotNil(t, p.Find(1), "clearing the clone leaves the source visible")
}

func TestProperties_Dump(t *testing.T) {
	p := NewProperties()
	p.RegisterProperty(2, NewFloat64(desc(2, message.TypeF64, "BID")))
	p.RegisterProperty(1, NewString(desc(1, message.TypeString, "SYMBOL")))
	p.RegisterProperty(3, NewInt32(desc(3, message.TypeI32, "HIDDEN")))

	m := message.NewMsg()
	require.NoError(t, m.AddF64("", 2, 1.5))
	require.NoError(t, m.AddString("", 1, "IBM"))
	require.NoError(t, p.ApplyMsg(m))

	var buf bytes.Buffer
	require.NoError(t, p.Dump(&buf))
	assert.Equal(t, "Properties:\n\tSYMBOL=IBM\n\tBID=1.5\n", buf.String())

	var visited []uint16
	p.Each(func(f Field) { visited = append(visited, f.Fid()) })
	assert.Equal(t, []uint16{1, 2}, visited)
}
