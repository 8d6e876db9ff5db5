package loopback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/middleware"
)

func openBridge(t *testing.T) middleware.Bridge {
	t.Helper()
	b, err := New(middleware.Env{})
	require.NoError(t, err)
	require.NoError(t, b.Open())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBridge_NewTransportRequiresOpen(t *testing.T) {
	b, err := New(middleware.Env{})
	require.NoError(t, err)
	assert.Equal(t, Name, b.Name())

	_, err = b.NewTransport("md")
	assert.ErrorIs(t, err, errors.ErrNotOpen)
}

func TestTransport_SameNameSharesBus(t *testing.T) {
	b := openBridge(t)
	pub, err := b.NewTransport("md")
	require.NoError(t, err)
	sub, err := b.NewTransport("md")
	require.NoError(t, err)
	other, err := b.NewTransport("other")
	require.NoError(t, err)

	var got, stray []*message.Msg
	_, err = sub.Subscribe("SRC.IBM", func(m *message.Msg) { got = append(got, m) })
	require.NoError(t, err)
	_, err = other.Subscribe("SRC.IBM", func(m *message.Msg) { stray = append(stray, m) })
	require.NoError(t, err)

	msg := message.NewMsg()
	require.NoError(t, pub.Publish("SRC.IBM", msg))
	require.NoError(t, pub.Publish("SRC.MSFT", message.NewMsg()))

	require.Len(t, got, 1)
	assert.Same(t, msg, got[0])
	assert.Empty(t, stray, "buses are per transport name")
}

func TestTransport_RequestInitial(t *testing.T) {
	b := openBridge(t)
	impl, err := b.NewTransport("md")
	require.NoError(t, err)
	requester, ok := impl.(middleware.InitialRequester)
	require.True(t, ok)

	_, err = requester.RequestInitial(context.Background(), "SRC.IBM")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.True(t, errors.IsInvalid(err))

	first, second := message.NewMsg(), message.NewMsg()
	require.NoError(t, impl.Publish("SRC.IBM", first))
	require.NoError(t, impl.Publish("SRC.IBM", second))

	got, err := requester.RequestInitial(context.Background(), "SRC.IBM")
	require.NoError(t, err)
	assert.Same(t, second, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = requester.RequestInitial(ctx, "SRC.IBM")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransport_UnsubscribeAndClose(t *testing.T) {
	b := openBridge(t)
	impl, err := b.NewTransport("md")
	require.NoError(t, err)

	calls := 0
	handle, err := impl.Subscribe("X", func(*message.Msg) { calls++ })
	require.NoError(t, err)
	_, err = impl.Subscribe("Y", func(*message.Msg) { calls++ })
	require.NoError(t, err)

	require.NoError(t, handle.Unsubscribe())
	require.NoError(t, handle.Unsubscribe(), "second unsubscribe is a no-op")
	require.NoError(t, impl.Publish("X", message.NewMsg()))
	assert.Equal(t, 0, calls)

	require.NoError(t, impl.Close())
	require.NoError(t, impl.Close())

	err = impl.Publish("Y", message.NewMsg())
	assert.ErrorIs(t, err, errors.ErrAlreadyDestroyed)
	_, err = impl.Subscribe("Y", func(*message.Msg) {})
	assert.ErrorIs(t, err, errors.ErrAlreadyDestroyed)

	_, err = impl.Subscribe("Z", nil)
	assert.Error(t, err)
}
