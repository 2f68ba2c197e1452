package transporttest

import (
	"context"
	"testing"

	"sendfleet/pkg/transport/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdapterDefaultSend(t *testing.T) {
	f := NewFakeAdapter()

	ack, err := f.Send(context.Background(), types.SendRequest{
		Recipient:      "+15551234567",
		IdempotencyKey: "msg-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ext-msg-1", ack.ExternalID)

	calls := f.SendCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+15551234567", calls[0].Recipient)
}

func TestFakeAdapterScriptedOutcome(t *testing.T) {
	f := NewFakeAdapter()
	f.SendFn = func(req types.SendRequest) (*types.SendAck, error) {
		return nil, &types.GatewayError{Code: "GATEWAY_BUSY"}
	}

	_, err := f.Send(context.Background(), types.SendRequest{})
	require.Error(t, err)
}

func TestFakeAdapterEventStream(t *testing.T) {
	f := NewFakeAdapter()

	events, err := f.Initialize(context.Background(), []byte("blob"))
	require.NoError(t, err)
	assert.True(t, f.Initialized())
	assert.Equal(t, []byte("blob"), f.LastInitBlob())

	f.EmitQR("qr-1")
	evt := <-events
	assert.Equal(t, types.EventQR, evt.Type)
	assert.Equal(t, "qr-1", evt.QRPayload)
	assert.False(t, evt.Timestamp.IsZero())

	require.NoError(t, f.Close())
	_, ok := <-events
	assert.False(t, ok)
	assert.True(t, f.Closed())

	// Closing twice must not panic on the shared channel.
	require.NoError(t, f.Close())
}

func TestFakeFactoryReusesRegisteredAdapters(t *testing.T) {
	factory := NewFakeFactory()

	pinned := NewFakeAdapter()
	factory.Register("acct-1", pinned)

	assert.Same(t, pinned, factory.NewAdapter("acct-1"))
	assert.Same(t, pinned, factory.Adapter("acct-1"))

	fresh := factory.NewAdapter("acct-2")
	assert.Same(t, fresh, factory.NewAdapter("acct-2"))
}
