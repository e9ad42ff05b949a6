package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTransportPublishSubscribe(t *testing.T) {
	broker := NewMemBroker()
	ctx := context.Background()

	var got []Message
	tA := NewMemTransport(broker, "a", nil)
	_, err := tA.Subscribe(ctx, "domain1/operations", func(_ context.Context, msg Message) {
		got = append(got, msg)
	})
	require.NoError(t, err)

	tB := NewMemTransport(broker, "b", nil)
	require.NoError(t, tB.Publish(ctx, "domain1/operations", []byte("hello"), false))

	require.Len(t, got, 1)
	assert.Equal(t, "domain1/operations", got[0].Topic)
	assert.Equal(t, []byte("hello"), got[0].Payload)
}

func TestMemTransportRetainedReplayOnSubscribe(t *testing.T) {
	broker := NewMemBroker()
	ctx := context.Background()

	tA := NewMemTransport(broker, "a", nil)
	require.NoError(t, tA.Publish(ctx, "domain1/registry", []byte(`{"id":"a"}`), true))

	var got []Message
	tB := NewMemTransport(broker, "b", nil)
	_, err := tB.Subscribe(ctx, "domain1/registry", func(_ context.Context, msg Message) {
		got = append(got, msg)
	})
	require.NoError(t, err)

	require.Len(t, got, 1, "a new subscriber must immediately receive the topic's retained message")
	assert.Equal(t, []byte(`{"id":"a"}`), got[0].Payload)
}

func TestMemTransportRetainedMessageWithEmptyPayloadClears(t *testing.T) {
	broker := NewMemBroker()
	ctx := context.Background()

	tA := NewMemTransport(broker, "a", nil)
	require.NoError(t, tA.Publish(ctx, "domain1/registry", []byte(`{"id":"a"}`), true))
	require.NoError(t, tA.Publish(ctx, "domain1/registry", nil, true))

	var got []Message
	tB := NewMemTransport(broker, "b", nil)
	_, err := tB.Subscribe(ctx, "domain1/registry", func(_ context.Context, msg Message) {
		got = append(got, msg)
	})
	require.NoError(t, err)

	assert.Empty(t, got, "an empty-payload retained publish must clear the retained message, not replay it")
}

func TestMemTransportWildcardSubscription(t *testing.T) {
	broker := NewMemBroker()
	ctx := context.Background()

	var got []Message
	tA := NewMemTransport(broker, "a", nil)
	_, err := tA.Subscribe(ctx, "domain1/control/#", func(_ context.Context, msg Message) {
		got = append(got, msg)
	})
	require.NoError(t, err)

	tB := NewMemTransport(broker, "b", nil)
	require.NoError(t, tB.Publish(ctx, "domain1/control/a", []byte("one"), false))
	require.NoError(t, tB.Publish(ctx, "domain1/control", []byte("two"), false))
	require.NoError(t, tB.Publish(ctx, "domain1/operations", []byte("three"), false))

	require.Len(t, got, 2, "a '/#' subscription must match the bare prefix topic and any of its sub-topics, but not siblings")
	assert.Equal(t, []byte("one"), got[0].Payload)
	assert.Equal(t, []byte("two"), got[1].Payload)
}

func TestMemTransportUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewMemBroker()
	ctx := context.Background()

	var got []Message
	tA := NewMemTransport(broker, "a", nil)
	unsub, err := tA.Subscribe(ctx, "domain1/operations", func(_ context.Context, msg Message) {
		got = append(got, msg)
	})
	require.NoError(t, err)
	unsub()

	tB := NewMemTransport(broker, "b", nil)
	require.NoError(t, tB.Publish(ctx, "domain1/operations", []byte("hello"), false))

	assert.Empty(t, got)
}

func TestMemTransportCloseSendsLastWill(t *testing.T) {
	broker := NewMemBroker()
	ctx := context.Background()

	will := Message{Topic: "domain1/control/a", Payload: nil, Retained: true}
	tA := NewMemTransport(broker, "a", &will)
	// a retained presence record precedes the last-will so there is
	// something for the last-will's empty payload to clear.
	require.NoError(t, tA.Publish(ctx, "domain1/control/a", []byte(`{"id":"a"}`), true))

	ids, err := tA.Present(ctx, "domain1/control/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a"}, ids)

	require.NoError(t, tA.Close())

	ids, err = tA.Present(ctx, "domain1/control/")
	require.NoError(t, err)
	assert.Empty(t, ids, "closing must publish the last-will, retracting presence")
}

func TestMemTransportCloseIsIdempotent(t *testing.T) {
	broker := NewMemBroker()
	will := Message{Topic: "domain1/control/a", Payload: nil, Retained: true}
	tA := NewMemTransport(broker, "a", &will)

	require.NoError(t, tA.Close())
	require.NoError(t, tA.Close())
}
