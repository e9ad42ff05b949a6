package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/transport"
	"github.com/clonegraph/suset/treeclock"
)

type fakeCallbacks struct {
	operations []*delta.DeltaMessage
	onRequest  func(ctx context.Context, fromID, addressPath string, payload []byte) ([]byte, error)
}

func (f *fakeCallbacks) OnOperation(_ context.Context, msg *delta.DeltaMessage) {
	f.operations = append(f.operations, msg)
}

func (f *fakeCallbacks) OnRequest(ctx context.Context, fromID, addressPath string, payload []byte) ([]byte, error) {
	if f.onRequest != nil {
		return f.onRequest(ctx, fromID, addressPath, payload)
	}
	return payload, nil
}

func TestAwaitGenesisFirstHelloWins(t *testing.T) {
	broker := transport.NewMemBroker()
	ctx := context.Background()

	tA := transport.NewMemTransport(broker, "a", nil)
	isGenesisA, err := AwaitGenesis(ctx, tA, "domain1", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, isGenesisA)

	tB := transport.NewMemTransport(broker, "b", nil)
	isGenesisB, err := AwaitGenesis(ctx, tB, "domain1", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, isGenesisB)
}

func TestPresenceTracksPeers(t *testing.T) {
	broker := transport.NewMemBroker()
	ctx := context.Background()

	tA := transport.NewMemTransport(broker, "a", nil)
	pA, err := StartPresence(ctx, tA, "domain1", "a")
	require.NoError(t, err)

	tB := transport.NewMemTransport(broker, "b", nil)
	pB, err := StartPresence(ctx, tB, "domain1", "b")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b"}, pA.Peers())
	assert.ElementsMatch(t, []string{"a"}, pB.Peers())

	require.NoError(t, pB.Close(ctx))
	assert.Empty(t, pA.Peers())
}

func TestSendReplyRoundTrip(t *testing.T) {
	broker := transport.NewMemBroker()
	ctx := context.Background()

	tA := transport.NewMemTransport(broker, "a", nil)
	cbA := &fakeCallbacks{}
	remotesA, err := Dial(ctx, tA, "domain1", "a", time.Second, nil, cbA)
	require.NoError(t, err)
	defer remotesA.Close(ctx)

	tB := transport.NewMemTransport(broker, "b", nil)
	cbB := &fakeCallbacks{onRequest: func(ctx context.Context, fromID, addressPath string, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	}}
	remotesB, err := Dial(ctx, tB, "domain1", "b", time.Second, nil, cbB)
	require.NoError(t, err)
	defer remotesB.Close(ctx)

	reply, err := remotesA.Requester.Send(ctx, "NewClock", []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(reply))
}

func TestBroadcastDeliversOperation(t *testing.T) {
	broker := transport.NewMemBroker()
	ctx := context.Background()

	tA := transport.NewMemTransport(broker, "a", nil)
	cbA := &fakeCallbacks{}
	remotesA, err := Dial(ctx, tA, "domain1", "a", time.Second, nil, cbA)
	require.NoError(t, err)
	defer remotesA.Close(ctx)

	tB := transport.NewMemTransport(broker, "b", nil)
	cbB := &fakeCallbacks{}
	remotesB, err := Dial(ctx, tB, "domain1", "b", time.Second, nil, cbB)
	require.NoError(t, err)
	defer remotesB.Close(ctx)

	msg := &delta.DeltaMessage{
		Tid:  "t1",
		Time: treeclock.GENESIS,
		Delta: delta.EncodedDelta{
			Version: delta.EncodedVersion,
		},
	}
	require.NoError(t, remotesA.Broadcast(ctx, msg))

	require.Len(t, cbB.operations, 1)
	assert.Empty(t, cbA.operations)
}
