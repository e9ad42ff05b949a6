package clone

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonegraph/suset/constraint"
	"github.com/clonegraph/suset/dataset"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/quad"
	"github.com/clonegraph/suset/transport"
)

var nameProp = quad.IRI("name")
var fred = quad.IRI("fred")

// testConfig never forces Genesis: true. A clone opened with
// Genesis: true skips AwaitGenesis entirely and never publishes the
// registry hello, so a later joiner's own AwaitGenesis call would see
// no claimant and incorrectly elect itself too. Tests instead rely on
// natural election: the first engine opened against an empty broker
// wins genesis, exactly as a real first-clone-in-a-domain would.
func testConfig(id string, c *constraint.Spec) Config {
	return Config{ID: id, Domain: "test-domain", Constraint: c, SendTimeoutMs: 500}
}

func openEngine(t *testing.T, broker *transport.MemBroker, cfg Config) *CloneEngine {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr := transport.NewMemTransport(broker, cfg.ID, nil)
	e, err := Open(ctx, cfg, kv.NewMemKV(), tr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func insert(triples ...quad.Triple) dataset.Prepare[struct{}] {
	return func(ctx context.Context, read dataset.Read) (struct{}, quad.Patch, error) {
		return struct{}{}, quad.Patch{NewQuads: triples}, nil
	}
}

func TestSingleValuedConstraintPassAndFail(t *testing.T) {
	broker := transport.NewMemBroker()
	spec := &constraint.Spec{Type: "single-valued", Property: nameProp.Value}
	e := openEngine(t, broker, testConfig("a", spec))
	ctx := context.Background()

	_, err := Transact(ctx, e, insert(quad.Triple{S: fred, P: nameProp, O: quad.Literal("Fred")}))
	require.NoError(t, err)

	values, err := e.Read().Values(ctx, fred, nameProp)
	require.NoError(t, err)
	assert.Equal(t, []quad.Term{quad.Literal("Fred")}, values)

	_, err = Transact(ctx, e, insert(
		quad.Triple{S: fred, P: nameProp, O: quad.Literal("Wilma")},
		quad.Triple{S: fred, P: nameProp, O: quad.Literal("Betty")},
	))
	require.Error(t, err)

	values, err = e.Read().Values(ctx, fred, nameProp)
	require.NoError(t, err)
	assert.Equal(t, []quad.Term{quad.Literal("Fred")}, values, "rejected transaction must not change committed state")
}

// TestRemoteConstraintRepair joins a second clone to a genesis clone,
// each writing a conflicting value for the same subject/property while
// mutually unaware, and relies on the in-memory broker's synchronous
// publish delivery to drive ApplyRemote's auto-repair without sleeps.
func TestRemoteConstraintRepair(t *testing.T) {
	broker := transport.NewMemBroker()
	spec := &constraint.Spec{Type: "single-valued", Property: nameProp.Value}

	a := openEngine(t, broker, testConfig("a", spec))
	ctx := context.Background()

	b := openEngine(t, broker, testConfig("b", spec))

	// Both writes commit locally before either is broadcast, so neither
	// clone has seen the other's value when it writes its own.
	_, msgA, err := dataset.Transact(ctx, a.dataset(), insert(quad.Triple{S: fred, P: nameProp, O: quad.Literal("Fred")}))
	require.NoError(t, err)
	_, msgB, err := dataset.Transact(ctx, b.dataset(), insert(quad.Triple{S: fred, P: nameProp, O: quad.Literal("Flintstone")}))
	require.NoError(t, err)
	require.NoError(t, a.remotes.Broadcast(ctx, msgA))
	require.NoError(t, b.remotes.Broadcast(ctx, msgB))

	// The in-memory broker's publish delivers to every subscriber
	// synchronously within the publishing call, so by the time each
	// Broadcast call above returns, the peer has already run
	// ApplyRemote (and any repair it produced has already been
	// broadcast and applied back on the originator).
	for _, e := range []*CloneEngine{a, b} {
		values, err := e.Read().Values(ctx, fred, nameProp)
		require.NoError(t, err)
		assert.Equal(t, []quad.Term{quad.Literal("Flintstone")}, values, "lexicographically smaller value survives the repair")
	}
}

func TestBootstrapSnapshotCopiesExistingData(t *testing.T) {
	broker := transport.NewMemBroker()
	a := openEngine(t, broker, testConfig("a", nil))
	ctx := context.Background()

	_, err := Transact(ctx, a, insert(
		quad.Triple{S: fred, P: nameProp, O: quad.Literal("Fred")},
		quad.Triple{S: quad.IRI("wilma"), P: nameProp, O: quad.Literal("Wilma")},
	))
	require.NoError(t, err)

	b := openEngine(t, broker, testConfig("b", nil))

	values, err := b.Read().Values(ctx, fred, nameProp)
	require.NoError(t, err)
	assert.Equal(t, []quad.Term{quad.Literal("Fred")}, values)

	values, err = b.Read().Values(ctx, quad.IRI("wilma"), nameProp)
	require.NoError(t, err)
	assert.Equal(t, []quad.Term{quad.Literal("Wilma")}, values)

	assert.NotEqual(t, uint64(0), a.Clock().Ticks())
	assert.True(t, a.Clock().Ticks() >= b.Clock().Ticks())
}

func TestBootstrapSnapshotThenLocalWritesConverge(t *testing.T) {
	broker := transport.NewMemBroker()
	a := openEngine(t, broker, testConfig("a", nil))
	ctx := context.Background()

	b := openEngine(t, broker, testConfig("b", nil))

	_, err := Transact(ctx, a, insert(quad.Triple{S: fred, P: nameProp, O: quad.Literal("Fred")}))
	require.NoError(t, err)
	_, err = Transact(ctx, b, insert(quad.Triple{S: quad.IRI("wilma"), P: nameProp, O: quad.Literal("Wilma")}))
	require.NoError(t, err)

	for _, e := range []*CloneEngine{a, b} {
		values, err := e.Read().Values(ctx, fred, nameProp)
		require.NoError(t, err)
		assert.Equal(t, []quad.Term{quad.Literal("Fred")}, values)

		values, err = e.Read().Values(ctx, quad.IRI("wilma"), nameProp)
		require.NoError(t, err)
		assert.Equal(t, []quad.Term{quad.Literal("Wilma")}, values)
	}
}
