package treeclock

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisTicks(t *testing.T) {
	assert.Equal(t, uint64(0), GENESIS.Ticks())
}

func TestTickAdvancesOnlyIdentity(t *testing.T) {
	a, b := GENESIS.Fork()
	a = a.Tick()
	assert.Equal(t, uint64(1), a.Ticks())
	assert.Equal(t, uint64(0), b.Ticks())
}

func TestForkPreservesObservedTicks(t *testing.T) {
	g := GENESIS.Tick().Tick() // ticks == 2
	a, b := g.Fork()
	assert.Equal(t, uint64(2), a.Ticks())
	assert.Equal(t, uint64(2), b.Ticks())
	assert.False(t, a.SameIdentity(b))
}

func TestMergeTakesPerLeafMax(t *testing.T) {
	a, b := GENESIS.Fork()
	a = a.Tick().Tick() // a at 2
	b = b.Tick()        // b at 1

	merged := Merge(a, b)
	assert.Equal(t, uint64(2), merged.Ticks())
	assert.True(t, merged.SameIdentity(a))

	ticks, ok := merged.GetTicks(b)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ticks)
}

func TestMergePadsShallowerShape(t *testing.T) {
	a, b := GENESIS.Fork()
	// b forks again, going deeper than a's view.
	b1, b2 := b.Tick().Fork()
	b1 = b1.Tick()

	merged := Merge(a, b1)
	// a was a flat leaf at this position; b1 has gone one level
	// deeper. The merge should adopt b1's shape without losing a's
	// own progress.
	assert.Equal(t, a.Ticks(), merged.Ticks())

	ticks, ok := merged.GetTicks(b2)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ticks)
}

func TestAnyLtDetectsUnseenProgress(t *testing.T) {
	a, b := GENESIS.Fork()
	b = b.Tick()
	// a hasn't merged from b yet, so b's clock knows something a's
	// clock does not, at the leaf corresponding to b's identity.
	assert.True(t, a.AnyLt(b, IncludeIds))

	merged := Merge(a, b)
	assert.False(t, merged.AnyLt(b, IncludeIds))
}

func TestAnyLtExcludeIdsIgnoresIdentityLeaves(t *testing.T) {
	a, b := GENESIS.Fork()
	b = b.Tick() // b only advanced its own identity leaf

	// With ExcludeIds, b's sole advance (at its own identity leaf) is
	// invisible: no *third party* leaf differs between a and b.
	assert.False(t, a.AnyLt(b, ExcludeIds))
}

func TestSelfEchoDetection(t *testing.T) {
	a, _ := GENESIS.Fork()
	aAdvanced := a.Tick()
	assert.True(t, a.SameIdentity(aAdvanced))
}

func TestGetTicksAbsentWhenForkedDeeper(t *testing.T) {
	a, b := GENESIS.Fork()
	b1, _ := b.Fork()

	// The merge has learned about b1's position, deeper than b's old
	// identity leaf. b's own single-tick position no longer exists as
	// an addressable leaf, so asking about b directly is absent.
	merged := Merge(a, b1)
	_, ok := merged.GetTicks(b)
	assert.False(t, ok)

	// But the still-existing deeper leaf is addressable.
	ticks, ok := merged.GetTicks(b1)
	require.True(t, ok)
	assert.Equal(t, uint64(0), ticks)
}

func TestWireRoundTrip(t *testing.T) {
	a, b := GENESIS.Fork()
	a = a.Tick().Tick()
	merged := Merge(a, b)

	data, err := json.Marshal(merged)
	require.NoError(t, err)

	var back Clock
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, merged.Ticks(), back.Ticks())
	assert.True(t, merged.SameIdentity(back))
	assert.False(t, back.AnyLt(merged, IncludeIds))
	assert.False(t, merged.AnyLt(back, IncludeIds))
}

func TestWireRejectsBadIdentityPath(t *testing.T) {
	bad := []byte(`{"tree":[[0],[0]],"id":[0,0]}`)
	var c Clock
	err := json.Unmarshal(bad, &c)
	assert.Error(t, err)
}
