package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/treeclock"
)

func commit(t *testing.T, b kv.Batch) {
	t.Helper()
	require.NoError(t, b.Commit())
	b.Close()
}

func TestAppendAndFindEntryByTicks(t *testing.T) {
	store := kv.NewMemKV()
	j := New(store)
	ctx := context.Background()

	b := store.NewBatch()
	require.NoError(t, j.Initialize(ctx, b, treeclock.GENESIS))
	commit(t, b)

	self, _ := treeclock.GENESIS.Fork()

	// ForkIdentity's own bookkeeping append: this advances the
	// journal's sequence counter without advancing self's own tick,
	// since Fork doesn't tick. FindEntryByTicks must still be able to
	// locate entries by tick count despite that drift.
	b = store.NewBatch()
	_, err := j.Append(ctx, b, "", delta.EncodedDelta{Version: delta.EncodedVersion}, self, nil)
	require.NoError(t, err)
	commit(t, b)

	ticked := self.Tick()
	b = store.NewBatch()
	entry, err := j.Append(ctx, b, "tid-1", delta.EncodedDelta{Version: delta.EncodedVersion, Inserts: nil}, ticked, nil)
	require.NoError(t, err)
	commit(t, b)

	found, ok, err := j.FindEntryByTicks(ctx, ticked.Ticks())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Tick, found.Tick)
	assert.NotEqual(t, ticked.Ticks(), entry.Tick, "the fork bookkeeping entry must have put the sequence ahead of the tick count")

	_, ok, err = j.FindEntryByTicks(ctx, ticked.Ticks()+1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntriesAfterFiltersEmptyDeltas(t *testing.T) {
	store := kv.NewMemKV()
	j := New(store)
	ctx := context.Background()

	b := store.NewBatch()
	require.NoError(t, j.Initialize(ctx, b, treeclock.GENESIS))
	commit(t, b)

	clock := treeclock.GENESIS
	for i := 0; i < 3; i++ {
		clock = clock.Tick()
		b = store.NewBatch()
		_, err := j.Append(ctx, b, "tid", delta.EncodedDelta{Version: delta.EncodedVersion}, clock, nil)
		require.NoError(t, err)
		commit(t, b)
	}

	cursor := j.EntriesAfter(0, func(e Entry) bool { return !e.Delta.Empty() })
	_, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "every appended delta here was empty, so nothing should match")
}

func TestCursorRestartReplaysFromStart(t *testing.T) {
	store := kv.NewMemKV()
	j := New(store)
	ctx := context.Background()

	b := store.NewBatch()
	require.NoError(t, j.Initialize(ctx, b, treeclock.GENESIS))
	commit(t, b)

	clock := treeclock.GENESIS
	var want []uint64
	for i := 0; i < 3; i++ {
		clock = clock.Tick()
		b = store.NewBatch()
		e, err := j.Append(ctx, b, "tid", delta.EncodedDelta{Version: delta.EncodedVersion, Inserts: nil}, clock, nil)
		require.NoError(t, err)
		commit(t, b)
		want = append(want, e.Tick)
	}

	first, ok, err := j.FindEntryByTicks(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	cursor := j.EntriesFrom(first, nil)

	var got []uint64
	for {
		e, ok, err := cursor.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, e.Tick)
	}
	assert.Equal(t, want, got)

	cursor.Restart()
	got = nil
	for {
		e, ok, err := cursor.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, e.Tick)
	}
	assert.Equal(t, want, got, "Restart must replay the same sequence from the beginning")
}
