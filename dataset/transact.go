package dataset

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/quad"
)

// Prepare is the caller's transaction body: given a Read scoped to the
// transaction lock, it returns an application-level result and the
// raw graph patch to commit. An empty Patch (both sides nil) is a
// valid no-op transaction — Transact still ticks nothing and produces
// no delta.
type Prepare[T any] func(ctx context.Context, read Read) (T, quad.Patch, error)

// Transact runs prepare under the dataset's transaction lock, checks
// the patch against the dataset's constraint, and if it passes,
// commits the resulting write plus journal entry atomically and
// returns the delta to publish to other clones. Per §4.4: the clock
// ticks exactly once per local transaction, after the patch is known
// but before it is journaled.
func Transact[T any](ctx context.Context, ds *Dataset, prepare Prepare[T]) (T, *delta.DeltaMessage, error) {
	var zero T
	ds.mu.Lock()
	defer ds.mu.Unlock()

	read := ds.Read()
	result, patch, err := prepare(ctx, read)
	if err != nil {
		return zero, nil, err
	}
	if patch.Empty() {
		return result, nil, nil
	}

	update := quad.UpdateFromPatch(ds.clock.Ticks()+1, patch)
	if err := ds.constraint.Check(ctx, update, read); err != nil {
		return zero, nil, errors.Wrap(err, "dataset: transaction violates constraint")
	}

	newClock := ds.clock.Tick()
	tid := uuid.New().String()

	batch := ds.store.NewBatch()
	defer batch.Close()

	overlay := newTidOverlay(ds.tids)
	encoded, err := ds.applyPatchToGraph(ctx, overlay, batch, patch, tid)
	if err != nil {
		return zero, nil, err
	}
	if err := ds.tids.AddTid(batch, tid); err != nil {
		return zero, nil, err
	}

	if _, err := ds.journal.Append(ctx, batch, tid, encoded, newClock, nil); err != nil {
		return zero, nil, err
	}
	if err := batch.Commit(); err != nil {
		return zero, nil, errors.Wrap(err, "dataset: commit transaction")
	}

	ds.clock = newClock
	ds.metrics.Committed.Inc()
	ds.metrics.TailTick.Set(float64(newClock.Ticks()))

	msg := &delta.DeltaMessage{Tid: tid, Time: newClock, Delta: encoded}
	ds.notify(quad.Update{Ticks: newClock.Ticks(), Inserts: patch.NewQuads, Deletes: patch.OldQuads})
	return result, msg, nil
}

// applyPatchToGraph writes a local patch's effect into the data graph
// and TID index, and returns the EncodedDelta to journal and publish.
// A local delete withdraws every TID currently asserting the triple —
// locally deciding a triple is gone means disowning all provenance
// for it, not just this transaction's own claim. Reads and writes go
// through overlay rather than ds.tids directly, so a delete that
// targets a triple this same batch already inserted (e.g. a
// constraint repair applied on top of a just-applied remote delta,
// see ApplyRemote) sees that insert instead of the store's stale,
// not-yet-committed view of it.
func (ds *Dataset) applyPatchToGraph(ctx context.Context, overlay *tidOverlay, b kv.Batch, patch quad.Patch, tid string) (delta.EncodedDelta, error) {
	encoded := delta.EncodedDelta{Version: delta.EncodedVersion}

	for _, t := range patch.NewQuads {
		if err := b.Set(dataKey(t), []byte{1}); err != nil {
			return delta.EncodedDelta{}, errors.Wrap(err, "dataset: set triple")
		}
		if err := overlay.AddTriple(ctx, b, t, tid); err != nil {
			return delta.EncodedDelta{}, err
		}
		encoded.Inserts = append(encoded.Inserts, t)
	}

	for _, t := range patch.OldQuads {
		current, err := overlay.Tids(ctx, t)
		if err != nil {
			return delta.EncodedDelta{}, err
		}
		if len(current) == 0 {
			continue
		}
		becameEmpty, err := overlay.RemoveTids(ctx, b, t, current)
		if err != nil {
			return delta.EncodedDelta{}, err
		}
		if becameEmpty {
			if err := b.Delete(dataKey(t)); err != nil {
				return delta.EncodedDelta{}, errors.Wrap(err, "dataset: delete triple")
			}
		}
		encoded.Deletes = append(encoded.Deletes, delta.ReifiedDelete{Triple: t, Tids: current})
	}

	return encoded, nil
}
