package dataset

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/quad"
	"github.com/clonegraph/suset/tidindex"
	"github.com/clonegraph/suset/treeclock"
)

// ApplyRemote merges a delta received from another clone into the
// dataset. It returns a DeltaMessage to publish only when the remote
// delta provoked a constraint repair — the remote's own delta is
// never re-published (every clone receives it directly). A nil
// message with a nil error means the delta was applied (or discarded
// as a duplicate) with nothing further to say.
func ApplyRemote(ctx context.Context, ds *Dataset, msg *delta.DeltaMessage) (*delta.DeltaMessage, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if msg.Time.SameIdentity(ds.clock) {
		// Our own delta, echoed back by the transport. Nothing to do.
		return nil, nil
	}

	known, err := ds.tids.KnowsTid(ctx, msg.Tid)
	if err != nil {
		return nil, err
	}

	batch := ds.store.NewBatch()
	defer batch.Close()

	// Merge alone only takes the per-leaf max; it never advances our
	// own identity leaf, since our leaf is already its own max. Tick
	// once more for the application event itself, per §4.1, so every
	// applied (or deduped) remote delta is visible in our own tick
	// count — revup causal filtering depends on that.
	mergedClock := treeclock.Merge(ds.clock, msg.Time).Tick()

	if known {
		if _, err := ds.journal.Append(ctx, batch, msg.Tid, delta.EncodedDelta{Version: delta.EncodedVersion}, mergedClock, &msg.Time); err != nil {
			return nil, err
		}
		if err := batch.Commit(); err != nil {
			return nil, errors.Wrap(err, "dataset: commit dedup merge")
		}
		ds.clock = mergedClock
		ds.metrics.Discarded.Inc()
		return nil, nil
	}

	overlay := newTidOverlay(ds.tids)

	update, err := ds.applyRemoteDeltaToGraph(ctx, overlay, batch, msg)
	if err != nil {
		return nil, err
	}
	if err := ds.tids.AddTid(batch, msg.Tid); err != nil {
		return nil, err
	}

	if _, err := ds.journal.Append(ctx, batch, msg.Tid, msg.Delta, mergedClock, &msg.Time); err != nil {
		return nil, err
	}

	repair, err := ds.constraint.Apply(ctx, update, ds.Read())
	if err != nil {
		return nil, err
	}

	finalClock := mergedClock
	var outgoing *delta.DeltaMessage
	if repair != nil && !repair.Empty() {
		repairTid := uuid.New().String()
		repairClock := mergedClock.Tick()
		// Same overlay as applyRemoteDeltaToGraph above: a repair that
		// deletes a triple this very delta just inserted must see that
		// insert, not the store's pre-batch view of it.
		encoded, err := ds.applyPatchToGraph(ctx, overlay, batch, *repair, repairTid)
		if err != nil {
			return nil, err
		}
		if err := ds.tids.AddTid(batch, repairTid); err != nil {
			return nil, err
		}
		if _, err := ds.journal.Append(ctx, batch, repairTid, encoded, repairClock, nil); err != nil {
			return nil, err
		}
		finalClock = repairClock
		outgoing = &delta.DeltaMessage{Tid: repairTid, Time: repairClock, Delta: encoded}
	}

	if err := batch.Commit(); err != nil {
		return nil, errors.Wrap(err, "dataset: commit remote apply")
	}

	ds.clock = finalClock
	ds.metrics.Applied.Inc()
	ds.metrics.TailTick.Set(float64(finalClock.Ticks()))

	ds.notify(quad.Update{Ticks: mergedClock.Ticks(), Inserts: update.Inserts, Deletes: update.Deletes})
	if repair != nil && !repair.Empty() {
		ds.metrics.Repairs.Inc()
		ds.notify(quad.Update{Ticks: finalClock.Ticks(), Inserts: repair.NewQuads, Deletes: repair.OldQuads})
	}
	return outgoing, nil
}

// applyRemoteDeltaToGraph writes a remote delta's net effect into the
// data graph and TID index, returning the Update a constraint should
// see: a triple enters Inserts only if it wasn't already asserted by
// someone else, and a triple enters Deletes only if this delta's
// retraction consumed its last remaining TID.
func (ds *Dataset) applyRemoteDeltaToGraph(ctx context.Context, overlay *tidOverlay, b kv.Batch, msg *delta.DeltaMessage) (quad.Update, error) {
	var update quad.Update
	update.Ticks = msg.Time.Ticks()

	for _, t := range msg.Delta.Inserts {
		before, err := overlay.Tids(ctx, t)
		if err != nil {
			return quad.Update{}, err
		}
		if err := b.Set(dataKey(t), []byte{1}); err != nil {
			return quad.Update{}, errors.Wrap(err, "dataset: set remote triple")
		}
		if err := overlay.AddTriple(ctx, b, t, msg.Tid); err != nil {
			return quad.Update{}, err
		}
		if len(before) == 0 {
			update.Inserts = append(update.Inserts, t)
		}
	}

	for _, rd := range msg.Delta.Deletes {
		current, err := overlay.Tids(ctx, rd.Triple)
		if err != nil {
			return quad.Update{}, err
		}
		removed := tidindex.Intersect(current, rd.Tids)
		if len(removed) == 0 {
			continue
		}
		becameEmpty, err := overlay.RemoveTids(ctx, b, rd.Triple, removed)
		if err != nil {
			return quad.Update{}, err
		}
		if becameEmpty {
			if err := b.Delete(dataKey(rd.Triple)); err != nil {
				return quad.Update{}, errors.Wrap(err, "dataset: delete remote triple")
			}
			update.Deletes = append(update.Deletes, rd.Triple)
		}
	}

	return update, nil
}
