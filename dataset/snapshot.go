package dataset

import (
	"context"

	"github.com/pkg/errors"

	"github.com/clonegraph/suset/journal"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/quad"
	"github.com/clonegraph/suset/treeclock"
)

// DefaultSnapshotBatchSize bounds how many quads a single snapshot
// message carries, per §5's streamed-snapshot design: large datasets
// are sent as many small messages rather than one unbounded one.
const DefaultSnapshotBatchSize = 10

// SnapshotQuad is one triple and the TIDs currently asserting it, the
// unit a snapshot transfers.
type SnapshotQuad struct {
	Triple quad.Triple
	Tids   []string
}

// SnapshotBatch is one message of a streamed snapshot transfer.
type SnapshotBatch struct {
	Quads []SnapshotQuad
	Final bool
}

// SnapshotCursor produces a dataset's full state as a sequence of
// bounded batches, mirroring journal.Cursor's lazy, forward-only
// shape so a transport-level stream (out of scope here) can pull
// batches on demand without materializing the whole graph.
type SnapshotCursor struct {
	it        kv.Iterator
	ds        *Dataset
	batchSize int
	done      bool
}

// Snapshot opens a cursor over the dataset's current data graph,
// plus the journal head to pair it with (the causal point the
// snapshot was taken at). The caller must Close the cursor.
func (ds *Dataset) Snapshot(ctx context.Context, batchSize int) (journal.Head, *SnapshotCursor, error) {
	if batchSize <= 0 {
		batchSize = DefaultSnapshotBatchSize
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	head, found, err := ds.journal.Head(ctx)
	if err != nil {
		return journal.Head{}, nil, err
	}
	if !found {
		return journal.Head{}, nil, errors.New("dataset: snapshot of uninitialized journal")
	}
	it, err := ds.store.NewIter(kv.IterOptions{
		LowerBound: []byte{dataPrefix},
		UpperBound: []byte{dataPrefix + 1},
	})
	if err != nil {
		return journal.Head{}, nil, errors.Wrap(err, "dataset: snapshot iterate")
	}
	it.First()
	return head, &SnapshotCursor{it: it, ds: ds, batchSize: batchSize}, nil
}

// Next returns the next batch, with Final set on the batch that ends
// the transfer (which may be empty if the graph is empty).
func (c *SnapshotCursor) Next(ctx context.Context) (SnapshotBatch, error) {
	var batch SnapshotBatch
	if c.done {
		batch.Final = true
		return batch, nil
	}
	for len(batch.Quads) < c.batchSize && c.it.Valid() {
		t, err := tripleFromDataKey(c.it.Key())
		if err != nil {
			return SnapshotBatch{}, err
		}
		tids, err := c.ds.tids.Tids(ctx, t)
		if err != nil {
			return SnapshotBatch{}, err
		}
		batch.Quads = append(batch.Quads, SnapshotQuad{Triple: t, Tids: tids})
		c.it.Next()
	}
	if !c.it.Valid() {
		c.done = true
		batch.Final = true
	}
	return batch, nil
}

func (c *SnapshotCursor) Close() error { return c.it.Close() }

// tripleFromDataKey is dataKey's inverse: splits 'D' + s + 0x00 + p +
// 0x00 + o back into its three terms.
func tripleFromDataKey(key []byte) (quad.Triple, error) {
	if len(key) == 0 || key[0] != dataPrefix {
		return quad.Triple{}, errors.New("dataset: malformed data key")
	}
	parts := splitNul(key[1:], 3)
	if len(parts) != 3 {
		return quad.Triple{}, errors.New("dataset: malformed data key parts")
	}
	return quad.Triple{
		S: termFromKeyString(string(parts[0])),
		P: termFromKeyString(string(parts[1])),
		O: termFromKeyString(string(parts[2])),
	}, nil
}

func splitNul(b []byte, n int) [][]byte {
	out := make([][]byte, 0, n)
	start := 0
	for i, c := range b {
		if c == 0 {
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	out = append(out, b[start:])
	return out
}

// ApplySnapshot replaces the dataset's data graph and TID index with
// a received snapshot's contents and re-bases the journal onto its
// causal point, per §4.2's bootstrap-by-snapshot path. identity is the
// clock the responder forked off for this clone (see
// Dataset.ForkIdentity): it carries the same tick tree as head, just
// rooted at this clone's own fresh leaf rather than the responder's,
// so the dataset adopts it rather than head.Time directly. The caller
// feeds batches via next until it returns ok=false.
func ApplySnapshot(ctx context.Context, ds *Dataset, head journal.Head, identity treeclock.Clock, next func(ctx context.Context) (SnapshotBatch, bool, error)) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if err := ds.clearGraph(ctx); err != nil {
		return err
	}

	for {
		b, ok, err := next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		batch := ds.store.NewBatch()
		for _, sq := range b.Quads {
			if err := batch.Set(dataKey(sq.Triple), []byte{1}); err != nil {
				batch.Close()
				return errors.Wrap(err, "dataset: snapshot set triple")
			}
			for _, tid := range sq.Tids {
				if err := ds.tids.AddTriple(batch, sq.Triple, tid); err != nil {
					batch.Close()
					return err
				}
				if err := ds.tids.AddTid(batch, tid); err != nil {
					batch.Close()
					return err
				}
			}
		}
		if err := batch.Commit(); err != nil {
			batch.Close()
			return errors.Wrap(err, "dataset: snapshot commit batch")
		}
		batch.Close()
		if b.Final {
			break
		}
	}

	resetBatch := ds.store.NewBatch()
	defer resetBatch.Close()
	if err := ds.journal.Reset(resetBatch, head.Hash, identity, identity); err != nil {
		return err
	}
	if err := resetBatch.Commit(); err != nil {
		return errors.Wrap(err, "dataset: snapshot reset journal")
	}

	ds.clock = identity
	ds.metrics.TailTick.Set(float64(identity.Ticks()))
	return nil
}

// clearGraph wipes every data-graph and TID-index key, used before
// installing a fresh snapshot.
func (ds *Dataset) clearGraph(ctx context.Context) error {
	for _, bounds := range [][2][]byte{
		{[]byte{dataPrefix}, []byte{dataPrefix + 1}},
		{[]byte{'t'}, []byte{'t' + 1}},
		{[]byte{'a'}, []byte{'a' + 1}},
	} {
		if err := ds.clearRange(ctx, bounds[0], bounds[1]); err != nil {
			return err
		}
	}
	return nil
}

func (ds *Dataset) clearRange(ctx context.Context, lower, upper []byte) error {
	it, err := ds.store.NewIter(kv.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errors.Wrap(err, "dataset: clear range iterate")
	}
	defer it.Close()
	batch := ds.store.NewBatch()
	defer batch.Close()
	for it.First(); it.Valid(); it.Next() {
		if err := batch.Delete(append([]byte(nil), it.Key()...)); err != nil {
			return errors.Wrap(err, "dataset: clear range delete")
		}
	}
	return batch.Commit()
}
