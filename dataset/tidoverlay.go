package dataset

import (
	"context"

	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/quad"
	"github.com/clonegraph/suset/tidindex"
)

// tidOverlay caches each triple's TID set as seen by one in-flight
// batch, so a constraint repair touching a triple this same batch
// already wrote sees that write instead of re-reading the store the
// batch hasn't committed to yet. One overlay backs a single
// Transact or ApplyRemote call and is discarded once the batch
// commits.
type tidOverlay struct {
	ix    *tidindex.Index
	cache map[quad.ID][]string
}

func newTidOverlay(ix *tidindex.Index) *tidOverlay {
	return &tidOverlay{ix: ix, cache: make(map[quad.ID][]string)}
}

// Tids returns t's current TID set, preferring this overlay's own
// record of any write already made to t within the batch over a
// fresh store read.
func (o *tidOverlay) Tids(ctx context.Context, t quad.Triple) ([]string, error) {
	id := quad.TripleID(t)
	if cached, ok := o.cache[id]; ok {
		return cached, nil
	}
	current, err := o.ix.Tids(ctx, t)
	if err != nil {
		return nil, err
	}
	o.cache[id] = current
	return current, nil
}

// AddTriple writes tid's assertion of t to the batch and records it
// in the overlay so a later read in the same batch sees it.
func (o *tidOverlay) AddTriple(ctx context.Context, b kv.Batch, t quad.Triple, tid string) error {
	current, err := o.Tids(ctx, t)
	if err != nil {
		return err
	}
	if err := o.ix.AddTriple(b, t, tid); err != nil {
		return err
	}
	o.cache[quad.TripleID(t)] = append(append([]string(nil), current...), tid)
	return nil
}

// RemoveTids withdraws tids from t's set in the batch and records the
// resulting set in the overlay, reporting whether it became empty.
func (o *tidOverlay) RemoveTids(ctx context.Context, b kv.Batch, t quad.Triple, tids []string) (becameEmpty bool, err error) {
	current, err := o.Tids(ctx, t)
	if err != nil {
		return false, err
	}
	if err := o.ix.RemoveTids(b, t, tids); err != nil {
		return false, err
	}
	remaining := tidindex.Remaining(current, tids)
	o.cache[quad.TripleID(t)] = remaining
	return len(remaining) == 0, nil
}
