package dataset

import (
	"context"

	"github.com/pkg/errors"

	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/treeclock"
)

// ForkIdentity mints a brand new identity leaf for a clone joining
// the domain, per treeclock.Clock.Fork's contract: this dataset keeps
// self as its own identity (journaled durably so a crash can never
// hand out the same leaf twice) and returns forked for the joining
// clone to adopt as its own clock.
func (ds *Dataset) ForkIdentity(ctx context.Context) (treeclock.Clock, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	self, forked := ds.clock.Fork()

	batch := ds.store.NewBatch()
	defer batch.Close()
	if _, err := ds.journal.Append(ctx, batch, "", delta.EncodedDelta{Version: delta.EncodedVersion}, self, nil); err != nil {
		return treeclock.Clock{}, err
	}
	if err := batch.Commit(); err != nil {
		return treeclock.Clock{}, errors.Wrap(err, "dataset: commit identity fork")
	}

	ds.clock = self
	ds.metrics.TailTick.Set(float64(self.Ticks()))
	return forked, nil
}
