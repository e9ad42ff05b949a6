// Package clone assembles a dataset, a journal-backed transaction
// engine, and a remoting client into one running replica, per §2's
// system overview: bootstrap (genesis election or snapshot/revup),
// local writes, remote delta application, and constraint repair.
package clone

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clonegraph/suset/constraint"
	"github.com/clonegraph/suset/dataset"
	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/internal/logging"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/remote"
	"github.com/clonegraph/suset/transport"
	"github.com/clonegraph/suset/treeclock"
)

// CloneEngine owns one clone's dataset and its connection to the
// domain: it answers bootstrap requests from newer clones, applies
// remote deltas, and republishes constraint repairs.
type CloneEngine struct {
	cfg   Config
	log   logging.Logger
	store kv.KV

	dsMu sync.RWMutex
	ds   *dataset.Dataset

	remotes *remote.Remotes
	metrics *dataset.Metrics

	closeMu sync.Mutex
	closed  bool
}

// Open starts a clone: locks the storage directory, elects or joins
// genesis, bootstraps from a peer if this is a fresh non-genesis
// store, and begins serving remote requests. The returned engine is
// online and ready for Transact calls.
func Open(ctx context.Context, cfg Config, store kv.KV, t transport.Transport, log logging.Logger) (*CloneEngine, error) {
	if log == nil {
		log = logging.Nop{}
	}
	if err := store.Lock(); err != nil {
		return nil, errors.Wrap(err, "clone: lock storage")
	}

	e := &CloneEngine{
		cfg:     cfg,
		log:     log,
		store:   store,
		metrics: dataset.NewMetrics(),
	}

	remotes, err := remote.Dial(ctx, t, cfg.Domain, cfg.ID, cfg.sendTimeout(), log, e)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "clone: dial remotes")
	}
	e.remotes = remotes

	isGenesis := cfg.Genesis
	if !isGenesis {
		isGenesis, err = remote.AwaitGenesis(ctx, t, cfg.Domain, cfg.ID, cfg.sendTimeout())
		if err != nil {
			_ = remotes.Close(ctx)
			_ = store.Close()
			return nil, errors.Wrap(err, "clone: genesis election")
		}
	}

	dsOpts := []dataset.Option{dataset.WithLogger(log), dataset.WithMetrics(e.metrics)}
	if cfg.Constraint != nil {
		c, err := constraint.Build(*cfg.Constraint)
		if err != nil {
			_ = remotes.Close(ctx)
			_ = store.Close()
			return nil, errors.Wrap(err, "clone: build constraint")
		}
		dsOpts = append(dsOpts, dataset.WithConstraint(c))
	}

	ds, err := dataset.Open(ctx, store, treeclock.GENESIS, dsOpts...)
	if err != nil {
		_ = remotes.Close(ctx)
		_ = store.Close()
		return nil, errors.Wrap(err, "clone: open dataset")
	}
	e.setDataset(ds)

	if !isGenesis {
		head, found, err := ds.Journal().Head(ctx)
		if err != nil {
			_ = remotes.Close(ctx)
			_ = store.Close()
			return nil, errors.Wrap(err, "clone: read journal head")
		}
		if !found || head.Tail == 0 {
			if err := e.bootstrapSnapshot(ctx); err != nil {
				_ = remotes.Close(ctx)
				_ = store.Close()
				return nil, errors.Wrap(err, "clone: bootstrap snapshot")
			}
		} else if err := e.bootstrapRevup(ctx); err != nil {
			log.WarnCtx(ctx, "clone: revup on resume failed, continuing with local state", "err", err)
		}
	}

	return e, nil
}

func (e *CloneEngine) setDataset(ds *dataset.Dataset) {
	e.dsMu.Lock()
	e.ds = ds
	e.dsMu.Unlock()
}

func (e *CloneEngine) dataset() *dataset.Dataset {
	e.dsMu.RLock()
	defer e.dsMu.RUnlock()
	return e.ds
}

// OnOperation implements remote.Callbacks: a broadcast delta from a
// peer is merged in, and any constraint-repair delta it provokes is
// republished.
func (e *CloneEngine) OnOperation(ctx context.Context, msg *delta.DeltaMessage) {
	ds := e.dataset()
	if ds == nil {
		return
	}
	outgoing, err := dataset.ApplyRemote(ctx, ds, msg)
	if err != nil {
		e.log.ErrorCtx(ctx, "clone: apply remote delta failed", "err", err)
		return
	}
	if outgoing != nil {
		if err := e.remotes.Broadcast(ctx, outgoing); err != nil {
			e.log.ErrorCtx(ctx, "clone: broadcast repair failed", "err", err)
		}
	}
}

// OnRequest implements remote.Callbacks: answers bootstrap requests
// from newer clones.
func (e *CloneEngine) OnRequest(ctx context.Context, fromID, addressPath string, payload []byte) ([]byte, error) {
	ds := e.dataset()
	if ds == nil {
		return nil, errors.New("clone: not ready")
	}
	switch addressPath {
	case newClockAddress:
		return e.handleNewClockRequest(ctx, ds)
	case snapshotAddress:
		return e.handleSnapshotRequest(ctx, ds, payload)
	case revupAddress:
		return e.handleRevupRequest(ctx, ds, payload)
	default:
		return nil, errors.Errorf("clone: unknown request address %q", addressPath)
	}
}

// Transact runs a local transaction and broadcasts the resulting
// delta to peers. A generic method can't hang off CloneEngine
// directly (Go forbids type parameters on methods), so it is a
// package-level function over *CloneEngine instead.
func Transact[T any](ctx context.Context, e *CloneEngine, prepare dataset.Prepare[T]) (T, error) {
	var zero T
	ds := e.dataset()
	if ds == nil {
		return zero, errors.New("clone: not ready")
	}
	result, msg, err := dataset.Transact(ctx, ds, prepare)
	if err != nil {
		return zero, err
	}
	if msg != nil {
		if err := e.remotes.Broadcast(ctx, msg); err != nil {
			e.log.ErrorCtx(ctx, "clone: broadcast transaction failed", "err", err)
		}
	}
	return result, nil
}

// Clock returns the clone's current causal time.
func (e *CloneEngine) Clock() treeclock.Clock { return e.dataset().Clock() }

// Read returns a read-only view of the clone's current data graph.
func (e *CloneEngine) Read() dataset.Read { return e.dataset().Read() }

// RegisterMetrics registers this clone's prometheus collectors
// (transactions committed, deltas applied/discarded, repairs, journal
// tail tick) on reg.
func (e *CloneEngine) RegisterMetrics(reg *prometheus.Registry) error {
	for _, c := range e.metrics.Collectors() {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "clone: register metrics")
		}
	}
	return nil
}

// Close unsubscribes from the domain's operations topic, retracts this
// clone's presence record, and closes the store. It does not close the
// Transport passed to Open and does not cancel requests already in
// flight.
func (e *CloneEngine) Close(ctx context.Context) error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	e.closeMu.Unlock()

	if err := e.remotes.Close(ctx); err != nil {
		e.log.WarnCtx(ctx, "clone: close remotes", "err", err)
	}
	return e.store.Close()
}
