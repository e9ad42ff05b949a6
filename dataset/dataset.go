// Package dataset implements the SU-SET quad store: a transactional
// wrapper over an ordered KV store that produces and applies deltas
// while preserving convergence, per §4.4.
package dataset

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clonegraph/suset/constraint"
	"github.com/clonegraph/suset/internal/logging"
	"github.com/clonegraph/suset/internal/suseterr"
	"github.com/clonegraph/suset/journal"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/quad"
	"github.com/clonegraph/suset/tidindex"
	"github.com/clonegraph/suset/treeclock"
)

// Metrics are the dataset's prometheus collectors, registered by the
// owning CloneEngine.
type Metrics struct {
	Committed  prometheus.Counter
	Applied    prometheus.Counter
	Discarded  prometheus.Counter
	Repairs    prometheus.Counter
	TailTick   prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Committed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suset_transactions_committed_total",
			Help: "Local transactions committed.",
		}),
		Applied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suset_deltas_applied_total",
			Help: "Remote deltas applied.",
		}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suset_deltas_discarded_total",
			Help: "Remote deltas discarded as duplicates.",
		}),
		Repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "suset_constraint_repairs_total",
			Help: "Constraint repairs journaled.",
		}),
		TailTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "suset_journal_tail_tick",
			Help: "Current journal tail tick.",
		}),
	}
}

// Collectors returns every metric for registration on a prometheus
// registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Committed, m.Applied, m.Discarded, m.Repairs, m.TailTick}
}

// Read is the dataset's read-side, handed to Constraint.Check/Apply
// and to transact's prepare callback.
type Read interface {
	constraint.Read
}

type datasetRead struct {
	ds *Dataset
}

func (r datasetRead) Values(ctx context.Context, s, p quad.Term) ([]quad.Term, error) {
	return r.ds.valuesLocked(ctx, s, p)
}

// Dataset is the SU-SET store: quads, TID index, and journal, all
// serialized behind one transaction lock.
type Dataset struct {
	store      kv.KV
	journal    *journal.Journal
	tids       *tidindex.Index
	constraint constraint.Constraint
	log        logging.Logger
	metrics    *Metrics

	mu    sync.Mutex
	clock treeclock.Clock

	subMu sync.Mutex
	subs  []func(quad.Update)

	blankBase string
}

// Option configures a Dataset at construction.
type Option func(*Dataset)

func WithLogger(l logging.Logger) Option { return func(d *Dataset) { d.log = l } }
func WithMetrics(m *Metrics) Option      { return func(d *Dataset) { d.metrics = m } }
func WithConstraint(c constraint.Constraint) Option {
	return func(d *Dataset) { d.constraint = c }
}

// Open initializes (or re-opens) the dataset on top of store, bringing
// the journal to `time` if this is a fresh store.
func Open(ctx context.Context, store kv.KV, time treeclock.Clock, opts ...Option) (*Dataset, error) {
	ds := &Dataset{
		store:      store,
		journal:    journal.New(store),
		tids:       tidindex.New(store),
		constraint: constraint.NewCheckList(),
		log:        logging.Nop{},
		metrics:    NewMetrics(),
		blankBase:  randomBlankBase(),
	}
	for _, opt := range opts {
		opt(ds)
	}

	batch := store.NewBatch()
	if err := ds.journal.Initialize(ctx, batch, time); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, errors.Wrap(err, "dataset: initialize journal")
	}

	head, found, err := ds.journal.Head(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("dataset: journal not initialized")
	}
	ds.clock = head.Time
	ds.metrics.TailTick.Set(float64(head.Tail))
	return ds, nil
}

// randomBlankBase mints a per-clone random stable base so concurrent
// blank nodes created by different clones never collide (§3).
func randomBlankBase() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// NewBlankNode mints a fresh blank node identifier under this clone's
// stable base.
func (ds *Dataset) NewBlankNode() quad.Term {
	return quad.Blank(ds.blankBase + "-" + uuid.New().String())
}

// Subscribe registers a listener for MeldUpdates emitted after every
// commit, in transaction order. The returned func unsubscribes.
func (ds *Dataset) Subscribe(fn func(quad.Update)) (unsubscribe func()) {
	ds.subMu.Lock()
	defer ds.subMu.Unlock()
	ds.subs = append(ds.subs, fn)
	idx := len(ds.subs) - 1
	return func() {
		ds.subMu.Lock()
		defer ds.subMu.Unlock()
		ds.subs[idx] = nil
	}
}

func (ds *Dataset) notify(update quad.Update) {
	ds.subMu.Lock()
	subs := append([]func(quad.Update){}, ds.subs...)
	ds.subMu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(update)
		}
	}
}

// Read returns a Read view for use outside of a transaction (e.g. by
// a caller inspecting state). Transact/Apply hand their prepare
// callback and the constraint a Read already scoped to the
// in-progress transaction's lock.
func (ds *Dataset) Read() Read { return datasetRead{ds: ds} }

func (ds *Dataset) valuesLocked(ctx context.Context, s, p quad.Term) ([]quad.Term, error) {
	it, err := ds.store.NewIter(kv.IterOptions{
		LowerBound: dataSubjectPredicatePrefix(s, p),
		UpperBound: incrementKey(dataSubjectPredicatePrefix(s, p)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "dataset: values iterate")
	}
	defer it.Close()

	prefix := dataSubjectPredicatePrefix(s, p)
	var values []quad.Term
	for it.First(); it.Valid(); it.Next() {
		objStr := string(it.Key()[len(prefix):])
		values = append(values, termFromKeyString(objStr))
	}
	return values, nil
}

// termFromKeyString reconstructs the Term that dataKey encoded into
// the tail of a data key. Since §3's query front-end compiles actual
// JSON-LD terms and this core only needs identity/equality over them,
// an IRI-shaped encoding round-trips through Term.String() well
// enough for the core's own bookkeeping (pattern compilation remains
// the front-end's job).
func termFromKeyString(s string) quad.Term {
	if len(s) >= 2 && s[0] == '"' {
		return quad.Literal(trimQuotes(s))
	}
	if len(s) >= 2 && s[0] == '_' && s[1] == ':' {
		return quad.Blank(s[2:])
	}
	return quad.IRI(s)
}

func trimQuotes(s string) string {
	// Strips the quoting applied by Term.String for literals; lang/
	// datatype suffixes are not reconstructed since Values() callers
	// only compare term values for constraint purposes.
	end := len(s) - 1
	for end > 0 && s[end] != '"' {
		end--
	}
	if end > 0 {
		return s[1:end]
	}
	return s
}

// Clock returns the dataset's current causal time.
func (ds *Dataset) Clock() treeclock.Clock {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.clock
}

// Journal exposes the underlying journal for revup cursors; callers
// outside this package only read it, never append directly.
func (ds *Dataset) Journal() *journal.Journal {
	return ds.journal
}

// RevupCursor walks every data-bearing journal entry the requester,
// identified by requesterClock, has not already seen, per §4.4's
// OperationsSince: ticks = requesterClock.GetTicks(ds.Clock()); if
// unknown, the requester's causal position can't be located in this
// clone's history at all and the caller must fall back to a
// snapshot (ErrCannotRevup). Otherwise replay starts at the entry
// immediately after the one at ticks, filtered by the genuine
// causal-order test (requesterClock.AnyLt) rather than by comparing
// this clone's own identity-tick count alone — a relayed remote
// entry doesn't always advance that count, but it still carries
// leaves the requester has never observed.
func (ds *Dataset) RevupCursor(ctx context.Context, requesterClock treeclock.Clock) (*journal.Cursor, error) {
	ds.mu.Lock()
	clock := ds.clock
	ds.mu.Unlock()

	ticks, ok := requesterClock.GetTicks(clock)
	if !ok {
		return nil, errors.Wrap(suseterr.ErrCannotRevup, "dataset: requester's causal position is unknown to this clone")
	}

	filter := func(e journal.Entry) bool {
		return !e.Delta.Empty() && requesterClock.AnyLt(e.LocalTime, treeclock.IncludeIds)
	}

	start, found, err := ds.journal.FindEntryByTicks(ctx, ticks+1)
	if err != nil {
		return nil, err
	}
	if !found {
		// Nothing journaled past the requester's last-seen point: an
		// already-exhausted cursor starting right after the current
		// tail, rather than special-casing "nothing to send" at the
		// call site.
		head, _, err := ds.journal.Head(ctx)
		if err != nil {
			return nil, err
		}
		return ds.journal.EntriesAfter(head.Tail, filter), nil
	}
	return ds.journal.EntriesFrom(start, filter), nil
}
