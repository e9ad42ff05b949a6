package kv

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/clonegraph/suset/internal/suseterr"
)

// PebbleKV adapts a *pebble.DB to the KV contract, the way the
// teacher's Chotki struct wraps pebble directly: one LSM tree per
// clone, one file lock for the directory's lifetime.
type PebbleKV struct {
	db  *pebble.DB
	dir string
}

// OpenPebble opens (or creates) the pebble store at dir.
func OpenPebble(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		if errors.Is(err, pebble.ErrDBAlreadyExists) {
			return nil, errors.Wrap(suseterr.ErrStorageLocked, err.Error())
		}
		return nil, errors.Wrap(err, "kv: open pebble")
	}
	return &PebbleKV{db: db, dir: dir}, nil
}

func (p *PebbleKV) Lock() error {
	// pebble.Open already took the directory's LOCK file; a second
	// process attempting Open on the same dir fails there. Nothing
	// further to do once OpenPebble succeeded.
	return nil
}

func (p *PebbleKV) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	v, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "kv: get")
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, true, nil
}

func (p *PebbleKV) NewBatch() Batch {
	return &pebbleBatch{b: p.db.NewBatch()}
}

func (p *PebbleKV) NewIter(opts IterOptions) (Iterator, error) {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: opts.LowerBound,
		UpperBound: opts.UpperBound,
	})
	if err != nil {
		return nil, errors.Wrap(err, "kv: new iter")
	}
	return &pebbleIter{it: it}, nil
}

func (p *PebbleKV) Close() error {
	return p.db.Close()
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (pb *pebbleBatch) Set(key, value []byte) error {
	return pb.b.Set(key, value, nil)
}

func (pb *pebbleBatch) Delete(key []byte) error {
	return pb.b.Delete(key, nil)
}

func (pb *pebbleBatch) Commit() error {
	return pb.b.Commit(pebble.Sync)
}

func (pb *pebbleBatch) Close() error {
	return pb.b.Close()
}

type pebbleIter struct {
	it      *pebble.Iterator
	started bool
}

func (pi *pebbleIter) First() bool {
	pi.started = true
	return pi.it.First()
}

func (pi *pebbleIter) Next() bool {
	if !pi.started {
		return pi.First()
	}
	return pi.it.Next()
}

func (pi *pebbleIter) Valid() bool     { return pi.it.Valid() }
func (pi *pebbleIter) Key() []byte     { return pi.it.Key() }
func (pi *pebbleIter) Value() []byte   { return pi.it.Value() }
func (pi *pebbleIter) Close() error    { return pi.it.Close() }
