// Package tidindex maintains, for every triple in the data graph, the
// set of transaction IDs that asserted it, plus the AllTids set used
// for delta dedup. It is graph-stored: every mapping lives as key/value
// pairs in the shared KV store, under the "tids" logical graph.
package tidindex

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/quad"
)

// Key layout, mirroring §6's persisted-layout table:
//   't' + tripleID(8) + tid  -> {} (membership of one TID on one triple)
//   'a' + tid                -> {} (membership in AllTids)
const (
	tidPrefix = 't'
	allPrefix = 'a'
)

func tripleTidKey(id quad.ID, tid string) []byte {
	key := make([]byte, 1+8+len(tid))
	key[0] = tidPrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(id))
	copy(key[9:], tid)
	return key
}

func triplePrefix(id quad.ID) []byte {
	key := make([]byte, 1+8)
	key[0] = tidPrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(id))
	return key
}

func triplePrefixUpperBound(id quad.ID) []byte {
	key := triplePrefix(id)
	return incremented(key)
}

func incremented(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return append(out, 0xff)
}

func allTidKey(tid string) []byte {
	key := make([]byte, 1+len(tid))
	key[0] = allPrefix
	copy(key[1:], tid)
	return key
}

// Index reads and writes TID bookkeeping against a KV store.
type Index struct {
	kv kv.KV
}

func New(store kv.KV) *Index {
	return &Index{kv: store}
}

// Tids returns the current set of TIDs asserting triple t, sorted for
// determinism.
func (ix *Index) Tids(ctx context.Context, t quad.Triple) ([]string, error) {
	id := quad.TripleID(t)
	it, err := ix.kv.NewIter(kv.IterOptions{
		LowerBound: triplePrefix(id),
		UpperBound: triplePrefixUpperBound(id),
	})
	if err != nil {
		return nil, errors.Wrap(err, "tidindex: iterate")
	}
	defer it.Close()

	var tids []string
	prefixLen := 1 + 8
	for it.First(); it.Valid(); it.Next() {
		k := it.Key()
		tids = append(tids, string(k[prefixLen:]))
	}
	sort.Strings(tids)
	return tids, nil
}

// KnowsTid reports whether tid has ever been applied to this dataset.
func (ix *Index) KnowsTid(ctx context.Context, tid string) (bool, error) {
	_, found, err := ix.kv.Get(ctx, allTidKey(tid))
	if err != nil {
		return false, errors.Wrap(err, "tidindex: knows tid")
	}
	return found, nil
}

// AddTid records tid in AllTids, idempotently.
func (ix *Index) AddTid(b kv.Batch, tid string) error {
	return b.Set(allTidKey(tid), []byte{1})
}

// AddTriple records that tid asserts triple t, idempotently.
func (ix *Index) AddTriple(b kv.Batch, t quad.Triple, tid string) error {
	id := quad.TripleID(t)
	return b.Set(tripleTidKey(id, tid), []byte{1})
}

// RemoveTids deletes the given tids from t's membership set in the
// batch. It does not report whether the set became empty: that
// depends on what the caller already knows t's set to be (possibly
// including writes this same batch made that the store hasn't
// committed yet), so callers compute that themselves via Remaining.
func (ix *Index) RemoveTids(b kv.Batch, t quad.Triple, tids []string) error {
	id := quad.TripleID(t)
	for _, tid := range tids {
		if err := b.Delete(tripleTidKey(id, tid)); err != nil {
			return errors.Wrap(err, "tidindex: remove tid")
		}
	}
	return nil
}

// Remaining returns current with every tid in removed subtracted out.
func Remaining(current, removed []string) []string {
	removedSet := make(map[string]struct{}, len(removed))
	for _, tid := range removed {
		removedSet[tid] = struct{}{}
	}
	var remaining []string
	for _, tid := range current {
		if _, gone := removedSet[tid]; !gone {
			remaining = append(remaining, tid)
		}
	}
	return remaining
}

// Intersect returns the subset of a that also appears in b.
func Intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	var out []string
	for _, t := range a {
		if _, ok := set[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Equal reports whether two TID sets contain the same elements,
// order-independent.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
