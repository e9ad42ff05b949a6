package kv

import (
	"context"
	"sort"
	"sync"

	"github.com/clonegraph/suset/internal/suseterr"
)

// MemKV is an in-memory KV used by tests so they never touch pebble
// or a real filesystem, mirroring the teacher's test_utils harness.
type MemKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	locked bool
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return suseterr.ErrStorageLocked
	}
	m.locked = true
	return nil
}

func (m *MemKV) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemKV) NewBatch() Batch {
	return &memBatch{m: m}
}

type memOp struct {
	key     []byte
	value   []byte
	deleted bool
}

type memBatch struct {
	m   *MemKV
	ops []memOp
}

func (b *memBatch) Set(key, value []byte) error {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), deleted: true})
	return nil
}

func (b *memBatch) Commit() error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	for _, op := range b.ops {
		if op.deleted {
			delete(b.m.data, string(op.key))
		} else {
			b.m.data[string(op.key)] = op.value
		}
	}
	return nil
}

func (b *memBatch) Close() error { return nil }

func (m *MemKV) NewIter(opts IterOptions) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if opts.LowerBound != nil && k < string(opts.LowerBound) {
			continue
		}
		if opts.UpperBound != nil && k >= string(opts.UpperBound) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memIter{m: m, keys: keys, pos: -1}, nil
}

func (m *MemKV) Close() error { return nil }

type memIter struct {
	m    *MemKV
	keys []string
	pos  int
}

func (it *memIter) First() bool {
	it.pos = 0
	return it.Valid()
}

func (it *memIter) Next() bool {
	it.pos++
	return it.Valid()
}

func (it *memIter) Valid() bool { return it.pos >= 0 && it.pos < len(it.keys) }

func (it *memIter) Key() []byte { return []byte(it.keys[it.pos]) }

func (it *memIter) Value() []byte {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	return it.m.data[it.keys[it.pos]]
}

func (it *memIter) Close() error { return nil }
