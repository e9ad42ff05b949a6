// Package kv is the ordered key-value abstraction the dataset and
// journal are built on. It is specified only at this interface; the
// concrete store (pebble here) is an external collaborator.
package kv

import "context"

// Batch collects writes to be applied atomically by Commit.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Close() error
}

// Iterator walks a key range in order.
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Close() error
}

// IterOptions bounds an iteration to [LowerBound, UpperBound).
type IterOptions struct {
	LowerBound []byte
	UpperBound []byte
}

// KV is the storage engine contract: atomic batched writes over an
// ordered byte-string keyspace, a prefix/range iterator, and a get.
// Implementations must provide read-your-writes consistency within a
// committed Batch and linearizable visibility across Commit calls.
type KV interface {
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
	NewBatch() Batch
	NewIter(opts IterOptions) (Iterator, error)
	// Lock acquires the storage directory's file lock for the
	// process lifetime. Returns suseterr.ErrStorageLocked if another
	// process holds it.
	Lock() error
	Close() error
}
