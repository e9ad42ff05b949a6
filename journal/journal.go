// Package journal is a clone's append-only log of applied deltas,
// keyed by the journal's own sequence number, chained by hash. It never mutates a written
// entry; every successor references its predecessor's hash.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/kv"
	"github.com/clonegraph/suset/treeclock"
)

// Entry is one journal record: its sequence number in the journal
// (Tick, which is not the identity-tick count of LocalTime; see
// tickIndexKey), the causal time at that point, the remote time it carried (if this
// entry records an applied remote delta), the delta itself, and its
// position in the hash chain.
type Entry struct {
	Tick       uint64
	Tid        string
	LocalTime  treeclock.Clock
	RemoteTime *treeclock.Clock `json:"remoteTime,omitempty"`
	Delta      delta.EncodedDelta
	Hash       []byte
	Prev       uint64
	Next       *uint64 `json:"next,omitempty"`
}

// Head is the journal's singleton bookkeeping record: current time
// and tail tick.
type Head struct {
	Tail uint64
	Time treeclock.Clock
	Hash []byte
}

const (
	entryPrefix     = 'E'
	headKey0        = 'J'
	tickIndexPrefix = 'K'
)

func entryKey(tick uint64) []byte {
	key := make([]byte, 9)
	key[0] = entryPrefix
	binary.BigEndian.PutUint64(key[1:], tick)
	return key
}

var headKeyBytes = []byte{headKey0}

// tickIndexKey maps an identity-tick count to the journal's own
// monotonic sequence number. The two numberings are not the same:
// ForkIdentity appends a bookkeeping entry that advances the sequence
// without advancing the identity's own tick (Fork doesn't tick), so a
// tick count can't be used as an entry key directly once a clone has
// forked even once.
func tickIndexKey(ticks uint64) []byte {
	key := make([]byte, 9)
	key[0] = tickIndexPrefix
	binary.BigEndian.PutUint64(key[1:], ticks)
	return key
}

func writeTickIndex(b kv.Batch, ticks, seq uint64) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, seq)
	return b.Set(tickIndexKey(ticks), v)
}

// Journal wraps a KV store with the journal's key layout.
type Journal struct {
	kv kv.KV
}

func New(store kv.KV) *Journal {
	return &Journal{kv: store}
}

// HashEmpty is H(""), the genesis hash per §4.2.
func HashEmpty() []byte {
	h := xxhash.New()
	return sum(h)
}

func sum(h *xxhash.Digest) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h.Sum64())
	return b[:]
}

// ComputeHash is H(prev.hash || canonicalize(delta)).
func ComputeHash(prevHash []byte, d delta.EncodedDelta) []byte {
	h := xxhash.New()
	_, _ = h.Write(prevHash)
	_, _ = h.Write(delta.Canonicalize(d))
	return sum(h)
}

// Head returns the journal's current bookkeeping record.
func (j *Journal) Head(ctx context.Context) (Head, bool, error) {
	v, found, err := j.kv.Get(ctx, headKeyBytes)
	if err != nil {
		return Head{}, false, errors.Wrap(err, "journal: read head")
	}
	if !found {
		return Head{}, false, nil
	}
	var head Head
	if err := json.Unmarshal(v, &head); err != nil {
		return Head{}, false, errors.Wrap(err, "journal: bad head")
	}
	return head, true, nil
}

func (j *Journal) writeHead(b kv.Batch, head Head) error {
	v, err := json.Marshal(head)
	if err != nil {
		return errors.Wrap(err, "journal: marshal head")
	}
	return b.Set(headKeyBytes, v)
}

// Initialize creates the first entry if the journal is empty.
func (j *Journal) Initialize(ctx context.Context, b kv.Batch, time treeclock.Clock) error {
	_, found, err := j.Head(ctx)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	entry := Entry{
		Tick:      0,
		LocalTime: time,
		Delta:     delta.EncodedDelta{Version: delta.EncodedVersion},
		Hash:      HashEmpty(),
		Prev:      0,
	}
	if err := j.writeEntry(b, entry); err != nil {
		return err
	}
	if err := writeTickIndex(b, time.Ticks(), entry.Tick); err != nil {
		return err
	}
	return j.writeHead(b, Head{Tail: 0, Time: time, Hash: entry.Hash})
}

func (j *Journal) writeEntry(b kv.Batch, e Entry) error {
	v, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "journal: marshal entry")
	}
	return b.Set(entryKey(e.Tick), v)
}

// Append adds a new tail entry. It must run inside the same batch as
// whatever data writes the caller is committing alongside it.
func (j *Journal) Append(ctx context.Context, b kv.Batch, tid string, d delta.EncodedDelta, localTime treeclock.Clock, remoteTime *treeclock.Clock) (Entry, error) {
	head, found, err := j.Head(ctx)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, errors.New("journal: append before initialize")
	}
	newTick := head.Tail + 1
	hash := ComputeHash(head.Hash, d)
	entry := Entry{
		Tick:       newTick,
		Tid:        tid,
		LocalTime:  localTime,
		RemoteTime: remoteTime,
		Delta:      d,
		Hash:       hash,
		Prev:       head.Tail,
	}
	if err := j.writeEntry(b, entry); err != nil {
		return Entry{}, err
	}
	if err := writeTickIndex(b, localTime.Ticks(), newTick); err != nil {
		return Entry{}, err
	}
	// link predecessor to this entry
	prevEntry, err := j.readEntry(ctx, head.Tail)
	if err == nil {
		next := newTick
		prevEntry.Next = &next
		if err := j.writeEntry(b, prevEntry); err != nil {
			return Entry{}, err
		}
	}
	if err := j.writeHead(b, Head{Tail: newTick, Time: localTime, Hash: hash}); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (j *Journal) readEntry(ctx context.Context, tick uint64) (Entry, error) {
	v, found, err := j.kv.Get(ctx, entryKey(tick))
	if err != nil {
		return Entry{}, errors.Wrap(err, "journal: read entry")
	}
	if !found {
		return Entry{}, errors.Errorf("journal: no entry at tick %d", tick)
	}
	var e Entry
	if err := json.Unmarshal(v, &e); err != nil {
		return Entry{}, errors.Wrap(err, "journal: bad entry")
	}
	return e, nil
}

// FindEntryByTicks locates the entry whose LocalTime.Ticks() equals
// ticks, for this clone's own identity. The sequence number backing
// an entry is not in general equal to ticks (a fork's bookkeeping
// entry advances the sequence without advancing the identity's own
// tick), so this goes through the tick index rather than treating
// ticks as an entry key.
func (j *Journal) FindEntryByTicks(ctx context.Context, ticks uint64) (Entry, bool, error) {
	v, found, err := j.kv.Get(ctx, tickIndexKey(ticks))
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "journal: read tick index")
	}
	if !found {
		return Entry{}, false, nil
	}
	seq := binary.BigEndian.Uint64(v)
	e, err := j.readEntry(ctx, seq)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Cursor is a lazy, forward-only, restartable sequence of entries,
// stopping at the current tail. Its starting point is resolved once,
// at construction (typically via FindEntryByTicks); Restart replays
// from that same point without re-resolving it.
type Cursor struct {
	j          *Journal
	startTicks uint64
	filter     func(Entry) bool
	nextTick   uint64
	done       bool
}

// EntriesFrom builds a Cursor starting at entry, filtered by filter
// (nil means no filtering).
func (j *Journal) EntriesFrom(entry Entry, filter func(Entry) bool) *Cursor {
	return &Cursor{j: j, startTicks: entry.Tick, filter: filter, nextTick: entry.Tick}
}

// EntriesAfter builds a Cursor starting strictly after tick, for
// revup: the requester already has everything up to and including
// tick, so replay begins at tick+1.
func (j *Journal) EntriesAfter(tick uint64, filter func(Entry) bool) *Cursor {
	start := tick + 1
	return &Cursor{j: j, startTicks: start, filter: filter, nextTick: start}
}

// Restart resets the cursor back to its starting tick.
func (c *Cursor) Restart() {
	c.nextTick = c.startTicks
	c.done = false
}

// Next returns the next matching entry, or ok=false once the tail is
// exhausted.
func (c *Cursor) Next(ctx context.Context) (Entry, bool, error) {
	if c.done {
		return Entry{}, false, nil
	}
	head, found, err := c.j.Head(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	if !found {
		c.done = true
		return Entry{}, false, nil
	}
	for c.nextTick <= head.Tail {
		e, err := c.j.readEntry(ctx, c.nextTick)
		if err != nil {
			return Entry{}, false, err
		}
		c.nextTick++
		if c.filter == nil || c.filter(e) {
			return e, true, nil
		}
	}
	c.done = true
	return Entry{}, false, nil
}

// Reset writes a new tail entry with an empty delta at sequence
// lastTime.Ticks() and points the head at it, used by applySnapshot to
// re-base a clone onto a received snapshot's causal point. Entries and
// tick-index records already in the store are not deleted.
func (j *Journal) Reset(b kv.Batch, lastHash []byte, lastTime treeclock.Clock, localTime treeclock.Clock) error {
	tick := lastTime.Ticks()
	entry := Entry{
		Tick:      tick,
		LocalTime: localTime,
		Delta:     delta.EncodedDelta{Version: delta.EncodedVersion},
		Hash:      lastHash,
		Prev:      tick,
	}
	if err := j.writeEntry(b, entry); err != nil {
		return err
	}
	if err := writeTickIndex(b, localTime.Ticks(), tick); err != nil {
		return err
	}
	return j.writeHead(b, Head{Tail: tick, Time: localTime, Hash: lastHash})
}
