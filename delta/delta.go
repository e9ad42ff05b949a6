// Package delta defines the wire shape of a change set: inserted
// triples plus reified retractions of triples together with the TIDs
// being retracted, and the DeltaMessage envelope that carries one
// alongside the causal time it was produced at.
//
// Per §6, the wire format binds insertsJsonLd/deletesJsonLd to a fixed
// JSON-LD delta context; full JSON-LD flattening/compaction is the
// query front-end's concern (out of scope here — consumed only via
// compile()). This package carries the same information directly as
// typed JSON, which is the shape the front-end's compiled encoder
// would hand the core anyway.
package delta

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/clonegraph/suset/quad"
	"github.com/clonegraph/suset/treeclock"
)

// EncodedVersion is the only delta encoding version this core speaks.
const EncodedVersion = 1

// ReifiedDelete is one retracted triple, carrying every TID that had
// asserted it and is now being withdrawn.
type ReifiedDelete struct {
	Triple quad.Triple
	Tids   []string
}

// EncodedDelta is (version, insertTriples, deleteReifications).
type EncodedDelta struct {
	Version int
	Inserts []quad.Triple
	Deletes []ReifiedDelete
}

func (e EncodedDelta) Empty() bool {
	return len(e.Inserts) == 0 && len(e.Deletes) == 0
}

// DeltaMessage is {time, delta} plus the originating TID, per §3 and
// §6's wire format.
type DeltaMessage struct {
	Tid   string
	Time  treeclock.Clock
	Delta EncodedDelta
}

// wire mirrors §6's JSON shape exactly:
//   { "@context": {...}, "tid": <uuid>, "time": <tree-clock-json>, "encoded": [1, inserts, deletes] }
type wire struct {
	Context json.RawMessage `json:"@context,omitempty"`
	Tid     string          `json:"tid"`
	Time    treeclock.Clock `json:"time"`
	Encoded json.RawMessage `json:"encoded"`
}

func (m DeltaMessage) MarshalJSON() ([]byte, error) {
	encoded, err := json.Marshal([3]any{m.Delta.Version, m.Delta.Inserts, m.Delta.Deletes})
	if err != nil {
		return nil, errors.Wrap(err, "delta: marshal encoded")
	}
	activeContext := activeContexts.compile(deltaContext)
	return json.Marshal(wire{
		Context: json.RawMessage(activeContext.Raw),
		Tid:     m.Tid,
		Time:    m.Time,
		Encoded: encoded,
	})
}

func (m *DeltaMessage) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "delta: bad message")
	}
	if len(w.Context) > 0 {
		expected := activeContexts.compile(deltaContext)
		if string(w.Context) != expected.Raw {
			return errors.New("delta: message carries an unrecognized @context")
		}
	}
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(w.Encoded, &tuple); err != nil {
		return errors.Wrap(err, "delta: bad encoded tuple")
	}
	var version int
	if err := json.Unmarshal(tuple[0], &version); err != nil {
		return errors.Wrap(err, "delta: bad version")
	}
	var inserts []quad.Triple
	if err := json.Unmarshal(tuple[1], &inserts); err != nil {
		return errors.Wrap(err, "delta: bad inserts")
	}
	var deletes []ReifiedDelete
	if err := json.Unmarshal(tuple[2], &deletes); err != nil {
		return errors.Wrap(err, "delta: bad deletes")
	}
	m.Tid = w.Tid
	m.Time = w.Time
	m.Delta = EncodedDelta{Version: version, Inserts: inserts, Deletes: deletes}
	return nil
}

// Canonicalize produces a deterministic byte encoding of a delta for
// hashing: triples and reified deletes sorted by their string form so
// that set-orderings don't matter to the hash.
func Canonicalize(d EncodedDelta) []byte {
	inserts := append([]quad.Triple(nil), d.Inserts...)
	sort.Slice(inserts, func(i, j int) bool { return inserts[i].String() < inserts[j].String() })
	deletes := append([]ReifiedDelete(nil), d.Deletes...)
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].Triple.String() < deletes[j].Triple.String() })
	for i := range deletes {
		tids := append([]string(nil), deletes[i].Tids...)
		sort.Strings(tids)
		deletes[i].Tids = tids
	}
	out, _ := json.Marshal(struct {
		V int
		I []quad.Triple
		D []ReifiedDelete
	}{d.Version, inserts, deletes})
	return out
}
