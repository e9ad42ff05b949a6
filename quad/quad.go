// Package quad defines the RDF quad data model shared by the journal,
// TID index, and dataset: triples, named-graph quads, and the patches
// and update shapes that flow between a transaction and a constraint.
package quad

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Term is an RDF term: an IRI, a blank node, or a literal. The query
// front-end (out of scope here) is responsible for compiling user
// patterns into terms of this shape; the core only needs to hash,
// compare, and serialize them.
type Term struct {
	// Kind is one of "iri", "blank", "literal".
	Kind  string `json:"kind"`
	Value string `json:"value"`
	// Lang and Datatype apply to literals only; both optional.
	Lang     string `json:"lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

func IRI(v string) Term     { return Term{Kind: "iri", Value: v} }
func Blank(v string) Term   { return Term{Kind: "blank", Value: v} }
func Literal(v string) Term { return Term{Kind: "literal", Value: v} }

func (t Term) String() string {
	switch t.Kind {
	case "blank":
		return "_:" + t.Value
	case "literal":
		if t.Lang != "" {
			return fmt.Sprintf("%q@%s", t.Value, t.Lang)
		}
		if t.Datatype != "" {
			return fmt.Sprintf("%q^^%s", t.Value, t.Datatype)
		}
		return fmt.Sprintf("%q", t.Value)
	default:
		return t.Value
	}
}

// Triple is a subject-predicate-object fact in the user-visible graph.
type Triple struct {
	S, P, O Term
}

func (t Triple) String() string { return fmt.Sprintf("%s %s %s", t.S, t.P, t.O) }

// Graph names the three logical graphs the dataset maintains.
type Graph string

const (
	Default Graph = "default"
	Control Graph = "control"
	Tids    Graph = "tids"
)

// Quad is a Triple scoped to a named graph.
type Quad struct {
	Triple
	G Graph
}

// ID is the canonical hash identity of a triple: H(s||p||o). Used as
// the TID index's key.
type ID uint64

// TripleID computes the canonical hash of a triple's encoded terms.
// Encoding is a simple length-prefixed concatenation so that no two
// distinct (s,p,o) triples can collide by field-boundary ambiguity.
func TripleID(t Triple) ID {
	h := xxhash.New()
	writeTerm(h, t.S)
	writeTerm(h, t.P)
	writeTerm(h, t.O)
	return ID(h.Sum64())
}

func writeTerm(h *xxhash.Digest, t Term) {
	_, _ = h.Write([]byte{byte(len(t.Kind))})
	_, _ = h.Write([]byte(t.Kind))
	writeLenPrefixed(h, t.Value)
	writeLenPrefixed(h, t.Lang)
	writeLenPrefixed(h, t.Datatype)
}

func writeLenPrefixed(h *xxhash.Digest, s string) {
	var lenBuf [4]byte
	n := uint32(len(s))
	lenBuf[0] = byte(n)
	lenBuf[1] = byte(n >> 8)
	lenBuf[2] = byte(n >> 16)
	lenBuf[3] = byte(n >> 24)
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write([]byte(s))
}

// Patch is the effect of one transaction on the data graph, prior to
// constraint checking and TID bookkeeping: triples removed and
// triples added.
type Patch struct {
	OldQuads []Triple
	NewQuads []Triple
}

func (p Patch) Empty() bool { return len(p.OldQuads) == 0 && len(p.NewQuads) == 0 }

// Update is the flattened view of a Patch that a Constraint inspects:
// the causal tick the change happened at, plus the insert/delete
// triple sets. It intentionally drops TID bookkeeping — constraints
// reason about graph shape, not provenance.
type Update struct {
	Ticks   uint64
	Inserts []Triple
	Deletes []Triple
}

func UpdateFromPatch(ticks uint64, p Patch) Update {
	return Update{Ticks: ticks, Inserts: p.NewQuads, Deletes: p.OldQuads}
}
