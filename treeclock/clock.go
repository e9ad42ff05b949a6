// Package treeclock implements the tree-structured logical clock used
// as a clone's causal identity: a binary tree of tick counts, with a
// single leaf designated as this clone's identity. Clones fork off
// new identities from their own leaf and merge in the leaves they
// observe from peers; no coordinator ever hands out identities.
//
// Clock values are immutable. Every operation returns a new value; the
// caller decides what to do with the old one.
package treeclock

import "fmt"

// Mode controls whether AnyLt compares the leaf positions that are
// either operand's own identity leaf.
type Mode int

const (
	// ExcludeIds skips both self's and other's identity-leaf position
	// when looking for a leaf where other exceeds self. This is the
	// test for "does other know something new about a third party".
	ExcludeIds Mode = iota
	// IncludeIds additionally considers the identity-leaf positions,
	// used to test whether a clock has already been causally
	// subsumed, including by its own later self.
	IncludeIds
)

type node struct {
	tick        uint64
	left, right *node
}

func (n *node) isLeaf() bool { return n == nil || (n.left == nil && n.right == nil) }

func leaf(tick uint64) *node { return &node{tick: tick} }

func fork(l, r *node) *node { return &node{left: l, right: r} }

// Clock is an immutable snapshot of a clone's causal time.
type Clock struct {
	root *node
	// id is the path from root to this clock's identity leaf, as a
	// sequence of 0 (left) / 1 (right) choices. Empty means the root
	// itself is the identity leaf.
	id []uint8
}

// GENESIS is the designated root clock: a single identity leaf at
// tick 0. Exactly one clone in a domain may adopt it directly; every
// other clone's identity comes from forking an existing one.
var GENESIS = Clock{root: leaf(0)}

// Ticks returns the tick count on this clock's own identity leaf.
func (c Clock) Ticks() uint64 {
	n := c.root
	for _, dir := range c.id {
		if n.isLeaf() {
			break
		}
		n = child(n, dir)
	}
	return n.tick
}

// Tick advances the identity leaf by one, producing the clock for a
// new local transaction. Called exactly once per transaction, before
// the delta is constructed.
func (c Clock) Tick() Clock {
	return Clock{root: setTick(c.root, c.id, c.Ticks()+1), id: c.id}
}

func setTick(n *node, path []uint8, tick uint64) *node {
	if len(path) == 0 || n.isLeaf() {
		return leaf(tick)
	}
	if path[0] == 0 {
		return fork(setTick(n.left, path[1:], tick), n.right)
	}
	return fork(n.left, setTick(n.right, path[1:], tick))
}

// Fork splits this clock's identity leaf into two sibling leaves at
// the same tick. The receiver keeps the left as its own identity
// (that clock is returned as self); the right is handed to a brand
// new clone. Both halves still observe every other leaf unchanged.
func (c Clock) Fork() (self, forked Clock) {
	t := c.Ticks()
	newSubtree := fork(leaf(t), leaf(t))
	root := setSubtree(c.root, c.id, newSubtree)
	selfID := appendPath(c.id, 0)
	forkedID := appendPath(c.id, 1)
	return Clock{root: root, id: selfID}, Clock{root: root, id: forkedID}
}

func setSubtree(n *node, path []uint8, subtree *node) *node {
	if len(path) == 0 {
		return subtree
	}
	if path[0] == 0 {
		return fork(setSubtree(n.left, path[1:], subtree), n.right)
	}
	return fork(n.left, setSubtree(n.right, path[1:], subtree))
}

func appendPath(p []uint8, dir uint8) []uint8 {
	np := make([]uint8, len(p)+1)
	copy(np, p)
	np[len(p)] = dir
	return np
}

func child(n *node, dir uint8) *node {
	if dir == 0 {
		return n.left
	}
	return n.right
}

// Merge folds b's knowledge into a, taking a per-leaf maximum over the
// union of both tree shapes (a shallower side is treated as if it had
// forked into two leaves of its own value, i.e. padded, not zeroed).
// The identity is preserved from a.
func Merge(a, b Clock) Clock {
	return Clock{root: mergeNodes(a.root, b.root), id: a.id}
}

func mergeNodes(x, y *node) *node {
	switch {
	case x.isLeaf() && y.isLeaf():
		if x.tick >= y.tick {
			return leaf(x.tick)
		}
		return leaf(y.tick)
	case x.isLeaf():
		return mergeNodes(fork(leaf(x.tick), leaf(x.tick)), y)
	case y.isLeaf():
		return mergeNodes(x, fork(leaf(y.tick), leaf(y.tick)))
	default:
		return fork(mergeNodes(x.left, y.left), mergeNodes(x.right, y.right))
	}
}

// AnyLt reports whether some leaf of other exceeds the corresponding
// leaf of c ("other knows something c doesn't"). Trees of differing
// shape are aligned by padding the shallower side, per Merge's rule.
func (c Clock) AnyLt(other Clock, mode Mode) bool {
	return anyLt(c.root, other.root, nil, mode, c.id, other.id)
}

func anyLt(x, y *node, path []uint8, mode Mode, selfID, otherID []uint8) bool {
	switch {
	case x.isLeaf() && y.isLeaf():
		if mode == ExcludeIds && (pathEq(path, selfID) || pathEq(path, otherID)) {
			return false
		}
		return y.tick > x.tick
	case x.isLeaf():
		return anyLt(fork(leaf(x.tick), leaf(x.tick)), y, path, mode, selfID, otherID)
	case y.isLeaf():
		return anyLt(x, fork(leaf(y.tick), leaf(y.tick)), path, mode, selfID, otherID)
	default:
		return anyLt(x.left, y.left, appendPath(path, 0), mode, selfID, otherID) ||
			anyLt(x.right, y.right, appendPath(path, 1), mode, selfID, otherID)
	}
}

func pathEq(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetTicks returns the ticks c attributes to other's identity leaf,
// and whether that leaf is still addressable in c's tree. It is
// absent (ok=false) when c has forked deeper than other's identity
// path, so no single tick can represent that position any more.
func (c Clock) GetTicks(other Clock) (ticks uint64, ok bool) {
	n := c.root
	for _, dir := range other.id {
		if n.isLeaf() {
			return n.tick, true
		}
		n = child(n, dir)
	}
	if n.isLeaf() {
		return n.tick, true
	}
	return 0, false
}

// SameIdentity reports whether c and other were forked to the same
// identity leaf position — the self-echo test.
func (c Clock) SameIdentity(other Clock) bool {
	return pathEq(c.id, other.id)
}

func (c Clock) String() string {
	return fmt.Sprintf("treeclock(ticks=%d, id=%v)", c.Ticks(), c.id)
}
