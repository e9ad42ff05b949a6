package constraint

import (
	"context"

	"github.com/pkg/errors"

	"github.com/clonegraph/suset/quad"
)

// CheckList is an ordered composition of constraints: Check fails if
// any member fails; Apply composes repairs sequentially, threading
// each repair's resulting state into the next member's check.
type CheckList struct {
	members []Constraint
}

func NewCheckList(members ...Constraint) *CheckList {
	return &CheckList{members: members}
}

func (c *CheckList) Check(ctx context.Context, update quad.Update, read Read) error {
	for i, m := range c.members {
		if err := m.Check(ctx, update, read); err != nil {
			return errors.Wrapf(err, "checklist: member %d failed", i)
		}
	}
	return nil
}

func (c *CheckList) Apply(ctx context.Context, update quad.Update, read Read) (*quad.Patch, error) {
	var combined quad.Patch
	current := update
	currentRead := read
	for _, m := range c.members {
		repair, err := m.Apply(ctx, current, currentRead)
		if err != nil {
			return nil, err
		}
		if repair == nil {
			continue
		}
		combined.OldQuads = append(combined.OldQuads, repair.OldQuads...)
		combined.NewQuads = append(combined.NewQuads, repair.NewQuads...)
		// Thread the repair into the update the next member sees, so
		// a later constraint checks against the already-repaired
		// state rather than the original proposal.
		current = quad.Update{
			Ticks:   current.Ticks,
			Inserts: applyPatchToSet(current.Inserts, *repair),
			Deletes: append(append([]quad.Triple(nil), current.Deletes...), repair.OldQuads...),
		}
		currentRead = overlayRead{base: currentRead, patch: *repair}
	}
	if combined.Empty() {
		return nil, nil
	}
	return &combined, nil
}

func applyPatchToSet(inserts []quad.Triple, p quad.Patch) []quad.Triple {
	removed := make(map[string]struct{}, len(p.OldQuads))
	for _, t := range p.OldQuads {
		removed[t.String()] = struct{}{}
	}
	out := make([]quad.Triple, 0, len(inserts)+len(p.NewQuads))
	for _, t := range inserts {
		if _, gone := removed[t.String()]; !gone {
			out = append(out, t)
		}
	}
	out = append(out, p.NewQuads...)
	return out
}

// overlayRead layers a pending patch's insertions/deletions over a
// base Read, so each CheckList member sees the effect of earlier
// repairs without committing anything.
type overlayRead struct {
	base  Read
	patch quad.Patch
}

func (o overlayRead) Values(ctx context.Context, s, p quad.Term) ([]quad.Term, error) {
	base, err := o.base.Values(ctx, s, p)
	if err != nil {
		return nil, err
	}
	removed := make(map[string]struct{})
	for _, t := range o.patch.OldQuads {
		if t.S == s && t.P == p {
			removed[t.O.String()] = struct{}{}
		}
	}
	out := make([]quad.Term, 0, len(base))
	for _, v := range base {
		if _, gone := removed[v.String()]; !gone {
			out = append(out, v)
		}
	}
	for _, t := range o.patch.NewQuads {
		if t.S == s && t.P == p {
			out = append(out, t.O)
		}
	}
	return out, nil
}
