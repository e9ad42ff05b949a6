package constraint

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/clonegraph/suset/quad"
)

// ErrMultipleValues is wrapped by SingleValued.Check's failure.
var ErrMultipleValues = errors.New("constraint: subject has more than one value for property")

// SingleValued fails if the union of inserts and pre-existing values
// gives any subject more than one value for Property. Its repair
// deletes the lexicographically-greater duplicate values so exactly
// one survives — chosen the same way on every replica, so concurrent
// repairs converge byte-for-byte.
type SingleValued struct {
	Property quad.Term
}

func NewSingleValued(property quad.Term) *SingleValued {
	return &SingleValued{Property: property}
}

// subjectsTouched returns the distinct subjects the update inserts or
// deletes a Property value for.
func (sv *SingleValued) subjectsTouched(update quad.Update) []quad.Term {
	seen := make(map[string]quad.Term)
	for _, t := range update.Inserts {
		if t.P == sv.Property {
			seen[t.S.String()] = t.S
		}
	}
	for _, t := range update.Deletes {
		if t.P == sv.Property {
			seen[t.S.String()] = t.S
		}
	}
	subjects := make([]quad.Term, 0, len(seen))
	for _, s := range seen {
		subjects = append(subjects, s)
	}
	return subjects
}

// currentValues merges read's existing values for s.Property with the
// update's own inserts/deletes for that subject, so Check/Apply see a
// single consistent view.
func (sv *SingleValued) currentValues(ctx context.Context, update quad.Update, read Read, s quad.Term) ([]quad.Term, error) {
	existing, err := read.Values(ctx, s, sv.Property)
	if err != nil {
		return nil, err
	}
	removed := make(map[string]struct{})
	for _, t := range update.Deletes {
		if t.S == s && t.P == sv.Property {
			removed[t.O.String()] = struct{}{}
		}
	}
	byValue := make(map[string]quad.Term)
	for _, v := range existing {
		if _, gone := removed[v.String()]; !gone {
			byValue[v.String()] = v
		}
	}
	for _, t := range update.Inserts {
		if t.S == s && t.P == sv.Property {
			byValue[t.O.String()] = t.O
		}
	}
	values := make([]quad.Term, 0, len(byValue))
	for _, v := range byValue {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].String() < values[j].String() })
	return values, nil
}

func (sv *SingleValued) Check(ctx context.Context, update quad.Update, read Read) error {
	for _, s := range sv.subjectsTouched(update) {
		values, err := sv.currentValues(ctx, update, read, s)
		if err != nil {
			return err
		}
		if len(values) > 1 {
			return errors.Wrapf(ErrMultipleValues, "subject %s property %s has %d values", s, sv.Property, len(values))
		}
	}
	return nil
}

func (sv *SingleValued) Apply(ctx context.Context, update quad.Update, read Read) (*quad.Patch, error) {
	var patch quad.Patch
	for _, s := range sv.subjectsTouched(update) {
		values, err := sv.currentValues(ctx, update, read, s)
		if err != nil {
			return nil, err
		}
		if len(values) <= 1 {
			continue
		}
		// Deterministic: keep the lexicographically smallest value,
		// delete the rest.
		for _, v := range values[1:] {
			patch.OldQuads = append(patch.OldQuads, quad.Triple{S: s, P: sv.Property, O: v})
		}
	}
	if patch.Empty() {
		return nil, nil
	}
	return &patch, nil
}
