package constraint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonegraph/suset/quad"
)

type fakeRead struct {
	values map[string][]quad.Term
}

func key(s, p quad.Term) string { return s.String() + "|" + p.String() }

func (f fakeRead) Values(ctx context.Context, s, p quad.Term) ([]quad.Term, error) {
	return f.values[key(s, p)], nil
}

var nameProp = quad.IRI("name")
var fred = quad.IRI("fred")

func TestSingleValuedPass(t *testing.T) {
	sv := NewSingleValued(nameProp)
	update := quad.Update{
		Inserts: []quad.Triple{{S: fred, P: nameProp, O: quad.Literal("Fred")}},
	}
	err := sv.Check(context.Background(), update, fakeRead{})
	assert.NoError(t, err)
}

func TestSingleValuedFail(t *testing.T) {
	sv := NewSingleValued(nameProp)
	update := quad.Update{
		Inserts: []quad.Triple{
			{S: fred, P: nameProp, O: quad.Literal("Fred")},
			{S: fred, P: nameProp, O: quad.Literal("Flintstone")},
		},
	}
	err := sv.Check(context.Background(), update, fakeRead{})
	assert.Error(t, err)
}

func TestSingleValuedRepairIsDeterministic(t *testing.T) {
	sv := NewSingleValued(nameProp)
	read := fakeRead{values: map[string][]quad.Term{
		key(fred, nameProp): {quad.Literal("Fred")},
	}}
	update := quad.Update{
		Inserts: []quad.Triple{{S: fred, P: nameProp, O: quad.Literal("Flintstone")}},
	}

	repair1, err := sv.Apply(context.Background(), update, read)
	require.NoError(t, err)
	require.NotNil(t, repair1)

	repair2, err := sv.Apply(context.Background(), update, read)
	require.NoError(t, err)
	require.NotNil(t, repair2)

	assert.Equal(t, repair1.OldQuads, repair2.OldQuads)
	// "Fred" < "Flintstone" is false lexicographically ("Fli" < "Fre"),
	// so Flintstone survives and Fred is deleted.
	assert.Equal(t, []quad.Triple{{S: fred, P: nameProp, O: quad.Literal("Fred")}}, repair1.OldQuads)
}

func TestCheckListComposesRepairs(t *testing.T) {
	cl := NewCheckList(NewSingleValued(nameProp))
	read := fakeRead{values: map[string][]quad.Term{
		key(fred, nameProp): {quad.Literal("Fred")},
	}}
	update := quad.Update{
		Inserts: []quad.Triple{{S: fred, P: nameProp, O: quad.Literal("Flintstone")}},
	}
	repair, err := cl.Apply(context.Background(), update, read)
	require.NoError(t, err)
	require.NotNil(t, repair)
	assert.Len(t, repair.OldQuads, 1)
}
