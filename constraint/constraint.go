// Package constraint implements the pluggable invariant checker that
// may reject a local transaction or repair a remote one so that every
// replica converges on an invariant-respecting state.
package constraint

import (
	"context"

	"github.com/clonegraph/suset/quad"
)

// Read is the read-side a constraint needs: the current value(s) for
// a subject/predicate, as they stand before the update under
// consideration is applied. It is the one hook into dataset state a
// constraint gets — everything else is pure.
type Read interface {
	// Values returns the literal/IRI values currently held by s for
	// predicate p in the default graph.
	Values(ctx context.Context, s, p quad.Term) ([]quad.Term, error)
}

// Constraint checks and, optionally, repairs an Update.
type Constraint interface {
	// Check fails (non-nil error) if update violates the invariant.
	Check(ctx context.Context, update quad.Update, read Read) error
	// Apply returns an optional repair write — a delete/insert set
	// that, composed with update, restores the invariant. A nil
	// Patch means no repair was necessary.
	Apply(ctx context.Context, update quad.Update, read Read) (*quad.Patch, error)
}
