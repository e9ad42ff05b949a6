// Package suseterr declares the error kinds a clone can surface, per
// the propagation policy: which ones are fatal to the clone, which are
// retryable, and which simply reject a caller's request.
package suseterr

import "errors"

var (
	// ErrClock means a TreeClock invariant was violated: a shape
	// mismatch survived padding, or a merge produced a decreasing tick.
	ErrClock = errors.New("suset: clock invariant violated")

	// ErrBadUpdate means a received delta failed to decode, or named
	// triples the receiver has no record of where one was required.
	// Fatal: the clone that sees it closes.
	ErrBadUpdate = errors.New("suset: bad update")

	// ErrNoneVisible means no peer is present to send a request to.
	ErrNoneVisible = errors.New("suset: no peers visible")

	// ErrSendTimeout means a send/reply request exceeded its deadline.
	ErrSendTimeout = errors.New("suset: send timed out")

	// ErrConstraintFailed means a local write was rejected by a
	// Constraint.check; no state changed.
	ErrConstraintFailed = errors.New("suset: constraint failed")

	// ErrStorageLocked means another process holds the data directory.
	ErrStorageLocked = errors.New("suset: storage directory locked")

	// ErrClosed means the operation was attempted after Close.
	ErrClosed = errors.New("suset: clone closed")

	// ErrCannotRevup means the requester's causal time is unknown to
	// this clone; the caller must fall back to a snapshot.
	ErrCannotRevup = errors.New("suset: cannot revup")

	// ErrSelfEcho means a delta's identity leaf equals the receiver's
	// own identity leaf.
	ErrSelfEcho = errors.New("suset: delta echoes own identity")
)
