package clone

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/clonegraph/suset/dataset"
	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/journal"
	"github.com/clonegraph/suset/remote"
	"github.com/clonegraph/suset/treeclock"
)

// addressPath names for the three bootstrap requests a clone answers,
// per §4.4/§4.6: NewClock mints an identity for a joining clone,
// Snapshot hands it the current data graph, and Revup catches a
// resuming clone up on what it missed.
const (
	newClockAddress = "NewClock"
	snapshotAddress = "Snapshot"
	revupAddress    = "Revup"
)

type newClockReply struct {
	Identity treeclock.Clock `json:"identity"`
}

// snapshotRequest/revupRequest carry the stream address the requester
// has already subscribed to, so the responder never starts publishing
// before anyone is listening.
type snapshotRequest struct {
	StreamAddress string `json:"streamAddress"`
}

type snapshotReply struct {
	Head journal.Head `json:"head"`
}

type revupRequest struct {
	StreamAddress string          `json:"streamAddress"`
	Clock         treeclock.Clock `json:"clock"`
}

type revupReply struct{}

// handleNewClockRequest mints a fresh identity leaf for a brand new
// clone joining the domain, per treeclock.Clock.Fork's contract.
func (e *CloneEngine) handleNewClockRequest(ctx context.Context, ds *dataset.Dataset) ([]byte, error) {
	identity, err := ds.ForkIdentity(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "clone: fork identity")
	}
	return json.Marshal(newClockReply{Identity: identity})
}

func (e *CloneEngine) streamAddress() string {
	return e.cfg.Domain + "/stream/" + uuid.New().String()
}

// handleSnapshotRequest opens a snapshot cursor and starts publishing
// batches onto the requester's own stream address in the background
// (the requester subscribed before sending this request, so nothing
// published is lost), replying immediately once publishing has
// started.
func (e *CloneEngine) handleSnapshotRequest(ctx context.Context, ds *dataset.Dataset, payload []byte) ([]byte, error) {
	var req snapshotRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.Wrap(err, "clone: decode snapshot request")
	}
	head, cursor, err := ds.Snapshot(ctx, e.cfg.snapshotBatchSize())
	if err != nil {
		return nil, err
	}
	go func() {
		bg := context.Background()
		defer cursor.Close()
		if err := e.remotes.Streamer.PublishStream(bg, req.StreamAddress, snapshotProducer(cursor)); err != nil {
			e.log.ErrorCtx(bg, "clone: publish snapshot stream failed", "err", err)
		}
	}()
	return json.Marshal(snapshotReply{Head: head})
}

// handleRevupRequest streams every data-bearing journal entry (this
// clone's own transactions and repairs, and remote deltas it applied)
// that the requester's own causal time, carried in the request,
// doesn't already reflect, onto the requester's stream address.
func (e *CloneEngine) handleRevupRequest(ctx context.Context, ds *dataset.Dataset, payload []byte) ([]byte, error) {
	var req revupRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.Wrap(err, "clone: decode revup request")
	}
	cursor, err := ds.RevupCursor(ctx, req.Clock)
	if err != nil {
		return nil, err
	}
	go func() {
		bg := context.Background()
		if err := e.remotes.Streamer.PublishStream(bg, req.StreamAddress, revupProducer(cursor)); err != nil {
			e.log.WarnCtx(bg, "clone: publish revup stream failed, retrying from start", "err", err)
			cursor.Restart()
			if err := e.remotes.Streamer.PublishStream(bg, req.StreamAddress, revupProducer(cursor)); err != nil {
				e.log.ErrorCtx(bg, "clone: publish revup stream failed", "err", err)
			}
		}
	}()
	return json.Marshal(revupReply{})
}

// snapshotProducer adapts a dataset.SnapshotCursor to remote.Producer:
// each non-empty batch is one "next" envelope; the cursor's own Final
// flag ends the stream.
func snapshotProducer(cursor *dataset.SnapshotCursor) remote.Producer {
	done := false
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		if done {
			return nil, false, nil
		}
		batch, err := cursor.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if batch.Final {
			done = true
		}
		if len(batch.Quads) == 0 {
			return nil, false, nil
		}
		payload, err := json.Marshal(batch.Quads)
		if err != nil {
			return nil, false, err
		}
		return payload, true, nil
	}
}

// revupProducer adapts a journal.Cursor of data-bearing entries to
// remote.Producer, re-wrapping each entry as a DeltaMessage carrying
// the entry's TID, delta and LocalTime (for an applied remote delta,
// this clone's local time, not the time the originator published).
func revupProducer(cursor *journal.Cursor) remote.Producer {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		entry, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		msg := delta.DeltaMessage{Tid: entry.Tid, Time: entry.LocalTime, Delta: entry.Delta}
		payload, err := msg.MarshalJSON()
		if err != nil {
			return nil, false, err
		}
		return payload, true, nil
	}
}

// bootstrapNewClock asks a present peer to fork off a fresh identity
// leaf for this clone, the first step any brand new clone takes
// before it can request a snapshot.
func (e *CloneEngine) bootstrapNewClock(ctx context.Context) (treeclock.Clock, error) {
	reply, err := e.remotes.Requester.Send(ctx, newClockAddress, nil)
	if err != nil {
		return treeclock.Clock{}, errors.Wrap(err, "clone: request new clock")
	}
	var resp newClockReply
	if err := json.Unmarshal(reply, &resp); err != nil {
		return treeclock.Clock{}, errors.Wrap(err, "clone: decode new clock reply")
	}
	return resp.Identity, nil
}

// bootstrapSnapshot mints a fresh identity via bootstrapNewClock, then
// requests a full snapshot from a present peer and installs it,
// re-basing the journal onto the snapshot's causal point under that
// new identity. It subscribes to its own stream address before
// sending the request, so the responder's background publish can
// never race ahead of this clone's subscription.
func (e *CloneEngine) bootstrapSnapshot(ctx context.Context) error {
	identity, err := e.bootstrapNewClock(ctx)
	if err != nil {
		return err
	}

	address := e.streamAddress()
	batches := make(chan dataset.SnapshotBatch, 4)
	listener, err := e.remotes.Streamer.Listen(ctx, address, func(payload json.RawMessage) error {
		var quads []dataset.SnapshotQuad
		if err := json.Unmarshal(payload, &quads); err != nil {
			return err
		}
		select {
		case batches <- dataset.SnapshotBatch{Quads: quads}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return errors.Wrap(err, "clone: listen for snapshot stream")
	}

	reqPayload, err := json.Marshal(snapshotRequest{StreamAddress: address})
	if err != nil {
		return err
	}
	reply, err := e.remotes.Requester.Send(ctx, snapshotAddress, reqPayload)
	if err != nil {
		return errors.Wrap(err, "clone: request snapshot")
	}
	var resp snapshotReply
	if err := json.Unmarshal(reply, &resp); err != nil {
		return errors.Wrap(err, "clone: decode snapshot reply")
	}

	streamDone := make(chan error, 1)
	go func() {
		err := listener.Wait(ctx)
		close(batches)
		streamDone <- err
	}()

	next := func(ctx context.Context) (dataset.SnapshotBatch, bool, error) {
		b, ok := <-batches
		return b, ok, nil
	}
	if err := dataset.ApplySnapshot(ctx, e.dataset(), resp.Head, identity, next); err != nil {
		return err
	}
	return <-streamDone
}

// bootstrapRevup subscribes to its own stream address, then sends this
// clone's own causal time to a present peer and applies whatever
// entries come back as remote deltas, in order.
func (e *CloneEngine) bootstrapRevup(ctx context.Context) error {
	address := e.streamAddress()
	listener, err := e.remotes.Streamer.Listen(ctx, address, func(payload json.RawMessage) error {
		var msg delta.DeltaMessage
		if err := msg.UnmarshalJSON(payload); err != nil {
			return err
		}
		outgoing, err := dataset.ApplyRemote(ctx, e.dataset(), &msg)
		if err != nil {
			return err
		}
		if outgoing != nil {
			if err := e.remotes.Broadcast(ctx, outgoing); err != nil {
				e.log.ErrorCtx(ctx, "clone: broadcast repair failed", "err", err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "clone: listen for revup stream")
	}

	reqPayload, err := json.Marshal(revupRequest{StreamAddress: address, Clock: e.dataset().Clock()})
	if err != nil {
		return err
	}
	reply, err := e.remotes.Requester.Send(ctx, revupAddress, reqPayload)
	if err != nil {
		return errors.Wrap(err, "clone: request revup")
	}
	var resp revupReply
	if err := json.Unmarshal(reply, &resp); err != nil {
		return errors.Wrap(err, "clone: decode revup reply")
	}

	return listener.Wait(ctx)
}
