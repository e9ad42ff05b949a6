package remote

import (
	"context"
	"time"

	"github.com/clonegraph/suset/delta"
	"github.com/clonegraph/suset/internal/logging"
	"github.com/clonegraph/suset/transport"
)

// Callbacks is CloneEngine's side of the Remotes/CloneEngine
// relationship, inverted per §9 so Remotes holds only a borrowed
// interface rather than importing the engine.
type Callbacks interface {
	// OnOperation delivers a broadcast delta received from a peer.
	OnOperation(ctx context.Context, msg *delta.DeltaMessage)
	// OnRequest answers a send/reply request addressed to this
	// clone — NewClock, Snapshot, or Revup, by addressPath.
	OnRequest(ctx context.Context, fromID, addressPath string, payload []byte) ([]byte, error)
}

// Remotes is a clone's pub/sub client: operation broadcast, presence,
// genesis election, and send/reply/stream request-response, per §4.6.
type Remotes struct {
	domain string
	selfID string
	t      transport.Transport
	log    logging.Logger

	Presence   *Presence
	Requester  *Requester
	Streamer   *Streamer

	unsubOps func()
}

// Dial connects to the domain as selfID, starting presence tracking
// and the send/reply responder; callbacks answers inbound requests
// and receives broadcast deltas.
func Dial(ctx context.Context, t transport.Transport, domain, selfID string, sendTimeout time.Duration, log logging.Logger, callbacks Callbacks) (*Remotes, error) {
	if log == nil {
		log = logging.Nop{}
	}

	presence, err := StartPresence(ctx, t, domain, selfID)
	if err != nil {
		return nil, err
	}

	requester, err := NewRequester(ctx, t, presence, domain, selfID, sendTimeout, callbacks.OnRequest)
	if err != nil {
		return nil, err
	}

	r := &Remotes{
		domain:    domain,
		selfID:    selfID,
		t:         t,
		log:       log,
		Presence:  presence,
		Requester: requester,
		Streamer:  NewStreamer(t),
	}

	unsub, err := t.Subscribe(ctx, operationsTopic(domain), func(ctx context.Context, msg transport.Message) {
		var m delta.DeltaMessage
		if err := m.UnmarshalJSON(msg.Payload); err != nil {
			log.ErrorCtx(ctx, "remote: bad operation payload", "err", err)
			return
		}
		callbacks.OnOperation(ctx, &m)
	})
	if err != nil {
		return nil, err
	}
	r.unsubOps = unsub

	return r, nil
}

// Broadcast publishes a locally-produced delta to every peer. Per
// §5's ordering guarantee, the caller publishes in journal order —
// one call per local transaction or constraint repair; applied remote
// deltas are not re-published.
func (r *Remotes) Broadcast(ctx context.Context, msg *delta.DeltaMessage) error {
	b, err := msg.MarshalJSON()
	if err != nil {
		return err
	}
	return r.t.Publish(ctx, operationsTopic(r.domain), b, false)
}

func (r *Remotes) Close(ctx context.Context) error {
	if r.unsubOps != nil {
		r.unsubOps()
	}
	return r.Presence.Close(ctx)
}
