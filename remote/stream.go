package remote

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/clonegraph/suset/transport"
)

// StreamEnvelope is one message on a streamed snapshot/revup channel,
// per §4.4/§9: a sequence of {next} payloads terminated by {complete}
// or {error}.
type StreamEnvelope struct {
	Kind    string          `json:"kind"` // "next" | "complete" | "error"
	Seq     int             `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Err     string          `json:"err,omitempty"`
}

// Producer yields the next payload of a stream; ok=false with a nil
// error means the stream is exhausted.
type Producer func(ctx context.Context) (payload json.RawMessage, ok bool, err error)

// Streamer publishes and consumes streamed channels, serializing
// publishes per address with a FIFO lock so subscribers always
// observe next/next/.../complete in order, per §5's per-address
// notification lock.
type Streamer struct {
	t     transport.Transport
	locks *xsync.MapOf[string, *sync.Mutex]
}

func NewStreamer(t transport.Transport) *Streamer {
	return &Streamer{t: t, locks: xsync.NewMapOf[string, *sync.Mutex]()}
}

func (s *Streamer) addressLock(address string) *sync.Mutex {
	mu, _ := s.locks.LoadOrCompute(address, func() *sync.Mutex { return &sync.Mutex{} })
	return mu
}

// PublishStream drains produce onto address in order, ending with a
// complete or error envelope.
func (s *Streamer) PublishStream(ctx context.Context, address string, produce Producer) error {
	mu := s.addressLock(address)
	mu.Lock()
	defer mu.Unlock()

	seq := 0
	for {
		payload, ok, err := produce(ctx)
		if err != nil {
			return s.publish(ctx, address, StreamEnvelope{Kind: "error", Seq: seq, Err: err.Error()})
		}
		if !ok {
			return s.publish(ctx, address, StreamEnvelope{Kind: "complete", Seq: seq})
		}
		if err := s.publish(ctx, address, StreamEnvelope{Kind: "next", Seq: seq, Payload: payload}); err != nil {
			return err
		}
		seq++
	}
}

func (s *Streamer) publish(ctx context.Context, address string, env StreamEnvelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "remote: marshal stream envelope")
	}
	return s.t.Publish(ctx, address, b, false)
}

// Listener is a stream subscription that has already registered with
// the transport but not yet been waited on. Splitting subscribe from
// wait lets a caller subscribe before triggering whatever causes the
// other side to start publishing (e.g. a send/reply request naming
// this listener's address), so no published envelope can be lost to a
// subscriber that hasn't registered yet.
type Listener struct {
	unsub func()
	done  chan error
}

// Listen subscribes to address and calls onNext for every payload in
// order; the stream doesn't actually block the caller until Wait is
// called.
func (s *Streamer) Listen(ctx context.Context, address string, onNext func(json.RawMessage) error) (*Listener, error) {
	done := make(chan error, 1)
	next := 0

	unsub, err := s.t.Subscribe(ctx, address, func(_ context.Context, msg transport.Message) {
		var env StreamEnvelope
		if json.Unmarshal(msg.Payload, &env) != nil {
			return
		}
		if env.Seq != next {
			// Out-of-order delivery would indicate a transport
			// ordering violation; since the address lock on the
			// publish side guarantees FIFO, treat it as fatal.
			select {
			case done <- errors.Errorf("remote: stream %s delivered out of order at seq %d, expected %d", address, env.Seq, next):
			default:
			}
			return
		}
		next++
		switch env.Kind {
		case "next":
			if err := onNext(env.Payload); err != nil {
				select {
				case done <- err:
				default:
				}
			}
		case "complete":
			select {
			case done <- nil:
			default:
			}
		case "error":
			select {
			case done <- errors.New(env.Err):
			default:
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return &Listener{unsub: unsub, done: done}, nil
}

// Wait blocks until the stream completes, errors, or ctx is done.
func (l *Listener) Wait(ctx context.Context) error {
	defer l.unsub()
	select {
	case err := <-l.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeStream subscribes to address and calls onNext for every
// payload in order, returning nil on a clean complete or the
// responder's reported error on an error envelope. Prefer Listen+Wait
// when the subscription must be in place before some other action
// (e.g. a request naming this address) triggers the publish side.
func (s *Streamer) ConsumeStream(ctx context.Context, address string, onNext func(json.RawMessage) error) error {
	l, err := s.Listen(ctx, address, onNext)
	if err != nil {
		return err
	}
	return l.Wait(ctx)
}
