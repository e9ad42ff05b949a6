package delta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clonegraph/suset/quad"
	"github.com/clonegraph/suset/treeclock"
)

func TestDeltaMessageRoundTrip(t *testing.T) {
	msg := DeltaMessage{
		Tid:  "t1",
		Time: treeclock.GENESIS.Tick(),
		Delta: EncodedDelta{
			Version: EncodedVersion,
			Inserts: []quad.Triple{{S: quad.IRI("fred"), P: quad.IRI("name"), O: quad.Literal("Fred")}},
		},
	}

	data, err := msg.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"@context"`, "the wire envelope must carry the fixed delta context")

	var decoded DeltaMessage
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, msg, decoded)
}

func TestDeltaMessageUnmarshalRejectsUnknownContext(t *testing.T) {
	raw := `{"@context":{"s":"not-the-right-one"},"tid":"t1","time":{"tree":[0],"id":[]},"encoded":[1,[],[]]}`

	var decoded DeltaMessage
	err := decoded.UnmarshalJSON([]byte(raw))
	require.Error(t, err)
}

func TestDeltaMessageUnmarshalPermitsMissingContext(t *testing.T) {
	raw := `{"tid":"t1","time":{"tree":[0],"id":[]},"encoded":[1,[],[]]}`

	var decoded DeltaMessage
	require.NoError(t, decoded.UnmarshalJSON([]byte(raw)))
	assert.Equal(t, "t1", decoded.Tid)
}

func TestActiveContextCompileIsMemoized(t *testing.T) {
	cache := newContextCache(4)
	a := cache.compile(deltaContext)
	b := cache.compile(append([]byte(nil), deltaContext...))
	assert.Same(t, a, b, "identical raw bytes must compile to the same cached value")
	_ = json.RawMessage(a.Raw)
}
