package treeclock

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// wireClock is the JSON shape from spec §6: each tree node is either
// [ticks] (leaf) or [left, right] (interior); the identity path is a
// parallel list of 0/1 indices from root to the identity leaf.
type wireClock struct {
	Tree json.RawMessage `json:"tree"`
	ID   []uint8         `json:"id"`
}

func (c Clock) MarshalJSON() ([]byte, error) {
	tree, err := marshalNode(c.root)
	if err != nil {
		return nil, err
	}
	// A []uint8 field would marshal as a base64 string; the identity
	// path goes on the wire as a JSON array of 0/1 indices.
	var id []int
	for _, dir := range c.id {
		id = append(id, int(dir))
	}
	return json.Marshal(struct {
		Tree json.RawMessage `json:"tree"`
		ID   []int           `json:"id"`
	}{Tree: tree, ID: id})
}

func marshalNode(n *node) (json.RawMessage, error) {
	if n.isLeaf() {
		return json.Marshal([1]uint64{n.tick})
	}
	left, err := marshalNode(n.left)
	if err != nil {
		return nil, err
	}
	right, err := marshalNode(n.right)
	if err != nil {
		return nil, err
	}
	return json.Marshal([2]json.RawMessage{left, right})
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var w wireClock
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "treeclock: bad wire clock")
	}
	root, err := unmarshalNode(w.Tree)
	if err != nil {
		return err
	}
	c.root = root
	c.id = w.ID
	if !validID(root, w.ID) {
		return errors.Wrap(ErrBadShape, "treeclock: identity path does not address a leaf")
	}
	return nil
}

// ErrBadShape is returned when a wire clock's identity path runs into
// an interior node instead of terminating on a leaf.
var ErrBadShape = errors.New("treeclock: malformed tree shape")

func validID(n *node, id []uint8) bool {
	for _, dir := range id {
		if n.isLeaf() {
			return false
		}
		n = child(n, dir)
	}
	return n.isLeaf()
}

func unmarshalNode(raw json.RawMessage) (*node, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, errors.Wrap(err, "treeclock: bad tree node")
	}
	switch len(arr) {
	case 1:
		var tick uint64
		if err := json.Unmarshal(arr[0], &tick); err != nil {
			return nil, errors.Wrap(err, "treeclock: bad leaf tick")
		}
		return leaf(tick), nil
	case 2:
		left, err := unmarshalNode(arr[0])
		if err != nil {
			return nil, err
		}
		right, err := unmarshalNode(arr[1])
		if err != nil {
			return nil, err
		}
		return fork(left, right), nil
	default:
		return nil, errors.Wrapf(ErrBadShape, "treeclock: node has %d elements", len(arr))
	}
}
