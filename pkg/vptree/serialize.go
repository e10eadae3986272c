package vptree

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/nnerrors"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/state"
)

// Serialize emits, in order, the examples (ndarray serializer), the indices
// permutation (flat-vector serializer), and the partition tree (pre-order,
// with a (0, -1, -1) sentinel for each absent child), then stamps a
// trailing CRC32 over everything written. An empty tree serializes to an
// empty blob.
func (t *Tree[E, D]) Serialize() ([]byte, uint32, error) {
	start := time.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == noChild {
		return nil, 0, nil
	}

	w := state.NewWriter()
	if err := state.WriteNdarray(w, t.examples); err != nil {
		return nil, 0, err
	}
	if err := state.WriteFlat(w, t.indices); err != nil {
		return nil, 0, err
	}
	if err := t.writePreorder(w); err != nil {
		return nil, 0, err
	}

	checksum := w.Close()
	payload := w.Bytes()
	out := make([]byte, len(payload)+4)
	copy(out, payload)
	binary.LittleEndian.PutUint32(out[len(payload):], checksum)

	if t.metrics != nil {
		t.metrics.RecordSerialize(time.Since(start), len(out))
	}
	if t.logger != nil {
		t.logger.LogQuery("vptree", "serialize", "ok", time.Since(start), map[string]interface{}{
			"bytes": len(out),
		})
	}
	return out, checksum, nil
}

// writePreorder walks the arena in parent/left/right order using an
// explicit stack (right pushed before left, so left pops first) rather than
// the arena's own storage order, which is whatever order Set's iterative
// build happened to append nodes in.
func (t *Tree[E, D]) writePreorder(w *state.Buffer) error {
	stack := []int32{t.root}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if idx == noChild {
			if err := state.WriteValue(w, float32(0)); err != nil {
				return err
			}
			if err := state.WriteValue(w, int64(-1)); err != nil {
				return err
			}
			if err := state.WriteValue(w, int64(-1)); err != nil {
				return err
			}
			continue
		}

		n := t.nodes[idx]
		if err := state.WriteValue(w, float32(n.radius)); err != nil {
			return err
		}
		if err := state.WriteValue(w, n.start); err != nil {
			return err
		}
		if err := state.WriteValue(w, n.end); err != nil {
			return err
		}
		stack = append(stack, n.right, n.left)
	}
	return nil
}

// Deserialize rebuilds a tree from a blob produced by Serialize, bound to
// the given metric. The checksum is validated before any reconstruction is
// attempted; a mismatch (including any single-bit flip in blob) fails with
// Corrupt and leaves no partially built tree observable.
func Deserialize[E any, D distance](dist func(a, b []E) D, blob []byte, checksum uint32) (*Tree[E, D], error) {
	t := newTree[E, D]("", dist)
	if len(blob) == 0 {
		return t, nil
	}
	if len(blob) < 4 {
		return nil, nnerrors.New(nnerrors.Corrupt, "blob too short to contain a checksum trailer")
	}

	payload := blob[:len(blob)-4]
	trailer := binary.LittleEndian.Uint32(blob[len(blob)-4:])
	if trailer != checksum || !state.Validate(payload, checksum) {
		return nil, nnerrors.New(nnerrors.Corrupt, "checksum mismatch")
	}

	r := state.NewReader(payload)
	examples, err := state.ReadNdarray[E](r)
	if err != nil {
		return nil, err
	}
	indices, err := state.ReadFlat[int64](r)
	if err != nil {
		return nil, err
	}

	d := &preorderDecoder[E, D]{r: r}
	root, err := d.readNode()
	if err != nil {
		return nil, err
	}
	if !r.IsEmpty() {
		return nil, nnerrors.New(nnerrors.Corrupt, "trailing bytes after pre-order tree reconstruction")
	}

	dim := 0
	if len(examples) > 0 {
		dim = len(examples[0])
	}
	if len(indices) != len(examples) {
		nnerrors.Internal("deserialized %d indices for %d examples", len(indices), len(examples))
	}
	for _, idx := range indices {
		if idx < 0 || int(idx) >= len(examples) {
			nnerrors.Internal("deserialized indices entry %d out of range [0,%d)", idx, len(examples))
		}
	}

	t.examples = examples
	t.indices = indices
	t.nodes = d.nodes
	t.root = root
	t.dim = dim
	return t, nil
}

// Deserialize replaces the receiver's contents with a tree rebuilt from a
// blob produced by Serialize, keeping the receiver's metric, driver, and
// observability wiring. It is atomic: on any error the previous contents are
// left untouched.
func (t *Tree[E, D]) Deserialize(blob []byte, checksum uint32) error {
	restored, err := Deserialize[E, D](t.dist, blob, checksum)
	if err != nil {
		if t.metrics != nil && errors.Is(err, nnerrors.ErrCorrupt) {
			t.metrics.RecordChecksumFailure()
		}
		return err
	}

	t.mu.Lock()
	t.examples = restored.examples
	t.indices = restored.indices
	t.nodes = restored.nodes
	t.root = restored.root
	t.dim = restored.dim
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordDeserialize()
	}
	return nil
}

type preorderDecoder[E any, D distance] struct {
	r     *state.Buffer
	nodes []node
}

// readNode consumes one (radius, start, end) triple and, unless it is the
// absent-child sentinel, recursively consumes its left then right subtree —
// the mirror image of writePreorder.
func (d *preorderDecoder[E, D]) readNode() (int32, error) {
	radius, err := state.ReadValue[float32](d.r)
	if err != nil {
		return noChild, err
	}
	start, err := state.ReadValue[int64](d.r)
	if err != nil {
		return noChild, err
	}
	end, err := state.ReadValue[int64](d.r)
	if err != nil {
		return noChild, err
	}
	if start == -1 && end == -1 {
		return noChild, nil
	}

	idx := int32(len(d.nodes))
	d.nodes = append(d.nodes, node{start: start, end: end, radius: float64(radius)})

	left, err := d.readNode()
	if err != nil {
		return noChild, err
	}
	right, err := d.readNode()
	if err != nil {
		return noChild, err
	}
	d.nodes[idx].left = left
	d.nodes[idx].right = right
	return idx, nil
}
