package mtree

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/surrealdb/mtreeidx/binfmt"
	"github.com/surrealdb/mtreeidx/vector"
)

// ErrCorruptedIndex marks a decode failure: a bad discriminator byte, a
// truncated buffer, or any other inconsistency between the wire bytes and
// the shape NodeCodec expects. It is always fatal to the operation that
// surfaces it.
var ErrCorruptedIndex = errors.New("mtreeidx: corrupted index")

// Encode serializes a node: a 1-byte discriminator followed by a
// length-prefixed sequence of (key, payload) pairs in the node's stable
// sorted key order, so two nodes with the same logical content always
// produce byte-identical output.
func Encode(n *Node) []byte {
	var buf bytes.Buffer
	_ = binfmt.WriteByte(&buf, byte(n.kind))
	_ = binfmt.WriteUint32(&buf, uint32(n.Len()))

	switch n.kind {
	case Leaf:
		n.EachLeaf(func(key *vector.Value, e *LeafEntry) {
			encodeVector(&buf, key)
			_ = binfmt.WriteFloat64(&buf, e.ParentDist)
			docBytes, _ := e.Docs.MarshalBinary()
			_ = binfmt.WriteBytes32(&buf, docBytes)
		})
	case Internal:
		n.EachRoute(func(key *vector.Value, e *RouteEntry) {
			encodeVector(&buf, key)
			_ = binfmt.WriteUint64(&buf, uint64(e.Child))
			_ = binfmt.WriteFloat64(&buf, e.ParentDist)
			_ = binfmt.WriteFloat64(&buf, e.Radius)
		})
	}
	return buf.Bytes()
}

// Decode reverses Encode, reconstructing a Node with the given id. dim
// comes from the owning index's declared vector parameters, since the
// wire format carries each vector's element kind but no dimension count.
func Decode(id NodeId, data []byte, dim int) (*Node, error) {
	r := bytes.NewReader(data)
	disc, err := binfmt.ReadByte(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	count, err := binfmt.ReadUint32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}

	switch Kind(disc) {
	case Leaf:
		n := NewLeaf(id)
		for i := uint32(0); i < count; i++ {
			key, err := decodeVector(r, dim)
			if err != nil {
				return nil, err
			}
			parentDist, err := binfmt.ReadFloat64(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
			}
			docBytes, err := binfmt.ReadBytes32(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
			}
			bs := new(bitset.BitSet)
			if err := bs.UnmarshalBinary(docBytes); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
			}
			n.PutLeaf(key, &LeafEntry{ParentDist: parentDist, Docs: bs})
		}
		return n, nil
	case Internal:
		n := NewInternal(id)
		for i := uint32(0); i < count; i++ {
			key, err := decodeVector(r, dim)
			if err != nil {
				return nil, err
			}
			child, err := binfmt.ReadUint64(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
			}
			parentDist, err := binfmt.ReadFloat64(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
			}
			radius, err := binfmt.ReadFloat64(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
			}
			n.PutRoute(key, &RouteEntry{Child: NodeId(child), ParentDist: parentDist, Radius: radius})
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: unknown node discriminator %d", ErrCorruptedIndex, disc)
	}
}

func encodeVector(buf *bytes.Buffer, v *vector.Value) {
	_ = binfmt.WriteByte(buf, byte(v.Kind()))
	for _, c := range v.Components() {
		_ = binfmt.WriteFloat64(buf, c)
	}
}

func decodeVector(r *bytes.Reader, dim int) (*vector.Value, error) {
	kindByte, err := binfmt.ReadByte(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	components := make([]float64, dim)
	for i := 0; i < dim; i++ {
		c, err := binfmt.ReadFloat64(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
		}
		components[i] = c
	}
	v, err := vector.New(vector.ElementKind(kindByte), components, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	return v, nil
}
