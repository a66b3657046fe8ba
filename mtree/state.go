package mtree

import (
	"bytes"
	"fmt"

	"github.com/surrealdb/mtreeidx/binfmt"
)

// stateRevision is the wire revision tag for State; it lets a future
// incompatible layout change be detected without touching NodeCodec.
const stateRevision = 1

// State is the small persistent header of a tree: its capacity, current
// root, node-id allocator high-water mark, and cache generation. It is
// the single well-known-key record every MTreeIndex reads on open and
// rewrites on a structural commit.
type State struct {
	Capacity   uint16
	Root       NodeId
	HasRoot    bool
	NextNodeID NodeId
	Generation uint64
}

// NewState returns the initial state of an empty tree with the given
// capacity, which must be at least 2 (the spec's minimum splittable size).
func NewState(capacity uint16) (*State, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("mtreeidx: capacity must be >= 2, got %d", capacity)
	}
	return &State{Capacity: capacity, NextNodeID: 1}, nil
}

// Minimum returns ceil((capacity+1)/2), the minimum occupancy a non-root
// node must maintain.
func (s *State) Minimum() int {
	return int((uint32(s.Capacity) + 2) / 2)
}

func (s *State) AllocNodeID() NodeId {
	id := s.NextNodeID
	s.NextNodeID++
	return id
}

func (s *State) Encode() []byte {
	var buf bytes.Buffer
	_ = binfmt.WriteUint16(&buf, stateRevision)
	_ = binfmt.WriteUint16(&buf, s.Capacity)
	_ = binfmt.WriteByte(&buf, boolByte(s.HasRoot))
	_ = binfmt.WriteUint64(&buf, uint64(s.Root))
	_ = binfmt.WriteUint64(&buf, uint64(s.NextNodeID))
	_ = binfmt.WriteUint64(&buf, s.Generation)
	return buf.Bytes()
}

func DecodeState(data []byte) (*State, error) {
	r := bytes.NewReader(data)
	rev, err := binfmt.ReadUint16(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	if rev != stateRevision {
		return nil, fmt.Errorf("%w: unsupported state revision %d", ErrCorruptedIndex, rev)
	}
	capacity, err := binfmt.ReadUint16(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	hasRootByte, err := binfmt.ReadByte(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	root, err := binfmt.ReadUint64(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	nextID, err := binfmt.ReadUint64(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	gen, err := binfmt.ReadUint64(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedIndex, err)
	}
	return &State{
		Capacity:   capacity,
		Root:       NodeId(root),
		HasRoot:    hasRootByte != 0,
		NextNodeID: NodeId(nextID),
		Generation: gen,
	}, nil
}

func (s *State) Clone() *State {
	c := *s
	return &c
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
