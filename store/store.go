// Package store implements NodeStore, the read-through/write-back cache
// that sits between a transaction and the tree's node records, and
// IndexCaches, the process-wide registry of generation-tagged snapshots
// that gives readers cross-transaction isolation without blocking.
package store

import (
	"bytes"
	"fmt"

	"github.com/surrealdb/mtreeidx/binfmt"
	"github.com/surrealdb/mtreeidx/kv"
	"github.com/surrealdb/mtreeidx/mtree"
)

const nodeKeyPrefix = 'N'

func nodeKey(id mtree.NodeId) []byte {
	var buf bytes.Buffer
	buf.WriteByte(nodeKeyPrefix)
	_ = binfmt.WriteUint64(&buf, uint64(id))
	return buf.Bytes()
}

// Snapshot is an immutable, shareable view of decoded nodes as of one
// generation. Snapshots are never mutated after publication: a NodeStore
// that wants to change a node always does so on a private copy and
// installs the copy into its own overlay, not into the snapshot it read
// from.
type Snapshot struct {
	Generation uint64
	nodes      map[mtree.NodeId]*mtree.Node
}

func newSnapshot(generation uint64) *Snapshot {
	return &Snapshot{Generation: generation, nodes: make(map[mtree.NodeId]*mtree.Node)}
}

// EmptySnapshot returns an empty snapshot for generation, for a cache miss
// on an index that hasn't built up any cached snapshot yet: every read
// still falls through correctly to the transaction on a cold miss.
func EmptySnapshot(generation uint64) *Snapshot {
	return newSnapshot(generation)
}

func (s *Snapshot) get(id mtree.NodeId) (*mtree.Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// derive builds the next generation's snapshot by layering an overlay of
// changed and removed nodes on top of this one, copy-on-write: unrelated
// entries are shared, never duplicated.
func (s *Snapshot) derive(generation uint64, overlay map[mtree.NodeId]*mtree.Node, deleted map[mtree.NodeId]struct{}) *Snapshot {
	next := newSnapshot(generation)
	for id, n := range s.nodes {
		if _, gone := deleted[id]; gone {
			continue
		}
		if _, changed := overlay[id]; changed {
			continue
		}
		next.nodes[id] = n
	}
	for id, n := range overlay {
		next.nodes[id] = n
	}
	return next
}

// NodeStore mediates one transaction's view of the tree's nodes: reads
// fall through to the snapshot captured at open time, then to the KV
// transaction on a cold miss; writes are buffered until Finish.
type NodeStore struct {
	tx   kv.Transaction
	dim  int
	base *Snapshot

	// cache holds nodes cold-loaded from the KV on a base-snapshot miss.
	// It is private to this NodeStore (one session, one goroutine by the
	// single-writer/per-session-lock contract), never shared the way base
	// is, so populating it on a read is never a data race.
	cache   map[mtree.NodeId]*mtree.Node
	overlay map[mtree.NodeId]*mtree.Node
	deleted map[mtree.NodeId]struct{}
}

func NewNodeStore(tx kv.Transaction, dim int, base *Snapshot) *NodeStore {
	if base == nil {
		base = newSnapshot(0)
	}
	return &NodeStore{
		tx:      tx,
		dim:     dim,
		base:    base,
		cache:   make(map[mtree.NodeId]*mtree.Node),
		overlay: make(map[mtree.NodeId]*mtree.Node),
		deleted: make(map[mtree.NodeId]struct{}),
	}
}

// Get returns the node for id, read-only: callers that intend to mutate
// it must go through GetMut instead.
func (s *NodeStore) Get(id mtree.NodeId) (*mtree.Node, error) {
	return s.lookup(id)
}

// GetMut returns a private, mutable copy of the node for id. The caller
// must call SetNode(node, true) after mutating it for the change to be
// kept; calling SetNode(node, false) or not calling it at all discards
// the copy.
func (s *NodeStore) GetMut(id mtree.NodeId) (*mtree.Node, error) {
	n, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return cloneNode(n, s.dim), nil
}

func (s *NodeStore) lookup(id mtree.NodeId) (*mtree.Node, error) {
	if _, gone := s.deleted[id]; gone {
		return nil, fmt.Errorf("%w: node %d was removed in this transaction", mtree.ErrCorruptedIndex, id)
	}
	if n, ok := s.overlay[id]; ok {
		return n, nil
	}
	if n, ok := s.base.get(id); ok {
		return n, nil
	}
	if n, ok := s.cache[id]; ok {
		return n, nil
	}
	raw := s.tx.Get(nodeKey(id))
	if raw == nil {
		return nil, fmt.Errorf("%w: missing node %d", mtree.ErrCorruptedIndex, id)
	}
	n, err := mtree.Decode(id, raw, s.dim)
	if err != nil {
		return nil, err
	}
	s.cache[id] = n
	return n, nil
}

// NewNode materializes a brand-new node, already marked dirty.
func (s *NodeStore) NewNode(n *mtree.Node) {
	delete(s.deleted, n.ID())
	s.overlay[n.ID()] = n
}

// SetNode returns ownership of a (possibly mutated) node to the store. A
// node not marked dirty is simply discarded; it was never queued.
func (s *NodeStore) SetNode(n *mtree.Node, dirty bool) {
	if !dirty {
		return
	}
	delete(s.deleted, n.ID())
	s.overlay[n.ID()] = n
}

// RemoveNode schedules a node's deletion from the cache and from the KV
// on Finish.
func (s *NodeStore) RemoveNode(id mtree.NodeId) {
	delete(s.overlay, id)
	s.deleted[id] = struct{}{}
}

// Finish flushes all queued writes and deletes to the transaction and
// returns the new cache snapshot, if any change occurred. A nil snapshot
// with no error means nothing changed.
func (s *NodeStore) Finish() (*Snapshot, error) {
	if len(s.overlay) == 0 && len(s.deleted) == 0 {
		return nil, nil
	}
	for id, n := range s.overlay {
		s.tx.Set(nodeKey(id), mtree.Encode(n))
	}
	for id := range s.deleted {
		s.tx.Set(nodeKey(id), nil)
	}
	next := s.base.derive(s.base.Generation+1, s.overlay, s.deleted)
	return next, nil
}

func cloneNode(n *mtree.Node, dim int) *mtree.Node {
	bin := mtree.Encode(n)
	// Encode/Decode round-trip is the simplest correct deep copy available
	// given Node's private fields; node sizes are bounded by capacity so
	// the cost is negligible next to the KV round-trip it replaces.
	clone, err := mtree.Decode(n.ID(), bin, dim)
	if err != nil {
		panic(err)
	}
	return clone
}
