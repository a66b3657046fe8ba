// Package mtree implements the balanced metric-space tree: node types,
// their wire encoding, persistent tree state, and the insert/delete/kNN
// algorithms that operate over a NodeStore.
package mtree

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/surrealdb/mtreeidx/vector"
)

// NodeId is a monotonically increasing, never-reused node handle.
type NodeId uint64

// DocId is an opaque identifier minted by the external doc-id resolver.
type DocId uint64

// Kind discriminates the two node shapes.
type Kind byte

const (
	Leaf Kind = 1
	Internal Kind = 2
)

// LeafEntry is the payload of a leaf's vector key: the distance to the
// node's parent routing center, and the compact set of doc-ids sharing
// this exact vector.
type LeafEntry struct {
	ParentDist float64
	Docs       *bitset.BitSet
}

func NewLeafEntry(parentDist float64, doc DocId) *LeafEntry {
	bs := new(bitset.BitSet)
	bs.Set(uint(doc))
	return &LeafEntry{ParentDist: parentDist, Docs: bs}
}

func (e *LeafEntry) AddDoc(doc DocId) {
	e.Docs.Set(uint(doc))
}

func (e *LeafEntry) RemoveDoc(doc DocId) {
	e.Docs.Clear(uint(doc))
}

func (e *LeafEntry) Empty() bool {
	return e.Docs.None()
}

// DocSlice returns the member doc-ids in ascending order.
func (e *LeafEntry) DocSlice() []DocId {
	ret := make([]DocId, 0, e.Docs.Count())
	for i, ok := e.Docs.NextSet(0); ok; i, ok = e.Docs.NextSet(i + 1) {
		ret = append(ret, DocId(i))
	}
	return ret
}

// RouteEntry is the payload of an internal node's vector key: the child
// it routes to, the distance to the node's own parent center, and the
// covering radius of everything reachable through child.
type RouteEntry struct {
	Child      NodeId
	ParentDist float64
	Radius     float64
}

// entry is a vector key paired with its leaf or route payload; Node keeps
// entries in a slice, in insertion order, and Keys sorts a copy of the
// keys on every call so that iteration (and so encoding) is deterministic.
type entry struct {
	key  *vector.Value
	leaf *LeafEntry
	route *RouteEntry
}

// Node is a mutable in-memory representation of one MTreeNode. The zero
// value is not usable; construct with NewLeaf or NewInternal.
type Node struct {
	id      NodeId
	kind    Kind
	entries []entry
}

func NewLeaf(id NodeId) *Node {
	return &Node{id: id, kind: Leaf}
}

func NewInternal(id NodeId) *Node {
	return &Node{id: id, kind: Internal}
}

func (n *Node) ID() NodeId { return n.id }
func (n *Node) Kind() Kind { return n.kind }
func (n *Node) Len() int   { return len(n.entries) }
func (n *Node) IsLeaf() bool { return n.kind == Leaf }

// Reset discards all entries, keeping id and kind. Used when a node is
// rewritten in place during a split or a merge-and-resplit repair.
func (n *Node) Reset() {
	n.entries = nil
}

// FindLeaf returns the leaf entry keyed by an Equal vector, if present.
func (n *Node) FindLeaf(key *vector.Value) (*LeafEntry, bool) {
	for _, e := range n.entries {
		if e.key.Equal(key) {
			return e.leaf, true
		}
	}
	return nil, false
}

func (n *Node) FindRoute(key *vector.Value) (*RouteEntry, bool) {
	for _, e := range n.entries {
		if e.key.Equal(key) {
			return e.route, true
		}
	}
	return nil, false
}

func (n *Node) PutLeaf(key *vector.Value, v *LeafEntry) {
	for i, e := range n.entries {
		if e.key.Equal(key) {
			n.entries[i].leaf = v
			return
		}
	}
	n.entries = append(n.entries, entry{key: key, leaf: v})
}

func (n *Node) PutRoute(key *vector.Value, v *RouteEntry) {
	for i, e := range n.entries {
		if e.key.Equal(key) {
			n.entries[i].route = v
			return
		}
	}
	n.entries = append(n.entries, entry{key: key, route: v})
}

// RemoveKey deletes the entry keyed by an Equal vector, if present.
func (n *Node) RemoveKey(key *vector.Value) {
	for i, e := range n.entries {
		if e.key.Equal(key) {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return
		}
	}
}

// Keys returns the node's vector keys in the stable sorted order the
// codec and every other deterministic consumer must observe.
func (n *Node) Keys() []*vector.Value {
	keys := make([]*vector.Value, len(n.entries))
	for i, e := range n.entries {
		keys[i] = e.key
	}
	sortVectors(keys)
	return keys
}

// EachLeaf calls fn for every (key, entry) pair, in stable sorted order.
func (n *Node) EachLeaf(fn func(key *vector.Value, e *LeafEntry)) {
	for _, k := range n.Keys() {
		e, _ := n.FindLeaf(k)
		fn(k, e)
	}
}

// EachRoute calls fn for every (key, entry) pair, in stable sorted order.
func (n *Node) EachRoute(fn func(key *vector.Value, e *RouteEntry)) {
	for _, k := range n.Keys() {
		e, _ := n.FindRoute(k)
		fn(k, e)
	}
}

func sortVectors(vs []*vector.Value) {
	// insertion sort: node fan-out is bounded by capacity, typically small
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && vs[j].Less(vs[j-1]); j-- {
			vs[j], vs[j-1] = vs[j-1], vs[j]
		}
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("Node(id=%d, kind=%d, entries=%d)", n.id, n.kind, len(n.entries))
}
