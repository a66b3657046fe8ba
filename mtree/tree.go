package mtree

import (
	"fmt"

	"github.com/surrealdb/mtreeidx/distance"
	"github.com/surrealdb/mtreeidx/vector"
)

// NodeStore is everything Tree needs from the node cache. store.NodeStore
// satisfies this interface structurally; mtree never imports store, to
// keep the node-cache/generation machinery decoupled from the algorithm
// that uses it.
type NodeStore interface {
	Get(id NodeId) (*Node, error)
	GetMut(id NodeId) (*Node, error)
	NewNode(n *Node)
	SetNode(n *Node, dirty bool)
	RemoveNode(id NodeId)
}

// Tree is the algorithmic core: it owns no storage of its own beyond the
// persistent State header, and is not internally synchronized — callers
// serialize access the way MTreeIndex does, with one write lock per
// mutating operation.
type Tree struct {
	state *State
	store NodeStore
	dist  distance.Fn
}

func New(state *State, store NodeStore, dist distance.Fn) *Tree {
	return &Tree{state: state, store: store, dist: dist}
}

func (t *Tree) State() *State { return t.state }

// Insert is an upsert: if obj already exists anywhere in the tree, doc is
// appended to that leaf entry and no structural change occurs. Otherwise
// the vector is added, possibly splitting nodes up to and including a new
// root.
func (t *Tree) Insert(obj *vector.Value, doc DocId) error {
	if !t.state.HasRoot {
		id := t.state.AllocNodeID()
		n := NewLeaf(id)
		n.PutLeaf(obj, NewLeafEntry(0, doc))
		t.store.NewNode(n)
		t.state.Root = id
		t.state.HasRoot = true
		return nil
	}

	found, err := t.appendExisting(t.state.Root, obj, doc)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	split, _, err := t.insertAt(t.state.Root, nil, obj, doc)
	if err != nil {
		return err
	}
	if split == nil {
		return nil
	}
	newRootID := t.state.AllocNodeID()
	root := NewInternal(newRootID)
	root.PutRoute(split.O1, &RouteEntry{Child: split.Route1.Child, ParentDist: 0, Radius: split.Route1.Radius})
	root.PutRoute(split.O2, &RouteEntry{Child: split.Route2.Child, ParentDist: 0, Radius: split.Route2.Radius})
	t.store.NewNode(root)
	t.state.Root = newRootID
	return nil
}

// appendExisting implements the spec's append shortcut: it descends into
// every branch whose covering ball encloses obj looking for an exact
// key match, so a vector reachable through more than one ball (possible
// after splits assign near-duplicate centers) is still found.
func (t *Tree) appendExisting(id NodeId, obj *vector.Value, doc DocId) (bool, error) {
	n, err := t.store.Get(id)
	if err != nil {
		return false, err
	}
	if n.IsLeaf() {
		if _, ok := n.FindLeaf(obj); !ok {
			return false, nil
		}
		mut, err := t.store.GetMut(id)
		if err != nil {
			return false, err
		}
		e, _ := mut.FindLeaf(obj)
		e.AddDoc(doc)
		t.store.SetNode(mut, true)
		return true, nil
	}

	found := false
	var rangeErr error
	n.EachRoute(func(key *vector.Value, route *RouteEntry) {
		if found || rangeErr != nil {
			return
		}
		d, err := t.dist(key, obj)
		if err != nil {
			rangeErr = err
			return
		}
		if d > route.Radius {
			return
		}
		ok, err := t.appendExisting(route.Child, obj, doc)
		if err != nil {
			rangeErr = err
			return
		}
		if ok {
			found = true
		}
	})
	if rangeErr != nil {
		return false, rangeErr
	}
	return found, nil
}

// insertAt performs the descend-and-insert path for a vector proven not
// to already exist in the tree. parentCenter is the vector key, in id's
// parent, that routes to id (nil at the root). It returns a non-nil
// splitResult when id overflowed and had to split; otherwise it returns
// id's recomputed covering radius for the caller to install on the
// routing entry that addresses id.
func (t *Tree) insertAt(id NodeId, parentCenter *vector.Value, obj *vector.Value, doc DocId) (*splitResult, float64, error) {
	n, err := t.store.GetMut(id)
	if err != nil {
		return nil, 0, err
	}

	if n.IsLeaf() {
		pd := 0.0
		if parentCenter != nil {
			pd, err = t.dist(parentCenter, obj)
			if err != nil {
				return nil, 0, err
			}
		}
		n.PutLeaf(obj, NewLeafEntry(pd, doc))

		if n.Len() <= int(t.state.Capacity) {
			t.store.SetNode(n, true)
			return nil, leafRadius(n), nil
		}
		sr, err := t.splitLeaf(n)
		return sr, 0, err
	}

	closestKey, closestRoute, err := closestRoute(n, obj, t.dist)
	if err != nil {
		return nil, 0, err
	}
	childSplit, childRadius, err := t.insertAt(closestRoute.Child, closestKey, obj, doc)
	if err != nil {
		return nil, 0, err
	}

	if childSplit == nil {
		closestRoute.Radius = childRadius
		n.PutRoute(closestKey, closestRoute)
		t.store.SetNode(n, true)
		if n.Len() <= int(t.state.Capacity) {
			return nil, internalRadius(n), nil
		}
		return t.splitInternal(n)
	}

	n.RemoveKey(closestKey)
	if err := t.installPromoted(n, parentCenter, childSplit); err != nil {
		return nil, 0, err
	}
	t.store.SetNode(n, true)
	if n.Len() <= int(t.state.Capacity) {
		return nil, internalRadius(n), nil
	}
	return t.splitInternal(n)
}

// installPromoted installs the two routing entries a child split
// produced, computing their ParentDist relative to n's own center (nil
// at the root, where invariant 4 requires ParentDist == 0).
func (t *Tree) installPromoted(n *Node, nCenter *vector.Value, sr *splitResult) error {
	pd1, pd2 := 0.0, 0.0
	var err error
	if nCenter != nil {
		pd1, err = t.dist(nCenter, sr.O1)
		if err != nil {
			return err
		}
		pd2, err = t.dist(nCenter, sr.O2)
		if err != nil {
			return err
		}
	}
	n.PutRoute(sr.O1, &RouteEntry{Child: sr.Route1.Child, ParentDist: pd1, Radius: sr.Route1.Radius})
	n.PutRoute(sr.O2, &RouteEntry{Child: sr.Route2.Child, ParentDist: pd2, Radius: sr.Route2.Radius})
	return nil
}

func closestRoute(n *Node, obj *vector.Value, dist distance.Fn) (*vector.Value, *RouteEntry, error) {
	var bestKey *vector.Value
	var bestRoute *RouteEntry
	best := 0.0
	var rangeErr error
	n.EachRoute(func(key *vector.Value, route *RouteEntry) {
		if rangeErr != nil {
			return
		}
		d, err := dist(key, obj)
		if err != nil {
			rangeErr = err
			return
		}
		if bestKey == nil || d < best {
			bestKey, bestRoute, best = key, route, d
		}
	})
	if rangeErr != nil {
		return nil, nil, rangeErr
	}
	if bestKey == nil {
		return nil, nil, fmt.Errorf("%w: internal node has no routing entries", ErrCorruptedIndex)
	}
	return bestKey, bestRoute, nil
}

func leafRadius(n *Node) float64 {
	r := 0.0
	n.EachLeaf(func(_ *vector.Value, e *LeafEntry) {
		r = maxFloat(r, e.ParentDist)
	})
	return r
}

func internalRadius(n *Node) float64 {
	r := 0.0
	n.EachRoute(func(_ *vector.Value, e *RouteEntry) {
		r = maxFloat(r, e.ParentDist+e.Radius)
	})
	return r
}

// splitLeaf implements the M-tree balanced-distribution split for a leaf
// that now holds capacity+1 entries. It rewrites n in place as p1's
// child and allocates a fresh node for p2's child.
func (t *Tree) splitLeaf(n *Node) (*splitResult, error) {
	keys := n.Keys()
	entries := make([]*LeafEntry, len(keys))
	for i, k := range keys {
		entries[i], _ = n.FindLeaf(k)
	}

	p1, p2, groupA, groupB, err := partitionKeys(keys, t.dist)
	if err != nil {
		return nil, err
	}
	o1, o2 := keys[p1], keys[p2]

	newID := t.state.AllocNodeID()
	n2 := NewLeaf(newID)
	n.Reset()

	if err := assignLeafGroup(n, o1, keys, entries, groupA, t.dist); err != nil {
		return nil, err
	}
	if err := assignLeafGroup(n2, o2, keys, entries, groupB, t.dist); err != nil {
		return nil, err
	}

	t.store.SetNode(n, true)
	t.store.NewNode(n2)

	return &splitResult{
		O1:     o1,
		Route1: RouteEntry{Child: n.ID(), Radius: leafRadius(n)},
		O2:     o2,
		Route2: RouteEntry{Child: n2.ID(), Radius: leafRadius(n2)},
	}, nil
}

func assignLeafGroup(dst *Node, center *vector.Value, keys []*vector.Value, entries []*LeafEntry, group []int, dist distance.Fn) error {
	for _, idx := range group {
		pd, err := dist(center, keys[idx])
		if err != nil {
			return err
		}
		dst.PutLeaf(keys[idx], &LeafEntry{ParentDist: pd, Docs: entries[idx].Docs})
	}
	return nil
}

// splitInternal is splitLeaf's counterpart for an overflowing internal
// node: route entries keep their Child and Radius, only ParentDist is
// recomputed relative to the new promoted center.
func (t *Tree) splitInternal(n *Node) (*splitResult, float64, error) {
	keys := n.Keys()
	entries := make([]*RouteEntry, len(keys))
	for i, k := range keys {
		entries[i], _ = n.FindRoute(k)
	}

	p1, p2, groupA, groupB, err := partitionKeys(keys, t.dist)
	if err != nil {
		return nil, 0, err
	}
	o1, o2 := keys[p1], keys[p2]

	newID := t.state.AllocNodeID()
	n2 := NewInternal(newID)
	n.Reset()

	if err := assignRouteGroup(n, o1, keys, entries, groupA, t.dist); err != nil {
		return nil, 0, err
	}
	if err := assignRouteGroup(n2, o2, keys, entries, groupB, t.dist); err != nil {
		return nil, 0, err
	}

	t.store.SetNode(n, true)
	t.store.NewNode(n2)

	return &splitResult{
		O1:     o1,
		Route1: RouteEntry{Child: n.ID(), Radius: internalRadius(n)},
		O2:     o2,
		Route2: RouteEntry{Child: n2.ID(), Radius: internalRadius(n2)},
	}, 0, nil
}

func assignRouteGroup(dst *Node, center *vector.Value, keys []*vector.Value, entries []*RouteEntry, group []int, dist distance.Fn) error {
	for _, idx := range group {
		pd, err := dist(center, keys[idx])
		if err != nil {
			return err
		}
		dst.PutRoute(keys[idx], &RouteEntry{Child: entries[idx].Child, ParentDist: pd, Radius: entries[idx].Radius})
	}
	return nil
}
