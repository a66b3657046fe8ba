package mtree

import (
	"github.com/surrealdb/mtreeidx/vector"
)

// Delete removes one doc-id from the entry for obj, if present. It
// reports whether any removal occurred; a missing vector or doc-id is not
// an error. Deletion may underflow nodes, repaired in place by
// fit-into-sibling or merge-and-resplit, and may shrink or collapse the
// root.
func (t *Tree) Delete(obj *vector.Value, doc DocId) (bool, error) {
	if !t.state.HasRoot {
		return false, nil
	}
	removed, _, _, err := t.deleteAt(t.state.Root, nil, obj, doc)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	// the root itself is exempt from the minimum-occupancy invariant; an
	// underflowing root is repaired by shrinkRoot below, never in place.
	if err := t.shrinkRoot(); err != nil {
		return false, err
	}
	return true, nil
}

// shrinkRoot drops an empty root and collapses a single-child internal
// root by promoting its one remaining child to be the new root.
func (t *Tree) shrinkRoot() error {
	if !t.state.HasRoot {
		return nil
	}
	root, err := t.store.Get(t.state.Root)
	if err != nil {
		return err
	}
	if root.Len() == 0 {
		t.store.RemoveNode(root.ID())
		t.state.HasRoot = false
		return nil
	}
	if !root.IsLeaf() && root.Len() == 1 {
		var onlyChild NodeId
		root.EachRoute(func(_ *vector.Value, e *RouteEntry) { onlyChild = e.Child })
		t.store.RemoveNode(root.ID())
		t.state.Root = onlyChild
		// the promoted child's entries were measured against its old routing
		// center; as root entries their parent_dist must be 0 (invariant 4).
		child, err := t.store.GetMut(onlyChild)
		if err != nil {
			return err
		}
		if child.IsLeaf() {
			child.EachLeaf(func(_ *vector.Value, e *LeafEntry) { e.ParentDist = 0 })
		} else {
			child.EachRoute(func(_ *vector.Value, e *RouteEntry) { e.ParentDist = 0 })
		}
		t.store.SetNode(child, true)
	}
	return nil
}

// deleteAt descends every branch whose ball encloses obj (duplicates can
// legitimately live behind more than one routing entry), removing doc
// from the one leaf where obj's exact key lives. It returns whether a
// removal happened, and if id is now underflown (non-root, below
// minimum occupancy) the id to report to the caller for repair.
func (t *Tree) deleteAt(id NodeId, parentCenter *vector.Value, obj *vector.Value, doc DocId) (removed bool, underflowID NodeId, isUnderflow bool, err error) {
	n, err := t.store.Get(id)
	if err != nil {
		return false, 0, false, err
	}

	if n.IsLeaf() {
		if _, ok := n.FindLeaf(obj); !ok {
			return false, 0, false, nil
		}
		mut, err := t.store.GetMut(id)
		if err != nil {
			return false, 0, false, err
		}
		e, _ := mut.FindLeaf(obj)
		e.RemoveDoc(doc)
		if e.Empty() {
			mut.RemoveKey(obj)
		}
		t.store.SetNode(mut, true)
		if id != t.state.Root && mut.Len() < t.state.Minimum() {
			return true, id, true, nil
		}
		return true, 0, false, nil
	}

	type branch struct {
		key   *vector.Value
		route RouteEntry
	}
	var branches []branch
	var rangeErr error
	n.EachRoute(func(key *vector.Value, route *RouteEntry) {
		if rangeErr != nil {
			return
		}
		d, derr := t.dist(key, obj)
		if derr != nil {
			rangeErr = derr
			return
		}
		if d <= route.Radius {
			branches = append(branches, branch{key: key, route: *route})
		}
	})
	if rangeErr != nil {
		return false, 0, false, rangeErr
	}

	for _, br := range branches {
		childRemoved, childUnderflowID, childIsUnderflow, err := t.deleteAt(br.route.Child, br.key, obj, doc)
		if err != nil {
			return false, 0, false, err
		}
		if !childRemoved {
			continue
		}
		if childIsUnderflow {
			mut, err := t.store.GetMut(id)
			if err != nil {
				return false, 0, false, err
			}
			if err := t.repairUnderflow(mut, parentCenter, br.key, childUnderflowID); err != nil {
				return false, 0, false, err
			}
			t.store.SetNode(mut, true)
			if id != t.state.Root && mut.Len() < t.state.Minimum() {
				return true, id, true, nil
			}
		}
		return true, 0, false, nil
	}
	return false, 0, false, nil
}

// repairUnderflow fixes an underflown child of parent (already fetched
// mutable) by fitting it into its nearest sibling, or, if that would
// overflow the sibling, merging both and re-splitting the union.
func (t *Tree) repairUnderflow(parent *Node, parentCenter *vector.Value, underflowKey *vector.Value, underflowChildID NodeId) error {
	if parent.Len() < 2 {
		// no sibling to repair against; parent must be the root with a
		// single child, left for shrinkRoot to collapse.
		return nil
	}

	siblingKey, siblingRoute, err := closestSibling(parent, underflowKey, t.dist)
	if err != nil {
		return err
	}

	underflowChild, err := t.store.Get(underflowChildID)
	if err != nil {
		return err
	}
	siblingChild, err := t.store.GetMut(siblingRoute.Child)
	if err != nil {
		return err
	}

	if underflowChild.Len()+siblingChild.Len() <= int(t.state.Capacity) {
		if err := t.fitIntoSibling(underflowChild, siblingChild, siblingKey); err != nil {
			return err
		}
		t.store.SetNode(siblingChild, true)
		t.store.RemoveNode(underflowChildID)
		parent.RemoveKey(underflowKey)
		newRadius := nodeRadius(siblingChild)
		parent.PutRoute(siblingKey, &RouteEntry{Child: siblingChild.ID(), ParentDist: siblingRoute.ParentDist, Radius: newRadius})
		return nil
	}

	return t.mergeAndResplit(parent, parentCenter, underflowKey, underflowChild, siblingKey, siblingChild)
}

func closestSibling(parent *Node, underflowKey *vector.Value, dist func(a, b *vector.Value) (float64, error)) (*vector.Value, *RouteEntry, error) {
	var bestKey *vector.Value
	var bestRoute *RouteEntry
	best := 0.0
	var rangeErr error
	parent.EachRoute(func(key *vector.Value, route *RouteEntry) {
		if rangeErr != nil || key.Equal(underflowKey) {
			return
		}
		d, err := dist(key, underflowKey)
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
	return bestKey, bestRoute, nil
}

func (t *Tree) fitIntoSibling(src, dst *Node, dstCenter *vector.Value) error {
	if src.IsLeaf() {
		var err error
		src.EachLeaf(func(key *vector.Value, e *LeafEntry) {
			if err != nil {
				return
			}
			pd, derr := t.dist(dstCenter, key)
			if derr != nil {
				err = derr
				return
			}
			dst.PutLeaf(key, &LeafEntry{ParentDist: pd, Docs: e.Docs})
		})
		return err
	}
	var err error
	src.EachRoute(func(key *vector.Value, e *RouteEntry) {
		if err != nil {
			return
		}
		pd, derr := t.dist(dstCenter, key)
		if derr != nil {
			err = derr
			return
		}
		dst.PutRoute(key, &RouteEntry{Child: e.Child, ParentDist: pd, Radius: e.Radius})
	})
	return err
}

// mergeAndResplit concatenates an underflown child and its nearest
// sibling and reruns the split algorithm over their union, reusing both
// original node ids for the two resulting children.
func (t *Tree) mergeAndResplit(parent *Node, parentCenter *vector.Value, underflowKey *vector.Value, underflowChild *Node, siblingKey *vector.Value, siblingChild *Node) error {
	isLeaf := underflowChild.IsLeaf()

	keys := append(append([]*vector.Value{}, underflowChild.Keys()...), siblingChild.Keys()...)

	var leafEntries []*LeafEntry
	var routeEntries []*RouteEntry
	if isLeaf {
		leafEntries = make([]*LeafEntry, len(keys))
		for i, k := range keys {
			if e, ok := underflowChild.FindLeaf(k); ok {
				leafEntries[i] = e
			} else {
				e, _ := siblingChild.FindLeaf(k)
				leafEntries[i] = e
			}
		}
	} else {
		routeEntries = make([]*RouteEntry, len(keys))
		for i, k := range keys {
			if e, ok := underflowChild.FindRoute(k); ok {
				routeEntries[i] = e
			} else {
				e, _ := siblingChild.FindRoute(k)
				routeEntries[i] = e
			}
		}
	}

	p1, p2, groupA, groupB, err := partitionKeys(keys, t.dist)
	if err != nil {
		return err
	}
	o1, o2 := keys[p1], keys[p2]

	n1, n2 := underflowChild, siblingChild
	n1.Reset()
	n2.Reset()

	if isLeaf {
		if err := assignLeafGroup(n1, o1, keys, leafEntries, groupA, t.dist); err != nil {
			return err
		}
		if err := assignLeafGroup(n2, o2, keys, leafEntries, groupB, t.dist); err != nil {
			return err
		}
	} else {
		if err := assignRouteGroup(n1, o1, keys, routeEntries, groupA, t.dist); err != nil {
			return err
		}
		if err := assignRouteGroup(n2, o2, keys, routeEntries, groupB, t.dist); err != nil {
			return err
		}
	}

	t.store.SetNode(n1, true)
	t.store.SetNode(n2, true)

	parent.RemoveKey(underflowKey)
	parent.RemoveKey(siblingKey)

	pd1, pd2 := 0.0, 0.0
	if parentCenter != nil {
		pd1, err = t.dist(parentCenter, o1)
		if err != nil {
			return err
		}
		pd2, err = t.dist(parentCenter, o2)
		if err != nil {
			return err
		}
	}
	parent.PutRoute(o1, &RouteEntry{Child: n1.ID(), ParentDist: pd1, Radius: nodeRadius(n1)})
	parent.PutRoute(o2, &RouteEntry{Child: n2.ID(), ParentDist: pd2, Radius: nodeRadius(n2)})
	return nil
}

func nodeRadius(n *Node) float64 {
	if n.IsLeaf() {
		return leafRadius(n)
	}
	return internalRadius(n)
}
