package mtree

import (
	"fmt"
	"math"

	"github.com/surrealdb/mtreeidx/vector"
)

// propertyEpsilon absorbs floating-point rounding noise when comparing a
// recomputed distance against a stored parent_dist/radius: both sides are
// computed with the same Fn, so any discrepancy beyond this is a real bug,
// not rounding.
const propertyEpsilon = 1e-9

// CheckTreeProperties walks the whole tree and verifies invariants 1-7 from
// spec.md §3: occupancy bounds, covering radii, parent_dist correctness,
// root parent_dist == 0, non-empty leaf entries, uniform leaf depth, and
// node-id monotonicity. It is the optional pass spec.md §7 describes as
// used in tests; production code never calls it on the hot path.
func (t *Tree) CheckTreeProperties() error {
	if !t.state.HasRoot {
		return nil
	}
	var leafDepths []int
	maxID := NodeId(0)
	if err := t.checkNode(t.state.Root, true, nil, 0, &leafDepths, &maxID); err != nil {
		return err
	}
	for _, d := range leafDepths {
		if d != leafDepths[0] {
			return errf("unbalanced leaf depth %d vs %d", d, leafDepths[0])
		}
	}
	if t.state.NextNodeID <= maxID {
		return errf("NextNodeID %d does not exceed max node id %d", t.state.NextNodeID, maxID)
	}
	return nil
}

// checkNode verifies invariants 1, 3, 4, 5 for id and recurses into its
// children, verifying invariant 2 (covering radius) on the way down.
// parentCenter is nil exactly at the root, per invariant 4.
func (t *Tree) checkNode(id NodeId, isRoot bool, parentCenter *vector.Value, depth int, leafDepths *[]int, maxID *NodeId) error {
	n, err := t.store.Get(id)
	if err != nil {
		return err
	}
	if id > *maxID {
		*maxID = id
	}
	if !isRoot {
		min := t.state.Minimum()
		if n.Len() < min || n.Len() > int(t.state.Capacity) {
			return errf("node %d has %d entries, want [%d, %d]", id, n.Len(), min, t.state.Capacity)
		}
	}

	if n.IsLeaf() {
		var rangeErr error
		n.EachLeaf(func(key *vector.Value, e *LeafEntry) {
			if rangeErr != nil {
				return
			}
			if e.Empty() {
				rangeErr = errf("node %d has an empty leaf entry", id)
				return
			}
			if err := t.checkParentDist(parentCenter, key, e.ParentDist); err != nil {
				rangeErr = err
			}
		})
		if rangeErr != nil {
			return rangeErr
		}
		*leafDepths = append(*leafDepths, depth)
		return nil
	}

	var rangeErr error
	n.EachRoute(func(key *vector.Value, route *RouteEntry) {
		if rangeErr != nil {
			return
		}
		if err := t.checkParentDist(parentCenter, key, route.ParentDist); err != nil {
			rangeErr = err
			return
		}
		if err := t.checkRadius(route.Child, key, route.Radius); err != nil {
			rangeErr = err
			return
		}
		if err := t.checkNode(route.Child, false, key, depth+1, leafDepths, maxID); err != nil {
			rangeErr = err
		}
	})
	return rangeErr
}

func (t *Tree) checkParentDist(parentCenter *vector.Value, key *vector.Value, stored float64) error {
	if parentCenter == nil {
		if stored != 0 {
			return errf("root-level parent_dist %v != 0", stored)
		}
		return nil
	}
	d, err := t.dist(parentCenter, key)
	if err != nil {
		return err
	}
	if math.Abs(d-stored) > propertyEpsilon {
		return errf("parent_dist %v does not match computed distance %v", stored, d)
	}
	return nil
}

// checkRadius verifies invariant 2: every vector reachable through id is
// within radius of center.
func (t *Tree) checkRadius(id NodeId, center *vector.Value, radius float64) error {
	n, err := t.store.Get(id)
	if err != nil {
		return err
	}
	if n.IsLeaf() {
		var rangeErr error
		n.EachLeaf(func(key *vector.Value, _ *LeafEntry) {
			if rangeErr != nil {
				return
			}
			d, err := t.dist(center, key)
			if err != nil {
				rangeErr = err
				return
			}
			if d > radius+propertyEpsilon {
				rangeErr = errf("vector in node %d is at distance %v from center, exceeds covering radius %v", id, d, radius)
			}
		})
		return rangeErr
	}
	var rangeErr error
	n.EachRoute(func(key *vector.Value, route *RouteEntry) {
		if rangeErr != nil {
			return
		}
		d, err := t.dist(center, key)
		if err != nil {
			rangeErr = err
			return
		}
		if d > radius+propertyEpsilon {
			rangeErr = errf("route center at distance %v exceeds covering radius %v", d, radius)
			return
		}
		if err := t.checkRadius(route.Child, center, radius); err != nil {
			rangeErr = err
		}
	})
	return rangeErr
}

func errf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrCorruptedIndex}, args...)...)
}
