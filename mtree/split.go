package mtree

import (
	"sort"

	"github.com/surrealdb/mtreeidx/distance"
	"github.com/surrealdb/mtreeidx/vector"
)

// splitResult is what a split produces for the caller (the node's parent,
// or the tree root promotion) to install: two new routing entries
// replacing whatever single entry used to address the node that split.
// ParentDist on both entries is left zero; the installer fills it in
// relative to its own center, since a split has no notion of its
// grandparent.
type splitResult struct {
	O1     *vector.Value
	Route1 RouteEntry
	O2     *vector.Value
	Route2 RouteEntry
}

// partitionKeys performs farthest-first promotion over keys: it picks the
// two most mutually distant keys as p1/p2, then assigns every key
// (including p1 and p2 themselves) to whichever promoted center's group
// by nearness to p1, splitting the sorted-by-distance-to-p1 sequence at
// its midpoint. Ties in the farthest pair are broken by preferring the
// earliest pair found in the input's stable order.
func partitionKeys(keys []*vector.Value, dist distance.Fn) (p1, p2 int, groupA, groupB []int, err error) {
	n := len(keys)
	if n < 2 {
		panic("mtreeidx: cannot split a node with fewer than 2 keys")
	}
	best := -1.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, derr := dist(keys[i], keys[j])
			if derr != nil {
				return 0, 0, nil, nil, derr
			}
			if d > best {
				best = d
				p1, p2 = i, j
			}
		}
	}

	type distIdx struct {
		idx int
		d   float64
	}
	ordered := make([]distIdx, n)
	for i, k := range keys {
		d, derr := dist(keys[p1], k)
		if derr != nil {
			return 0, 0, nil, nil, derr
		}
		ordered[i] = distIdx{idx: i, d: d}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].d < ordered[j].d })

	half := n / 2
	if half < 1 {
		half = 1
	}
	groupA = make([]int, 0, half)
	groupB = make([]int, 0, n-half)
	for i, e := range ordered {
		if i < half {
			groupA = append(groupA, e.idx)
		} else {
			groupB = append(groupB, e.idx)
		}
	}
	groupA, groupB = ensureMember(groupA, groupB, p1)
	groupB, groupA = ensureMember(groupB, groupA, p2)
	return p1, p2, groupA, groupB, nil
}

// ensureMember guarantees idx is present in `want`, moving it out of
// `other` (swapping it with want's last element) if a tie in the
// distance sort placed it on the wrong side.
func ensureMember(want, other []int, idx int) ([]int, []int) {
	for _, v := range want {
		if v == idx {
			return want, other
		}
	}
	for i, v := range other {
		if v == idx {
			other[i] = want[len(want)-1]
			want[len(want)-1] = idx
			return want, other
		}
	}
	return want, other
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
