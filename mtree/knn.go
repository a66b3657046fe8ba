package mtree

import (
	"container/heap"
	"math"

	"github.com/surrealdb/mtreeidx/vector"
)

// ConditionChecker filters doc-ids during a kNN traversal. It is modeled
// purely as an interface: the predicate logic (SurrealQL conditions, live
// document state) lives entirely outside this package.
type ConditionChecker interface {
	// Accept reports whether doc should be considered a valid hit.
	Accept(doc DocId) bool
	// Expires is called with doc-ids the traversal has provisionally kept
	// but then evicted because closer results filled the k budget, so the
	// checker can release any per-doc filter state it was holding.
	Expires(docs []DocId)
}

// Result is one kept (distance, doc-ids) pair from a kNN traversal.
type Result struct {
	Dist float64
	Docs []DocId
}

// KnnSearch returns up to k entries, ordered by ascending distance. An
// entry shared by several doc-ids (an identical vector indexed under
// more than one document) still counts as one of the k slots, so the
// total doc count across the result can exceed k. checker may be nil,
// meaning accept everything.
func (t *Tree) KnnSearch(target *vector.Value, k int, checker ConditionChecker) ([]Result, error) {
	rb := newResultBuilder(k)
	if k == 0 || !t.state.HasRoot {
		return rb.results(), nil
	}

	pq := &nodeHeap{{prio: 0, id: t.state.Root}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(heapItem)
		if rb.full() && item.prio > rb.kthDist() {
			break
		}
		n, err := t.store.Get(item.id)
		if err != nil {
			return nil, err
		}
		if n.IsLeaf() {
			if err := t.visitLeaf(n, target, checker, rb); err != nil {
				return nil, err
			}
			continue
		}
		if err := t.pushChildren(n, target, rb, pq); err != nil {
			return nil, err
		}
	}
	return rb.results(), nil
}

func (t *Tree) visitLeaf(n *Node, target *vector.Value, checker ConditionChecker, rb *resultBuilder) error {
	var rangeErr error
	n.EachLeaf(func(o *vector.Value, e *LeafEntry) {
		if rangeErr != nil {
			return
		}
		d, err := t.dist(o, target)
		if err != nil {
			rangeErr = err
			return
		}
		if !rb.checkAdd(d) {
			return
		}
		docs := e.DocSlice()
		retained := docs[:0:0]
		for _, doc := range docs {
			if checker == nil || checker.Accept(doc) {
				retained = append(retained, doc)
			}
		}
		if len(retained) == 0 {
			return
		}
		evicted := rb.add(d, retained)
		if checker != nil && len(evicted) > 0 {
			checker.Expires(evicted)
		}
	})
	return rangeErr
}

func (t *Tree) pushChildren(n *Node, target *vector.Value, rb *resultBuilder, pq *nodeHeap) error {
	var rangeErr error
	n.EachRoute(func(o *vector.Value, route *RouteEntry) {
		if rangeErr != nil {
			return
		}
		d, err := t.dist(o, target)
		if err != nil {
			rangeErr = err
			return
		}
		minDist := d - route.Radius
		if minDist < 0 {
			minDist = 0
		}
		if rb.checkAdd(minDist) {
			heap.Push(pq, heapItem{prio: minDist, id: route.Child})
		}
	})
	return rangeErr
}

type heapItem struct {
	prio float64
	id   NodeId
}

type nodeHeap []heapItem

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio < h[j].prio
	}
	return h[i].id < h[j].id
}
func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// resultBuilder keeps at most k entries sorted ascending by distance. An
// entry holding several doc-ids (a vector inserted under more than one
// doc-id) still counts as a single slot toward k; its full doc set
// travels together when the entry is kept or evicted.
type resultBuilder struct {
	k     int
	items []Result
}

func newResultBuilder(k int) *resultBuilder {
	return &resultBuilder{k: k}
}

func (b *resultBuilder) full() bool { return len(b.items) >= b.k }

// kthDist is the distance of the farthest currently-kept entry, or +Inf
// if the budget isn't full yet (anything can still be added).
func (b *resultBuilder) kthDist() float64 {
	if !b.full() || len(b.items) == 0 {
		return math.Inf(1)
	}
	return b.items[len(b.items)-1].Dist
}

// checkAdd reports whether a candidate at distance d could still affect
// the result. Once full, only a strictly closer candidate can: ties with
// the current worst kept entry are rejected, giving deterministic
// first-visited-wins behavior for equidistant entries.
func (b *resultBuilder) checkAdd(d float64) bool {
	if b.k == 0 {
		return false
	}
	if !b.full() {
		return true
	}
	return d < b.kthDist()
}

// add inserts (d, docs) as one entry in sorted position, evicting the
// farthest entry whole if this pushes the count past k.
func (b *resultBuilder) add(d float64, docs []DocId) []DocId {
	idx := 0
	for idx < len(b.items) && b.items[idx].Dist <= d {
		idx++
	}
	b.items = append(b.items, Result{})
	copy(b.items[idx+1:], b.items[idx:])
	b.items[idx] = Result{Dist: d, Docs: docs}

	if len(b.items) <= b.k {
		return nil
	}
	evicted := b.items[len(b.items)-1].Docs
	b.items = b.items[:len(b.items)-1]
	return evicted
}

func (b *resultBuilder) results() []Result {
	if b.items == nil {
		return []Result{}
	}
	return b.items
}
