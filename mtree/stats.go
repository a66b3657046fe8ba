package mtree

import "github.com/surrealdb/mtreeidx/vector"

// Stats walks the whole tree once, returning the number of distinct
// indexed vectors (leaf entries) and the total number of doc-ids they
// carry between them, for the statistics() operation.
func (t *Tree) Stats() (entries int, docs int, err error) {
	if !t.state.HasRoot {
		return 0, 0, nil
	}
	err = t.walkStats(t.state.Root, &entries, &docs)
	return entries, docs, err
}

func (t *Tree) walkStats(id NodeId, entries, docs *int) error {
	n, err := t.store.Get(id)
	if err != nil {
		return err
	}
	if n.IsLeaf() {
		n.EachLeaf(func(_ *vector.Value, e *LeafEntry) {
			*entries++
			*docs += int(e.Docs.Count())
		})
		return nil
	}
	var rangeErr error
	n.EachRoute(func(_ *vector.Value, route *RouteEntry) {
		if rangeErr != nil {
			return
		}
		if err := t.walkStats(route.Child, entries, docs); err != nil {
			rangeErr = err
		}
	})
	return rangeErr
}
