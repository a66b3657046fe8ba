package mtree_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/mtreeidx/distance"
	"github.com/surrealdb/mtreeidx/kv"
	"github.com/surrealdb/mtreeidx/mtree"
	"github.com/surrealdb/mtreeidx/store"
	"github.com/surrealdb/mtreeidx/vector"
)

// harness wires a Tree to an in-memory, single-transaction NodeStore, for
// tests that don't care about cross-transaction generations.
type harness struct {
	t     *testing.T
	tree  *mtree.Tree
	state *mtree.State
	ns    *store.NodeStore
}

func newHarness(t *testing.T, capacity uint16, dim int, metric distance.Metric) *harness {
	t.Helper()
	state, err := mtree.NewState(capacity)
	require.NoError(t, err)
	tx := kv.NewMemStore().BeginTx()
	ns := store.NewNodeStore(tx, dim, nil)
	dist, err := distance.New(distance.Params{Metric: metric})
	require.NoError(t, err)
	return &harness{t: t, tree: mtree.New(state, ns, dist), state: state, ns: ns}
}

func (h *harness) vec(components ...float64) *vector.Value {
	h.t.Helper()
	v, err := vector.New(vector.F64, components, len(components))
	require.NoError(h.t, err)
	return v
}

func (h *harness) insert(components []float64, doc mtree.DocId) {
	h.t.Helper()
	require.NoError(h.t, h.tree.Insert(h.vec(components...), doc))
}

func (h *harness) knn(components []float64, k int) []mtree.Result {
	h.t.Helper()
	res, err := h.tree.KnnSearch(h.vec(components...), k, nil)
	require.NoError(h.t, err)
	return res
}

func (h *harness) checkInvariants() {
	h.t.Helper()
	require.NoError(h.t, h.tree.CheckTreeProperties())
}

func docsOf(r mtree.Result) []mtree.DocId {
	sorted := append([]mtree.DocId{}, r.Docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func TestScenarioCapacity3SplitsIntoTwoChildren(t *testing.T) {
	h := newHarness(t, 3, 1, distance.Euclidean)
	h.insert([]float64{1}, 1)
	h.insert([]float64{2}, 2)
	h.insert([]float64{3}, 3)
	h.insert([]float64{4}, 4)
	h.checkInvariants()

	res := h.knn([]float64{4}, 2)
	require.Len(t, res, 2)
	require.InDelta(t, 0.0, res[0].Dist, 1e-9)
	require.Equal(t, []mtree.DocId{4}, docsOf(res[0]))
	require.InDelta(t, 1.0, res[1].Dist, 1e-9)
	require.Equal(t, []mtree.DocId{3}, docsOf(res[1]))
}

func TestScenarioDuplicateVectorMergesIntoSameKey(t *testing.T) {
	h := newHarness(t, 3, 1, distance.Euclidean)
	h.insert([]float64{1}, 1)
	h.insert([]float64{2}, 2)
	h.insert([]float64{3}, 3)
	h.insert([]float64{4}, 4)
	h.insert([]float64{2}, 5)
	h.checkInvariants()

	res := h.knn([]float64{2}, 2)
	require.Len(t, res, 2)
	require.InDelta(t, 0.0, res[0].Dist, 1e-9)
	require.Equal(t, []mtree.DocId{2, 5}, docsOf(res[0]))
	require.InDelta(t, 1.0, res[1].Dist, 1e-9)
}

func TestScenarioDeleteOneDocKeepsEntry(t *testing.T) {
	h := newHarness(t, 3, 1, distance.Euclidean)
	h.insert([]float64{1}, 1)
	h.insert([]float64{2}, 2)
	h.insert([]float64{3}, 3)
	h.insert([]float64{4}, 4)
	h.insert([]float64{2}, 5)

	removed, err := h.tree.Delete(h.vec(2), 5)
	require.NoError(t, err)
	require.True(t, removed)
	h.checkInvariants()

	res := h.knn([]float64{2}, 1)
	require.Len(t, res, 1)
	require.Equal(t, []mtree.DocId{2}, docsOf(res[0]))
}

func TestScenarioDeleteLastDocRemovesEntry(t *testing.T) {
	h := newHarness(t, 3, 1, distance.Euclidean)
	h.insert([]float64{1}, 1)
	h.insert([]float64{2}, 2)
	h.insert([]float64{3}, 3)
	h.insert([]float64{4}, 4)

	removed, err := h.tree.Delete(h.vec(2), 2)
	require.NoError(t, err)
	require.True(t, removed)
	h.checkInvariants()

	res := h.knn([]float64{2}, 10)
	total := 0
	for _, r := range res {
		total += len(r.Docs)
	}
	require.Equal(t, 3, total)
}

func TestDeleteFromEmptyIndexIsNoop(t *testing.T) {
	h := newHarness(t, 3, 1, distance.Euclidean)
	removed, err := h.tree.Delete(h.vec(1), 1)
	require.NoError(t, err)
	require.False(t, removed)
	h.checkInvariants()
}

func TestKnnOnEmptyIndexReturnsEmpty(t *testing.T) {
	h := newHarness(t, 3, 1, distance.Euclidean)
	res := h.knn([]float64{1}, 5)
	require.Empty(t, res)
}

func TestKnnWithZeroKReturnsEmpty(t *testing.T) {
	h := newHarness(t, 3, 1, distance.Euclidean)
	h.insert([]float64{1}, 1)
	res := h.knn([]float64{1}, 0)
	require.Empty(t, res)
}

func TestCapacityTwoSplitsOnThirdInsert(t *testing.T) {
	h := newHarness(t, 2, 1, distance.Euclidean)
	h.insert([]float64{1}, 1)
	h.insert([]float64{2}, 2)
	h.insert([]float64{3}, 3)

	root, err := h.ns.Get(h.state.Root)
	require.NoError(t, err)
	require.False(t, root.IsLeaf())
}

func TestInsertSameVectorTwiceIsIdempotentPastFirstDoc(t *testing.T) {
	h := newHarness(t, 4, 1, distance.Euclidean)
	h.insert([]float64{1}, 1)
	h.insert([]float64{1}, 1)
	h.checkInvariants()

	res := h.knn([]float64{1}, 5)
	require.Len(t, res, 1)
	require.Equal(t, []mtree.DocId{1}, docsOf(res[0]))
}

func TestKnnMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := newHarness(t, 4, 4, distance.Euclidean)

	type sample struct {
		vec []float64
		doc mtree.DocId
	}
	samples := make([]sample, 0, 300)
	for i := 0; i < 300; i++ {
		v := []float64{rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10}
		h.insert(v, mtree.DocId(i+1))
		samples = append(samples, sample{vec: v, doc: mtree.DocId(i + 1)})
	}
	h.checkInvariants()

	for q := 0; q < 10; q++ {
		query := []float64{rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10}
		k := 5

		type scored struct {
			d   float64
			doc mtree.DocId
		}
		brute := make([]scored, len(samples))
		for i, s := range samples {
			var sum float64
			for j := range s.vec {
				d := s.vec[j] - query[j]
				sum += d * d
			}
			brute[i] = scored{d: sum, doc: s.doc}
		}
		sort.Slice(brute, func(i, j int) bool { return brute[i].d < brute[j].d })

		res := h.knn(query, k)
		gotDocs := 0
		for _, r := range res {
			gotDocs += len(r.Docs)
		}
		require.Equal(t, k, gotDocs)

		lastDist := brute[k-1].d
		for _, r := range res {
			require.LessOrEqual(t, r.Dist*r.Dist, lastDist+1e-6)
		}
	}
}
