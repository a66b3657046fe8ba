package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/mtreeidx/kv"
	"github.com/surrealdb/mtreeidx/mtree"
	"github.com/surrealdb/mtreeidx/store"
	"github.com/surrealdb/mtreeidx/vector"
)

func vec(t *testing.T, components ...float64) *vector.Value {
	t.Helper()
	v, err := vector.New(vector.F64, components, len(components))
	require.NoError(t, err)
	return v
}

func TestNodeStoreReadThroughAndWriteBack(t *testing.T) {
	mem := kv.NewMemStore()
	tx := mem.BeginTx()
	ns := store.NewNodeStore(tx, 2, nil)

	n := mtree.NewLeaf(1)
	n.PutLeaf(vec(t, 1, 1), mtree.NewLeafEntry(0, 100))
	ns.NewNode(n)

	snap, err := ns.Finish()
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.NoError(t, tx.Commit())

	tx2 := mem.BeginTx()
	ns2 := store.NewNodeStore(tx2, 2, nil)
	got, err := ns2.Get(1)
	require.NoError(t, err)
	e, ok := got.FindLeaf(vec(t, 1, 1))
	require.True(t, ok)
	require.Equal(t, []mtree.DocId{100}, e.DocSlice())
}

func TestNodeStoreGetMutIsolatesFromReader(t *testing.T) {
	mem := kv.NewMemStore()
	tx := mem.BeginTx()
	ns := store.NewNodeStore(tx, 1, nil)
	n := mtree.NewLeaf(1)
	n.PutLeaf(vec(t, 1), mtree.NewLeafEntry(0, 1))
	ns.NewNode(n)
	snap, err := ns.Finish()
	require.NoError(t, err)

	ns2 := store.NewNodeStore(tx, 1, snap)
	mut, err := ns2.GetMut(1)
	require.NoError(t, err)
	mut.RemoveKey(vec(t, 1))

	// an unrelated reader of the same snapshot must not observe the mutation
	// until SetNode is called.
	readOnly, err := ns2.Get(1)
	require.NoError(t, err)
	_, stillThere := readOnly.FindLeaf(vec(t, 1))
	require.True(t, stillThere)
}

func TestIndexCachesSnapshotLoadsOnce(t *testing.T) {
	caches := store.NewIndexCaches()
	loads := 0
	loader := func() (*store.Snapshot, error) {
		loads++
		return nil, nil
	}
	_, err := caches.Snapshot("idx", 0, func() (*store.Snapshot, error) {
		loads++
		return &store.Snapshot{Generation: 0}, nil
	})
	require.NoError(t, err)
	_, err = caches.Snapshot("idx", 0, loader)
	require.NoError(t, err)
	require.Equal(t, 1, loads)
}
