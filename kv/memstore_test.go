package kv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/mtreeidx/kv"
)

func TestMemStoreTxIsolation(t *testing.T) {
	store := kv.NewMemStore()
	store.Set([]byte("a"), []byte("1"))

	tx := store.BeginTx()
	require.Equal(t, []byte("1"), tx.Get([]byte("a")))
	tx.Set([]byte("a"), []byte("2"))
	tx.Set([]byte("b"), []byte("3"))

	// uncommitted writes are invisible to the underlying store and to new transactions
	require.Equal(t, []byte("1"), store.Get([]byte("a")))
	require.Nil(t, store.Get([]byte("b")))

	require.NoError(t, tx.Commit())
	require.Equal(t, []byte("2"), store.Get([]byte("a")))
	require.Equal(t, []byte("3"), store.Get([]byte("b")))
}

func TestMemStoreTxRollback(t *testing.T) {
	store := kv.NewMemStore()
	store.Set([]byte("a"), []byte("1"))

	tx := store.BeginTx()
	tx.Set([]byte("a"), nil)
	tx.Rollback()
	require.True(t, store.Has([]byte("a")))
}

func TestPartitionIsolatesKeySpace(t *testing.T) {
	store := kv.NewMemStore()
	tx := store.BeginTx()
	p1 := kv.NewPartition(tx, 0x01)
	p2 := kv.NewPartition(tx, 0x02)

	p1.Set([]byte("x"), []byte("from-p1"))
	p2.Set([]byte("x"), []byte("from-p2"))

	require.Equal(t, []byte("from-p1"), p1.Get([]byte("x")))
	require.Equal(t, []byte("from-p2"), p2.Get([]byte("x")))

	var keys [][]byte
	p1.Iterate(func(k, _ []byte) bool {
		keys = append(keys, k)
		return true
	})
	require.Equal(t, [][]byte{[]byte("x")}, keys)
}
