package kv

import (
	"github.com/iotaledger/hive.go/core/kvstore"
)

// HiveStore adapts a hive.go kvstore.KVStore (backed in production by
// dgraph-io/badger, or by an in-memory mapdb.MapDB in tests) to KVStore.
// This is the persistent backend behind MTreeIndex in a real deployment.
type HiveStore struct {
	kvs kvstore.KVStore
}

func NewHiveStore(kvs kvstore.KVStore) *HiveStore {
	return &HiveStore{kvs: kvs}
}

func (h *HiveStore) Get(key []byte) []byte {
	v, err := h.kvs.Get(key)
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return nil
		}
		panic(err)
	}
	return v
}

func (h *HiveStore) Has(key []byte) bool {
	ok, err := h.kvs.Has(key)
	if err != nil {
		panic(err)
	}
	return ok
}

func (h *HiveStore) Set(key, value []byte) {
	var err error
	if len(value) == 0 {
		err = h.kvs.Delete(key)
	} else {
		err = h.kvs.Set(key, value)
	}
	if err != nil {
		panic(err)
	}
}

func (h *HiveStore) Iterate(fn func(k, v []byte) bool) {
	_ = h.kvs.Iterate(kvstore.EmptyPrefix, func(key kvstore.Key, value kvstore.Value) bool {
		return fn(key, value)
	})
}

// BeginTx opens a batched transaction. Reads made through the returned
// Transaction observe prior writes of the same transaction but bypass the
// underlying store's batch until Commit, matching hive.go's BatchedMutations
// semantics (see hive_adaptor.HiveBatchedUpdater in the reference trie).
func (h *HiveStore) BeginTx() (Transaction, error) {
	batch, err := h.kvs.Batched()
	if err != nil {
		return nil, err
	}
	return &hiveTx{store: h, batch: batch, set: make(map[string][]byte), del: make(map[string]struct{})}, nil
}

type hiveTx struct {
	store *HiveStore
	batch kvstore.BatchedMutations
	set   map[string][]byte
	del   map[string]struct{}
}

func (t *hiveTx) Get(key []byte) []byte {
	ks := string(key)
	if v, ok := t.set[ks]; ok {
		return v
	}
	if _, ok := t.del[ks]; ok {
		return nil
	}
	return t.store.Get(key)
}

func (t *hiveTx) Has(key []byte) bool {
	ks := string(key)
	if _, ok := t.set[ks]; ok {
		return true
	}
	if _, ok := t.del[ks]; ok {
		return false
	}
	return t.store.Has(key)
}

func (t *hiveTx) Set(key, value []byte) {
	ks := string(key)
	if len(value) == 0 {
		delete(t.set, ks)
		t.del[ks] = struct{}{}
		return
	}
	delete(t.del, ks)
	t.set[ks] = value
}

func (t *hiveTx) Iterate(fn func(k, v []byte) bool) {
	seen := make(map[string]struct{}, len(t.set)+len(t.del))
	for ks, v := range t.set {
		seen[ks] = struct{}{}
		if !fn([]byte(ks), v) {
			return
		}
	}
	for ks := range t.del {
		seen[ks] = struct{}{}
	}
	t.store.Iterate(func(k, v []byte) bool {
		if _, ok := seen[string(k)]; ok {
			return true
		}
		return fn(k, v)
	})
}

func (t *hiveTx) Commit() error {
	for ks, v := range t.set {
		if err := t.batch.Set([]byte(ks), v); err != nil {
			return err
		}
	}
	for ks := range t.del {
		if err := t.batch.Delete([]byte(ks)); err != nil {
			return err
		}
	}
	if err := t.batch.Commit(); err != nil {
		return err
	}
	return t.store.kvs.Flush()
}

func (t *hiveTx) Rollback() {
	t.set = make(map[string][]byte)
	t.del = make(map[string]struct{})
}

var _ Transaction = (*hiveTx)(nil)
