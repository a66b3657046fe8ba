// Package index implements MTreeIndex, the facade that wires a mtree.Tree
// to a transaction, a process-wide node cache, and an external doc-id
// resolver, enforcing the single-writer-many-readers concurrency model
// the rest of this module assumes but never implements itself.
package index

import (
	"fmt"
	"sync"

	"golang.org/x/xerrors"

	"github.com/surrealdb/mtreeidx/distance"
	"github.com/surrealdb/mtreeidx/kv"
	"github.com/surrealdb/mtreeidx/mtree"
	"github.com/surrealdb/mtreeidx/store"
	"github.com/surrealdb/mtreeidx/vector"
)

// Mode declares the access an opened MTreeIndex needs. A session that
// only intends to query should open Read, so it never contends with the
// one writer the single-writer model allows.
type Mode byte

const (
	Read Mode = iota
	Write
)

var (
	// ErrWrongMode is returned by a mutating call on an index opened Read.
	ErrWrongMode = xerrors.New("mtreeidx: index opened read-only")
	// ErrCapacityMismatch is returned when Params.Capacity disagrees with
	// the capacity recorded in the index's persistent state, which a Write
	// session's Finish writes even when the index holds no vectors.
	ErrCapacityMismatch = xerrors.New("mtreeidx: capacity does not match the index's persisted state")
)

// Params fully describes one M-tree index's shape. Every field here is
// fixed for the lifetime of the index: changing any of them requires
// dropping and rebuilding, not a migration in place.
type Params struct {
	Dimension  int
	VectorKind vector.ElementKind
	Capacity   uint16
	Distance   distance.Params
}

// DocIdResolver is the external collaborator that maps between the
// caller's own record identifiers and the compact mtree.DocId the tree
// stores internally. Its persistence, if any, lives entirely outside this
// package; MTreeIndex only ever calls it with the transaction it itself
// was opened against.
type DocIdResolver interface {
	// Lookup returns the doc-id bound to recordID. If none exists yet and
	// assignNew is true, it mints and binds a fresh one; otherwise ok is
	// false.
	Lookup(tx kv.Transaction, recordID string, assignNew bool) (doc mtree.DocId, ok bool, err error)
	// RecordID reverse-resolves a doc-id back to the caller's record
	// identifier, for presenting kNN results.
	RecordID(tx kv.Transaction, doc mtree.DocId) (recordID string, ok bool, err error)
	// Forget releases recordID's binding. RemoveDocument calls it after it
	// has removed recordID's doc-id from one vector's entry.
	Forget(tx kv.Transaction, recordID string) error
}

// RecordResult is one kNN hit translated back to the caller's own record
// space.
type RecordResult struct {
	RecordID string
	Dist     float64
}

// Statistics is the diagnostic surface of statistics(): entries is the
// number of distinct vectors currently indexed, docs the total number of
// doc-ids attached to them (docs >= entries, equal only when every vector
// is unique to one document).
type Statistics struct {
	Entries int
	Docs    int
}

// MTreeIndex is one opened session over one M-tree index. It owns no
// storage and commits nothing on its own: the caller's kv.Transaction
// remains the unit of durability, and Finish only flushes this session's
// buffered node writes and persists the updated State into it.
type MTreeIndex struct {
	mu sync.RWMutex

	indexKey string
	params   Params
	mode     Mode
	dist     distance.Fn

	scoped kv.Transaction
	state  *mtree.State
	store  *store.NodeStore
	tree   *mtree.Tree
	caches *store.IndexCaches
}

var stateKey = []byte{'S'}

// New opens an MTreeIndex over tx, scoped under indexKeyBase so several
// indexes can share one underlying transaction without key collisions.
// caches may be nil, in which case every open starts from an empty node
// cache (correct, just colder).
func New(tx kv.Transaction, indexKeyBase string, params Params, mode Mode, caches *store.IndexCaches) (*MTreeIndex, error) {
	if params.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", vector.ErrInvalidVectorDimension)
	}
	if params.Capacity < 2 {
		return nil, fmt.Errorf("mtreeidx: capacity must be >= 2, got %d", params.Capacity)
	}
	dist, err := distance.New(params.Distance)
	if err != nil {
		return nil, err
	}
	if caches == nil {
		caches = store.NewIndexCaches()
	}

	scoped := kv.NewStringPartition(tx, indexKeyBase)

	var state *mtree.State
	if raw := scoped.Get(stateKey); raw != nil {
		state, err = mtree.DecodeState(raw)
		if err != nil {
			return nil, err
		}
		if state.Capacity != params.Capacity {
			return nil, fmt.Errorf("%w: opened with %d, persisted as %d", ErrCapacityMismatch, params.Capacity, state.Capacity)
		}
	} else {
		state, err = mtree.NewState(params.Capacity)
		if err != nil {
			return nil, err
		}
	}

	snap, err := caches.Snapshot(indexKey(indexKeyBase, params), state.Generation, func() (*store.Snapshot, error) {
		return store.EmptySnapshot(state.Generation), nil
	})
	if err != nil {
		return nil, err
	}

	ns := store.NewNodeStore(scoped, params.Dimension, snap)
	return &MTreeIndex{
		indexKey: indexKey(indexKeyBase, params),
		params:   params,
		mode:     mode,
		dist:     dist,
		scoped:   scoped,
		state:    state,
		store:    ns,
		tree:     mtree.New(state, ns, dist),
		caches:   caches,
	}, nil
}

func indexKey(indexKeyBase string, params Params) string {
	return fmt.Sprintf("%s/%d/%d", indexKeyBase, params.Dimension, params.VectorKind)
}

func (x *MTreeIndex) checkVector(v *vector.Value) error {
	if v.Dimension() != x.params.Dimension {
		return fmt.Errorf("%w: got %d, want %d", vector.ErrInvalidVectorDimension, v.Dimension(), x.params.Dimension)
	}
	if v.Kind() != x.params.VectorKind {
		return fmt.Errorf("%w: got %s, want %s", vector.ErrInvalidVectorType, v.Kind(), x.params.VectorKind)
	}
	return nil
}

// IndexDocument inserts (or appends a doc-id to an existing entry for) v
// under recordID. It requires the index to have been opened Write.
func (x *MTreeIndex) IndexDocument(recordID string, v *vector.Value, resolver DocIdResolver) error {
	if x.mode != Write {
		return ErrWrongMode
	}
	if err := x.checkVector(v); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	doc, _, err := resolver.Lookup(x.scoped, recordID, true)
	if err != nil {
		return err
	}
	return x.tree.Insert(v, doc)
}

// RemoveDocument removes recordID's doc-id from v's entry, if both the
// vector and the binding exist. It requires the index to have been opened
// Write.
func (x *MTreeIndex) RemoveDocument(recordID string, v *vector.Value, resolver DocIdResolver) error {
	if x.mode != Write {
		return ErrWrongMode
	}
	if err := x.checkVector(v); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	doc, ok, err := resolver.Lookup(x.scoped, recordID, false)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	removed, err := x.tree.Delete(v, doc)
	if err != nil {
		return err
	}
	if removed {
		return resolver.Forget(x.scoped, recordID)
	}
	return nil
}

// KnnSearch returns the k nearest indexed vectors to target, translated to
// the caller's record space. checker may be nil. Read-mode sessions and
// write-mode sessions may both call this; only mutation requires Write.
func (x *MTreeIndex) KnnSearch(target *vector.Value, k int, checker mtree.ConditionChecker, resolver DocIdResolver) ([]RecordResult, error) {
	if err := x.checkVector(target); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	hits, err := x.tree.KnnSearch(target, k, checker)
	if err != nil {
		return nil, err
	}

	var out []RecordResult
	for _, h := range hits {
		for _, doc := range h.Docs {
			recordID, ok, err := resolver.RecordID(x.scoped, doc)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			out = append(out, RecordResult{RecordID: recordID, Dist: h.Dist})
		}
	}
	return out, nil
}

// Statistics reports the current entry and doc counts.
func (x *MTreeIndex) Statistics() (Statistics, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entries, docs, err := x.tree.Stats()
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{Entries: entries, Docs: docs}, nil
}

// Finish flushes this session's buffered node writes into the underlying
// transaction, persists the (possibly bumped) State, and publishes the new
// node-cache snapshot so the next session to open at this generation can
// read it without refetching from the KV layer. It does not commit the
// underlying transaction; the caller still owns that.
func (x *MTreeIndex) Finish() error {
	if x.mode != Write {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	next, err := x.store.Finish()
	if err != nil {
		return err
	}
	if next != nil {
		x.state.Generation = next.Generation
		x.caches.Publish(x.indexKey, next)
	}
	x.scoped.Set(stateKey, x.state.Encode())
	return nil
}
