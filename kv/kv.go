// Package kv abstracts the transactional key/value layer the index core
// is built on. The M-tree itself never talks to a concrete storage engine;
// it only ever sees a Transaction bound to the caller's logical session.
package kv

// KVReader reads key/value pairs. A nil return means the key is absent.
type KVReader interface {
	Get(key []byte) []byte
	Has(key []byte) bool
}

// KVWriter writes or deletes (a nil or empty value) key/value pairs.
type KVWriter interface {
	Set(key, value []byte)
}

// KVIterator iterates a key range, in unspecified order.
type KVIterator interface {
	Iterate(fn func(k, v []byte) bool)
}

// KVStore is a reader+writer, usually the outer, unscoped store.
type KVStore interface {
	KVReader
	KVWriter
}

// Transaction is the unit of work the index operates inside. Reads see
// prior writes made through the same Transaction. Commit publishes all
// writes atomically; Rollback discards them. Implementations are not
// required to be safe for concurrent use by multiple goroutines.
type Transaction interface {
	KVStore
	KVIterator
	// Commit makes all writes durable and visible to new transactions.
	Commit() error
	// Rollback discards all writes made through this transaction.
	Rollback()
}

// Partition scopes a Transaction to keys sharing a single-byte prefix, so
// unrelated components (node store, doc-id resolver, persistent state)
// sharing one Transaction can never collide on key space.
type Partition struct {
	tx     Transaction
	prefix byte
}

func NewPartition(tx Transaction, prefix byte) *Partition {
	return &Partition{tx: tx, prefix: prefix}
}

func (p *Partition) key(k []byte) []byte {
	ret := make([]byte, 1+len(k))
	ret[0] = p.prefix
	copy(ret[1:], k)
	return ret
}

func (p *Partition) Get(key []byte) []byte {
	return p.tx.Get(p.key(key))
}

func (p *Partition) Has(key []byte) bool {
	return p.tx.Has(p.key(key))
}

func (p *Partition) Set(key, value []byte) {
	p.tx.Set(p.key(key), value)
}

func (p *Partition) Iterate(fn func(k, v []byte) bool) {
	p.tx.Iterate(func(k, v []byte) bool {
		if len(k) == 0 || k[0] != p.prefix {
			return true
		}
		return fn(k[1:], v)
	})
}

// StringPartition is Partition's counterpart for a prefix wider than one
// byte, such as an index's own key base among several indexes sharing a
// single underlying Transaction. It implements Transaction itself (not
// just KVStore+KVIterator), so components that need a full Transaction —
// like store.NodeStore — can be handed a StringPartition directly.
type StringPartition struct {
	tx     Transaction
	prefix []byte
}

func NewStringPartition(tx Transaction, prefix string) *StringPartition {
	p := make([]byte, 0, len(prefix)+1)
	p = append(p, prefix...)
	p = append(p, ':')
	return &StringPartition{tx: tx, prefix: p}
}

func (p *StringPartition) key(k []byte) []byte {
	ret := make([]byte, len(p.prefix)+len(k))
	copy(ret, p.prefix)
	copy(ret[len(p.prefix):], k)
	return ret
}

func (p *StringPartition) Get(key []byte) []byte { return p.tx.Get(p.key(key)) }
func (p *StringPartition) Has(key []byte) bool   { return p.tx.Has(p.key(key)) }
func (p *StringPartition) Set(key, value []byte) { p.tx.Set(p.key(key), value) }

func (p *StringPartition) Iterate(fn func(k, v []byte) bool) {
	p.tx.Iterate(func(k, v []byte) bool {
		if len(k) < len(p.prefix) || !bytesEqual(k[:len(p.prefix)], p.prefix) {
			return true
		}
		return fn(k[len(p.prefix):], v)
	})
}

func (p *StringPartition) Commit() error { return p.tx.Commit() }
func (p *StringPartition) Rollback()     { p.tx.Rollback() }

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ Transaction = (*StringPartition)(nil)
