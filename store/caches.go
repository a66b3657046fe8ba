package store

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// IndexCaches is the process-wide registry of snapshots, keyed by index
// identity and generation. Publish only adds entries; Evict is the only
// call that drops them. It is the only shared mutable
// state between sessions: a reader captures a reference to one entry and
// keeps reading it regardless of what later writers publish, until it
// opens a fresh store and observes a higher generation itself.
type IndexCaches struct {
	mu    sync.RWMutex
	byKey map[string]map[uint64]*Snapshot
	group singleflight.Group
}

func NewIndexCaches() *IndexCaches {
	return &IndexCaches{byKey: make(map[string]map[uint64]*Snapshot)}
}

// Snapshot returns the cached snapshot for (indexKey, generation), cold-
// loading it via load if absent. Concurrent cold loads for the same key
// collapse into one call to load through singleflight.
func (c *IndexCaches) Snapshot(indexKey string, generation uint64, load func() (*Snapshot, error)) (*Snapshot, error) {
	if snap, ok := c.lookup(indexKey, generation); ok {
		return snap, nil
	}
	sfKey := fmt2(indexKey, generation)
	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		if snap, ok := c.lookup(indexKey, generation); ok {
			return snap, nil
		}
		snap, err := load()
		if err != nil {
			return nil, err
		}
		c.publish(indexKey, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *IndexCaches) lookup(indexKey string, generation uint64) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	gens, ok := c.byKey[indexKey]
	if !ok {
		return nil, false
	}
	snap, ok := gens[generation]
	return snap, ok
}

// Publish makes a newly-finished snapshot visible to future Snapshot
// callers. It never overwrites or removes an existing generation entry:
// snapshots are additive, matching the append-only registry the tree's
// concurrency model requires.
func (c *IndexCaches) Publish(indexKey string, snap *Snapshot) {
	c.publish(indexKey, snap)
}

func (c *IndexCaches) publish(indexKey string, snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gens, ok := c.byKey[indexKey]
	if !ok {
		gens = make(map[uint64]*Snapshot)
		c.byKey[indexKey] = gens
	}
	if _, exists := gens[snap.Generation]; !exists {
		gens[snap.Generation] = snap
	}
}

// Evict drops cached generations strictly older than keepFrom for one
// index, bounding memory growth once no session can still reference them.
func (c *IndexCaches) Evict(indexKey string, keepFrom uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gens, ok := c.byKey[indexKey]
	if !ok {
		return
	}
	for gen := range gens {
		if gen < keepFrom {
			delete(gens, gen)
		}
	}
}

func fmt2(indexKey string, generation uint64) string {
	b := make([]byte, 0, len(indexKey)+20)
	b = append(b, indexKey...)
	b = append(b, ':')
	b = appendUint(b, generation)
	return string(b)
}

func appendUint(b []byte, v uint64) []byte {
	if v == 0 {
		return append(b, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, tmp[i:]...)
}
