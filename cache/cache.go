// Package cache implements the chunk cache (spec component F) and its
// write-back engine (component G). The cache sits between the driver
// facade and a chunk store (any type satisfying Store, ordinarily a
// *container.Dataset), coalescing concurrent loads of the same chunk and
// buffering writes until a background writer flushes them.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/kestrelio/hdf5chunk/coord"
	"github.com/kestrelio/hdf5chunk/internal/metrics"
	"github.com/kestrelio/hdf5chunk/internal/obslog"
)

// Store is the chunk-addressed storage a Cache reads through and writes
// back to. *container.Dataset satisfies this structurally.
type Store interface {
	ReadChunk(key coord.Key) ([]byte, error)
	WriteChunk(key coord.Key, data []byte) error
}

// Policy selects how writes are buffered (spec §4.F). Per SPEC_FULL.md §5
// Open Question 3, WriteThrough is implemented as write-back with an
// immediate synchronous flush of that one chunk, not as a separate code
// path.
type Policy int

const (
	WriteBack Policy = iota
	WriteThrough
)

// unboundedLRUSize bounds the underlying simplelru only as a safety net; the
// cache's real capacity is enforced by enforceCapacityLocked.
const unboundedLRUSize = 1 << 30

type entry struct {
	key   string
	data  []byte
	dirty bool

	// loading is non-nil while a Get is fetching this chunk from the
	// store, so concurrent Gets for the same key wait on one load instead
	// of issuing redundant reads (spec §4.F coalescing).
	loading chan struct{}
	loadErr error
}

// Cache is a bounded, dirty-tracking cache over a single Store.
type Cache struct {
	store    Store
	capacity int
	policy   Policy
	log      *zap.SugaredLogger
	metrics  *metrics.Collectors

	mu  sync.Mutex
	lru *simplelru.LRU[string, *entry]

	hits   atomic.Int64
	misses atomic.Int64

	writer *writer
}

// Stats mirrors the original driver's HDF5ChunkCache::GetStats()
// (SPEC_FULL.md §4).
type Stats struct {
	Entries      int
	DirtyEntries int
	Bytes        int64
	Hits         int64
	Misses       int64
}

// New builds a Cache over store with room for capacity chunks. A nil
// logger or metrics collector is fine; both default to no-ops.
func New(store Store, capacity int, policy Policy, log *zap.SugaredLogger, mtr *metrics.Collectors) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive")
	}
	log = obslog.Or(log)

	// The underlying LRU is built with no effective size limit: simplelru's
	// own per-Add eviction has no concept of "dirty", so bounding it at our
	// real capacity would let it evict an unflushed write out from under us.
	// enforceCapacityLocked implements the real (dirty-aware) policy instead.
	lru, err := simplelru.NewLRU[string, *entry](unboundedLRUSize, nil)
	if err != nil {
		return nil, fmt.Errorf("creating LRU: %w", err)
	}

	c := &Cache{
		store:    store,
		capacity: capacity,
		policy:   policy,
		log:      log,
		metrics:  mtr,
		lru:      lru,
	}
	c.writer = newWriter(c, log)
	return c, nil
}

// ReadChunk returns a chunk's bytes, serving from cache when present and
// loading from the store otherwise (spec §4.F ReadChunk). Concurrent reads
// of the same chunk block behind a single load.
func (c *Cache) ReadChunk(key coord.Key) ([]byte, error) {
	k := key.String()

	c.mu.Lock()
	if e, ok := c.lru.Get(k); ok {
		if e.loading != nil {
			ch := e.loading
			c.mu.Unlock()
			<-ch
			c.mu.Lock()
			e, ok = c.lru.Get(k)
			if !ok {
				c.mu.Unlock()
				return c.ReadChunk(key) // evicted mid-load, retry
			}
			c.mu.Unlock()
			if e.loadErr != nil {
				return nil, e.loadErr
			}
			c.recordHit()
			return append([]byte(nil), e.data...), nil
		}
		c.mu.Unlock()
		c.recordHit()
		return append([]byte(nil), e.data...), nil
	}

	// Miss: register a placeholder so concurrent readers coalesce onto it.
	placeholder := &entry{key: k, loading: make(chan struct{})}
	c.lru.Add(k, placeholder)
	c.mu.Unlock()

	c.recordMiss()
	data, err := c.store.ReadChunk(key)

	c.mu.Lock()
	if err != nil {
		placeholder.loadErr = err
		c.lru.Remove(k)
		ch := placeholder.loading
		placeholder.loading = nil
		c.mu.Unlock()
		close(ch)
		return nil, fmt.Errorf("loading chunk %s: %w", key, err)
	}
	placeholder.data = data
	ch := placeholder.loading
	placeholder.loading = nil
	c.enforceCapacityLocked()
	c.mu.Unlock()
	close(ch)

	return append([]byte(nil), data...), nil
}

// WriteChunk stores data for key in the cache, marking it dirty. Under
// WriteBack the write returns once buffered; under WriteThrough it also
// flushes this chunk to the store before returning (spec §4.F WriteChunk).
func (c *Cache) WriteChunk(key coord.Key, data []byte) error {
	k := key.String()
	buf := append([]byte(nil), data...)

	c.mu.Lock()
	if e, ok := c.lru.Get(k); ok && e.loading == nil {
		e.data = buf
		e.dirty = true
	} else {
		c.lru.Add(k, &entry{key: k, data: buf, dirty: true})
	}
	c.enforceCapacityLocked()
	c.mu.Unlock()

	if c.policy == WriteThrough {
		return c.flushOne(key)
	}
	return nil
}

// enforceCapacityLocked evicts clean entries, oldest first, until the
// cache is back within budget. Dirty entries are never evicted directly;
// they must be flushed by the writer first (spec §4.F/G: write-back never
// silently drops an uncommitted write).
func (c *Cache) enforceCapacityLocked() {
	for c.lru.Len() > c.capacity {
		evictedAny := false
		for _, k := range c.lru.Keys() {
			e, ok := c.lru.Peek(k)
			if !ok || e.loading != nil || e.dirty {
				continue
			}
			c.lru.Remove(k)
			c.metrics.RecordEviction()
			evictedAny = true
			break
		}
		if !evictedAny {
			return // everything left is dirty or loading; writer will catch up
		}
	}
}

// Stats reports the cache's current occupancy plus cumulative hit/miss
// counts (spec §4.F CacheStats, spec §8 observability).
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		s.Entries++
		s.Bytes += int64(len(e.data))
		if e.dirty {
			s.DirtyEntries++
		}
	}
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	c.metrics.SetBytes(s.Bytes)
	return s
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	c.metrics.RecordHit()
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	c.metrics.RecordMiss()
}

// dirtyKeys returns the string keys of every dirty, fully-loaded entry.
func (c *Cache) dirtyKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if ok && e.dirty && e.loading == nil {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *Cache) peek(k string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(k)
	return e, ok
}

func (c *Cache) markClean(k string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(k); ok && e.loading == nil && stringsEqualBytes(e.data, data) {
		e.dirty = false
	}
}

func stringsEqualBytes(a, b []byte) bool {
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
