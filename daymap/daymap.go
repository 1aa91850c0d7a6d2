// Package daymap caches the per-origin day-maps (epoch -> bucket-count)
// that the bucket addressing scheme needs, with size-based invalidation
// against the object store so a worker only re-reads a day file when its
// underlying object has actually changed.
package daymap

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/WhereSoftwareGoesToDie/vaultaire/bucket"
	"github.com/WhereSoftwareGoesToDie/vaultaire/ingest/log"
	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
	"github.com/WhereSoftwareGoesToDie/vaultaire/store"
)

// Store is the subset of the object store a day-map cache needs. *store.Pool
// satisfies it; tests supply a fake so no live Ceph connection is required.
type Store interface {
	Stat(oid string) (store.Stat, error)
	ReadFull(oid string) ([]byte, error)
}

type entry struct {
	simpleSize      uint64
	simpleMap       bucket.DayMap
	extendedSize    uint64
	extendedMap     bucket.DayMap
}

// Cache is a per-worker, per-origin day-map cache. It is NOT shared across
// workers: each worker re-reads day maps as needed, trading a little
// redundant I/O for a cache whose RWMutex is never contended across workers.
type Cache struct {
	mu      sync.RWMutex
	entries map[point.Origin]*entry
	store   Store
	lg      *log.Logger
}

// New constructs a Cache reading through s.
func New(s Store, lg *log.Logger) *Cache {
	return &Cache{entries: make(map[point.Origin]*entry), store: s, lg: lg}
}

// WithSimpleDayMap gives read-only access to the currently cached simple day
// map for origin. ok is false if origin is not cached.
func (c *Cache) WithSimpleDayMap(origin point.Origin, f func(bucket.DayMap)) (ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[origin]
	if !found {
		return false
	}
	f(e.simpleMap)
	return true
}

// WithExtendedDayMap gives read-only access to the currently cached extended
// day map for origin. ok is false if origin is not cached.
func (c *Cache) WithExtendedDayMap(origin point.Origin, f func(bucket.DayMap)) (ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, found := c.entries[origin]
	if !found {
		return false
	}
	f(e.extendedMap)
	return true
}

// CacheExpired reports whether origin's cached day maps are stale: the
// simple day file's size is stat'd first, then (if unchanged) the extended
// one, each compared against the cached size.
func (c *Cache) CacheExpired(origin point.Origin) (bool, error) {
	c.mu.RLock()
	e, found := c.entries[origin]
	c.mu.RUnlock()
	if !found {
		return true, nil
	}

	simpleStat, err := c.store.Stat(bucket.SimpleDayOID(origin))
	if err != nil {
		return false, fmt.Errorf("daymap: stat simple day file: %w", err)
	}
	if simpleStat.Size != e.simpleSize {
		return true, nil
	}

	extendedStat, err := c.store.Stat(bucket.ExtendedDayOID(origin))
	if err != nil {
		return false, fmt.Errorf("daymap: stat extended day file: %w", err)
	}
	return extendedStat.Size != e.extendedSize, nil
}

// RefreshOriginDays loads both day files for origin if the cache entry is
// absent or CacheExpired reports true. On a load failure (the day file is
// missing or malformed) it logs and leaves the existing cache entry (if
// any) unchanged. A stat failure on an entry that is already cached is a
// different, fatal condition: it means a day file this worker depends on
// became unreadable out from under it, and serving stale data silently is
// worse than dying.
func (c *Cache) RefreshOriginDays(origin point.Origin) {
	expired, err := c.CacheExpired(origin)
	if err != nil {
		if c.lg != nil {
			c.lg.Critical("daymap: stat failed on existing cache entry, aborting", log.KVErr(err), log.KV("origin", origin))
		}
		fatal()
		return
	}
	if !expired {
		return
	}

	simpleBody, err := c.store.ReadFull(bucket.SimpleDayOID(origin))
	if err != nil {
		if c.lg != nil {
			c.lg.Warn("daymap: failed to load simple day map", log.KVErr(err), log.KV("origin", origin))
		}
		return
	}
	extendedBody, err := c.store.ReadFull(bucket.ExtendedDayOID(origin))
	if err != nil {
		if c.lg != nil {
			c.lg.Warn("daymap: failed to load extended day map", log.KVErr(err), log.KV("origin", origin))
		}
		return
	}

	simpleMap, err := decodeDayMap(simpleBody)
	if err != nil {
		if c.lg != nil {
			c.lg.Warn("daymap: malformed simple day map", log.KVErr(err), log.KV("origin", origin))
		}
		return
	}
	extendedMap, err := decodeDayMap(extendedBody)
	if err != nil {
		if c.lg != nil {
			c.lg.Warn("daymap: malformed extended day map", log.KVErr(err), log.KV("origin", origin))
		}
		return
	}

	c.mu.Lock()
	c.entries[origin] = &entry{
		simpleSize:   uint64(len(simpleBody)),
		simpleMap:    simpleMap,
		extendedSize: uint64(len(extendedBody)),
		extendedMap:  extendedMap,
	}
	c.mu.Unlock()
}

// fatal aborts the process. Used when a cache entry that was previously
// loaded successfully can no longer be stat'd: the store state backing a
// live cache has gone inconsistent, which is not recoverable in place.
func fatal() {
	syscall.Kill(os.Getpid(), syscall.SIGKILL)
}

// dayMapEntrySize is the on-disk width of one (start, bucket_count) pair:
// two little-endian u64s.
const dayMapEntrySize = 16

// decodeDayMap parses a day-map object body into an ascending-by-start
// sequence of epochs.
func decodeDayMap(buf []byte) (bucket.DayMap, error) {
	if len(buf)%dayMapEntrySize != 0 {
		return nil, fmt.Errorf("daymap: body length %d not a multiple of %d", len(buf), dayMapEntrySize)
	}
	n := len(buf) / dayMapEntrySize
	dm := make(bucket.DayMap, n)
	for i := 0; i < n; i++ {
		off := i * dayMapEntrySize
		dm[i] = bucket.Epoch{
			Start:       binary.LittleEndian.Uint64(buf[off : off+8]),
			BucketCount: binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		}
	}
	return dm, nil
}

// EncodeDayMap is the inverse of decodeDayMap, exported for tests and for
// any tooling that needs to write day-map objects.
func EncodeDayMap(dm bucket.DayMap) []byte {
	buf := make([]byte, len(dm)*dayMapEntrySize)
	for i, e := range dm {
		off := i * dayMapEntrySize
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Start)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.BucketCount)
	}
	return buf
}
