package store

import (
	"sort"
	"sync"

	"github.com/flagcore/flagcore/internal/flag"
)

// Cache is the authoritative in-memory view of flag records, keyed by
// (name, environment). It is the single structure shared between the write
// path (coordinator, follower) and the read path (evaluation); PutIfVersion
// is the optimistic-concurrency primitive everything above it builds on.
// Reads take only the read lock and never wait on writers of other keys.
type Cache struct {
	mu    sync.RWMutex
	flags map[flag.Key]flag.Record
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{flags: make(map[flag.Key]flag.Record)}
}

// Get returns the latest locally-applied record for the key. Tombstoned
// records are purged from the live view, so a deleted flag reads as absent.
func (c *Cache) Get(key flag.Key) (flag.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.flags[key]
	return rec, ok
}

// PutIfVersion applies rec only if the cached version for its key equals
// expected (0 means the key must be absent). Returns ErrVersionConflict
// without mutating otherwise. A tombstoned rec removes the key from the
// live view. The check-and-apply is atomic with respect to concurrent Get
// and PutIfVersion calls.
func (c *Cache) PutIfVersion(rec flag.Record, expected int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.flags[rec.Key]
	if !ok {
		if expected != 0 {
			return ErrVersionConflict
		}
	} else if current.Version != expected {
		return ErrVersionConflict
	}

	c.apply(rec)
	return nil
}

// Reconcile applies rec if it is newer than the cached version, regardless
// of the exact expected version. The durable CAS already serialized the
// write, so "newer wins" is safe here; it is used when applying change-feed
// entries to a cache that may have missed intermediate versions.
// Returns whether the cache changed.
func (c *Cache) Reconcile(rec flag.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.flags[rec.Key]; ok && current.Version >= rec.Version {
		return false
	}
	c.apply(rec)
	return true
}

func (c *Cache) apply(rec flag.Record) {
	if rec.Deleted {
		delete(c.flags, rec.Key)
		return
	}
	c.flags[rec.Key] = rec
}

// Snapshot returns a consistent point-in-time copy of every live record,
// ordered by environment then name. Concurrent puts are not blocked beyond
// the copy itself.
func (c *Cache) Snapshot() []flag.Record {
	c.mu.RLock()
	records := make([]flag.Record, 0, len(c.flags))
	for _, rec := range c.flags {
		records = append(records, rec)
	}
	c.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Key.Env != records[j].Key.Env {
			return records[i].Key.Env < records[j].Key.Env
		}
		return records[i].Key.Name < records[j].Key.Name
	})
	return records
}

// Len returns the number of live records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.flags)
}

// Warm replaces the cache contents with the given records, used once at
// startup from Durable.LoadAll.
func (c *Cache) Warm(records []flag.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = make(map[flag.Key]flag.Record, len(records))
	for _, rec := range records {
		if !rec.Deleted {
			c.flags[rec.Key] = rec
		}
	}
}
