// Package cache holds short-lived results keyed by owner, such as ledger
// listings. It must never be handed derived keys, secrets or plaintext.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/ruteri/medical-record-custody/interfaces"
)

// Key identifies a cached value. Fingerprint distinguishes different
// queries for the same owner.
type Key struct {
	Owner       interfaces.Address
	Fingerprint string
}

// Config configures a Cache.
type Config struct {
	// MaxEntries bounds the number of cached values, and the number of
	// owners whose invalidations are tracked.
	MaxEntries int64
	// TTL is the lifetime of each entry; zero keeps entries until evicted.
	TTL time.Duration
}

type generation struct {
	n      uint64
	bumped time.Time
}

// Cache is a TTL cache with per-owner invalidation.
type Cache struct {
	ttl        time.Duration
	maxEntries int64
	now        func() time.Time

	// mu guards store swaps and the generation table.
	mu          sync.RWMutex
	store       *ristretto.Cache
	generations map[interfaces.Address]generation
	seq         uint64
}

// New creates a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}

	c := &Cache{
		ttl:         cfg.TTL,
		maxEntries:  cfg.MaxEntries,
		now:         time.Now,
		generations: make(map[interfaces.Address]generation),
	}
	store, err := c.newStore()
	if err != nil {
		return nil, err
	}
	c.store = store
	return c, nil
}

func (c *Cache) newStore() (*ristretto.Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        c.maxEntries * 10,
		MaxCost:            c.maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return store, nil
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache) Get(key Key) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Get(c.storeKey(key))
}

// Set caches value under key. Writes are applied asynchronously and may be
// dropped under contention.
func (c *Cache) Set(key Key, value interface{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.store.SetWithTTL(c.storeKey(key), value, 1, c.ttl)
}

// Invalidate drops every cached value of owner.
func (c *Cache) Invalidate(owner interfaces.Address) {
	c.mu.Lock()
	c.seq++
	now := c.now()
	c.generations[owner] = generation{n: c.seq, bumped: now}

	var retired *ristretto.Cache
	if int64(len(c.generations)) > c.maxEntries {
		retired = c.pruneLocked(now)
	}
	c.mu.Unlock()

	if retired != nil {
		retired.Close()
	}
}

// pruneLocked forgets owners invalidated at least one TTL ago: every entry
// written under their previous generations has expired. If that is not
// enough, the whole store is replaced and the retired one returned.
func (c *Cache) pruneLocked(now time.Time) *ristretto.Cache {
	if c.ttl > 0 {
		for owner, gen := range c.generations {
			if now.Sub(gen.bumped) >= c.ttl {
				delete(c.generations, owner)
			}
		}
	}
	if int64(len(c.generations)) <= c.maxEntries {
		return nil
	}

	store, err := c.newStore()
	if err != nil {
		// Keep tracking; the table stays correct, only larger.
		return nil
	}
	retired := c.store
	c.store = store
	c.generations = make(map[interfaces.Address]generation)
	return retired
}

// Wait blocks until pending writes are applied.
func (c *Cache) Wait() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.store.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Close()
}

// storeKey folds the owner's generation into the key so that bumping it
// orphans older entries, which then age out. Callers hold mu.
func (c *Cache) storeKey(key Key) string {
	return fmt.Sprintf("%s/%d/%s", key.Owner.String(), c.generations[key.Owner].n, key.Fingerprint)
}
