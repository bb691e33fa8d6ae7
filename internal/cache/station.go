package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/observability"
)

// Loader fetches the authoritative station record on a miss.
type Loader func(ctx context.Context, stationID string) (models.StationRecord, error)

// StationCache is a read-through cache of station records keyed by id.
// Entries expire after the TTL and are dropped whenever the station is
// written, so a reader never sees a record older than the last commit it
// could have observed plus one TTL.
type StationCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	gen   map[string]uint64
	ttl   time.Duration
	load  Loader
	group singleflight.Group
	now   func() time.Time
}

type cacheEntry struct {
	v  models.StationRecord
	ts time.Time
}

// NewStationCache creates a cache with the provided TTL.
func NewStationCache(ttl time.Duration, load Loader) *StationCache {
	return &StationCache{
		store: make(map[string]cacheEntry),
		gen:   make(map[string]uint64),
		ttl:   ttl,
		load:  load,
		now:   time.Now,
	}
}

// Get returns cached value and true if present and not expired.
func (c *StationCache) Get(stationID string) (models.StationRecord, bool) {
	c.mu.RLock()
	e, ok := c.store[stationID]
	c.mu.RUnlock()
	if !ok {
		return models.StationRecord{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		if cur, ok := c.store[stationID]; ok && cur.ts.Equal(e.ts) {
			delete(c.store, stationID)
		}
		c.mu.Unlock()
		return models.StationRecord{}, false
	}
	return e.v, true
}

// Fetch returns the cached record or loads it. Concurrent misses for one
// station share a single load.
func (c *StationCache) Fetch(ctx context.Context, stationID string) (models.StationRecord, error) {
	if v, ok := c.Get(stationID); ok {
		observability.StationCacheTotal.WithLabelValues("hit").Inc()
		return v, nil
	}
	observability.StationCacheTotal.WithLabelValues("miss").Inc()
	c.mu.RLock()
	gen := c.gen[stationID]
	c.mu.RUnlock()
	v, err, _ := c.group.Do(stationID, func() (any, error) {
		rec, err := c.load(ctx, stationID)
		if err != nil {
			return models.StationRecord{}, err
		}
		c.setIfGen(stationID, rec, gen)
		return rec, nil
	})
	if err != nil {
		return models.StationRecord{}, err
	}
	return v.(models.StationRecord), nil
}

// Invalidate drops the station. A load that started before the call will
// not store its result.
func (c *StationCache) Invalidate(stationID string) {
	c.mu.Lock()
	delete(c.store, stationID)
	c.gen[stationID]++
	c.mu.Unlock()
}

func (c *StationCache) setIfGen(stationID string, v models.StationRecord, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[stationID] != gen {
		return
	}
	c.store[stationID] = cacheEntry{v: v, ts: c.now()}
}

// InventoryListener invalidates every station touched by a commit.
func (c *StationCache) InventoryListener() inventory.Listener {
	return func(commit inventory.Commit) {
		for _, rec := range commit.Stations {
			c.Invalidate(rec.ID)
		}
	}
}
