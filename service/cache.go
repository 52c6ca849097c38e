package service

import (
	"sync"
	"time"

	"github.com/armanrma7/rmbg/config"
	"github.com/armanrma7/rmbg/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MemoryCache is the in-process result cache: content hash -> encoded PNG.
// Identical keys always map to byte-identical values, so concurrent duplicate
// requests may both compute and both Put without coordination (last write
// wins, content-identical). Growth is bounded by TTL and a max entry count,
// enforced by a scheduled sweep.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	ttl        time.Duration
	maxEntries int
	sweeper    *cron.Cron
}

type memoryEntry struct {
	data     []byte
	storedAt time.Time
}

func NewMemoryCache(cfg *config.MemoryCacheConfig) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
	}
}

// Get returns the cached bytes for key, if present and not expired.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.storedAt) > c.ttl {
		return nil, false
	}
	return e.data, true
}

func (c *MemoryCache) Put(key string, data []byte) {
	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, storedAt: time.Now()}
	c.mu.Unlock()
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweeper schedules Sweep on the given cron spec (e.g. "@every 5m").
func (c *MemoryCache) StartSweeper(spec string) error {
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(spec, c.Sweep); err != nil {
		return err
	}
	sweeper.Start()
	c.sweeper = sweeper
	return nil
}

func (c *MemoryCache) StopSweeper() {
	if c.sweeper != nil {
		c.sweeper.Stop()
	}
}

// Sweep drops expired entries, then evicts oldest-first until the entry count
// bound holds again.
func (c *MemoryCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	if c.ttl > 0 {
		cutoff := time.Now().Add(-c.ttl)
		for key, e := range c.entries {
			if e.storedAt.Before(cutoff) {
				delete(c.entries, key)
				removed++
			}
		}
	}

	if c.maxEntries > 0 {
		for len(c.entries) > c.maxEntries {
			oldestKey := ""
			var oldestAt time.Time
			for key, e := range c.entries {
				if oldestKey == "" || e.storedAt.Before(oldestAt) {
					oldestKey = key
					oldestAt = e.storedAt
				}
			}
			delete(c.entries, oldestKey)
			removed++
		}
	}

	if removed > 0 {
		utils.Logger.Debug("cache sweep",
			zap.Int("removed", removed),
			zap.Int("remaining", len(c.entries)))
	}
}
