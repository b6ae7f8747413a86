package configcache

import (
	"strings"
	"sync"
)

// Cache is the in-memory configuration cache shared by every Store/Item in
// a process: a per-store UUID index (the authoritative block history) and a
// per-store, per-key index for fast item-config lookup (§3).
type Cache struct {
	mu     sync.RWMutex
	byUUID map[string]map[string]Block            // store -> uuid -> block
	byKey  map[string]map[string]ItemConfig       // store -> lowercased key -> item config
	latest map[string]string                      // store -> uuid of most recently ingested block
}

// NewCache builds an empty Cache.
func NewCache() *Cache {
	return &Cache{
		byUUID: make(map[string]map[string]Block),
		byKey:  make(map[string]map[string]ItemConfig),
		latest: make(map[string]string),
	}
}

// Ingest stores block, indexing its items by (lowercased) key. Per §9's
// case-normalization decision, only the by_key index lowercases keys; the
// stored block itself, and the per-item config values within it, retain
// whatever case the origin daemon authored.
func (c *Cache) Ingest(block Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byUUID[block.Store] == nil {
		c.byUUID[block.Store] = make(map[string]Block)
	}
	c.byUUID[block.Store][block.UUID] = block

	if c.byKey[block.Store] == nil {
		c.byKey[block.Store] = make(map[string]ItemConfig)
	}
	for key, cfg := range block.Items {
		c.byKey[block.Store][strings.ToLower(key)] = cfg
	}

	c.latest[block.Store] = block.UUID
}

// Block returns the block for (store, uuid).
func (c *Cache) Block(store, uuid string) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byUUID[store][uuid]
	return b, ok
}

// Latest returns the most recently ingested block for store.
func (c *Cache) Latest(store string) (Block, bool) {
	c.mu.RLock()
	uuid, ok := c.latest[store]
	c.mu.RUnlock()
	if !ok {
		return Block{}, false
	}
	return c.Block(store, uuid)
}

// ItemConfig returns the cached configuration for (store, key), matched
// case-insensitively.
func (c *Cache) ItemConfig(store, key string) (ItemConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.byKey[store][strings.ToLower(key)]
	return cfg, ok
}

// Keys returns every key known for store.
func (c *Cache) Keys(store string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.byKey[store]))
	for k := range c.byKey[store] {
		keys = append(keys, k)
	}
	return keys
}

// HasStore reports whether any block has been ingested for store.
func (c *Cache) HasStore(store string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.latest[store]
	return ok
}
