// Package cache implements the Response Cache: a TTL-scoped in-memory store
// with a pluggable eviction policy and optional on-disk persistence, sitting
// in front of a Gateway.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/apifabric/internal/core"
	"github.com/vitaliisemenov/apifabric/pkg/metrics"
)

// Stats is the get_stats() snapshot: raw counters plus derived ratios.
type Stats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	Errors       int64
	Items        int
	BytesStored  int64
	TotalInserts int64
	HitRatio     float64
	MissRatio    float64
}

// Cache is the Response Cache. One mutex covers its registries and mutable
// entry state, including bytes_stored and the eviction scan. Entry-file
// writes in Put and refresh-handler calls happen with the mutex released;
// entry-file removals happen while it is held.
type Cache struct {
	mu     sync.Mutex
	policy Policy
	log    *slog.Logger
	m      *metrics.CacheMetrics
	now    func() time.Time

	entries     map[string]*Entry
	bytesStored int64
	evictions   int64
	hits        int64
	misses      int64
	totalInsert int64

	evictor *evictor

	refreshMu sync.Mutex
	refresh   map[string]core.RefreshHandler
}

// New constructs a Cache from policy, loading any persisted entries from
// policy.CacheDir when persistence is enabled.
func New(policy Policy, log *slog.Logger, m *metrics.CacheMetrics) (*Cache, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		policy:  policy,
		log:     log,
		m:       m,
		now:     time.Now,
		entries: make(map[string]*Entry),
		evictor: newEvictor(policy.EvictionStrategy),
		refresh: make(map[string]core.RefreshHandler),
	}
	if policy.PersistCache {
		now := c.now()
		loaded := loadAllEntries(policy.CacheDir, log, now)
		for hash, e := range loaded {
			c.entries[hash] = e
			c.bytesStored += e.ByteSize
			c.totalInsert++
			c.evictor.recordInsert(hash)
		}
		if m != nil {
			m.Items.Set(float64(len(c.entries)))
			m.BytesUsed.Set(float64(c.bytesStored))
		}
	}
	return c, nil
}

// RegisterRefreshHandler installs the per-plugin refresh handler consumed
// by Refresh. Registering nil disables auto-refresh for that plugin.
func (c *Cache) RegisterRefreshHandler(plugin string, h core.RefreshHandler) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if h == nil {
		delete(c.refresh, plugin)
		return
	}
	c.refresh[plugin] = h
}

func (c *Cache) refreshHandlerFor(plugin string) core.RefreshHandler {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh[plugin]
}

// GetResult is the outcome of Get.
type GetResult struct {
	Hit          bool
	Data         any
	NeedsRefresh bool
}

// Get implements the Response Cache's read contract.
func (c *Cache) Get(plugin, operation string, params core.Params, bypass bool) GetResult {
	if bypass {
		c.recordMiss()
		return GetResult{}
	}
	key := NewKey(plugin, operation, params)
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key.Hash]
	if !ok {
		c.mu.Unlock()
		c.recordMiss()
		return GetResult{}
	}

	if entry.IsExpired(now) {
		if entry.ShouldRefresh(c.policy, now) {
			entry.touch(now)
			c.evictor.recordAccess(key.Hash)
			data := entry.Payload
			c.mu.Unlock()
			c.recordHit()
			return GetResult{Hit: true, Data: data, NeedsRefresh: true}
		}
		c.removeLocked(key.Hash)
		c.mu.Unlock()
		c.recordMiss()
		return GetResult{}
	}

	entry.touch(now)
	c.evictor.recordAccess(key.Hash)
	data := entry.Payload
	needsRefresh := entry.ShouldRefresh(c.policy, now)
	c.mu.Unlock()
	c.recordHit()
	return GetResult{Hit: true, Data: data, NeedsRefresh: needsRefresh}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	if c.m != nil {
		c.m.Hits.WithLabelValues("memory").Inc()
	}
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	if c.m != nil {
		c.m.Misses.WithLabelValues("memory").Inc()
	}
}

// Put implements the Response Cache's write contract. ttl, if non-nil,
// takes precedence over all policy-derived TTL resolution.
func (c *Cache) Put(plugin, operation string, params core.Params, data any, ttl *time.Duration) error {
	key := NewKey(plugin, operation, params)
	now := c.now()
	resolvedTTL := c.policy.resolveTTL(ttl, key)
	entry := newEntry(key, data, now, resolvedTTL)

	c.mu.Lock()
	if old, exists := c.entries[key.Hash]; exists {
		c.bytesStored -= old.ByteSize
	} else {
		// max_items is enforced before a new key is inserted, so the victim
		// is chosen among the entries already present.
		if c.policy.MaxItems > 0 && len(c.entries) >= c.policy.MaxItems {
			c.evictOneLocked()
		}
		c.totalInsert++
	}
	c.entries[key.Hash] = entry
	c.bytesStored += entry.ByteSize
	c.evictor.recordInsert(key.Hash)

	c.enforceLimitsLocked(plugin)
	itemCount := len(c.entries)
	bytesStored := c.bytesStored
	c.mu.Unlock()

	if c.m != nil {
		c.m.Items.Set(float64(itemCount))
		c.m.BytesUsed.Set(float64(bytesStored))
	}

	if c.policy.PersistCache {
		if err := writeEntryFile(c.policy.CacheDir, entry); err != nil {
			c.log.Warn("cache: failed to persist entry", "hash", key.Hash, "error", err)
			if c.m != nil {
				c.m.Errors.WithLabelValues("put").Inc()
			}
		}
	}
	return nil
}

// enforceLimitsLocked runs per-plugin and max_bytes eviction after an
// insert; the max_items check runs in Put before the insert. Called with
// c.mu held.
func (c *Cache) enforceLimitsLocked(insertedPlugin string) {
	if limit := c.policy.itemLimitFor(insertedPlugin); limit > 0 {
		for c.countPluginLocked(insertedPlugin) > limit {
			victim := c.evictor.victimAmong(c.entries, func(e *Entry) bool { return e.Key.Plugin == insertedPlugin })
			if victim == "" {
				break
			}
			c.evictLocked(victim)
		}
	}
	if c.policy.MaxBytes > 0 && c.bytesStored >= c.policy.MaxBytes {
		target := c.bytesStored - int64(0.2*float64(c.policy.MaxBytes))
		for c.bytesStored > target && len(c.entries) > 0 {
			if !c.evictOneLocked() {
				break
			}
		}
	}
}

func (c *Cache) countPluginLocked(plugin string) int {
	n := 0
	for _, e := range c.entries {
		if e.Key.Plugin == plugin {
			n++
		}
	}
	return n
}

// evictOneLocked evicts the single next victim chosen by policy. Returns
// false if there was nothing to evict.
func (c *Cache) evictOneLocked() bool {
	victim := c.evictor.victim(c.entries)
	if victim == "" {
		return false
	}
	c.evictLocked(victim)
	return true
}

func (c *Cache) evictLocked(hash string) {
	c.removeLocked(hash)
	c.evictions++
	if c.m != nil {
		c.m.Evictions.WithLabelValues(string(c.policy.EvictionStrategy)).Inc()
	}
}

// removeLocked drops hash from memory, the eviction oracle, and (if
// persistence is enabled) disk. Called with c.mu held.
func (c *Cache) removeLocked(hash string) {
	entry, ok := c.entries[hash]
	if !ok {
		return
	}
	delete(c.entries, hash)
	c.bytesStored -= entry.ByteSize
	c.evictor.remove(hash)
	if c.policy.PersistCache {
		if err := removeEntryFile(c.policy.CacheDir, hash); err != nil {
			c.log.Warn("cache: failed to remove entry file", "hash", hash, "error", err)
		}
	}
}

// Refresh implements the Response Cache's refresh contract.
func (c *Cache) Refresh(plugin, operation string, params core.Params, force bool) (core.Result, error) {
	key := NewKey(plugin, operation, params)
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key.Hash]
	if !ok {
		c.mu.Unlock()
		return core.Result{}, newError(CodeNotFound, "no cached entry to refresh", nil)
	}
	needsRefresh := force || entry.IsExpired(now) || entry.ShouldRefresh(c.policy, now)
	oldData := entry.Payload
	c.mu.Unlock()

	if !needsRefresh {
		return core.Ok(oldData), nil
	}

	handler := c.refreshHandlerFor(plugin)
	if handler == nil {
		return core.Result{}, newError(CodeRefresh, "no refresh handler registered for plugin "+plugin, nil)
	}

	result, err := handler.Refresh(operation, params, oldData)
	if err != nil {
		if c.m != nil {
			c.m.Errors.WithLabelValues("refresh").Inc()
		}
		return core.Result{}, newError(CodeRefresh, "refresh handler failed", err)
	}
	if !result.Success {
		if c.m != nil {
			c.m.Errors.WithLabelValues("refresh").Inc()
		}
		return result, nil
	}

	if err := c.Put(plugin, operation, params, result.Data, nil); err != nil {
		return result, err
	}
	return result, nil
}

// Invalidate removes entries matching the given filters conjunctively. All
// three filters given is a point lookup; otherwise every entry is scanned.
func (c *Cache) Invalidate(plugin, operation *string, params *core.Params) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if plugin != nil && operation != nil && params != nil {
		key := NewKey(*plugin, *operation, *params)
		if _, ok := c.entries[key.Hash]; ok {
			c.removeLocked(key.Hash)
			return []string{key.Hash}
		}
		return nil
	}

	var removed []string
	for hash, e := range c.entries {
		if plugin != nil && e.Key.Plugin != *plugin {
			continue
		}
		if operation != nil && e.Key.Operation != *operation {
			continue
		}
		if params != nil && string((*params).Canonicalize()) != string(e.Key.Params.Canonicalize()) {
			continue
		}
		removed = append(removed, hash)
	}
	for _, hash := range removed {
		c.removeLocked(hash)
	}
	return removed
}

// Clear empties memory and disk.
func (c *Cache) Clear() error {
	c.mu.Lock()
	hashes := make([]string, 0, len(c.entries))
	for hash := range c.entries {
		hashes = append(hashes, hash)
	}
	c.entries = make(map[string]*Entry)
	c.bytesStored = 0
	c.evictor = newEvictor(c.policy.EvictionStrategy)
	c.mu.Unlock()

	if !c.policy.PersistCache {
		return nil
	}
	var firstErr error
	for _, hash := range hashes {
		if err := removeEntryFile(c.policy.CacheDir, hash); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Compact rewrites the persistence directory from the current in-memory
// entry set.
func (c *Cache) Compact() error {
	if !c.policy.PersistCache {
		return nil
	}
	c.mu.Lock()
	snapshot := make(map[string]*Entry, len(c.entries))
	for hash, e := range c.entries {
		snapshot[hash] = e
	}
	c.mu.Unlock()
	return compactDir(c.policy.CacheDir, snapshot)
}

// GetAllEntries returns metadata for every live entry, payload excluded.
// Modeled on the original cache manager's get_all_entries(), which maps
// get_metadata() over every entry under its lock.
func (c *Cache) GetAllEntries() []EntryMetadata {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EntryMetadata, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.metadata(now))
	}
	return out
}

// GetStats returns counters plus derived hit/miss ratios.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	s := Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Items:        len(c.entries),
		BytesStored:  c.bytesStored,
		TotalInserts: c.totalInsert,
	}
	if total > 0 {
		s.HitRatio = float64(c.hits) / float64(total)
		s.MissRatio = float64(c.misses) / float64(total)
	}
	return s
}
