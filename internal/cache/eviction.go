package cache

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// evictor picks eviction victims for one of the three strategies. For LRU it
// delegates ordering to hashicorp/golang-lru/v2's simplelru.LRU, used purely
// as a recency oracle: the Cache itself still owns entries, bytes and TTL
// bookkeeping regardless of which strategy is configured. LFU and FIFO
// victims are picked by scanning all entries for the minimum ordering key.
type evictor struct {
	strategy EvictionStrategy
	lru      *lru.LRU[string, struct{}]
}

// lruOracleCapacity is a sentinel large enough that simplelru.LRU itself
// never evicts anything; the Cache enforces max_items/max_bytes, the
// oracle only tracks ordering.
const lruOracleCapacity = 1 << 30

func newEvictor(strategy EvictionStrategy) *evictor {
	e := &evictor{strategy: strategy}
	if strategy == EvictionLRU {
		l, _ := lru.NewLRU[string, struct{}](lruOracleCapacity, nil)
		e.lru = l
	}
	return e
}

// recordInsert tells the oracle a new entry was admitted.
func (e *evictor) recordInsert(hash string) {
	if e.lru != nil {
		e.lru.Add(hash, struct{}{})
	}
}

// recordAccess tells the oracle an entry was read, bumping LRU recency.
func (e *evictor) recordAccess(hash string) {
	if e.lru != nil {
		e.lru.Get(hash)
	}
}

// remove tells the oracle an entry was evicted, invalidated or cleared.
func (e *evictor) remove(hash string) {
	if e.lru != nil {
		e.lru.Remove(hash)
	}
}

// victim returns the hash of the entry to evict next, or "" if entries is
// empty. Ties break by ascending CreatedAt.
func (e *evictor) victim(entries map[string]*Entry) string {
	if len(entries) == 0 {
		return ""
	}
	switch e.strategy {
	case EvictionLRU:
		if keys := e.lru.Keys(); len(keys) > 0 {
			// simplelru.LRU.Keys() is ordered oldest to newest.
			return keys[0]
		}
		return e.scanOldestAccessed(entries)
	case EvictionLFU:
		return e.scanLeastUsed(entries)
	default: // FIFO
		return e.scanOldestCreated(entries)
	}
}

func (e *evictor) scanOldestAccessed(entries map[string]*Entry) string {
	return e.scanOldestAccessedWhere(entries, nil)
}

func (e *evictor) scanLeastUsed(entries map[string]*Entry) string {
	return e.scanLeastUsedWhere(entries, nil)
}

func (e *evictor) scanOldestCreated(entries map[string]*Entry) string {
	return e.scanOldestCreatedWhere(entries, nil)
}

func (e *evictor) scanOldestAccessedWhere(entries map[string]*Entry, keep func(*Entry) bool) string {
	var victim string
	var best *Entry
	for hash, entry := range entries {
		if keep != nil && !keep(entry) {
			continue
		}
		if best == nil || entry.LastAccessed.Before(best.LastAccessed) ||
			(entry.LastAccessed.Equal(best.LastAccessed) && entry.CreatedAt.Before(best.CreatedAt)) {
			best = entry
			victim = hash
		}
	}
	return victim
}

func (e *evictor) scanLeastUsedWhere(entries map[string]*Entry, keep func(*Entry) bool) string {
	var victim string
	var best *Entry
	for hash, entry := range entries {
		if keep != nil && !keep(entry) {
			continue
		}
		if best == nil || entry.AccessCount < best.AccessCount ||
			(entry.AccessCount == best.AccessCount && entry.CreatedAt.Before(best.CreatedAt)) {
			best = entry
			victim = hash
		}
	}
	return victim
}

func (e *evictor) scanOldestCreatedWhere(entries map[string]*Entry, keep func(*Entry) bool) string {
	var victim string
	var best *Entry
	for hash, entry := range entries {
		if keep != nil && !keep(entry) {
			continue
		}
		if best == nil || entry.CreatedAt.Before(best.CreatedAt) {
			best = entry
			victim = hash
		}
	}
	return victim
}

// victimAmong picks a victim restricted to entries passing keep, using the
// same ordering key as victim but without relying on the LRU oracle (which
// only tracks global order, not a per-plugin subsequence). Used to enforce
// per-plugin item caps independently of the global max_items/max_bytes
// enforcement.
func (e *evictor) victimAmong(entries map[string]*Entry, keep func(*Entry) bool) string {
	switch e.strategy {
	case EvictionLRU:
		return e.scanOldestAccessedWhere(entries, keep)
	case EvictionLFU:
		return e.scanLeastUsedWhere(entries, keep)
	default:
		return e.scanOldestCreatedWhere(entries, keep)
	}
}
