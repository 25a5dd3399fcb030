package cache

import "time"

// EvictionStrategy selects the ordering key eviction uses to pick victims.
type EvictionStrategy string

const (
	EvictionLRU  EvictionStrategy = "lru"
	EvictionLFU  EvictionStrategy = "lfu"
	EvictionFIFO EvictionStrategy = "fifo"
)

// Policy is a configuration-only record, immutable for the lifetime of a
// Cache. Per-plugin and per-operation TTL overrides are kept as distinct
// maps rather than conflated into one ambiguous lookup keyed both ways.
type Policy struct {
	MaxBytes           int64 // 0 means unbounded
	MaxItems           int   // 0 means unbounded
	DefaultTTL         time.Duration
	EvictionStrategy   EvictionStrategy
	AutoRefreshEnabled bool
	RefreshThreshold   float64 // (0, 1)

	// PerPluginItemLimits caps item count per plugin name, on top of MaxItems.
	PerPluginItemLimits map[string]int
	// PerPluginTTL overrides DefaultTTL for all operations of a plugin,
	// keyed by plugin name alone.
	PerPluginTTL map[string]time.Duration
	// PerOperationTTL overrides PerPluginTTL, keyed by "plugin:operation".
	PerOperationTTL map[string]time.Duration

	CacheDir     string
	PersistCache bool
}

// DefaultPolicy mirrors the configuration knobs enumerated for the Response
// Cache: max_items 10000, default_ttl 3600s, eviction_strategy LRU,
// auto_refresh_enabled false, refresh_threshold 0.8, persist_cache true.
func DefaultPolicy() Policy {
	return Policy{
		MaxItems:           10_000,
		DefaultTTL:         time.Hour,
		EvictionStrategy:   EvictionLRU,
		AutoRefreshEnabled: false,
		RefreshThreshold:   0.8,
		PersistCache:       true,
	}
}

// Validate checks the policy is internally consistent.
func (p Policy) Validate() error {
	switch p.EvictionStrategy {
	case EvictionLRU, EvictionLFU, EvictionFIFO:
	default:
		return newError(CodeInvalidPolicy, "eviction_strategy must be one of lru, lfu, fifo", nil)
	}
	if p.AutoRefreshEnabled && (p.RefreshThreshold <= 0 || p.RefreshThreshold >= 1) {
		return newError(CodeInvalidPolicy, "refresh_threshold must be in (0, 1)", nil)
	}
	if p.PersistCache && p.CacheDir == "" {
		return newError(CodeInvalidPolicy, "cache_dir is required when persist_cache is enabled", nil)
	}
	return nil
}

// resolveTTL implements the TTL resolution order: explicit argument ->
// per-operation override "plugin:operation" -> per-plugin override
// "plugin" -> policy default -> none (zero means no expiry).
func (p Policy) resolveTTL(explicit *time.Duration, key Key) time.Duration {
	if explicit != nil {
		return *explicit
	}
	if ttl, ok := p.PerOperationTTL[key.PluginOperationKey()]; ok {
		return ttl
	}
	if ttl, ok := p.PerPluginTTL[key.Plugin]; ok {
		return ttl
	}
	return p.DefaultTTL
}

func (p Policy) itemLimitFor(plugin string) int {
	if limit, ok := p.PerPluginItemLimits[plugin]; ok {
		return limit
	}
	return 0
}
