// Package ratelimit shapes the rate at which the fabric invokes a Gateway
// plugin, independent of the retry/backoff policy in internal/core/resilience:
// the limiter governs how often an attempt may start, retry governs what
// happens after an attempt fails.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// PerPluginLimiter hands out a *rate.Limiter per plugin name, creating one
// lazily on first use with the configured rate and burst.
type PerPluginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewPerPluginLimiter returns a limiter set where each plugin gets its own
// token bucket allowing rps requests per second with the given burst. A
// non-positive rps disables limiting entirely (Wait always returns nil
// immediately).
func NewPerPluginLimiter(rps float64, burst int) *PerPluginLimiter {
	return &PerPluginLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until plugin is allowed to make one more call, or until ctx is
// done. A PerPluginLimiter constructed with rps <= 0 never blocks.
func (l *PerPluginLimiter) Wait(ctx context.Context, plugin string) error {
	if l.rps <= 0 {
		return nil
	}
	return l.limiterFor(plugin).Wait(ctx)
}

// Allow reports whether plugin may make one more call right now, consuming a
// token if so. Unlike Wait, it never blocks.
func (l *PerPluginLimiter) Allow(plugin string) bool {
	if l.rps <= 0 {
		return true
	}
	return l.limiterFor(plugin).Allow()
}

func (l *PerPluginLimiter) limiterFor(plugin string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[plugin]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[plugin] = lim
	}
	return lim
}
