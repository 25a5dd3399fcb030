package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/apifabric/internal/core"
)

func newTestCache(t *testing.T, mutate func(*Policy)) *Cache {
	t.Helper()
	policy := DefaultPolicy()
	policy.PersistCache = false
	if mutate != nil {
		mutate(&policy)
	}
	c, err := New(policy, nil, nil)
	require.NoError(t, err)
	return c
}

// A miss followed by a put must turn the next lookup into a hit.
func TestCache_HitAfterMiss(t *testing.T) {
	c := newTestCache(t, func(p *Policy) { p.DefaultTTL = 60 * time.Second })

	res := c.Get("p", "op", core.Params{"a": core.Number(1)}, false)
	assert.False(t, res.Hit)

	require.NoError(t, c.Put("p", "op", core.Params{"a": core.Number(1)}, "X", nil))

	res = c.Get("p", "op", core.Params{"a": core.Number(1)}, false)
	assert.True(t, res.Hit)
	assert.Equal(t, "X", res.Data)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCache_Bypass(t *testing.T) {
	c := newTestCache(t, nil)
	require.NoError(t, c.Put("p", "op", nil, "X", nil))

	res := c.Get("p", "op", nil, true)
	assert.False(t, res.Hit)
}

func TestCache_ExpiredWithoutRefreshIsRemoved(t *testing.T) {
	ttl := 10 * time.Millisecond
	c := newTestCache(t, nil)
	require.NoError(t, c.Put("p", "op", nil, "X", &ttl))
	c.now = func() time.Time { return time.Now().Add(time.Hour) }

	res := c.Get("p", "op", nil, false)
	assert.False(t, res.Hit)

	stats := c.GetStats()
	assert.Equal(t, 0, stats.Items)
}

func TestCache_ExpiredWithRefreshReturnsStale(t *testing.T) {
	ttl := 10 * time.Millisecond
	c := newTestCache(t, func(p *Policy) {
		p.AutoRefreshEnabled = true
		p.RefreshThreshold = 0.0001
	})
	require.NoError(t, c.Put("p", "op", nil, "X", &ttl))
	c.now = func() time.Time { return time.Now().Add(time.Hour) }

	res := c.Get("p", "op", nil, false)
	assert.True(t, res.Hit)
	assert.True(t, res.NeedsRefresh)
	assert.Equal(t, "X", res.Data)
}

// Inserting past MaxItems under an LRU policy evicts the least recently used entry.
func TestCache_LRUEviction(t *testing.T) {
	c := newTestCache(t, func(p *Policy) {
		p.MaxItems = 2
		p.EvictionStrategy = EvictionLRU
	})

	k1 := core.Params{"id": core.Number(1)}
	k2 := core.Params{"id": core.Number(2)}
	k3 := core.Params{"id": core.Number(3)}

	require.NoError(t, c.Put("p", "op", k1, "v1", nil))
	require.NoError(t, c.Put("p", "op", k2, "v2", nil))

	// Touch k1 so it is more recently used than k2.
	res := c.Get("p", "op", k1, false)
	require.True(t, res.Hit)

	require.NoError(t, c.Put("p", "op", k3, "v3", nil))

	assert.False(t, c.Get("p", "op", k2, false).Hit, "k2 should have been evicted")
	assert.True(t, c.Get("p", "op", k1, false).Hit)
	assert.True(t, c.Get("p", "op", k3, false).Hit)
}

func TestCache_FIFOEviction(t *testing.T) {
	c := newTestCache(t, func(p *Policy) {
		p.MaxItems = 2
		p.EvictionStrategy = EvictionFIFO
	})

	require.NoError(t, c.Put("p", "op", core.Params{"id": core.Number(1)}, "v1", nil))
	require.NoError(t, c.Put("p", "op", core.Params{"id": core.Number(2)}, "v2", nil))
	// Access k1 repeatedly; FIFO must ignore access recency/count.
	c.Get("p", "op", core.Params{"id": core.Number(1)}, false)
	c.Get("p", "op", core.Params{"id": core.Number(1)}, false)

	require.NoError(t, c.Put("p", "op", core.Params{"id": core.Number(3)}, "v3", nil))

	assert.False(t, c.Get("p", "op", core.Params{"id": core.Number(1)}, false).Hit)
}

func TestCache_BytesStoredInvariant(t *testing.T) {
	c := newTestCache(t, nil)
	require.NoError(t, c.Put("p", "op", core.Params{"id": core.Number(1)}, "short", nil))
	require.NoError(t, c.Put("p", "op", core.Params{"id": core.Number(2)}, "a much longer payload string", nil))

	var want int64
	for _, e := range c.entries {
		want += e.ByteSize
	}
	assert.Equal(t, want, c.bytesStored)
}

func TestCache_Invalidate_PointLookup(t *testing.T) {
	c := newTestCache(t, nil)
	params := core.Params{"id": core.Number(1)}
	require.NoError(t, c.Put("p", "op", params, "v", nil))

	plugin, op := "p", "op"
	removed := c.Invalidate(&plugin, &op, &params)
	assert.Len(t, removed, 1)
	assert.False(t, c.Get("p", "op", params, false).Hit)
}

func TestCache_Invalidate_ScanByPlugin(t *testing.T) {
	c := newTestCache(t, nil)
	require.NoError(t, c.Put("p1", "opA", core.Params{"id": core.Number(1)}, "v", nil))
	require.NoError(t, c.Put("p1", "opB", core.Params{"id": core.Number(2)}, "v", nil))
	require.NoError(t, c.Put("p2", "opA", core.Params{"id": core.Number(3)}, "v", nil))

	plugin := "p1"
	removed := c.Invalidate(&plugin, nil, nil)
	assert.Len(t, removed, 2)
	assert.True(t, c.Get("p2", "opA", core.Params{"id": core.Number(3)}, false).Hit)
}

func TestCache_Clear(t *testing.T) {
	c := newTestCache(t, nil)
	require.NoError(t, c.Put("p", "op", nil, "v", nil))
	require.NoError(t, c.Clear())

	stats := c.GetStats()
	assert.Equal(t, 0, stats.Items)
	assert.Equal(t, int64(0), stats.BytesStored)
}

type stubRefreshHandler struct {
	result core.Result
	err    error
	calls  int
}

func (s *stubRefreshHandler) Refresh(operation string, params core.Params, oldData any) (core.Result, error) {
	s.calls++
	return s.result, s.err
}

func TestCache_Refresh_ForceInvokesHandler(t *testing.T) {
	c := newTestCache(t, nil)
	require.NoError(t, c.Put("p", "op", nil, "old", nil))

	handler := &stubRefreshHandler{result: core.Ok("new")}
	c.RegisterRefreshHandler("p", handler)

	result, err := c.Refresh("p", "op", nil, true)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, handler.calls)

	res := c.Get("p", "op", nil, false)
	assert.Equal(t, "new", res.Data)
}

func TestCache_Refresh_NoHandlerIsError(t *testing.T) {
	c := newTestCache(t, nil)
	require.NoError(t, c.Put("p", "op", nil, "old", nil))

	_, err := c.Refresh("p", "op", nil, true)
	require.Error(t, err)
	var ce *Error
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, CodeRefresh, ce.Code)
}

func TestCache_TTLResolutionOrder(t *testing.T) {
	c := newTestCache(t, func(p *Policy) {
		p.DefaultTTL = time.Hour
		p.PerPluginTTL = map[string]time.Duration{"p": 2 * time.Hour}
		p.PerOperationTTL = map[string]time.Duration{"p:op": 3 * time.Hour}
	})

	key := NewKey("p", "op", nil)
	assert.Equal(t, 3*time.Hour, c.policy.resolveTTL(nil, key))

	explicit := 30 * time.Minute
	assert.Equal(t, 30*time.Minute, c.policy.resolveTTL(&explicit, key))

	otherOpKey := NewKey("p", "other", nil)
	assert.Equal(t, 2*time.Hour, c.policy.resolveTTL(nil, otherOpKey))

	otherPluginKey := NewKey("other", "other", nil)
	assert.Equal(t, time.Hour, c.policy.resolveTTL(nil, otherPluginKey))
}

func TestCache_PerPluginItemLimit(t *testing.T) {
	c := newTestCache(t, func(p *Policy) {
		p.MaxItems = 0
		p.PerPluginItemLimits = map[string]int{"p": 1}
	})

	require.NoError(t, c.Put("p", "op", core.Params{"id": core.Number(1)}, "v1", nil))
	require.NoError(t, c.Put("p", "op", core.Params{"id": core.Number(2)}, "v2", nil))

	assert.Equal(t, 1, c.countPluginLocked("p"))
}

func TestCache_GetAllEntries(t *testing.T) {
	c := newTestCache(t, func(p *Policy) { p.DefaultTTL = time.Hour })
	require.NoError(t, c.Put("p1", "op1", core.Params{"id": core.Number(1)}, "v1", nil))
	require.NoError(t, c.Put("p2", "op2", core.Params{"id": core.Number(2)}, "v2", nil))

	all := c.GetAllEntries()
	require.Len(t, all, 2)
	seen := map[string]string{}
	for _, meta := range all {
		seen[meta.Plugin] = meta.Operation
		assert.False(t, meta.IsExpired)
		assert.GreaterOrEqual(t, meta.AccessCount, int64(0))
		assert.NotEmpty(t, meta.KeyHash)
	}
	assert.Equal(t, "op1", seen["p1"])
	assert.Equal(t, "op2", seen["p2"])
}
