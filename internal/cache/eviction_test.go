package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkEntry(hash string, created, accessed time.Time, count int64) *Entry {
	return &Entry{Key: Key{Hash: hash}, CreatedAt: created, LastAccessed: accessed, AccessCount: count}
}

func TestEvictor_LFU_TiesBreakByCreatedAt(t *testing.T) {
	e := newEvictor(EvictionLFU)
	base := time.Now()
	entries := map[string]*Entry{
		"a": mkEntry("a", base, base, 1),
		"b": mkEntry("b", base.Add(time.Second), base, 1),
	}
	assert.Equal(t, "a", e.victim(entries))
}

func TestEvictor_FIFO_OldestCreatedWins(t *testing.T) {
	e := newEvictor(EvictionFIFO)
	base := time.Now()
	entries := map[string]*Entry{
		"a": mkEntry("a", base.Add(time.Minute), base, 100),
		"b": mkEntry("b", base, base, 1),
	}
	assert.Equal(t, "b", e.victim(entries))
}

func TestEvictor_LRU_UsesOracleOrder(t *testing.T) {
	e := newEvictor(EvictionLRU)
	base := time.Now()
	entries := map[string]*Entry{
		"a": mkEntry("a", base, base, 1),
		"b": mkEntry("b", base, base, 1),
	}
	e.recordInsert("a")
	e.recordInsert("b")
	e.recordAccess("a") // "a" becomes most recently used; "b" is now oldest

	assert.Equal(t, "b", e.victim(entries))
}

func TestEvictor_VictimAmong_FiltersByPredicate(t *testing.T) {
	e := newEvictor(EvictionFIFO)
	base := time.Now()
	entries := map[string]*Entry{
		"a": {Key: Key{Plugin: "p1", Hash: "a"}, CreatedAt: base},
		"b": {Key: Key{Plugin: "p2", Hash: "b"}, CreatedAt: base.Add(-time.Minute)},
	}
	victim := e.victimAmong(entries, func(entry *Entry) bool { return entry.Key.Plugin == "p1" })
	assert.Equal(t, "a", victim)
}
