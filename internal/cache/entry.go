package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry owns one Key, the cached payload, and the bookkeeping fields the
// eviction and TTL logic are defined over. ByteSize is computed once at
// creation and frozen thereafter: it is not recomputed on access.
type Entry struct {
	Key          Key
	Payload      any
	CreatedAt    time.Time
	ExpiresAt    time.Time // zero value means no expiry
	LastAccessed time.Time
	AccessCount  int64
	ByteSize     int64
}

// newEntry constructs an Entry with byte_size computed from an approximate
// serialized size of payload, falling back to a string-length estimate if
// the payload cannot be marshaled.
func newEntry(key Key, payload any, now time.Time, ttl time.Duration) *Entry {
	e := &Entry{
		Key:          key,
		Payload:      payload,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		ByteSize:     estimateByteSize(payload),
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

func estimateByteSize(payload any) int64 {
	if b, err := json.Marshal(payload); err == nil {
		return int64(len(b))
	}
	return int64(len(fmt.Sprint(payload)))
}

// IsExpired reports whether the entry has a set expiry that has passed as
// of now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// ShouldRefresh implements should_refresh(entry): auto_refresh_enabled and
// expires_at set and the elapsed fraction of the entry's lifetime exceeds
// refresh_threshold.
func (e *Entry) ShouldRefresh(policy Policy, now time.Time) bool {
	if !policy.AutoRefreshEnabled || e.ExpiresAt.IsZero() {
		return false
	}
	total := e.ExpiresAt.Sub(e.CreatedAt)
	if total <= 0 {
		return false
	}
	elapsed := now.Sub(e.CreatedAt)
	return float64(elapsed)/float64(total) > policy.RefreshThreshold
}

// touch records a read access: last_accessed advances to now and
// access_count increments, preserving last_accessed >= created_at and
// access_count >= 1 after any successful read.
func (e *Entry) touch(now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
}

// EntryMetadata is one entry's get_metadata() snapshot: everything about an
// entry except its payload, for enumeration via Cache.GetAllEntries.
type EntryMetadata struct {
	KeyHash      string
	Plugin       string
	Operation    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	ByteSize     int64
	IsExpired    bool
	Age          time.Duration
}

func (e *Entry) metadata(now time.Time) EntryMetadata {
	return EntryMetadata{
		KeyHash:      e.Key.Hash,
		Plugin:       e.Key.Plugin,
		Operation:    e.Key.Operation,
		CreatedAt:    e.CreatedAt,
		ExpiresAt:    e.ExpiresAt,
		LastAccessed: e.LastAccessed,
		AccessCount:  e.AccessCount,
		ByteSize:     e.ByteSize,
		IsExpired:    e.IsExpired(now),
		Age:          now.Sub(e.CreatedAt),
	}
}
