package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/apifabric/internal/core"
)

func TestWriteReadEntryFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := NewKey("p", "op", core.Params{"a": core.Number(1), "b": core.String("x")})
	entry := newEntry(key, map[string]any{"hello": "world"}, time.Now(), time.Hour)
	entry.touch(time.Now())

	require.NoError(t, writeEntryFile(dir, entry))

	loaded, err := readEntryFile(entryFilePath(dir, key.Hash))
	require.NoError(t, err)

	assert.Equal(t, key.Plugin, loaded.Key.Plugin)
	assert.Equal(t, key.Operation, loaded.Key.Operation)
	assert.Equal(t, key.Hash, loaded.Key.Hash)
	assert.Equal(t, int64(1), loaded.AccessCount)
	assert.WithinDuration(t, entry.CreatedAt, loaded.CreatedAt, time.Millisecond)
	assert.WithinDuration(t, entry.ExpiresAt, loaded.ExpiresAt, time.Millisecond)
}

func TestReadEntryFile_RejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.cache")
	require.NoError(t, writeFileForTest(path, []byte("not a cache file")))

	_, err := readEntryFile(path)
	require.Error(t, err)
}

func TestLoadAllEntries_SkipsExpiredAndUnreadable(t *testing.T) {
	dir := t.TempDir()

	fresh := newEntry(NewKey("p", "op", nil), "fresh", time.Now(), time.Hour)
	require.NoError(t, writeEntryFile(dir, fresh))

	expired := newEntry(NewKey("p", "op2", nil), "stale", time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, writeEntryFile(dir, expired))

	require.NoError(t, writeFileForTest(filepath.Join(dir, "garbage.cache"), []byte("garbage")))

	loaded := loadAllEntries(dir, discardLogger(), time.Now())
	require.Len(t, loaded, 1)
	_, ok := loaded[fresh.Key.Hash]
	assert.True(t, ok)
}

func TestCompactDir_RewritesFromMemory(t *testing.T) {
	dir := t.TempDir()
	e1 := newEntry(NewKey("p", "op", core.Params{"id": core.Number(1)}), "v1", time.Now(), time.Hour)
	require.NoError(t, writeEntryFile(dir, e1))

	entries := map[string]*Entry{e1.Key.Hash: e1}
	// Add a second entry only in memory, simulating a put that hasn't hit disk yet.
	e2 := newEntry(NewKey("p", "op", core.Params{"id": core.Number(2)}), "v2", time.Now(), time.Hour)
	entries[e2.Key.Hash] = e2

	require.NoError(t, compactDir(dir, entries))

	loaded := loadAllEntries(dir, discardLogger(), time.Now())
	assert.Len(t, loaded, 2)
}
