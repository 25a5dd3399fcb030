package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vitaliisemenov/apifabric/internal/core"
)

// diskMagic/diskVersion give the on-disk cache file format a
// self-describing, versioned header, so persisted entries survive software
// upgrades even though the exact byte layout is implementation-defined.
var diskMagic = [4]byte{'A', 'F', 'C', '1'}

const diskVersion uint8 = 1

// diskRecord is the gob-encoded body following the magic header. Payload is
// carried as its own JSON encoding rather than as a gob interface value, so
// no payload type needs to be gob.Register'd ahead of time: reloaded
// payloads come back as plain JSON-decoded values (map[string]any, float64,
// etc.), treating the payload as opaque.
type diskRecord struct {
	Plugin       string
	Operation    string
	ParamsJSON   []byte
	PayloadJSON  []byte
	CreatedAt    int64
	ExpiresAt    int64 // 0 means unset
	LastAccessed int64
	AccessCount  int64
	ByteSize     int64
}

func entryFilePath(dir, hash string) string {
	return filepath.Join(dir, hash+".cache")
}

// writeEntryFile persists one entry to <dir>/<hash>.cache.
func writeEntryFile(dir string, e *Entry) error {
	paramsJSON, err := json.Marshal(e.Key.Params)
	if err != nil {
		return newError(CodeSerialization, "marshal params", err)
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return newError(CodeSerialization, "marshal payload", err)
	}
	rec := diskRecord{
		Plugin:       e.Key.Plugin,
		Operation:    e.Key.Operation,
		ParamsJSON:   paramsJSON,
		PayloadJSON:  payloadJSON,
		CreatedAt:    e.CreatedAt.UnixNano(),
		LastAccessed: e.LastAccessed.UnixNano(),
		AccessCount:  e.AccessCount,
		ByteSize:     e.ByteSize,
	}
	if !e.ExpiresAt.IsZero() {
		rec.ExpiresAt = e.ExpiresAt.UnixNano()
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(rec); err != nil {
		return newError(CodeSerialization, "encode entry", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError(CodeIO, "create cache dir", err)
	}
	f, err := os.CreateTemp(dir, "tmp-*.cache")
	if err != nil {
		return newError(CodeIO, "create temp file", err)
	}
	tmpName := f.Name()
	defer os.Remove(tmpName)

	if err := binary.Write(f, binary.BigEndian, diskMagic); err == nil {
		err = binary.Write(f, binary.BigEndian, diskVersion)
		if err == nil {
			_, err = f.Write(body.Bytes())
		}
	}
	closeErr := f.Close()
	if err != nil {
		return newError(CodeIO, "write entry file", err)
	}
	if closeErr != nil {
		return newError(CodeIO, "close entry file", closeErr)
	}

	if err := os.Rename(tmpName, entryFilePath(dir, e.Key.Hash)); err != nil {
		return newError(CodeIO, "rename entry file", err)
	}
	return nil
}

func removeEntryFile(dir, hash string) error {
	if err := os.Remove(entryFilePath(dir, hash)); err != nil && !os.IsNotExist(err) {
		return newError(CodeIO, "remove entry file", err)
	}
	return nil
}

// readEntryFile decodes one <hash>.cache file back into an Entry.
func readEntryFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(CodeIO, "read entry file", err)
	}
	if len(data) < 5 {
		return nil, newError(CodeSerialization, "truncated entry file", nil)
	}
	var magic [4]byte
	copy(magic[:], data[:4])
	if magic != diskMagic {
		return nil, newError(CodeSerialization, "bad magic header", nil)
	}
	if data[4] != diskVersion {
		return nil, newError(CodeSerialization, "unsupported entry file version", nil)
	}

	var rec diskRecord
	if err := gob.NewDecoder(bytes.NewReader(data[5:])).Decode(&rec); err != nil {
		return nil, newError(CodeSerialization, "decode entry", err)
	}

	var params core.Params
	if err := json.Unmarshal(rec.ParamsJSON, &params); err != nil {
		return nil, newError(CodeSerialization, "unmarshal params", err)
	}
	var payload any
	if err := json.Unmarshal(rec.PayloadJSON, &payload); err != nil {
		return nil, newError(CodeSerialization, "unmarshal payload", err)
	}

	key := NewKey(rec.Plugin, rec.Operation, params)
	e := &Entry{
		Key:          key,
		Payload:      payload,
		CreatedAt:    time.Unix(0, rec.CreatedAt),
		LastAccessed: time.Unix(0, rec.LastAccessed),
		AccessCount:  rec.AccessCount,
		ByteSize:     rec.ByteSize,
	}
	if rec.ExpiresAt != 0 {
		e.ExpiresAt = time.Unix(0, rec.ExpiresAt)
	}
	return e, nil
}

// loadAllEntries loads every *.cache file in dir. Expired entries are
// deleted from disk and skipped; unreadable files are logged and skipped.
func loadAllEntries(dir string, log *slog.Logger, now time.Time) map[string]*Entry {
	entries := make(map[string]*Entry)
	files, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("cache: failed to list cache directory", "dir", dir, "error", err)
		}
		return entries
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".cache") {
			continue
		}
		full := filepath.Join(dir, f.Name())
		entry, err := readEntryFile(full)
		if err != nil {
			log.Warn("cache: skipping unreadable cache file", "file", full, "error", err)
			continue
		}
		if entry.IsExpired(now) {
			if rmErr := os.Remove(full); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn("cache: failed to remove expired cache file", "file", full, "error", rmErr)
			}
			continue
		}
		entries[entry.Key.Hash] = entry
	}
	return entries
}

// compactDir rewrites dir from the current in-memory entry set using a
// sibling "<dir>_backup" directory swapped in atomically. Restore-on-failure
// is best effort: if the swap fails partway, the backup directory is left in
// place for manual recovery rather than silently losing entries.
func compactDir(dir string, entries map[string]*Entry) error {
	backup := dir + "_backup"
	if err := os.RemoveAll(backup); err != nil {
		return newError(CodeIO, "clear backup dir", err)
	}
	if err := os.MkdirAll(backup, 0o755); err != nil {
		return newError(CodeIO, "create backup dir", err)
	}
	for _, e := range entries {
		if err := writeEntryFile(backup, e); err != nil {
			return errors.Join(newError(CodeIO, "write compacted entry", err), tryRestore(dir, backup))
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Join(newError(CodeIO, "remove old cache dir", err), tryRestore(dir, backup))
	}
	if err := os.Rename(backup, dir); err != nil {
		return newError(CodeIO, "swap in compacted cache dir", err)
	}
	return nil
}

func tryRestore(dir, backup string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	return os.Rename(backup, dir)
}
