package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/vitaliisemenov/apifabric/internal/core"
)

// Key is the immutable triple (plugin, operation, params) plus its derived
// 256-bit content hash. Equality and hashing are defined solely on Hash,
// computed over the tagged Params union so the hash is stable regardless of
// how Go happened to order map iteration when the caller built the
// parameters.
type Key struct {
	Plugin    string
	Operation string
	Params    core.Params
	Hash      string
}

// NewKey canonicalizes params and derives the key's hash.
func NewKey(plugin, operation string, params core.Params) Key {
	if params == nil {
		params = core.Params{}
	}
	h := sha256.Sum256(canonicalBytes(plugin, operation, params))
	return Key{
		Plugin:    plugin,
		Operation: operation,
		Params:    params,
		Hash:      hex.EncodeToString(h[:]),
	}
}

func canonicalBytes(plugin, operation string, params core.Params) []byte {
	b := make([]byte, 0, 64)
	b = append(b, plugin...)
	b = append(b, 0)
	b = append(b, operation...)
	b = append(b, 0)
	b = append(b, params.Canonicalize()...)
	return b
}

// PluginOperationKey returns the "plugin:operation" string used to look up
// per-operation TTL overrides and limits.
func (k Key) PluginOperationKey() string {
	return k.Plugin + ":" + k.Operation
}
