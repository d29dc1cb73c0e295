package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Well-known record keys. Each record is rewritten in full on every mutation.
const (
	KeyMemory = "memory"
	KeyErrors = "errors"
	KeyAgents = "agents"
)

// KV is the durable key-value contract shared by every stateful component.
// Implementations must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and returns how many went.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoadJSON decodes the record under key into v. A missing key is not an error;
// found reports whether anything was decoded.
func LoadJSON(ctx context.Context, kv KV, key string, v any) (found bool, err error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v and writes it under key.
func SaveJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	if err := kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to save %q: %w", key, err)
	}
	return nil
}

// Marshal exposes the shared codec for callers that need a serialized form,
// such as substring matching over entry context.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// escapeLike escapes LIKE wildcards so a prefix is matched literally.
func escapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
