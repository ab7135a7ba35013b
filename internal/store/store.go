// Package store supplies the persistence collaborators the core depends
// on: a key-value contract for snapshots (agents, workflows, schedules,
// voting history, patterns) and an append-only journal for execution
// history. The core never mandates a schema beyond its own data model.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrClosed = errors.New("store closed")

// KV is the key-value persistence contract.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key builds a namespaced key: "hive:<kind>:<id>".
func Key(kind, id string) string {
	return fmt.Sprintf("hive:%s:%s", kind, id)
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, kv KV, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, raw, ttl)
}

// GetJSON loads key and unmarshals it into out. The second return reports
// whether the key existed.
func GetJSON(ctx context.Context, kv KV, key string, out interface{}) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
