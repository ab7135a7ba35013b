package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryKVRoundTrip(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Put(ctx, Key("agent", "a1"), []byte(`{"state":"idle"}`), 0))
	raw, ok, err := kv.Get(ctx, Key("agent", "a1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"state":"idle"}`, string(raw))

	require.NoError(t, kv.Delete(ctx, Key("agent", "a1")))
	_, ok, _ = kv.Get(ctx, Key("agent", "a1"))
	assert.False(t, ok)
}

func TestMemoryKVTTL(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, "k", []byte("v"), 10*time.Millisecond))

	_, ok, _ := kv.Get(ctx, "k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok, _ = kv.Get(ctx, "k")
	assert.False(t, ok, "expired key must be gone")
}

func TestJSONHelpers(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	type snapshot struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, PutJSON(ctx, kv, "snap", snapshot{Name: "clover", Count: 3}, 0))

	var out snapshot
	ok, err := GetJSON(ctx, kv, "snap", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "clover", out.Name)
	assert.Equal(t, 3, out.Count)

	ok, err = GetJSON(ctx, kv, "missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := NewRedisKVFromClient(client, zap.NewNop())
	defer kv.Close()

	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, Key("workflow", "w1"), []byte("payload"), 0))

	raw, ok, err := kv.Get(ctx, Key("workflow", "w1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(raw))

	_, ok, err = kv.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := kv.Keys(ctx, "hive:workflow:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"hive:workflow:w1"}, keys)

	require.NoError(t, kv.Delete(ctx, Key("workflow", "w1")))
	_, ok, _ = kv.Get(ctx, Key("workflow", "w1"))
	assert.False(t, ok)
}

func TestRedisKVTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := NewRedisKVFromClient(client, zap.NewNop())
	defer kv.Close()

	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, "ephemeral", []byte("v"), time.Second))

	mr.FastForward(2 * time.Second)
	_, ok, err := kv.Get(ctx, "ephemeral")
	require.NoError(t, err)
	assert.False(t, ok)
}
