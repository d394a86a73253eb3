package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	cache := NewTTLCache(client, "batches", time.Minute)
	ctx := context.Background()

	_, err := cache.Get(ctx, "item:1")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, cache.Set(ctx, "item:1", []byte(`[{"id":1}]`)))
	data, err := cache.Get(ctx, "item:1")
	require.NoError(t, err)
	require.Equal(t, []byte(`[{"id":1}]`), data)

	srv.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, "item:1")
	require.ErrorIs(t, err, ErrMiss)
}

func TestTTLCachePrefixesKeys(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	cache := NewTTLCache(client, "batches", time.Minute)
	require.NoError(t, cache.Set(context.Background(), "item:7", []byte("x")))
	require.True(t, srv.Exists("batches:item:7"))
}

func TestTTLCacheNilClientDisables(t *testing.T) {
	cache := NewTTLCache(nil, "batches", time.Minute)
	require.NoError(t, cache.Set(context.Background(), "k", []byte("v")))
	_, err := cache.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrMiss)
}
