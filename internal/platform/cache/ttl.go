package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss indicates the key is absent or expired.
var ErrMiss = errors.New("platform/cache: miss")

// TTLCache stores serialized payloads under a key prefix with a fixed TTL.
type TTLCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTTLCache constructs a TTLCache. A nil client disables caching.
func NewTTLCache(client *redis.Client, prefix string, ttl time.Duration) *TTLCache {
	return &TTLCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached payload for key.
func (c *TTLCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, ErrMiss
	}
	data, err := c.client.Get(ctx, c.prefix+":"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return data, nil
}

// Set stores payload under key for the configured TTL.
func (c *TTLCache) Set(ctx context.Context, key string, payload []byte) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, c.prefix+":"+key, payload, c.ttl).Err()
}
