package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryClient is an in-process Client for single-instance deployments and tests.
// Values are stored JSON-encoded so they round-trip exactly like RedisClient.
type MemoryClient struct {
	store *gocache.Cache
}

func NewMemoryClient(cleanupInterval time.Duration) *MemoryClient {
	return &MemoryClient{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (c *MemoryClient) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := c.store.Get(key)
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(raw.([]byte), dest)
}

func (c *MemoryClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.store.Set(key, bytes, ttl)
	return nil
}

func (c *MemoryClient) Del(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}
