// Package cache holds short-lived provider credentials (WNS access tokens) so
// dispatchers built for different requests can share them.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Client defines the subset of cache commands we need.
type Client interface {
	// Get decodes the stored value into dest, or returns ErrMiss.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// ReadAside returns the cached value for key, or calls load, caches what it returns for
// the TTL ttl computes, and returns it. Cache failures only cost a reload.
func ReadAside[T any](ctx context.Context, c Client, key string, load func(context.Context) (T, error), ttl func(T) time.Duration) (T, error) {
	var cached T
	if err := c.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := load(ctx)
	if err != nil {
		return fresh, err
	}

	if d := ttl(fresh); d > 0 {
		// caching is an optimization, not a transaction
		_ = c.Set(ctx, key, fresh, d)
	}
	return fresh, nil
}
