package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type accessToken struct {
	Value  string    `json:"value"`
	Expiry time.Time `json:"expiry"`
}

func TestMemoryClient(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryClient(time.Minute)

	var got accessToken
	assert.ErrorIs(t, c.Get(ctx, "missing", &got), cache.ErrMiss)

	want := accessToken{Value: "abc", Expiry: time.Unix(1_700_000_000, 0).UTC()}
	require.NoError(t, c.Set(ctx, "k", want, time.Minute))
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, want, got)

	require.NoError(t, c.Del(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &got), cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "short", want, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	assert.ErrorIs(t, c.Get(ctx, "short", &got), cache.ErrMiss)
}

func TestReadAside(t *testing.T) {
	ctx := context.Background()
	ttl := func(accessToken) time.Duration { return time.Hour }

	t.Run("Cache Hit skips the loader", func(t *testing.T) {
		c := cache.NewMemoryClient(time.Minute)
		require.NoError(t, c.Set(ctx, "k", accessToken{Value: "cached"}, time.Hour))

		got, err := cache.ReadAside(ctx, c, "k", func(context.Context) (accessToken, error) {
			t.Fatal("loader must not run on a hit")
			return accessToken{}, nil
		}, ttl)
		require.NoError(t, err)
		assert.Equal(t, "cached", got.Value)
	})

	t.Run("Cache Miss loads and populates", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, "k", mock.Anything).Return(cache.ErrMiss)
		mockCache.On("Set", ctx, "k", accessToken{Value: "fresh"}, time.Hour).Return(nil)

		got, err := cache.ReadAside(ctx, mockCache, "k", func(context.Context) (accessToken, error) {
			return accessToken{Value: "fresh"}, nil
		}, ttl)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got.Value)
		mockCache.AssertExpectations(t)
	})

	t.Run("Broken cache still serves", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, "k", mock.Anything).Return(errors.New("redis down"))
		mockCache.On("Set", ctx, "k", mock.Anything, mock.Anything).Return(errors.New("redis down"))

		got, err := cache.ReadAside(ctx, mockCache, "k", func(context.Context) (accessToken, error) {
			return accessToken{Value: "fresh"}, nil
		}, ttl)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got.Value)
	})

	t.Run("Loader error is returned and nothing is cached", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, "k", mock.Anything).Return(cache.ErrMiss)

		_, err := cache.ReadAside(ctx, mockCache, "k", func(context.Context) (accessToken, error) {
			return accessToken{}, errors.New("denied")
		}, ttl)
		assert.EqualError(t, err, "denied")
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
