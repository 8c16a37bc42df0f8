package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
)

type memoryCacheRepo struct {
	mu     sync.Mutex
	store  map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{store: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return m.getErr
	}
	payload, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = payload
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCacheRepo) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.store, key)
	}
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.store {
		if strings.HasPrefix(key, prefix) {
			delete(m.store, key)
		}
	}
	return nil
}

func (m *memoryCacheRepo) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.store[key]
	return ok
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, time.Minute, nil, true)
	ctx := context.Background()

	var out map[string]string
	hit, err := cache.Get(ctx, "donations:detail:1", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "donations:detail:1", map[string]string{"stage": "CityHall"}, 0))
	hit, err = cache.Get(ctx, "donations:detail:1", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "CityHall", out["stage"])

	require.NoError(t, cache.Evict(ctx, "donations:detail:1"))
	assert.False(t, repo.has("donations:detail:1"))

	require.NoError(t, cache.Set(ctx, "donations:detail:2", "x", 0))
	require.NoError(t, cache.Invalidate(ctx, "donations:*"))
	assert.False(t, repo.has("donations:detail:2"))

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, 0, nil, false)
	require.NoError(t, cache.Set(context.Background(), "k", "v", 0))
	assert.False(t, repo.has("k"))
	assert.False(t, cache.Enabled())

	var nilCache *CacheService
	hit, err := nilCache.Get(context.Background(), "k", new(string))
	assert.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, nilCache.Evict(context.Background(), "k"))
}

func TestCacheServiceGetError(t *testing.T) {
	repo := newMemoryCacheRepo()
	repo.getErr = errors.New("redis down")
	cache := NewCacheService(repo, nil, 0, nil, true)
	hit, err := cache.Get(context.Background(), "k", new(string))
	assert.Error(t, err)
	assert.False(t, hit)
}
