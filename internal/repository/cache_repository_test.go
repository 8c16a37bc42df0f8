package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/museum-admin-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "museum", nil)
	ctx := context.Background()

	var dest map[string]string
	err := repo.Get(ctx, "donations:detail:1", &dest)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))

	require.NoError(t, repo.Set(ctx, "donations:detail:1", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, repo.Delete(ctx, "donations:detail:1"))
	require.NoError(t, repo.DeleteByPattern(ctx, "donations:*"))
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close())
}

func TestCacheRepositoryKeyPrefix(t *testing.T) {
	assert.Equal(t, "museum:donations:detail:1", NewCacheRepository(nil, "museum", nil).key("donations:detail:1"))
	assert.Equal(t, "donations:detail:1", NewCacheRepository(nil, "", nil).key("donations:detail:1"))
}
