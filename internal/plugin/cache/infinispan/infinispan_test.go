package infinispan

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/content-migrator/internal/config"
	"github.com/chirino/content-migrator/internal/model"
	"github.com/chirino/content-migrator/internal/testutil/testinfinispan"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderRequiresHost(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := load(config.WithContext(context.Background(), &cfg))
	assert.ErrorContains(t, err, "INFINISPAN_HOST")
}

func TestClientOptionsUseRESP2(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InfinispanHost = "cache:11222"
	cfg.InfinispanUsername = "admin"
	opts := clientOptions(&cfg)
	assert.Equal(t, 2, opts.Protocol)
	assert.Equal(t, "cache:11222", opts.Addr)
	assert.Equal(t, "admin", opts.Username)
}

func TestRememberAgainstInfinispan(t *testing.T) {
	server := testinfinispan.StartInfinispan(t)

	cfg := config.DefaultConfig()
	cfg.InfinispanHost = server.Host
	cfg.InfinispanUsername = server.Username
	cfg.InfinispanPassword = server.Password
	cfg.CacheTTL = time.Hour
	ctx := config.WithContext(context.Background(), &cfg)

	cache, err := load(ctx)
	require.NoError(t, err)
	require.True(t, cache.Available())

	a, b := uuid.New(), uuid.New()
	require.NoError(t, cache.Remember(ctx, model.SourceKindNote, []uuid.UUID{a}))
	hits, err := cache.Converted(ctx, model.SourceKindNote, []uuid.UUID{a, b})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, hits)
}
