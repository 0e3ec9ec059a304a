package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/content-migrator/internal/config"
	"github.com/chirino/content-migrator/internal/model"
	registrycache "github.com/chirino/content-migrator/internal/registry/cache"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ProvenanceCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CONTENT_MIGRATOR_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// LoadFromURLWithTTL creates a cache from a Redis URL. Remembered ids expire
// ttl after the last write to their kind's set.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.ProvenanceCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptionsWithTTL(ctx, opts, ttl)
}

// LoadFromOptionsWithTTL creates a cache from explicit client options, for
// RESP-compatible servers that need non-default protocol settings.
func LoadFromOptionsWithTTL(ctx context.Context, opts *goredis.Options, ttl time.Duration) (registrycache.ProvenanceCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisProvenanceCache{client: client, ttl: ttl}, nil
}

type redisProvenanceCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func convertedKey(kind model.SourceKind) string {
	return fmt.Sprintf("content-migrator:converted:%s", kind)
}

func (c *redisProvenanceCache) Available() bool {
	return true
}

func (c *redisProvenanceCache) Converted(ctx context.Context, kind model.SourceKind, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id.String()
	}
	hits, err := c.client.SMIsMember(ctx, convertedKey(kind), members...).Result()
	if err != nil {
		return nil, err
	}
	var converted []uuid.UUID
	for i, hit := range hits {
		if hit {
			converted = append(converted, ids[i])
		}
	}
	return converted, nil
}

func (c *redisProvenanceCache) Remember(ctx context.Context, kind model.SourceKind, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id.String()
	}
	key := convertedKey(kind)
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

var _ registrycache.ProvenanceCache = (*redisProvenanceCache)(nil)
