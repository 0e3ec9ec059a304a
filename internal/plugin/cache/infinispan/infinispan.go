// Package infinispan provides a provenance cache backed by Infinispan's RESP
// endpoint, reusing the Redis cache implementation.
package infinispan

import (
	"context"
	"fmt"

	"github.com/chirino/content-migrator/internal/config"
	"github.com/chirino/content-migrator/internal/plugin/cache/redis"
	registrycache "github.com/chirino/content-migrator/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "infinispan",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ProvenanceCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.InfinispanHost == "" {
		return nil, fmt.Errorf("infinispan cache: CONTENT_MIGRATOR_INFINISPAN_HOST is required")
	}
	timeout := cfg.InfinispanStartupTimeout
	if timeout <= 0 {
		timeout = config.DefaultConfig().InfinispanStartupTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return redis.LoadFromOptionsWithTTL(timeoutCtx, clientOptions(cfg), cfg.CacheTTL)
}

// Infinispan does not answer the RESP3 HELLO handshake, so the client stays on RESP2.
func clientOptions(cfg *config.Config) *goredis.Options {
	return &goredis.Options{
		Addr:     cfg.InfinispanHost,
		Username: cfg.InfinispanUsername,
		Password: cfg.InfinispanPassword,
		Protocol: 2,
	}
}
