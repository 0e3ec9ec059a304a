package noop

import (
	"context"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/chirino/content-migrator/internal/registry/cache"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ProvenanceCache, error) {
			return &noopProvenanceCache{}, nil
		},
	})
}

type noopProvenanceCache struct{}

func (n *noopProvenanceCache) Available() bool { return false }
func (n *noopProvenanceCache) Converted(_ context.Context, _ model.SourceKind, _ []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (n *noopProvenanceCache) Remember(_ context.Context, _ model.SourceKind, _ []uuid.UUID) error {
	return nil
}

var _ cache.ProvenanceCache = (*noopProvenanceCache)(nil)
