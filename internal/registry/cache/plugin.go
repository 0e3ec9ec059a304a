package cache

import (
	"context"
	"fmt"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/google/uuid"
)

// ProvenanceCache remembers which source records were already converted so
// re-runs can skip them without querying the record store.
type ProvenanceCache interface {
	Available() bool
	// Converted returns the subset of ids known to be converted.
	Converted(ctx context.Context, kind model.SourceKind, ids []uuid.UUID) ([]uuid.UUID, error)
	// Remember records ids as converted.
	Remember(ctx context.Context, kind model.SourceKind, ids []uuid.UUID) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (ProvenanceCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
