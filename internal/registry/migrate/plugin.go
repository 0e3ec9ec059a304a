package migrate

import (
	"context"
	"fmt"
	"sort"
)

// Migrator prepares the schema of one backing store.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin represents a migrator with an order for deterministic execution sequence.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in store plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sortedPlugins() []Plugin {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}

// Names returns the registered migrator names in execution order.
func Names() []string {
	sorted := sortedPlugins()
	names := make([]string, len(sorted))
	for i, p := range sorted {
		names[i] = p.Migrator.Name()
	}
	return names
}

// RunAll executes all registered migrators sorted by Order. Each migrator
// decides from the context config whether it applies.
func RunAll(ctx context.Context) error {
	for _, p := range sortedPlugins() {
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
