package store

import (
	"context"
	"fmt"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/google/uuid"
)

// ScopeQuery selects legacy records eligible for conversion.
type ScopeQuery struct {
	Kind model.SourceKind
	// ParentIDs restricts the scope when Restricted is true. An empty list with
	// Restricted set matches nothing.
	ParentIDs   []uuid.UUID
	Restricted  bool
	AfterCursor *string
	Limit       int
}

// SaveResult is the per-record outcome of a bulk mutation. Results are
// positionally aligned with the request slice.
type SaveResult struct {
	ID  uuid.UUID
	Err error
}

// OK reports whether the record was saved.
func (r SaveResult) OK() bool { return r.Err == nil }

// VersionUpdate holds the mutable fields of a content version.
type VersionUpdate struct {
	ID         uuid.UUID
	OwnerID    *string
	Provenance *model.Provenance
}

// RecordStore defines the bulk capabilities the converter needs from the
// backing record store.
type RecordStore interface {
	// QueryScope returns source records ordered by (parent id, id) whose owner
	// is active, plus a cursor for the next page (nil when exhausted).
	QueryScope(ctx context.Context, query ScopeQuery) ([]model.SourceRecord, *string, error)

	// Versions. CreateVersions also creates the owning ContentDocument but does
	// not report its id; GetVersions does, in no particular order.
	CreateVersions(ctx context.Context, versions []model.ContentVersion) ([]SaveResult, error)
	GetVersions(ctx context.Context, ids []uuid.UUID) ([]model.ContentVersion, error)
	UpdateVersions(ctx context.Context, updates []VersionUpdate) ([]SaveResult, error)

	// Notes. CreateNotes generates a document and version per note; GetNotes
	// returns the generated version reference, in no particular order.
	CreateNotes(ctx context.Context, notes []model.ContentNote) ([]SaveResult, error)
	GetNotes(ctx context.Context, ids []uuid.UUID) ([]model.ContentNote, error)

	// Links
	CreateLinks(ctx context.Context, links []model.ContentDocumentLink) ([]SaveResult, error)

	// DeleteSources removes legacy records of the given kind.
	DeleteSources(ctx context.Context, kind model.SourceKind, ids []uuid.UUID) ([]SaveResult, error)

	// FindConverted returns the subset of sourceIDs that already have a
	// version carrying them as provenance.
	FindConverted(ctx context.Context, sourceIDs []uuid.UUID) ([]uuid.UUID, error)

	Close() error
}

// FailedCount returns the number of results carrying an error.
func FailedCount(results []SaveResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Loader creates a RecordStore from config.
type Loader func(ctx context.Context) (RecordStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
