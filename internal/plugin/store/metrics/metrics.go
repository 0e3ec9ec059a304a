package metrics

import (
	"context"
	"time"

	"github.com/chirino/content-migrator/internal/model"
	"github.com/chirino/content-migrator/internal/monitoring"
	"github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
)

// Wrap returns a RecordStore that records StoreLatency for every operation.
func Wrap(inner store.RecordStore) store.RecordStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.RecordStore
}

func observe(op string, start time.Time) {
	monitoring.ObserveStore(op, start)
}

func (m *metricsStore) QueryScope(ctx context.Context, query store.ScopeQuery) ([]model.SourceRecord, *string, error) {
	defer observe("query_scope", time.Now())
	return m.inner.QueryScope(ctx, query)
}

func (m *metricsStore) CreateVersions(ctx context.Context, versions []model.ContentVersion) ([]store.SaveResult, error) {
	defer observe("create_versions", time.Now())
	return m.inner.CreateVersions(ctx, versions)
}

func (m *metricsStore) GetVersions(ctx context.Context, ids []uuid.UUID) ([]model.ContentVersion, error) {
	defer observe("get_versions", time.Now())
	return m.inner.GetVersions(ctx, ids)
}

func (m *metricsStore) UpdateVersions(ctx context.Context, updates []store.VersionUpdate) ([]store.SaveResult, error) {
	defer observe("update_versions", time.Now())
	return m.inner.UpdateVersions(ctx, updates)
}

func (m *metricsStore) CreateNotes(ctx context.Context, notes []model.ContentNote) ([]store.SaveResult, error) {
	defer observe("create_notes", time.Now())
	return m.inner.CreateNotes(ctx, notes)
}

func (m *metricsStore) GetNotes(ctx context.Context, ids []uuid.UUID) ([]model.ContentNote, error) {
	defer observe("get_notes", time.Now())
	return m.inner.GetNotes(ctx, ids)
}

func (m *metricsStore) CreateLinks(ctx context.Context, links []model.ContentDocumentLink) ([]store.SaveResult, error) {
	defer observe("create_links", time.Now())
	return m.inner.CreateLinks(ctx, links)
}

func (m *metricsStore) DeleteSources(ctx context.Context, kind model.SourceKind, ids []uuid.UUID) ([]store.SaveResult, error) {
	defer observe("delete_sources", time.Now())
	return m.inner.DeleteSources(ctx, kind, ids)
}

func (m *metricsStore) FindConverted(ctx context.Context, sourceIDs []uuid.UUID) ([]uuid.UUID, error) {
	defer observe("find_converted", time.Now())
	return m.inner.FindConverted(ctx, sourceIDs)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}
