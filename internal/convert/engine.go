// Package convert turns pages of legacy attachments and notes into content
// versions, shares them with the parent record and optionally removes the
// originals.
package convert

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/content-migrator/internal/model"
	registrycache "github.com/chirino/content-migrator/internal/registry/cache"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
)

// Engine converts one page per call. It holds no per-page state, so a single
// Engine may serve concurrent pages.
type Engine struct {
	store registrystore.RecordStore
	cache registrycache.ProvenanceCache
}

// NewEngine creates an engine. cache may be nil.
func NewEngine(store registrystore.RecordStore, cache registrycache.ProvenanceCache) *Engine {
	return &Engine{store: store, cache: cache}
}

// Convert dispatches page to the pipeline for kind.
func (e *Engine) Convert(ctx context.Context, opts Options, kind model.SourceKind, page []model.SourceRecord) (*PageReport, error) {
	switch kind {
	case model.SourceKindFile:
		return e.ConvertFiles(ctx, opts, page)
	case model.SourceKindNote:
		return e.ConvertNotes(ctx, opts, page)
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

// ConvertFiles converts attachment-like records. Versions carry their
// provenance from the create call on, so one create round is enough.
func (e *Engine) ConvertFiles(ctx context.Context, opts Options, page []model.SourceRecord) (*PageReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	report := newPageReport(model.SourceKindFile, page)
	pending, skipped, err := e.excludeConverted(ctx, opts, model.SourceKindFile, page, report)
	if err != nil {
		return report, err
	}

	if len(pending) > 0 {
		versions := make([]model.ContentVersion, len(pending))
		for i, src := range pending {
			v := model.ContentVersion{
				Title:        src.Title,
				PathOnClient: src.Title,
				ContentType:  src.ContentType,
				Content:      src.Payload,
			}
			v.StampProvenance(model.ProvenanceOf(src))
			versions[i] = v
		}
		results, err := e.store.CreateVersions(ctx, versions)
		if err != nil {
			return report, fmt.Errorf("create versions: %w", err)
		}
		versionMap, err := e.correlateCreated(pending, results, report)
		if err != nil {
			return report, err
		}
		if err := e.finish(ctx, opts, versionMap, false, report); err != nil {
			return report, err
		}
	}

	e.cleanup(ctx, opts, report, skipped)
	return report, nil
}

// ConvertNotes converts note-like records. Notes are created through an
// intermediate entity that only exposes the generated version id, so the
// correlation takes two hops before the shared steps run.
func (e *Engine) ConvertNotes(ctx context.Context, opts Options, page []model.SourceRecord) (*PageReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	report := newPageReport(model.SourceKindNote, page)
	pending, skipped, err := e.excludeConverted(ctx, opts, model.SourceKindNote, page, report)
	if err != nil {
		return report, err
	}

	if len(pending) > 0 {
		notes := make([]model.ContentNote, len(pending))
		for i, src := range pending {
			notes[i] = model.ContentNote{
				Title:   src.Title,
				Content: EscapeNoteContent(src.Payload),
			}
		}
		results, err := e.store.CreateNotes(ctx, notes)
		if err != nil {
			return report, fmt.Errorf("create notes: %w", err)
		}
		noteMap, err := e.correlateCreated(pending, results, report)
		if err != nil {
			return report, err
		}

		if noteMap.Len() > 0 {
			created, err := e.store.GetNotes(ctx, noteMap.IDs())
			if err != nil {
				return report, fmt.Errorf("query notes: %w", err)
			}
			ids := make([]uuid.UUID, len(created))
			next := make(map[uuid.UUID]uuid.UUID, len(created))
			for i, n := range created {
				ids[i] = n.ID
				next[n.ID] = n.VersionID
			}
			if err := noteMap.Resolve(StepQueryNotes, ids); err != nil {
				return report, err
			}
			versionMap, err := Compose(StepQueryNotes, noteMap, next)
			if err != nil {
				return report, err
			}
			if err := e.finish(ctx, opts, versionMap, true, report); err != nil {
				return report, err
			}
		}
	}

	e.cleanup(ctx, opts, report, skipped)
	return report, nil
}

// excludeConverted splits page into records still to convert and records that
// already have a provenance-matching version.
func (e *Engine) excludeConverted(ctx context.Context, opts Options, kind model.SourceKind, page []model.SourceRecord, report *PageReport) ([]model.SourceRecord, []model.SourceRecord, error) {
	if !opts.SkipConverted || len(page) == 0 {
		return page, nil, nil
	}
	ids := make([]uuid.UUID, len(page))
	for i, src := range page {
		ids[i] = src.ID
	}

	converted := make(map[uuid.UUID]struct{}, len(page))
	if e.cache != nil && e.cache.Available() {
		hits, err := e.cache.Converted(ctx, kind, ids)
		if err != nil {
			log.Warn("Provenance cache lookup failed", "kind", kind, "err", err)
		}
		for _, id := range hits {
			converted[id] = struct{}{}
		}
	}

	var remaining []uuid.UUID
	for _, id := range ids {
		if _, ok := converted[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) > 0 {
		found, err := e.store.FindConverted(ctx, remaining)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", StepLookupConverted, err)
		}
		for _, id := range found {
			converted[id] = struct{}{}
		}
	}

	var pending, skipped []model.SourceRecord
	for _, src := range page {
		if _, ok := converted[src.ID]; ok {
			skipped = append(skipped, src)
			report.advance(src.ID, StageAlreadyConverted)
			continue
		}
		pending = append(pending, src)
	}
	if len(skipped) > 0 {
		log.Debug("Skipping already converted records", "kind", kind, "count", len(skipped))
	}
	return pending, skipped, nil
}

// correlateCreated builds the correlation map from a create response and
// reports the records the store rejected.
func (e *Engine) correlateCreated(sources []model.SourceRecord, results []registrystore.SaveResult, report *PageReport) (*CorrelationMap, error) {
	m, err := Correlate(StepCreate, sources, results)
	if err != nil {
		return nil, err
	}
	logBulk(report.Kind, StepCreate, results)
	for i, res := range results {
		src := sources[i]
		if !res.OK() {
			log.Warn("Record conversion rejected", "kind", report.Kind, "sourceId", src.ID.String(), "step", StepCreate, "err", res.Err)
			report.fail(src.ID, StepCreate, res.Err)
			continue
		}
		report.advance(src.ID, StageTargetCreated)
	}
	return m, nil
}

// finish runs the steps shared by both pipelines on a map keyed by version id:
// re-query for document ids, re-stamp ownership, then link.
func (e *Engine) finish(ctx context.Context, opts Options, versionMap *CorrelationMap, stampProvenance bool, report *PageReport) error {
	if versionMap.Len() == 0 {
		return nil
	}

	versions, err := e.store.GetVersions(ctx, versionMap.IDs())
	if err != nil {
		return fmt.Errorf("query versions: %w", err)
	}
	ids := make([]uuid.UUID, len(versions))
	for i, v := range versions {
		ids[i] = v.ID
	}
	if err := versionMap.Resolve(StepQueryVersions, ids); err != nil {
		return err
	}
	documents := make(map[uuid.UUID]uuid.UUID, len(versions))
	for _, v := range versions {
		src, _ := versionMap.Lookup(v.ID)
		if v.HasProvenance() && v.Provenance() != model.ProvenanceOf(src) {
			id := v.ID
			return &CorrelationError{Step: StepQueryVersions, Expected: versionMap.Len(), Actual: len(versions), Unknown: &id}
		}
		documents[v.ID] = v.DocumentID
		if o := report.outcome(src.ID); o != nil {
			o.VersionID = v.ID
			o.DocumentID = v.DocumentID
		}
		report.advance(src.ID, StageCorrelated)
	}

	order := versionMap.IDs()
	updates := make([]registrystore.VersionUpdate, len(order))
	for i, versionID := range order {
		src, _ := versionMap.Lookup(versionID)
		owner := OwnerFor(src)
		update := registrystore.VersionUpdate{ID: versionID, OwnerID: &owner}
		if stampProvenance {
			p := model.ProvenanceOf(src)
			update.Provenance = &p
		}
		updates[i] = update
	}
	results, err := e.store.UpdateVersions(ctx, updates)
	if err != nil {
		return fmt.Errorf("update versions: %w", err)
	}
	if len(results) != len(updates) {
		return &CorrelationError{Step: StepUpdate, Expected: len(updates), Actual: len(results)}
	}
	logBulk(report.Kind, StepUpdate, results)

	var links []model.ContentDocumentLink
	var linked []model.SourceRecord
	for i, res := range results {
		src, _ := versionMap.Lookup(order[i])
		if !res.OK() {
			log.Warn("Record conversion rejected", "kind", report.Kind, "sourceId", src.ID.String(), "step", StepUpdate, "err", res.Err)
			report.fail(src.ID, StepUpdate, res.Err)
			continue
		}
		if !ShouldLink(src, opts.SharePrivateWithParent) {
			report.advance(src.ID, StageUnlinked)
			continue
		}
		links = append(links, model.ContentDocumentLink{
			DocumentID:     documents[order[i]],
			LinkedEntityID: src.ParentID,
			AccessLevel:    opts.LinkAccessLevel,
			Visibility:     opts.LinkVisibility,
		})
		linked = append(linked, src)
	}
	if len(links) == 0 {
		return nil
	}

	linkResults, err := e.store.CreateLinks(ctx, links)
	if err != nil {
		return fmt.Errorf("create links: %w", err)
	}
	if len(linkResults) != len(links) {
		return &CorrelationError{Step: StepLink, Expected: len(links), Actual: len(linkResults)}
	}
	logBulk(report.Kind, StepLink, linkResults)
	for i, res := range linkResults {
		src := linked[i]
		if !res.OK() {
			log.Warn("Record conversion rejected", "kind", report.Kind, "sourceId", src.ID.String(), "step", StepLink, "err", res.Err)
			report.fail(src.ID, StepLink, res.Err)
			continue
		}
		if o := report.outcome(src.ID); o != nil {
			o.Linked = true
		}
		report.advance(src.ID, StageLinked)
	}
	return nil
}

// cleanup records the converted ids in the provenance cache and deletes the
// sources whose conversion fully committed. Delete failures leave the source
// in place and are reported per record; they never fail the page.
func (e *Engine) cleanup(ctx context.Context, opts Options, report *PageReport, skipped []model.SourceRecord) {
	var converted []uuid.UUID
	var deletable []model.SourceRecord
	for i := range report.Records {
		o := &report.Records[i]
		if !o.Converted() {
			continue
		}
		o.Stage = StageRetained
		converted = append(converted, o.SourceID)
		deletable = append(deletable, model.SourceRecord{ID: o.SourceID, ParentID: o.ParentID})
	}
	deletable = append(deletable, skipped...)

	if len(converted) > 0 && e.cache != nil && e.cache.Available() {
		if err := e.cache.Remember(ctx, report.Kind, converted); err != nil {
			log.Warn("Provenance cache update failed", "kind", report.Kind, "err", err)
		}
	}

	var ids []uuid.UUID
	for _, src := range deletable {
		if ShouldDelete(src, opts.DeleteUponConversion) {
			ids = append(ids, src.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	results, err := e.store.DeleteSources(ctx, report.Kind, ids)
	if err == nil && len(results) != len(ids) {
		err = fmt.Errorf("delete returned %d results for %d records", len(results), len(ids))
	}
	if err != nil {
		log.Warn("Source delete failed, keeping sources", "kind", report.Kind, "count", len(ids), "err", err)
		for _, id := range ids {
			e.retain(report, id, err)
		}
		return
	}
	logBulk(report.Kind, StepDelete, results)
	for i, res := range results {
		if !res.OK() {
			log.Warn("Source delete rejected", "kind", report.Kind, "sourceId", ids[i].String(), "err", res.Err)
			e.retain(report, ids[i], res.Err)
			continue
		}
		if o := report.outcome(ids[i]); o != nil {
			o.Deleted = true
			if o.Stage == StageRetained {
				o.Stage = StageDeleted
			}
		}
	}
}

func (e *Engine) retain(report *PageReport, id uuid.UUID, err error) {
	if o := report.outcome(id); o != nil {
		o.FailedStep = StepDelete
		o.Err = &RecordError{SourceID: id, Step: StepDelete, Err: err}
	}
}

func logBulk(kind model.SourceKind, step Step, results []registrystore.SaveResult) {
	log.Debug("Bulk call completed", "kind", kind, "step", step, "records", len(results), "rejected", registrystore.FailedCount(results))
}
