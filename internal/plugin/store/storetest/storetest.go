// Package storetest holds the behavior every RecordStore implementation must
// share. Backends run it from their own tests with a Fixture that seeds
// legacy records directly in the backing database.
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chirino/content-migrator/internal/model"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MaxContentSize is the content limit stores under test must be opened with.
const MaxContentSize = 1024

// Fixture seeds legacy data behind the store's back. Records without an id
// get a random one.
type Fixture interface {
	AddUser(ctx context.Context, id string, active bool) error
	AddAttachment(ctx context.Context, a model.LegacyAttachment) (model.LegacyAttachment, error)
	AddNote(ctx context.Context, n model.LegacyNote) (model.LegacyNote, error)
}

type seeder struct {
	t  *testing.T
	fx Fixture
}

func (s seeder) user(active bool) string {
	id := "user-" + uuid.NewString()[:8]
	require.NoError(s.t, s.fx.AddUser(context.Background(), id, active))
	return id
}

func (s seeder) attachment(a model.LegacyAttachment) model.LegacyAttachment {
	a, err := s.fx.AddAttachment(context.Background(), a)
	require.NoError(s.t, err)
	return a
}

func (s seeder) note(n model.LegacyNote) model.LegacyNote {
	n, err := s.fx.AddNote(context.Background(), n)
	require.NoError(s.t, err)
	return n
}

// Run exercises store. Every case works on its own parents and users, so
// the same store may be shared by all of them.
func Run(t *testing.T, store registrystore.RecordStore, fx Fixture) {
	t.Run("ScopePagesInKeyOrder", func(t *testing.T) { testScopePaging(t, store, fx) })
	t.Run("ScopeExcludesInactiveOwners", func(t *testing.T) { testScopeInactiveOwners(t, store, fx) })
	t.Run("ScopeEmptyRestriction", func(t *testing.T) { testScopeEmptyRestriction(t, store, fx) })
	t.Run("NoteScope", func(t *testing.T) { testNoteScope(t, store, fx) })
	t.Run("ScopeRejectsMalformedCursor", func(t *testing.T) { testScopeMalformedCursor(t, store) })
	t.Run("CreateVersions", func(t *testing.T) { testCreateVersions(t, store) })
	t.Run("UpdateVersions", func(t *testing.T) { testUpdateVersions(t, store) })
	t.Run("CreateNotes", func(t *testing.T) { testCreateNotes(t, store) })
	t.Run("CreateLinks", func(t *testing.T) { testCreateLinks(t, store) })
	t.Run("DeleteSources", func(t *testing.T) { testDeleteSources(t, store, fx) })
	t.Run("FindConverted", func(t *testing.T) { testFindConverted(t, store) })
}

func drainScope(t *testing.T, store registrystore.RecordStore, query registrystore.ScopeQuery) []model.SourceRecord {
	t.Helper()
	var all []model.SourceRecord
	for i := 0; i < 50; i++ {
		page, next, err := store.QueryScope(context.Background(), query)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page), query.Limit)
		all = append(all, page...)
		if next == nil {
			return all
		}
		query.AfterCursor = next
	}
	t.Fatal("scope never finished")
	return nil
}

func testScopePaging(t *testing.T, store registrystore.RecordStore, fx Fixture) {
	seed := seeder{t: t, fx: fx}
	owner := seed.user(true)
	p1, p2 := uuid.New(), uuid.New()
	want := map[uuid.UUID]bool{}
	for _, parent := range []uuid.UUID{p1, p2} {
		for i := 0; i < 3; i++ {
			a := seed.attachment(model.LegacyAttachment{ParentID: parent, OwnerID: owner, Name: "doc.txt", Body: []byte("x"), ContentType: "text/plain", IsPrivate: i == 0})
			want[a.ID] = true
		}
	}

	records := drainScope(t, store, registrystore.ScopeQuery{
		Kind: model.SourceKindFile, ParentIDs: []uuid.UUID{p1, p2}, Restricted: true, Limit: 2,
	})
	require.Len(t, records, 6)
	for i, r := range records {
		assert.True(t, want[r.ID])
		assert.Equal(t, model.SourceKindFile, r.Kind)
		assert.Equal(t, owner, r.OwnerID)
		assert.True(t, r.OwnerActive)
		assert.Equal(t, "doc.txt", r.Title)
		assert.Equal(t, []byte("x"), r.Payload)
		if i > 0 {
			prev := records[i-1]
			less := prev.ParentID.String() < r.ParentID.String() ||
				(prev.ParentID == r.ParentID && prev.ID.String() < r.ID.String())
			assert.True(t, less, "records out of order at %d", i)
		}
	}
}

func testScopeInactiveOwners(t *testing.T, store registrystore.RecordStore, fx Fixture) {
	seed := seeder{t: t, fx: fx}
	active := seed.user(true)
	inactive := seed.user(false)
	parent := uuid.New()
	kept := seed.attachment(model.LegacyAttachment{ParentID: parent, OwnerID: active, Name: "a"})
	seed.attachment(model.LegacyAttachment{ParentID: parent, OwnerID: inactive, Name: "b"})

	records := drainScope(t, store, registrystore.ScopeQuery{
		Kind: model.SourceKindFile, ParentIDs: []uuid.UUID{parent}, Restricted: true, Limit: 10,
	})
	require.Len(t, records, 1)
	assert.Equal(t, kept.ID, records[0].ID)
}

func testScopeEmptyRestriction(t *testing.T, store registrystore.RecordStore, fx Fixture) {
	seed := seeder{t: t, fx: fx}
	owner := seed.user(true)
	seed.attachment(model.LegacyAttachment{ParentID: uuid.New(), OwnerID: owner, Name: "a"})

	records, next, err := store.QueryScope(context.Background(), registrystore.ScopeQuery{
		Kind: model.SourceKindFile, Restricted: true, Limit: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Nil(t, next)

	_, _, err = store.QueryScope(context.Background(), registrystore.ScopeQuery{Kind: model.SourceKindFile, Limit: 0})
	var validation *registrystore.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func testScopeMalformedCursor(t *testing.T, store registrystore.RecordStore) {
	for _, cursor := range []string{"no-separator", "not-a-uuid/" + uuid.NewString(), uuid.NewString() + "/not-a-uuid"} {
		_, _, err := store.QueryScope(context.Background(), registrystore.ScopeQuery{
			Kind: model.SourceKindFile, Limit: 10, AfterCursor: &cursor,
		})
		var validation *registrystore.ValidationError
		require.True(t, errors.As(err, &validation), "cursor %q", cursor)
		assert.Equal(t, "cursor", validation.Field)
	}
}

func testNoteScope(t *testing.T, store registrystore.RecordStore, fx Fixture) {
	seed := seeder{t: t, fx: fx}
	owner := seed.user(true)
	parent := uuid.New()
	n := seed.note(model.LegacyNote{ParentID: parent, OwnerID: owner, Title: "call notes", Body: "line", IsPrivate: true})

	records := drainScope(t, store, registrystore.ScopeQuery{
		Kind: model.SourceKindNote, ParentIDs: []uuid.UUID{parent}, Restricted: true, Limit: 10,
	})
	require.Len(t, records, 1)
	assert.Equal(t, n.ID, records[0].ID)
	assert.Equal(t, model.SourceKindNote, records[0].Kind)
	assert.Equal(t, "call notes", records[0].Title)
	assert.Equal(t, []byte("line"), records[0].Payload)
	assert.True(t, records[0].IsPrivate)
}

func testCreateVersions(t *testing.T, store registrystore.RecordStore) {
	ctx := context.Background()
	source := model.SourceRecord{ID: uuid.New(), ParentID: uuid.New(), OwnerID: "alice"}
	stamped := model.ContentVersion{Title: "a.txt", PathOnClient: "a.txt", Content: []byte("a")}
	stamped.StampProvenance(model.ProvenanceOf(source))

	results, err := store.CreateVersions(ctx, []model.ContentVersion{
		stamped,
		{Title: "big.bin", Content: make([]byte, MaxContentSize+1)},
		{Title: "", Content: []byte("untitled")},
		{Title: strings.Repeat("t", 256), Content: []byte("long")},
		{Title: "b.txt", Content: []byte("b")},
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.True(t, results[0].OK())
	assert.True(t, results[4].OK())
	for _, i := range []int{1, 2, 3} {
		assert.False(t, results[i].OK(), "result %d", i)
		assert.True(t, registrystore.IsRecordRejection(results[i].Err), "result %d", i)
	}

	versions, err := store.GetVersions(ctx, []uuid.UUID{results[0].ID, results[4].ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, versions, 2)
	byID := map[uuid.UUID]model.ContentVersion{}
	for _, v := range versions {
		byID[v.ID] = v
		assert.NotEqual(t, uuid.Nil, v.DocumentID)
	}
	first := byID[results[0].ID]
	require.True(t, first.HasProvenance())
	assert.Equal(t, model.ProvenanceOf(source), first.Provenance())
	assert.Equal(t, "a.txt", first.Title)
	assert.False(t, byID[results[4].ID].HasProvenance())
	assert.NotEqual(t, first.DocumentID, byID[results[4].ID].DocumentID)
}

func testUpdateVersions(t *testing.T, store registrystore.RecordStore) {
	ctx := context.Background()
	created, err := store.CreateVersions(ctx, []model.ContentVersion{{Title: "a", Content: []byte("a")}, {Title: "b", Content: []byte("b")}})
	require.NoError(t, err)

	owner := "bob"
	empty := " "
	prov := model.Provenance{RecordID: uuid.New(), ParentID: uuid.New(), OwnerID: owner}
	other := model.Provenance{RecordID: uuid.New(), ParentID: prov.ParentID, OwnerID: owner}

	results, err := store.UpdateVersions(ctx, []registrystore.VersionUpdate{
		{ID: created[0].ID, OwnerID: &owner, Provenance: &prov},
		{ID: uuid.New(), OwnerID: &owner},
		{ID: created[1].ID, OwnerID: &empty},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(results[1].Err, &notFound))
	var validation *registrystore.ValidationError
	assert.True(t, errors.As(results[2].Err, &validation))

	versions, err := store.GetVersions(ctx, []uuid.UUID{created[0].ID})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, owner, versions[0].OwnerID)
	assert.Equal(t, prov, versions[0].Provenance())

	// Re-applying the same provenance is accepted, a different one is not.
	results, err = store.UpdateVersions(ctx, []registrystore.VersionUpdate{
		{ID: created[0].ID, Provenance: &prov},
	})
	require.NoError(t, err)
	assert.True(t, results[0].OK())
	results, err = store.UpdateVersions(ctx, []registrystore.VersionUpdate{
		{ID: created[0].ID, Provenance: &other},
	})
	require.NoError(t, err)
	var conflict *registrystore.ConflictError
	assert.True(t, errors.As(results[0].Err, &conflict))
}

func testCreateNotes(t *testing.T, store registrystore.RecordStore) {
	ctx := context.Background()
	results, err := store.CreateNotes(ctx, []model.ContentNote{
		{Title: "first", Content: []byte("<p>one</p>")},
		{Title: "", Content: []byte("no title")},
		{Title: "second", Content: []byte("two")},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.True(t, registrystore.IsRecordRejection(results[1].Err))
	assert.True(t, results[2].OK())

	notes, err := store.GetNotes(ctx, []uuid.UUID{results[0].ID, results[2].ID})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	var versionIDs []uuid.UUID
	for _, n := range notes {
		assert.NotEqual(t, uuid.Nil, n.VersionID)
		versionIDs = append(versionIDs, n.VersionID)
	}

	versions, err := store.GetVersions(ctx, versionIDs)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	for _, v := range versions {
		assert.NotEqual(t, uuid.Nil, v.DocumentID)
		assert.False(t, v.HasProvenance())
	}
}

func testCreateLinks(t *testing.T, store registrystore.RecordStore) {
	ctx := context.Background()
	created, err := store.CreateVersions(ctx, []model.ContentVersion{{Title: "linked", Content: []byte("l")}})
	require.NoError(t, err)
	versions, err := store.GetVersions(ctx, []uuid.UUID{created[0].ID})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	doc := versions[0].DocumentID
	parent := uuid.New()

	link := func(docID uuid.UUID, level model.AccessLevel) model.ContentDocumentLink {
		return model.ContentDocumentLink{DocumentID: docID, LinkedEntityID: parent, AccessLevel: level, Visibility: model.VisibilityAllUsers}
	}
	results, err := store.CreateLinks(ctx, []model.ContentDocumentLink{
		link(doc, model.AccessLevelReader),
		link(uuid.New(), model.AccessLevelReader),
		link(doc, model.AccessLevelOwner),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(results[1].Err, &notFound))
	var validation *registrystore.ValidationError
	assert.True(t, errors.As(results[2].Err, &validation))

	results, err = store.CreateLinks(ctx, []model.ContentDocumentLink{link(doc, model.AccessLevelWriter)})
	require.NoError(t, err)
	var conflict *registrystore.ConflictError
	assert.True(t, errors.As(results[0].Err, &conflict))

	results, err = store.CreateLinks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testDeleteSources(t *testing.T, store registrystore.RecordStore, fx Fixture) {
	seed := seeder{t: t, fx: fx}
	ctx := context.Background()
	owner := seed.user(true)
	parent := uuid.New()
	a := seed.attachment(model.LegacyAttachment{ParentID: parent, OwnerID: owner, Name: "a"})
	n := seed.note(model.LegacyNote{ParentID: parent, OwnerID: owner, Title: "n"})

	missing := uuid.New()
	results, err := store.DeleteSources(ctx, model.SourceKindFile, []uuid.UUID{a.ID, missing, n.ID})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	var notFound *registrystore.NotFoundError
	assert.True(t, errors.As(results[1].Err, &notFound))
	// A note id is not an attachment.
	assert.True(t, errors.As(results[2].Err, &notFound))

	results, err = store.DeleteSources(ctx, model.SourceKindNote, []uuid.UUID{n.ID})
	require.NoError(t, err)
	assert.True(t, results[0].OK())

	for _, kind := range []model.SourceKind{model.SourceKindFile, model.SourceKindNote} {
		records, _, err := store.QueryScope(ctx, registrystore.ScopeQuery{Kind: kind, ParentIDs: []uuid.UUID{parent}, Restricted: true, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, records)
	}

	_, err = store.DeleteSources(ctx, model.SourceKind("email"), []uuid.UUID{a.ID})
	assert.Error(t, err)
}

func testFindConverted(t *testing.T, store registrystore.RecordStore) {
	ctx := context.Background()
	converted := model.SourceRecord{ID: uuid.New(), ParentID: uuid.New(), OwnerID: "alice"}
	v := model.ContentVersion{Title: "c", Content: []byte("c")}
	v.StampProvenance(model.ProvenanceOf(converted))
	_, err := store.CreateVersions(ctx, []model.ContentVersion{v})
	require.NoError(t, err)

	found, err := store.FindConverted(ctx, []uuid.UUID{uuid.New(), converted.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{converted.ID}, found)

	found, err = store.FindConverted(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}
