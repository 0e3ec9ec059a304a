package convert_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/chirino/content-migrator/internal/convert"
	"github.com/chirino/content-migrator/internal/model"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/chirino/content-migrator/internal/testutil/memstore"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(kind model.SourceKind, parent uuid.UUID, owner, title string, private bool) model.SourceRecord {
	return model.SourceRecord{
		ID:          uuid.New(),
		Kind:        kind,
		ParentID:    parent,
		OwnerID:     owner,
		OwnerActive: true,
		Title:       title,
		Payload:     []byte("payload of " + title),
		ContentType: "text/plain",
		IsPrivate:   private,
	}
}

// seed stores page as legacy rows so deletes have something to remove.
func seed(store *memstore.Store, page []model.SourceRecord) {
	for _, r := range page {
		store.AddUser(r.OwnerID, true)
		switch r.Kind {
		case model.SourceKindFile:
			store.AddAttachment(model.LegacyAttachment{ID: r.ID, ParentID: r.ParentID, OwnerID: r.OwnerID, Name: r.Title, Body: r.Payload, IsPrivate: r.IsPrivate})
		case model.SourceKindNote:
			store.AddNote(model.LegacyNote{ID: r.ID, ParentID: r.ParentID, OwnerID: r.OwnerID, Title: r.Title, Body: string(r.Payload), IsPrivate: r.IsPrivate})
		}
	}
}

func rejectTitle(op, title string) func(string, string) error {
	return func(gotOp, key string) error {
		if gotOp == op && key == title {
			return &registrystore.ValidationError{Field: "title", Message: "rejected"}
		}
		return nil
	}
}

func TestConvertFilesSingleRecord(t *testing.T) {
	store := memstore.New()
	parent := uuid.New()
	page := []model.SourceRecord{record(model.SourceKindFile, parent, "alice", "report.pdf", false)}
	seed(store, page)

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), convert.DefaultOptions(), page)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Converted())
	assert.Equal(t, 1, report.Linked())
	assert.Equal(t, 0, report.Deleted())
	assert.Empty(t, report.Failures())

	versions := store.VersionsFrom(page[0].ID)
	require.Len(t, versions, 1)
	v := versions[0]
	require.True(t, v.HasProvenance())
	assert.Equal(t, model.ProvenanceOf(page[0]), v.Provenance())
	assert.Equal(t, "alice", v.OwnerID)

	doc, ok := store.Document(v.DocumentID)
	require.True(t, ok)
	assert.Equal(t, "alice", doc.OwnerID)

	links := store.LinksTo(v.DocumentID)
	require.Len(t, links, 1)
	assert.Equal(t, parent, links[0].LinkedEntityID)
	assert.Equal(t, model.AccessLevelReader, links[0].AccessLevel)
	assert.Equal(t, model.VisibilityAllUsers, links[0].Visibility)

	assert.True(t, store.HasSource(page[0].ID))
	outcome, ok := report.Outcome(page[0].ID)
	require.True(t, ok)
	assert.Equal(t, convert.StageRetained, outcome.Stage)
	assert.Equal(t, v.ID, outcome.VersionID)
	assert.Equal(t, v.DocumentID, outcome.DocumentID)
	assert.True(t, outcome.Linked)
}

func TestConvertFilesCorrelatesShuffledRequery(t *testing.T) {
	store := memstore.New()
	var page []model.SourceRecord
	parents := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i := 0; i < 30; i++ {
		page = append(page, record(model.SourceKindFile, parents[i%3], []string{"alice", "bob", "carol"}[i%3], uuid.NewString(), false))
	}
	seed(store, page)

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), convert.DefaultOptions(), page)
	require.NoError(t, err)
	assert.Equal(t, len(page), report.Converted())

	for _, src := range page {
		versions := store.VersionsFrom(src.ID)
		require.Len(t, versions, 1)
		assert.Equal(t, src.OwnerID, versions[0].OwnerID)
		links := store.LinksTo(versions[0].DocumentID)
		require.Len(t, links, 1)
		assert.Equal(t, src.ParentID, links[0].LinkedEntityID)
	}
}

func TestConvertFilesPrivacyPolicy(t *testing.T) {
	cases := []struct {
		name        string
		private     bool
		sharePriv   bool
		expectLinks int
	}{
		{"public", false, false, 1},
		{"private not shared", true, false, 0},
		{"private shared", true, true, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memstore.New()
			page := []model.SourceRecord{record(model.SourceKindFile, uuid.New(), "alice", "a.txt", tc.private)}
			seed(store, page)
			opts := convert.DefaultOptions()
			opts.SharePrivateWithParent = tc.sharePriv

			report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), opts, page)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Converted())
			assert.Len(t, store.Links(), tc.expectLinks)
			assert.Equal(t, tc.expectLinks, report.Linked())
			require.Len(t, store.VersionsFrom(page[0].ID), 1)
			assert.Equal(t, "alice", store.VersionsFrom(page[0].ID)[0].OwnerID)
		})
	}
}

func TestConvertFilesSkipsLinkCallWhenNothingToLink(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{record(model.SourceKindFile, uuid.New(), "alice", "a.txt", true)}
	seed(store, page)

	_, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), convert.DefaultOptions(), page)
	require.NoError(t, err)
	assert.Equal(t, 0, store.CallCount(memstore.OpCreateLinks))
	assert.Equal(t, 0, store.CallCount(memstore.OpDeleteSources))
}

func TestConvertFilesDeleteUponConversion(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false),
		record(model.SourceKindFile, uuid.New(), "alice", "b.txt", true),
	}
	seed(store, page)
	opts := convert.DefaultOptions()
	opts.DeleteUponConversion = true

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), opts, page)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted())
	for _, src := range page {
		assert.False(t, store.HasSource(src.ID))
		outcome, _ := report.Outcome(src.ID)
		assert.Equal(t, convert.StageDeleted, outcome.Stage)
	}
}

func TestConvertFilesCreateRejectionExcludesRecord(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindFile, uuid.New(), "alice", "good.txt", false),
		record(model.SourceKindFile, uuid.New(), "bob", "bad.txt", false),
		record(model.SourceKindFile, uuid.New(), "carol", "fine.txt", false),
	}
	seed(store, page)
	store.Reject = rejectTitle(memstore.OpCreateVersions, "bad.txt")
	opts := convert.DefaultOptions()
	opts.DeleteUponConversion = true

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), opts, page)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Converted())
	failures := report.Failures()
	require.Len(t, failures, 1)
	var recErr *convert.RecordError
	require.True(t, errors.As(failures[0], &recErr))
	assert.Equal(t, page[1].ID, recErr.SourceID)
	assert.Equal(t, convert.StepCreate, recErr.Step)
	assert.True(t, registrystore.IsRecordRejection(failures[0]))

	bad, _ := report.Outcome(page[1].ID)
	assert.Equal(t, convert.StageFailed, bad.Stage)
	assert.Empty(t, store.VersionsFrom(page[1].ID))
	assert.True(t, store.HasSource(page[1].ID), "failed record must not be deleted")
	assert.False(t, store.HasSource(page[0].ID))
	assert.False(t, store.HasSource(page[2].ID))
	assert.Len(t, store.Links(), 2)
}

func TestConvertFilesUpdateRejectionLeavesRecordUnlinked(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false),
		record(model.SourceKindFile, uuid.New(), "bob", "b.txt", false),
	}
	seed(store, page)
	var rejected string
	store.Reject = func(op, key string) error {
		if op == memstore.OpUpdateVersions && rejected == "" {
			rejected = key
			return &registrystore.ValidationError{Field: "owner_id", Message: "rejected"}
		}
		return nil
	}
	opts := convert.DefaultOptions()
	opts.DeleteUponConversion = true

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), opts, page)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Converted())
	assert.Equal(t, 1, report.Linked())
	assert.Equal(t, 1, report.Deleted())

	for _, o := range report.Records {
		if o.VersionID.String() == rejected {
			assert.Equal(t, convert.StageFailed, o.Stage)
			assert.Equal(t, convert.StepUpdate, o.FailedStep)
			assert.False(t, o.Linked)
			assert.True(t, store.HasSource(o.SourceID))
		}
	}
}

func TestConvertFilesLinkRejectionRetainsSource(t *testing.T) {
	store := memstore.New()
	parent := uuid.New()
	page := []model.SourceRecord{record(model.SourceKindFile, parent, "alice", "a.txt", false)}
	seed(store, page)
	store.Reject = func(op, key string) error {
		if op == memstore.OpCreateLinks && key == parent.String() {
			return &registrystore.ConflictError{Message: "no"}
		}
		return nil
	}
	opts := convert.DefaultOptions()
	opts.DeleteUponConversion = true

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), opts, page)
	require.NoError(t, err)
	outcome, _ := report.Outcome(page[0].ID)
	assert.Equal(t, convert.StageFailed, outcome.Stage)
	assert.Equal(t, convert.StepLink, outcome.FailedStep)
	assert.True(t, store.HasSource(page[0].ID))
	assert.Equal(t, 0, store.CallCount(memstore.OpDeleteSources))
}

func TestConvertFilesDeleteFailureIsNotFatal(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false),
		record(model.SourceKindFile, uuid.New(), "bob", "b.txt", false),
	}
	seed(store, page)
	store.Reject = func(op, key string) error {
		if op == memstore.OpDeleteSources && key == page[0].ID.String() {
			return errors.New("locked")
		}
		return nil
	}
	opts := convert.DefaultOptions()
	opts.DeleteUponConversion = true

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), opts, page)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Converted())
	assert.Equal(t, 1, report.Deleted())

	kept, _ := report.Outcome(page[0].ID)
	assert.Equal(t, convert.StageRetained, kept.Stage)
	assert.Equal(t, convert.StepDelete, kept.FailedStep)
	assert.Error(t, kept.Err)
	assert.True(t, kept.Linked)
	assert.True(t, store.HasSource(page[0].ID))
	assert.False(t, store.HasSource(page[1].ID))
}

func TestConvertFilesDeleteCallFailureIsNotFatal(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false)}
	seed(store, page)
	store.CallErrors[memstore.OpDeleteSources] = errors.New("connection reset")
	opts := convert.DefaultOptions()
	opts.DeleteUponConversion = true

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), opts, page)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Converted())
	assert.Equal(t, 0, report.Deleted())
	assert.Len(t, report.Failures(), 1)
}

func TestConvertFilesUnknownRequeryIDIsFatal(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false),
		record(model.SourceKindFile, uuid.New(), "bob", "b.txt", false),
	}
	seed(store, page)
	store.RewriteIDs = func(op string, ids []uuid.UUID) []uuid.UUID {
		if op == memstore.OpGetVersions {
			ids[0] = uuid.New()
		}
		return ids
	}

	_, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), convert.DefaultOptions(), page)
	var corr *convert.CorrelationError
	require.True(t, errors.As(err, &corr))
	assert.Equal(t, convert.StepQueryVersions, corr.Step)
	assert.NotNil(t, corr.Unknown)
	assert.Empty(t, store.Links())
	assert.Equal(t, 0, store.CallCount(memstore.OpUpdateVersions))
}

func TestConvertFilesMissingRequeryIDIsFatal(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false),
		record(model.SourceKindFile, uuid.New(), "bob", "b.txt", false),
	}
	seed(store, page)
	store.RewriteIDs = func(op string, ids []uuid.UUID) []uuid.UUID { return ids[1:] }
	opts := convert.DefaultOptions()
	opts.DeleteUponConversion = true

	_, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), opts, page)
	var corr *convert.CorrelationError
	require.True(t, errors.As(err, &corr))
	assert.Equal(t, 2, corr.Expected)
	assert.Equal(t, 1, corr.Actual)
	assert.True(t, store.HasSource(page[0].ID))
	assert.True(t, store.HasSource(page[1].ID))
}

func TestConvertFilesCreateCallFailure(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false)}
	store.CallErrors[memstore.OpCreateVersions] = errors.New("timeout")

	report, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), convert.DefaultOptions(), page)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Converted())
}

func TestConvertNotesTwoRounds(t *testing.T) {
	store := memstore.New()
	parent := uuid.New()
	page := []model.SourceRecord{
		record(model.SourceKindNote, parent, "alice", "first", false),
		record(model.SourceKindNote, parent, "bob", "second", true),
		record(model.SourceKindNote, uuid.New(), "carol", "third", false),
	}
	page[0].Payload = []byte("a < b\nnext line")
	seed(store, page)

	report, err := convert.NewEngine(store, nil).ConvertNotes(context.Background(), convert.DefaultOptions(), page)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Converted())
	assert.Equal(t, 2, report.Linked())

	for _, src := range page {
		versions := store.VersionsFrom(src.ID)
		require.Len(t, versions, 1, "note %s", src.Title)
		assert.Equal(t, src.Title, versions[0].Title)
		assert.Equal(t, src.OwnerID, versions[0].OwnerID)
		assert.Equal(t, model.ProvenanceOf(src), versions[0].Provenance())
	}
	first := store.VersionsFrom(page[0].ID)[0]
	assert.Equal(t, "a &lt; b<br>next line", string(first.Content))
	assert.Len(t, store.ContentNotes(), 3)
}

func TestConvertNotesCreateRejection(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindNote, uuid.New(), "alice", "keep", false),
		record(model.SourceKindNote, uuid.New(), "bob", "drop", false),
	}
	seed(store, page)
	store.Reject = rejectTitle(memstore.OpCreateNotes, "drop")

	report, err := convert.NewEngine(store, nil).ConvertNotes(context.Background(), convert.DefaultOptions(), page)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Converted())
	dropped, _ := report.Outcome(page[1].ID)
	assert.Equal(t, convert.StageFailed, dropped.Stage)
	assert.Empty(t, store.VersionsFrom(page[1].ID))
}

func TestConvertNotesCountMismatchIsFatal(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindNote, uuid.New(), "alice", "one", false),
		record(model.SourceKindNote, uuid.New(), "bob", "two", false),
	}
	seed(store, page)
	store.RewriteIDs = func(op string, ids []uuid.UUID) []uuid.UUID {
		if op == memstore.OpGetNotes {
			return ids[:1]
		}
		return ids
	}

	_, err := convert.NewEngine(store, nil).ConvertNotes(context.Background(), convert.DefaultOptions(), page)
	var corr *convert.CorrelationError
	require.True(t, errors.As(err, &corr))
	assert.Equal(t, convert.StepQueryNotes, corr.Step)
	assert.Equal(t, 0, store.CallCount(memstore.OpGetVersions))
	assert.Empty(t, store.Links())
	for _, v := range store.Versions() {
		assert.False(t, v.HasProvenance())
	}
}

func TestSkipConvertedFinishesCleanup(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false)}
	seed(store, page)
	engine := convert.NewEngine(store, nil)

	_, err := engine.ConvertFiles(context.Background(), convert.DefaultOptions(), page)
	require.NoError(t, err)
	require.Len(t, store.VersionsFrom(page[0].ID), 1)

	opts := convert.DefaultOptions()
	opts.SkipConverted = true
	opts.DeleteUponConversion = true
	report, err := engine.ConvertFiles(context.Background(), opts, page)
	require.NoError(t, err)

	assert.Len(t, store.VersionsFrom(page[0].ID), 1, "re-run must not duplicate")
	assert.Equal(t, 1, report.Skipped())
	assert.Equal(t, 1, report.Deleted())
	assert.False(t, store.HasSource(page[0].ID))
	outcome, _ := report.Outcome(page[0].ID)
	assert.Equal(t, convert.StageAlreadyConverted, outcome.Stage)
}

func TestRerunWithoutSkipDuplicates(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{record(model.SourceKindFile, uuid.New(), "alice", "a.txt", true)}
	seed(store, page)
	engine := convert.NewEngine(store, nil)

	for i := 0; i < 2; i++ {
		_, err := engine.ConvertFiles(context.Background(), convert.DefaultOptions(), page)
		require.NoError(t, err)
	}
	assert.Len(t, store.VersionsFrom(page[0].ID), 2)
	assert.Equal(t, 0, store.CallCount(memstore.OpFindConverted))
}

func TestSkipConvertedUsesCache(t *testing.T) {
	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindFile, uuid.New(), "alice", "a.txt", false),
		record(model.SourceKindFile, uuid.New(), "alice", "b.txt", false),
	}
	seed(store, page)
	cache := &fakeCache{known: map[uuid.UUID]bool{page[0].ID: true}}
	opts := convert.DefaultOptions()
	opts.SkipConverted = true

	report, err := convert.NewEngine(store, cache).ConvertFiles(context.Background(), opts, page)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped())
	assert.Equal(t, 1, report.Converted())
	assert.Equal(t, []uuid.UUID{page[1].ID}, store.FindConvertedArgs())
	assert.True(t, cache.known[page[1].ID], "converted id is remembered")
}

func TestConvertRejectsInvalidOptions(t *testing.T) {
	opts := convert.DefaultOptions()
	opts.LinkAccessLevel = model.AccessLevelOwner
	_, err := convert.NewEngine(memstore.New(), nil).Convert(context.Background(), opts, model.SourceKindFile, nil)
	require.Error(t, err)

	_, err = convert.NewEngine(memstore.New(), nil).Convert(context.Background(), convert.DefaultOptions(), model.SourceKind("email"), nil)
	require.Error(t, err)
}

func TestConvertEmptyPageMakesNoCalls(t *testing.T) {
	store := memstore.New()
	report, err := convert.NewEngine(store, nil).Convert(context.Background(), convert.DefaultOptions(), model.SourceKindNote, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Converted())
	assert.Empty(t, store.Calls())
}

type fakeCache struct {
	known map[uuid.UUID]bool
}

func (c *fakeCache) Available() bool { return true }

func (c *fakeCache) Converted(_ context.Context, _ model.SourceKind, ids []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range ids {
		if c.known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *fakeCache) Remember(_ context.Context, _ model.SourceKind, ids []uuid.UUID) error {
	for _, id := range ids {
		c.known[id] = true
	}
	return nil
}

func TestConvertFilesLogsRejectedCountPerBulkCall(t *testing.T) {
	var buf bytes.Buffer
	level := log.GetLevel()
	log.SetOutput(&buf)
	log.SetLevel(log.DebugLevel)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(level)
	})

	store := memstore.New()
	page := []model.SourceRecord{
		record(model.SourceKindFile, uuid.New(), "alice", "good.txt", false),
		record(model.SourceKindFile, uuid.New(), "bob", "bad.txt", false),
	}
	seed(store, page)
	store.Reject = rejectTitle(memstore.OpCreateVersions, "bad.txt")

	_, err := convert.NewEngine(store, nil).ConvertFiles(context.Background(), convert.DefaultOptions(), page)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Bulk call completed")
	assert.Contains(t, out, "step=create records=2 rejected=1")
	assert.Contains(t, out, "step=update records=1 rejected=0")
	assert.Contains(t, out, "step=link records=1 rejected=0")
}
