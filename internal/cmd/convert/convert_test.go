package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/chirino/content-migrator/internal/config"
	"github.com/chirino/content-migrator/internal/model"
	"github.com/chirino/content-migrator/internal/plugin/store/sqlite"
	"github.com/chirino/content-migrator/internal/plugin/store/sqlstore"
	"github.com/chirino/content-migrator/internal/scope"
	"github.com/chirino/content-migrator/internal/service"
	"github.com/chirino/content-migrator/internal/testutil/memstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestDefaults(t *testing.T) {
	req, err := BuildRequest(config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []model.SourceKind{model.SourceKindFile, model.SourceKindNote}, req.Kinds)
	assert.False(t, req.Filter.Restricted())
	assert.Equal(t, 200, req.PageSize)
	assert.Equal(t, model.AccessLevelReader, req.Options.LinkAccessLevel)
	assert.Equal(t, model.VisibilityAllUsers, req.Options.LinkVisibility)
	assert.False(t, req.Options.DeleteUponConversion)
}

func TestBuildRequestScope(t *testing.T) {
	parent := uuid.New()
	cfg := config.DefaultConfig()
	cfg.ScopeParentIDs = parent.String()
	cfg.ScopeParentIDsSet = true
	req, err := BuildRequest(cfg)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{parent}, req.Filter.IDs())

	// Set but empty converts nothing.
	cfg.ScopeParentIDs = ""
	req, err = BuildRequest(cfg)
	require.NoError(t, err)
	assert.True(t, req.Filter.Empty())

	cfg.ScopeParentIDs = "bogus"
	_, err = BuildRequest(cfg)
	var selErr *scope.SelectionError
	require.True(t, errors.As(err, &selErr))
	assert.Equal(t, "bogus", selErr.Value)
}

func TestBuildRequestScopeNone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ScopeNone = true
	req, err := BuildRequest(cfg)
	require.NoError(t, err)
	assert.True(t, req.Filter.Empty())

	cfg.ScopeParentIDs = uuid.NewString()
	cfg.ScopeParentIDsSet = true
	_, err = BuildRequest(cfg)
	var selErr *scope.SelectionError
	assert.True(t, errors.As(err, &selErr))
}

func TestBuildRequestKinds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Kinds = []string{"Notes, file"}
	req, err := BuildRequest(cfg)
	require.NoError(t, err)
	assert.Equal(t, []model.SourceKind{model.SourceKindNote, model.SourceKindFile}, req.Kinds)

	var selErr *scope.SelectionError
	cfg.Kinds = []string{"emails"}
	_, err = BuildRequest(cfg)
	assert.True(t, errors.As(err, &selErr))

	cfg.Kinds = []string{" , "}
	_, err = BuildRequest(cfg)
	assert.True(t, errors.As(err, &selErr))
}

func TestBuildRequestRejectsInvalidOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LinkAccessLevel = "owner"
	_, err := BuildRequest(cfg)
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	cfg.LinkVisibility = "everyone"
	_, err = BuildRequest(cfg)
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	cfg.PageSize = 0
	_, err = BuildRequest(cfg)
	assert.Error(t, err)
}

func TestApplyLogLevel(t *testing.T) {
	assert.NoError(t, applyLogLevel(""))
	assert.NoError(t, applyLogLevel("warn"))
	assert.Error(t, applyLogLevel("loud"))
	assert.NoError(t, applyLogLevel("info"))
}

func TestManagementRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var summary *service.RunSummary
	router := managementRouter(false, func() *service.RunSummary { return summary })

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	require.Equal(t, http.StatusOK, get("/health").Code)
	require.Equal(t, http.StatusServiceUnavailable, get("/status").Code)
	require.Equal(t, http.StatusOK, get("/metrics").Code)

	store := memstore.New()
	store.AddUser("alice", true)
	store.AddAttachment(model.LegacyAttachment{ParentID: uuid.New(), OwnerID: "alice", Name: "a.txt"})
	req, err := BuildRequest(config.DefaultConfig())
	require.NoError(t, err)
	req.Kinds = []model.SourceKind{model.SourceKindFile}
	req.DryRun = true
	summary, err = service.NewRunner(store, nil).Run(context.Background(), req)
	require.NoError(t, err)

	w := get("/status")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		DryRun bool                  `json:"dryRun"`
		Kinds  []service.KindSummary `json:"kinds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.DryRun)
	require.Len(t, body.Kinds, 1)
	assert.Equal(t, 1, body.Kinds[0].Selected)
}

func TestRunAgainstSqlite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "records.db")
	db, err := sqlite.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, sqlstore.AutoMigrate(db))

	parent := uuid.New()
	require.NoError(t, db.Create(&model.User{ID: "alice", Active: true}).Error)
	attachment := model.LegacyAttachment{ID: uuid.New(), ParentID: parent, OwnerID: "alice", Name: "report.pdf", Body: []byte("pdf")}
	note := model.LegacyNote{ID: uuid.New(), ParentID: parent, OwnerID: "alice", Title: "call", Body: "a & b\nc"}
	require.NoError(t, db.Create(&attachment).Error)
	require.NoError(t, db.Create(&note).Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = dsn
	cfg.DeleteUponConversion = true
	cfg.MetricsLabels = ""
	var out bytes.Buffer
	require.NoError(t, run(config.WithContext(context.Background(), &cfg), cfg, false, &out))
	assert.Contains(t, out.String(), "file: pages=1 selected=1 converted=1 linked=1 deleted=1")

	db, err = sqlite.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	var versions []model.ContentVersion
	require.NoError(t, db.Order("title").Find(&versions).Error)
	require.Len(t, versions, 2)
	for _, v := range versions {
		require.True(t, v.HasProvenance())
		assert.Equal(t, "alice", v.OwnerID)
		assert.Equal(t, parent, v.Provenance().ParentID)
	}

	var links int64
	require.NoError(t, db.Model(&model.ContentDocumentLink{}).Where("linked_entity_id = ?", parent).Count(&links).Error)
	assert.Equal(t, int64(2), links)

	var remaining int64
	require.NoError(t, db.Model(&model.LegacyAttachment{}).Count(&remaining).Error)
	assert.Zero(t, remaining)
	require.NoError(t, db.Model(&model.LegacyNote{}).Count(&remaining).Error)
	assert.Zero(t, remaining)

	var cn model.ContentNote
	require.NoError(t, db.First(&cn).Error)
	assert.Equal(t, "a &amp; b<br>c", string(cn.Content))
}

func TestRunRejectsUnknownStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "oracle"
	cfg.DatastoreMigrateAtStart = false
	cfg.DBURL = "ignored"
	err := run(config.WithContext(context.Background(), &cfg), cfg, false, io.Discard)
	assert.Error(t, err)
}

func seedSqlite(t *testing.T) (string, model.LegacyAttachment) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "records.db")
	db, err := sqlite.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, sqlstore.AutoMigrate(db))
	attachment := model.LegacyAttachment{ID: uuid.New(), ParentID: uuid.New(), OwnerID: "alice", Name: "a.txt", Body: []byte("a")}
	require.NoError(t, db.Create(&model.User{ID: "alice", Active: true}).Error)
	require.NoError(t, db.Create(&attachment).Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return dsn, attachment
}

func TestRunCommandWithEmptyScopeConvertsNothing(t *testing.T) {
	dsn, attachment := seedSqlite(t)

	var out bytes.Buffer
	cmd := Command()
	cmd.Writer = &out
	cmd.ErrWriter = &out
	err := cmd.Run(context.Background(), []string{"convert",
		"--db-kind=sqlite", "--db-url=" + dsn, "--scope-none",
		"--summary-format=json", "--log-level=warn"})
	require.NoError(t, err, out.String())

	var body struct {
		Kinds []service.KindSummary `json:"kinds"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	require.Len(t, body.Kinds, 2)
	for _, k := range body.Kinds {
		assert.Zero(t, k.Selected)
		assert.Zero(t, k.Pages)
	}

	db, err := sqlite.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	var versions int64
	require.NoError(t, db.Model(&model.ContentVersion{}).Count(&versions).Error)
	assert.Zero(t, versions)
	var kept int64
	require.NoError(t, db.Model(&model.LegacyAttachment{}).Where("id = ?", attachment.ID).Count(&kept).Error)
	assert.Equal(t, int64(1), kept)
}

func TestRunCommandScopeNoneRejectsParentIDs(t *testing.T) {
	dsn, _ := seedSqlite(t)

	cmd := Command()
	cmd.Writer = io.Discard
	cmd.ErrWriter = io.Discard
	err := cmd.Run(context.Background(), []string{"convert",
		"--db-kind=sqlite", "--db-url=" + dsn, "--scope-none",
		"--scope-parent-ids=" + uuid.NewString(), "--log-level=warn"})
	var selErr *scope.SelectionError
	assert.True(t, errors.As(err, &selErr))
}
