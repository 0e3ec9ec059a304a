package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/content-migrator/internal/config"
	"github.com/chirino/content-migrator/internal/plugin/store/sqlite"
	"github.com/chirino/content-migrator/internal/plugin/store/sqlstore"
	"github.com/chirino/content-migrator/internal/plugin/store/storetest"
	registrymigrate "github.com/chirino/content-migrator/internal/registry/migrate"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func TestSqliteStore(t *testing.T) {
	db, err := sqlite.Open(sqlite.MemoryDSN(t.Name()))
	require.NoError(t, err)
	require.NoError(t, sqlstore.AutoMigrate(db))

	store := sqlstore.New(db, sqlstore.Options{MaxContentSize: storetest.MaxContentSize})
	t.Cleanup(func() { _ = store.Close() })

	storetest.Run(t, store, storetest.GormFixture{DB: db})
}

func TestSqlitePluginMigratesAndLoads(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "records.db")
	cfg.MaxContentSize = storetest.MaxContentSize
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	db, err := sqlite.Open(cfg.DBURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	storetest.Run(t, store, storetest.GormFixture{DB: db})
}
