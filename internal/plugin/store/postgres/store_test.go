package postgres_test

import (
	"context"
	"testing"

	"github.com/chirino/content-migrator/internal/config"
	"github.com/chirino/content-migrator/internal/plugin/store/postgres"
	"github.com/chirino/content-migrator/internal/plugin/store/storetest"
	registrymigrate "github.com/chirino/content-migrator/internal/registry/migrate"
	registrystore "github.com/chirino/content-migrator/internal/registry/store"
	"github.com/chirino/content-migrator/internal/testutil/testpg"
	"github.com/stretchr/testify/require"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStore(t *testing.T) (registrystore.RecordStore, *gorm.DB) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = dbURL
	cfg.MaxContentSize = storetest.MaxContentSize
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure postgres store plugin is registered
	_ = postgres.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	db, err := gorm.Open(pgdriver.Open(dbURL), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store, db
}

func TestPostgresStore(t *testing.T) {
	store, db := setupTestStore(t)
	storetest.Run(t, store, storetest.GormFixture{DB: db})
}

func TestMigrationIsRepeatable(t *testing.T) {
	dbURL := testpg.StartPostgres(t)
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))
	require.NoError(t, registrymigrate.RunAll(ctx))
}
