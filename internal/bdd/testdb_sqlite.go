package bdd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chirino/content-migrator/internal/plugin/store/sqlite"
	"github.com/chirino/content-migrator/internal/plugin/store/sqlstore"
	"github.com/chirino/content-migrator/internal/plugin/store/storetest"
	"gorm.io/gorm"
)

// SqliteTestDB implements TestDB on a sqlite file.
type SqliteTestDB struct {
	storetest.GormFixture
	Path string
}

var _ TestDB = (*SqliteTestDB)(nil)

// OpenSqliteTestDB creates the schema in a new database file at path.
func OpenSqliteTestDB(path string) (*SqliteTestDB, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlstore.AutoMigrate(db); err != nil {
		return nil, err
	}
	return &SqliteTestDB{GormFixture: storetest.GormFixture{DB: db}, Path: path}, nil
}

func (d *SqliteTestDB) Kind() string { return "sqlite" }
func (d *SqliteTestDB) URL() string  { return d.Path }

func (d *SqliteTestDB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *SqliteTestDB) ClearAll(ctx context.Context) error {
	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range contentTables {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
			}
		}
		return nil
	})
}

func (d *SqliteTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	rows, err := d.DB.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
