package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/content-migrator/internal/plugin/store/storetest"
	"github.com/jackc/pgx/v5"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresTestDB implements TestDB for Postgres.
type PostgresTestDB struct {
	storetest.GormFixture
	DBURL string
}

var _ TestDB = (*PostgresTestDB)(nil)

// OpenPostgresTestDB connects the fixture to dbURL. The schema is created by
// the converter's own migration.
func OpenPostgresTestDB(dbURL string) (*PostgresTestDB, error) {
	db, err := gorm.Open(pgdriver.Open(dbURL), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	return &PostgresTestDB{GormFixture: storetest.GormFixture{DB: db}, DBURL: dbURL}, nil
}

func (p *PostgresTestDB) Kind() string { return "postgres" }
func (p *PostgresTestDB) URL() string  { return p.DBURL }

func (p *PostgresTestDB) Close() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *PostgresTestDB) conn(ctx context.Context) (*pgx.Conn, error) {
	return pgx.Connect(ctx, p.DBURL)
}

func (p *PostgresTestDB) ClearAll(ctx context.Context) error {
	conn, err := p.conn(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: failed to connect: %w", err)
	}
	defer conn.Close(ctx)

	for _, table := range contentTables {
		if _, err := conn.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

func (p *PostgresTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	conn, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			row[f.Name] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
