// Package testpg starts throwaway Postgres servers for store integration tests.
package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const image = "postgres:17-alpine"

// StartPostgres starts a Postgres container holding an empty records
// database and returns its DSN. Skipped with -short.
func StartPostgres(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("postgres container skipped in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		image,
		postgres.WithDatabase("records"),
		postgres.WithUsername("migrator"),
		postgres.WithPassword("migrator"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	tb.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			tb.Errorf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("postgres connection string: %v", err)
	}
	if err := ping(ctx, dsn); err != nil {
		tb.Fatalf("postgres never accepted connections: %v", err)
	}
	return dsn
}

func ping(ctx context.Context, dsn string) error {
	var lastErr error
	for attempt := 0; attempt < 40; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := pgx.Connect(attemptCtx, dsn)
		if err == nil {
			err = conn.Ping(attemptCtx)
			_ = conn.Close(attemptCtx)
		}
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	return lastErr
}
