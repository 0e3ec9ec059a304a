package testinfinispan

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Infinispan is a running server reachable over RESP.
type Infinispan struct {
	Host     string
	Username string
	Password string
}

// StartInfinispan starts a throwaway Infinispan server with its RESP connector
// enabled. The container is removed when tb finishes.
func StartInfinispan(tb testing.TB) Infinispan {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping infinispan container in -short mode")
	}

	const (
		username = "admin"
		password = "password"
	)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/infinispan/server:15.2",
			ExposedPorts: []string{"11222/tcp"},
			Env:          map[string]string{"USER": username, "PASS": password},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("11222/tcp"),
				wait.ForLog("Infinispan Server"),
				wait.ForLog("Started connector Resp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("infinispan container: %v", err)
	}

	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate infinispan container: %v", err)
		}
	})

	hostPort, err := container.PortEndpoint(ctx, "11222/tcp", "")
	if err != nil {
		tb.Fatalf("infinispan endpoint: %v", err)
	}
	// The connector log line can appear before RESP accepts commands.
	if err := waitForRESP(ctx, hostPort, username, password); err != nil {
		tb.Fatalf("infinispan RESP not ready: %v", err)
	}
	return Infinispan{Host: hostPort, Username: username, Password: password}
}

func waitForRESP(ctx context.Context, hostPort, username, password string) error {
	client := goredis.NewClient(&goredis.Options{
		Addr:     hostPort,
		Username: username,
		Password: password,
		Protocol: 2,
	})
	defer client.Close()

	var lastErr error
	for attempt := 1; attempt <= 60; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("ping failed after 60 attempts: %w", lastErr)
}
