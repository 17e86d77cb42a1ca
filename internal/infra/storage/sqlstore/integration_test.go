package sqlstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgres_Repositories(t *testing.T) {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("mediadownloader_test"),
		postgres.WithUsername("mediadownloader"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	for _, driver := range []string{DriverPgx, DriverPQ} {
		t.Run(driver, func(t *testing.T) {
			db, err := Open(ctx, Config{Driver: driver, URL: url})
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer db.Close()

			if err := Migrate(ctx, db); err != nil {
				t.Fatalf("Migrate failed: %v", err)
			}
			if driver == DriverPQ {
				// second pass runs on the already-populated schema
				if _, err := db.ExecContext(ctx, "TRUNCATE download_jobs, media, user_resource_interests, devices"); err != nil {
					t.Fatalf("truncate failed: %v", err)
				}
			}
			runRepositorySuite(t, db)
		})
	}
}
