package registry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs PostgreSQL in a container and returns its DSN.
// Set TEST_INTEGRATION to enable.
func startPostgres(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION is not set")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("contractflow_test"),
		postgres.WithUsername("contractflow"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresRegistry(t *testing.T) {
	dsn := startPostgres(t)

	runRegistrySuite(t, func(t *testing.T) Registry {
		ctx := context.Background()
		reg, err := OpenPostgres(ctx, dsn, discardLogger())
		require.NoError(t, err)
		// Each subtest starts from empty tables.
		_, err = reg.DB().ExecContext(ctx, `TRUNCATE chat_turns, analyses, documents`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = reg.Close() })
		return reg
	})
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@host:5432/db?sslmode=disable", migrateURL("postgres://u:p@host:5432/db?sslmode=disable"))
	require.Equal(t, "pgx5://u@host/db", migrateURL("postgresql://u@host/db"))
}
