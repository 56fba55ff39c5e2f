package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres connects to PostgreSQL through the pgx driver, applies the
// migrations and returns the registry.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*SQLRegistry, error) {
	if err := migrateUp("migrations/postgres", migrateURL(dsn), logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: connect to postgres: %w", err)
	}

	logger.Info("Connected to PostgreSQL registry.")
	return newSQLRegistry(db, dialectPostgres), nil
}

// migrateURL rewrites a postgres:// DSN for the golang-migrate pgx5 driver.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
