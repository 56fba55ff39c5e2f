package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) a file-backed SQLite registry.
// Writes are serialized through a single connection.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLRegistry, error) {
	if err := migrateUp("migrations/sqlite", "sqlite://"+path, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("registry: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: connect to sqlite: %w", err)
	}
	return newSQLRegistry(db, dialectSQLite), nil
}
