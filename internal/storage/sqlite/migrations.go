package sqlite

import (
	"context"
	"fmt"
)

// Ordered schema migrations; PRAGMA user_version records the last applied
// index.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS current_tokens (
		name       TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		owner      TEXT NOT NULL DEFAULT '',
		expiration INTEGER NOT NULL DEFAULT 0,
		priority   REAL NOT NULL DEFAULT 0,
		data       BLOB
	)`,
	`CREATE TABLE IF NOT EXISTS archived_tokens (
		name       TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		owner      TEXT NOT NULL DEFAULT '',
		expiration INTEGER NOT NULL DEFAULT 0,
		priority   REAL NOT NULL DEFAULT 0,
		data       BLOB
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			return fmt.Errorf("recording schema version %d: %w", i+1, err)
		}
	}
	return nil
}
