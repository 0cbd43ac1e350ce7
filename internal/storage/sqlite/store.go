// Package sqlite is the durable write-through token store. Every batch is a
// single transaction; the WAL journal runs with synchronous=FULL so a commit
// that returned has reached disk before the master acknowledges the client.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage"
)

type Store struct {
	db *sql.DB
}

var _ storage.Store = &Store{}

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=FULL",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CommitTokens(ctx context.Context, updates []*api.Token, deletes []*api.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range updates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO current_tokens (name, version, owner, expiration, priority, data)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				version = excluded.version,
				owner = excluded.owner,
				expiration = excluded.expiration,
				priority = excluded.priority,
				data = excluded.data`,
			t.Name, t.Version, t.Owner, t.ExpirationTime, t.Priority, t.Data)
		if err != nil {
			return err
		}
	}
	for _, t := range deletes {
		res, err := tx.ExecContext(ctx, `DELETE FROM current_tokens WHERE name = ?`, t.Name)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return storage.ErrNotFound
		}
	}
	return tx.Commit()
}

func (s *Store) ArchiveTokens(ctx context.Context, tokens []*api.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range tokens {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO archived_tokens (name, version, owner, expiration, priority, data)
			SELECT ?, version, owner, expiration, priority, data
			FROM current_tokens WHERE name = ?`,
			api.ArchivePrefix+t.Name, t.Name)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return storage.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM current_tokens WHERE name = ?`, t.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteArchivedTokens(ctx context.Context, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, name := range names {
		res, err := tx.ExecContext(ctx, `DELETE FROM archived_tokens WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return storage.ErrNotFound
		}
	}
	return tx.Commit()
}

func (s *Store) ReadActiveTokens(ctx context.Context, namePrefix string) ([]*api.Token, error) {
	return s.readTokens(ctx, "current_tokens", namePrefix)
}

func (s *Store) ReadArchivedTokens(ctx context.Context, namePrefix string) ([]*api.Token, error) {
	return s.readTokens(ctx, "archived_tokens", namePrefix)
}

// readTokens matches on substr rather than LIKE: token names legitimately
// contain underscores, which LIKE would treat as wildcards.
func (s *Store) readTokens(ctx context.Context, table string, namePrefix string) ([]*api.Token, error) {
	query := fmt.Sprintf(`
		SELECT name, version, owner, expiration, priority, data
		FROM %s
		WHERE substr(name, 1, ?) = ?
		ORDER BY name ASC`, table)
	rows, err := s.db.QueryContext(ctx, query, len(namePrefix), namePrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]*api.Token, 0)
	for rows.Next() {
		t := &api.Token{}
		if err := rows.Scan(&t.Name, &t.Version, &t.Owner, &t.ExpirationTime, &t.Priority, &t.Data); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
