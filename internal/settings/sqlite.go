package settings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"
)

const schema = `CREATE TABLE IF NOT EXISTS settings (
  collection TEXT NOT NULL,
  match_key TEXT NOT NULL,
  match_value TEXT NOT NULL,
  record TEXT NOT NULL DEFAULT '{}',
  updated_at TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (collection, match_key, match_value)
);`

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(context.Background(), db)
	return &SQLite{db: db}, nil
}

// DB exposes the handle for migrations.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping() error { return s.db.Ping() }

func (s *SQLite) String() string {
	return fmt.Sprintf("settings.SQLite{%p}", s.db)
}

func (s *SQLite) Pull(ctx context.Context, collection, matchKey, matchValue string, out any) (bool, error) {
	const q = `SELECT record FROM settings WHERE collection = ? AND match_key = ? AND match_value = ?;`
	var raw string
	err := s.db.QueryRowContext(ctx, q, collection, matchKey, matchValue).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "select setting")
	}
	if err := decodeRecord([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLite) Push(ctx context.Context, collection, matchKey string, record any) error {
	value, raw, err := encodeRecord(matchKey, record)
	if err != nil {
		return err
	}
	const q = `INSERT INTO settings (collection, match_key, match_value, record, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(collection, match_key, match_value) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at;`
	_, err = s.db.ExecContext(ctx, q, collection, matchKey, value, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "upsert setting")
}
