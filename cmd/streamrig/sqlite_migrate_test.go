package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLite(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	// no primary key and no updated_at, as written by early builds
	schema := `CREATE TABLE settings (
  collection TEXT NOT NULL,
  match_key TEXT NOT NULL,
  match_value TEXT NOT NULL,
  record TEXT
);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	seed := `INSERT INTO settings (collection, match_key, match_value, record)
VALUES
  ('tts_user_voices', 'userName', 'Alice', '{"userName":"Alice","voiceName":"old"}'),
  ('tts_user_voices', 'userName', 'alice', '{"userName":"alice","voiceName":"new"}'),
  ('tts_blacklist', 'userName', 'Bob', NULL),
  ('labels', 'key', 'Song', '{"key":"Song","text":"a"}'),
  ('labels', 'key', 'Song', '{"key":"Song","text":"b"}');
`
	if _, err := db.Exec(seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	if err := migrateSQLite(context.Background(), db); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	cols, err := sqliteTableInfo(context.Background(), db, "settings")
	if err != nil {
		t.Fatalf("inspect columns: %v", err)
	}
	if col, ok := cols["updated_at"]; !ok || !col.NotNull {
		t.Fatalf("expected NOT NULL updated_at column, got %+v", cols)
	}

	var voice string
	if err := db.QueryRow(`SELECT record FROM settings WHERE collection='tts_user_voices' AND match_value='alice';`).Scan(&voice); err != nil {
		t.Fatalf("load voice: %v", err)
	}
	if voice != `{"userName":"alice","voiceName":"new"}` {
		t.Fatalf("expected newest voice to survive, got %s", voice)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM settings WHERE collection='tts_user_voices';`).Scan(&count); err != nil {
		t.Fatalf("count voices: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 voice row, got %d", count)
	}

	// labels keep their case but lose duplicates
	var label string
	if err := db.QueryRow(`SELECT record FROM settings WHERE collection='labels' AND match_value='Song';`).Scan(&label); err != nil {
		t.Fatalf("load label: %v", err)
	}
	if label != `{"key":"Song","text":"b"}` {
		t.Fatalf("expected newest label, got %s", label)
	}

	var record string
	if err := db.QueryRow(`SELECT record FROM settings WHERE collection='tts_blacklist' AND match_value='bob';`).Scan(&record); err != nil {
		t.Fatalf("load blacklist: %v", err)
	}
	if record != "{}" {
		t.Fatalf("expected NULL record normalized, got %q", record)
	}

	userVersion, err := sqliteUserVersion(context.Background(), db)
	if err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if userVersion != settingsSchemaVersion {
		t.Fatalf("user_version = %d, want %d", userVersion, settingsSchemaVersion)
	}

	if _, err := db.Exec(`INSERT INTO settings (collection, match_key, match_value, record)
VALUES ('labels', 'key', 'Song', '{}');`); err == nil {
		t.Fatalf("expected unique index to prevent duplicate insert")
	}
}

func TestMigrateSQLiteWithoutTable(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if err := migrateSQLite(context.Background(), db); err != nil {
		t.Fatalf("migrate empty db: %v", err)
	}
}
