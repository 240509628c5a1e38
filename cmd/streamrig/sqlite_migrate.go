package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/you/streamrig/internal/settings"
)

const settingsSchemaVersion = 1

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// userCollections are keyed by login; older builds stored the display
// casing.
var userCollections = []string{settings.UserVoices, settings.Blacklist, settings.CleanNames}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}

	log.Printf("streamrig: sqlite: path=%s user_version=%d", path, userVersion)

	columns, err := sqliteTableInfo(ctx, db, "settings")
	if err != nil {
		return fmt.Errorf("sqlite: describe settings: %w", err)
	}
	if len(columns) == 0 {
		log.Printf("streamrig: sqlite: settings table missing; skipping migration")
		return nil
	}

	if _, ok := columns["updated_at"]; !ok {
		if _, err := db.ExecContext(ctx, `ALTER TABLE settings ADD COLUMN updated_at TEXT NOT NULL DEFAULT '';`); err != nil {
			return fmt.Errorf("sqlite: ensure updated_at column: %w", err)
		}
		log.Printf("streamrig: sqlite: added updated_at column to settings")
	}

	res, err := db.ExecContext(ctx, `UPDATE settings SET record='{}' WHERE record IS NULL OR TRIM(record) = '';`)
	if err != nil {
		return fmt.Errorf("sqlite: normalize record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("streamrig: sqlite: normalized empty records=%d", n)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userCollections)), ",")
	args := make([]any, 0, 2*len(userCollections))
	for _, c := range userCollections {
		args = append(args, c)
	}
	args = append(args, args...)

	// newest row wins, matching Push
	lowerDedupe := fmt.Sprintf(`DELETE FROM settings
WHERE collection IN (%[1]s)
  AND rowid NOT IN (
    SELECT MAX(rowid)
    FROM settings
    WHERE collection IN (%[1]s)
    GROUP BY collection, match_key, LOWER(match_value)
);`, placeholders)
	if res, execErr := db.ExecContext(ctx, lowerDedupe, args...); execErr != nil {
		return fmt.Errorf("sqlite: dedupe user keys: %w", execErr)
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("streamrig: sqlite: removed %d duplicate user records", n)
	}

	lower := fmt.Sprintf(`UPDATE settings SET match_value = LOWER(match_value)
WHERE collection IN (%s) AND match_value != LOWER(match_value);`, placeholders)
	if res, execErr := db.ExecContext(ctx, lower, args[:len(userCollections)]...); execErr != nil {
		return fmt.Errorf("sqlite: lower-case user keys: %w", execErr)
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("streamrig: sqlite: lower-cased %d user keys", n)
	}

	dedupeSQL := `DELETE FROM settings
WHERE rowid NOT IN (
    SELECT MAX(rowid)
    FROM settings
    GROUP BY collection, match_key, match_value
);`
	if res, execErr := db.ExecContext(ctx, dedupeSQL); execErr != nil {
		return fmt.Errorf("sqlite: dedupe collection/match_key/match_value: %w", execErr)
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("streamrig: sqlite: removed %d duplicate settings", n)
	}

	if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS settings_uq_key
        ON settings(collection, match_key, match_value);`); err != nil {
		return fmt.Errorf("sqlite: ensure settings_uq_key: %w", err)
	}

	if userVersion < settingsSchemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, settingsSchemaVersion)); err != nil {
			return fmt.Errorf("sqlite: set user_version: %w", err)
		}
	}

	hasIndex, err := sqliteHasIndex(ctx, db, "settings", "settings_uq_key")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}

	counts := make(map[string]int64)
	rows, err := db.QueryContext(ctx, `SELECT collection, COUNT(*) FROM settings GROUP BY collection;`)
	if err != nil {
		return fmt.Errorf("sqlite: count settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			collection string
			n          int64
		)
		if err := rows.Scan(&collection, &n); err != nil {
			return fmt.Errorf("sqlite: count settings: %w", err)
		}
		counts[collection] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: count settings: %w", err)
	}

	log.Printf("streamrig: sqlite: settings_uq_key=%v voices=%d blacklist=%d names=%d rewards=%d labels=%d",
		hasIndex,
		counts[settings.UserVoices],
		counts[settings.Blacklist],
		counts[settings.CleanNames],
		counts[settings.RewardIDs],
		counts[settings.Labels],
	)

	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var userVersion int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return 0, err
	}
	return userVersion, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(name))] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	return false, rows.Err()
}
