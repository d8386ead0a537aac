// Package storage is the durable key-value and append-log store behind the
// settings, liveness and location stores. It is backed by SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS location_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_location_logs_timestamp ON location_logs(timestamp);

CREATE TABLE IF NOT EXISTS alert_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	contact TEXT NOT NULL,
	message TEXT NOT NULL,
	sent_at INTEGER NOT NULL,
	error_text TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_alert_logs_sent_at ON alert_logs(sent_at);
`

// DB is a SQLite database holding the settings table, the location log and
// the alert log. All access goes through a single connection, so every
// statement and transaction is serialized.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use MemoryPath for a throwaway database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != MemoryPath {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Storage("open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Storage("apply schema", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *DB) Ping(ctx context.Context) error {
	return apperrors.Storage("ping", s.db.PingContext(ctx))
}

// KeyValue is one settings row.
type KeyValue struct {
	Key   string
	Value string
}

// Get returns the value stored under key. ok is false if the key is absent.
func (s *DB) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Storage("read setting "+key, err)
	}
	return value, true, nil
}

// GetAll returns every settings row.
func (s *DB) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, apperrors.Storage("read settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperrors.Storage("scan setting", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("read settings", err)
	}
	return out, nil
}

// Put upserts one settings row.
func (s *DB) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return apperrors.Storage("write setting "+key, err)
}

// PutMany upserts every row in one transaction: either all rows are written
// or none are.
func (s *DB) PutMany(ctx context.Context, kvs []KeyValue) error {
	if len(kvs) == 0 {
		return nil
	}
	keys := make([]string, len(kvs))
	for i, kv := range kvs {
		keys[i] = kv.Key
	}
	op := "write settings " + strings.Join(keys, ",")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Storage(op, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return apperrors.Storage(op, err)
	}
	defer stmt.Close()

	for _, kv := range kvs {
		if _, err := stmt.ExecContext(ctx, kv.Key, kv.Value); err != nil {
			return apperrors.Storage(op, err)
		}
	}
	return apperrors.Storage(op, tx.Commit())
}

// Stats summarizes table sizes.
type Stats struct {
	LocationLogs int64 `json:"location_logs"`
	AlertLogs    int64 `json:"alert_logs"`
	Settings     int64 `json:"settings"`
}

// Stats counts the rows of every table.
func (s *DB) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM location_logs),
			(SELECT COUNT(*) FROM alert_logs),
			(SELECT COUNT(*) FROM settings)`).Scan(&st.LocationLogs, &st.AlertLogs, &st.Settings)
	if err != nil {
		return Stats{}, apperrors.Storage("count rows", err)
	}
	return st, nil
}

// ClearAll deletes every row of every table.
func (s *DB) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Storage("clear data", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"location_logs", "alert_logs", "settings"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return apperrors.Storage("clear "+table, err)
		}
	}
	return apperrors.Storage("clear data", tx.Commit())
}
