package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"pmworker/internal/pmworker"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS offline_actions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT    NOT NULL UNIQUE,
	url        TEXT    NOT NULL,
	method     TEXT    NOT NULL,
	headers    TEXT    NOT NULL DEFAULT '{}',
	body       TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0
);`

// SQLite stores the queue in a single table ordered by an autoincrement seq.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// writes are serialized on a single connection
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite queue: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (q *SQLite) Enqueue(ctx context.Context, a pmworker.OfflineAction) (string, error) {
	a, err := prepare(a)
	if err != nil {
		return "", err
	}
	headers, err := json.Marshal(a.Headers)
	if err != nil {
		return "", err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO offline_actions (id, url, method, headers, body, created_at, attempts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.URL, a.Method, string(headers), a.Body, a.CreatedAt, a.Attempts,
	)
	if err != nil {
		return "", fmt.Errorf("insert offline action: %w", err)
	}
	return a.ID, nil
}

func (q *SQLite) List(ctx context.Context) ([]pmworker.OfflineAction, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, url, method, headers, body, created_at, attempts FROM offline_actions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pmworker.OfflineAction
	for rows.Next() {
		var (
			a       pmworker.OfflineAction
			headers string
		)
		if err := rows.Scan(&a.ID, &a.URL, &a.Method, &headers, &a.Body, &a.CreatedAt, &a.Attempts); err != nil {
			return nil, err
		}
		if headers != "" && headers != "null" {
			if err := json.Unmarshal([]byte(headers), &a.Headers); err != nil {
				return nil, fmt.Errorf("decode headers of %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *SQLite) Remove(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM offline_actions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("offline action %s: %w", id, pmworker.ErrNotFound)
	}
	return nil
}

func (q *SQLite) RecordFailure(ctx context.Context, id string) (int, error) {
	var attempts int
	err := q.db.QueryRowContext(ctx,
		`UPDATE offline_actions SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("offline action %s: %w", id, pmworker.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (q *SQLite) Close() error { return q.db.Close() }
