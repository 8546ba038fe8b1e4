package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	effect TEXT NOT NULL,
	brightness REAL NOT NULL,
	scale REAL NOT NULL,
	object_key TEXT NOT NULL,
	output_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	effect TEXT NOT NULL,
	pixels_processed INTEGER NOT NULL,
	input_bytes INTEGER NOT NULL,
	output_bytes INTEGER NOT NULL,
	compute_time_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_logs_job_id ON usage_logs(job_id);
`

// SQLiteJobStore keeps jobs in a single file for one-node deployments where
// the api and worker share a host.
type SQLiteJobStore struct {
	sqlJobStore
}

func NewSQLiteJobStore(ctx context.Context, path string) (*SQLiteJobStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure jobs schema: %w", err)
	}

	return &SQLiteJobStore{sqlJobStore{db: db, dialect: dialectSQLite}}, nil
}
