package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockKey = 2026082701

// EnsureSchema creates all tables used by the service. Bootstrap DDL is
// serialized across api/worker startups with an advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(schemaLockKey)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	scope TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	customer_id TEXT NOT NULL DEFAULT '',
	owner_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_scope_customer ON documents(scope, customer_id);

CREATE TABLE IF NOT EXISTS document_chunks (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_offset INTEGER NOT NULL,
	chunk_text TEXT NOT NULL,
	text_search TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', chunk_text)) STORED,
	PRIMARY KEY (document_id, chunk_offset)
);

CREATE INDEX IF NOT EXISTS idx_document_chunks_fts ON document_chunks USING GIN (text_search);

CREATE TABLE IF NOT EXISTS actors (
	id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS actor_customers (
	actor_id TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
	customer_id TEXT NOT NULL,
	PRIMARY KEY (actor_id, customer_id)
);

CREATE TABLE IF NOT EXISTS policy_audit_log (
	id TEXT PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	customer_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	requested_scopes TEXT NOT NULL,
	granted_scopes TEXT NOT NULL,
	decision TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_policy_audit_actor ON policy_audit_log(actor_id, occurred_at DESC);

CREATE TABLE IF NOT EXISTS prompts (
	category TEXT NOT NULL,
	version INTEGER NOT NULL,
	content TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (category, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_prompts_active ON prompts(category) WHERE active;
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
