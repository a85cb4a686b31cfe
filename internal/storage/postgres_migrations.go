// Package storage contains PostgreSQL schema migrations for the service.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MigratePostgres applies schema migrations to the PostgreSQL database.
// Uses IF NOT EXISTS clauses to make migrations idempotent.
//
// Tables created:
// - did_documents: the ledger of registered identity documents
// - challenges: single-use authentication challenges (hardened mode)
// - idempotency_cache: cached responses for idempotent registration
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		// Documents are stored as the exact JSON text that was registered
		`CREATE TABLE IF NOT EXISTS did_documents (
            did TEXT PRIMARY KEY,
            document TEXT NOT NULL,
            tx_ref TEXT NOT NULL,
            committed_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS challenges (
            value TEXT PRIMARY KEY,
            expires_at TIMESTAMPTZ NOT NULL,
            used BOOLEAN NOT NULL DEFAULT FALSE
        )`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_expires_at ON challenges (expires_at)`,
		`CREATE TABLE IF NOT EXISTS idempotency_cache (
            key TEXT PRIMARY KEY,
            status_code INTEGER NOT NULL,
            body BYTEA NOT NULL,
            headers JSONB NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_cache_expires_at ON idempotency_cache (expires_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
