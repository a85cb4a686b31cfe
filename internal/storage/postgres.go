// Package storage contains the PostgreSQL ledger and challenge store.
// Provides persistent storage for identity documents, challenges and idempotency records.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

// Postgres implements Ledger, ChallengeStore and IdempotencyStore.
type Postgres struct {
	db *sql.DB // Database connection pool
}

// NewPostgres opens a pooled connection and verifies it with a ping.
//
// Connection pool configuration:
// - Max 25 open connections to prevent overwhelming the database
// - Max 5 idle connections to maintain a warm pool
// - 5-minute lifetime and idle time to prevent stale connections
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &Postgres{db: db}, nil
}

// DB returns the underlying *sql.DB connection pool.
// This method is primarily used by migration functions that need direct database access.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Ping reports database connectivity for readiness checks.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Register upserts the document so repeating a registration never leaves a
// partial row behind.
func (p *Postgres) Register(ctx context.Context, did, documentJSON string) (model.LedgerReceipt, error) {
	const q = `INSERT INTO did_documents (did, document, tx_ref, committed_at) VALUES ($1, $2, $3, $4)
        ON CONFLICT (did) DO UPDATE SET document = EXCLUDED.document, tx_ref = EXCLUDED.tx_ref, committed_at = EXCLUDED.committed_at
        RETURNING tx_ref`
	var txRef string
	err := p.db.QueryRowContext(ctx, q, did, documentJSON, uuid.NewString(), time.Now().UTC()).Scan(&txRef)
	if err != nil {
		return model.LedgerReceipt{}, fmt.Errorf("upsert document: %w", err)
	}
	return model.LedgerReceipt{Committed: true, TxRef: txRef}, nil
}

// Resolve returns the stored document or ErrNotFound.
func (p *Postgres) Resolve(ctx context.Context, did string) (string, error) {
	const q = `SELECT document FROM did_documents WHERE did = $1`
	var doc string
	err := p.db.QueryRowContext(ctx, q, did).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

// PutChallenge stores a newly issued challenge.
func (p *Postgres) PutChallenge(ctx context.Context, challenge model.Challenge) error {
	const q = `INSERT INTO challenges (value, expires_at, used) VALUES ($1, $2, $3)`
	_, err := p.db.ExecContext(ctx, q, challenge.Value, challenge.ExpiresAt, challenge.Used)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// ConsumeChallenge retrieves and invalidates a challenge (single-use).
// Uses atomic UPDATE with RETURNING to ensure single-use semantics.
// Returns ErrNotFound if the challenge doesn't exist, has expired, or has already been used.
func (p *Postgres) ConsumeChallenge(ctx context.Context, value string, now time.Time) (model.Challenge, error) {
	const q = `UPDATE challenges SET used = true WHERE value = $1 AND expires_at > $2 AND used = false RETURNING expires_at`
	c := model.Challenge{Value: value, Used: true}
	err := p.db.QueryRowContext(ctx, q, value, now.UTC()).Scan(&c.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Challenge{}, ErrNotFound
		}
		return model.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	return c, nil
}

// CleanupExpired removes expired challenges.
func (p *Postgres) CleanupExpired(ctx context.Context, now time.Time) error {
	const q = `DELETE FROM challenges WHERE expires_at <= $1`
	if _, err := p.db.ExecContext(ctx, q, now.UTC()); err != nil {
		return fmt.Errorf("cleanup challenges: %w", err)
	}
	return nil
}

// Remember stores a response for later retrieval to support idempotent operations.
func (p *Postgres) Remember(ctx context.Context, key string, response StoredResponse) error {
	const q = `INSERT INTO idempotency_cache (key, status_code, body, headers, expires_at) VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (key) DO NOTHING`
	headersBytes, err := json.Marshal(response.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = p.db.ExecContext(ctx, q, key, response.StatusCode, response.Body, headersBytes, response.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert cache: %w", err)
	}
	return nil
}

// Recall retrieves a previously stored response if it exists and hasn't expired.
func (p *Postgres) Recall(ctx context.Context, key string) (StoredResponse, bool) {
	const q = `SELECT status_code, body, headers, expires_at FROM idempotency_cache WHERE key = $1 AND expires_at > $2`
	var response StoredResponse
	var headersBytes []byte
	err := p.db.QueryRowContext(ctx, q, key, time.Now().UTC()).Scan(&response.StatusCode, &response.Body, &headersBytes, &response.ExpiresAt)
	if err != nil {
		return StoredResponse{}, false
	}
	if err := json.Unmarshal(headersBytes, &response.Headers); err != nil {
		return StoredResponse{}, false
	}
	return response, true
}
