// Package storage provides interfaces and implementations for the state the
// service depends on: the identity ledger collaborator, the gateway's public
// key table, issued challenges and idempotency records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

// Standard error values used across storage implementations
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource already exists or the operation would violate invariants.
	ErrConflict = errors.New("conflict")
)

// Ledger is the durable identity registry collaborator. Registration is
// all-or-nothing and resolution is idempotent; how a backend achieves that is
// its own concern.
type Ledger interface {
	// Register stores documentJSON under did and reports whether it committed
	Register(ctx context.Context, did, documentJSON string) (model.LedgerReceipt, error)
	// Resolve returns the most recently committed document, or ErrNotFound
	Resolve(ctx context.Context, did string) (string, error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyStore holds public keys registered for possession-proof verification.
// Implementations must allow concurrent reads; concurrent writes to the same
// DID resolve as last writer wins.
type KeyStore interface {
	// PutPublicKey stores or replaces the key for entry.DID
	PutPublicKey(ctx context.Context, entry model.PublicKeyEntry) error
	// GetPublicKey returns the key registered for did, or ErrNotFound
	GetPublicKey(ctx context.Context, did string) (model.PublicKeyEntry, error)
}

// ChallengeStore tracks issued challenges when single-use challenges are
// enabled.
type ChallengeStore interface {
	// PutChallenge records a freshly issued challenge
	PutChallenge(ctx context.Context, challenge model.Challenge) error
	// ConsumeChallenge marks a live challenge used; ErrNotFound when it is unknown, used or expired
	ConsumeChallenge(ctx context.Context, value string, now time.Time) (model.Challenge, error)
	// CleanupExpired removes challenges that expired before now
	CleanupExpired(ctx context.Context, now time.Time) error
}

// IdempotencyStore stores deterministic responses for a limited period.
// Enables idempotent handling of otherwise non-idempotent operations.
type IdempotencyStore interface {
	// Remember stores a response for later retrieval
	Remember(ctx context.Context, key string, response StoredResponse) error
	// Recall retrieves a previously stored response if it exists and hasn't expired
	Recall(ctx context.Context, key string) (StoredResponse, bool)
}

// StoredResponse captures the HTTP response data persisted for idempotent replays.
type StoredResponse struct {
	StatusCode int               // HTTP status code of the original response
	Body       []byte            // Response body content
	Headers    map[string]string // Response headers
	ExpiresAt  time.Time         // Expiration timestamp for this cached response
}
