// Package storage contains persistence abstractions and in-memory
// implementations used by the service.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

type ledgerRecord struct {
	document string
	txRef    string
}

// Memory implements every store interface in process memory. Each table has
// its own lock so key registration never waits on ledger traffic.
type Memory struct {
	muLedger sync.RWMutex
	ledger   map[string]ledgerRecord

	muKeys sync.RWMutex
	keys   map[string]model.PublicKeyEntry

	muChallenges sync.Mutex
	challenges   map[string]model.Challenge

	muIdem sync.Mutex
	idem   map[string]StoredResponse
}

// NewMemory returns a concurrency-safe in-memory store.
// Useful for tests, demos, or as a default ephemeral backend.
func NewMemory() *Memory {
	return &Memory{
		ledger:     make(map[string]ledgerRecord),
		keys:       make(map[string]model.PublicKeyEntry),
		challenges: make(map[string]model.Challenge),
		idem:       make(map[string]StoredResponse),
	}
}

// Register stores the document. Re-registering an identical document keeps
// the original transaction reference.
func (m *Memory) Register(ctx context.Context, did, documentJSON string) (model.LedgerReceipt, error) {
	if err := ctx.Err(); err != nil {
		return model.LedgerReceipt{}, err
	}
	m.muLedger.Lock()
	defer m.muLedger.Unlock()
	if rec, ok := m.ledger[did]; ok && rec.document == documentJSON {
		return model.LedgerReceipt{Committed: true, TxRef: rec.txRef}, nil
	}
	rec := ledgerRecord{document: documentJSON, txRef: uuid.NewString()}
	m.ledger[did] = rec
	return model.LedgerReceipt{Committed: true, TxRef: rec.txRef}, nil
}

// Resolve returns the stored document or ErrNotFound.
func (m *Memory) Resolve(ctx context.Context, did string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.muLedger.RLock()
	defer m.muLedger.RUnlock()
	rec, ok := m.ledger[did]
	if !ok {
		return "", ErrNotFound
	}
	return rec.document, nil
}

// PutPublicKey stores or overwrites the key keyed by its DID.
func (m *Memory) PutPublicKey(ctx context.Context, entry model.PublicKeyEntry) error {
	m.muKeys.Lock()
	defer m.muKeys.Unlock()
	m.keys[entry.DID] = entry
	return nil
}

// GetPublicKey retrieves a key by DID. Returns ErrNotFound when no key exists.
func (m *Memory) GetPublicKey(ctx context.Context, did string) (model.PublicKeyEntry, error) {
	m.muKeys.RLock()
	defer m.muKeys.RUnlock()
	entry, ok := m.keys[did]
	if !ok {
		return model.PublicKeyEntry{}, ErrNotFound
	}
	return entry, nil
}

// PutChallenge records a challenge; a duplicate value is a conflict.
func (m *Memory) PutChallenge(ctx context.Context, challenge model.Challenge) error {
	m.muChallenges.Lock()
	defer m.muChallenges.Unlock()
	if _, ok := m.challenges[challenge.Value]; ok {
		return ErrConflict
	}
	m.challenges[challenge.Value] = challenge
	return nil
}

// ConsumeChallenge marks the challenge used exactly once.
func (m *Memory) ConsumeChallenge(ctx context.Context, value string, now time.Time) (model.Challenge, error) {
	m.muChallenges.Lock()
	defer m.muChallenges.Unlock()
	c, ok := m.challenges[value]
	if !ok || c.Used || !now.Before(c.ExpiresAt) {
		return model.Challenge{}, ErrNotFound
	}
	c.Used = true
	m.challenges[value] = c
	return c, nil
}

// CleanupExpired drops challenges whose expiry is not after now.
func (m *Memory) CleanupExpired(ctx context.Context, now time.Time) error {
	m.muChallenges.Lock()
	defer m.muChallenges.Unlock()
	for k, c := range m.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(m.challenges, k)
		}
	}
	return nil
}

// Remember caches a response under key.
func (m *Memory) Remember(ctx context.Context, key string, response StoredResponse) error {
	m.muIdem.Lock()
	defer m.muIdem.Unlock()
	m.idem[key] = response
	return nil
}

// Recall returns a cached response that has not expired.
func (m *Memory) Recall(ctx context.Context, key string) (StoredResponse, bool) {
	m.muIdem.Lock()
	defer m.muIdem.Unlock()
	resp, ok := m.idem[key]
	if !ok {
		return StoredResponse{}, false
	}
	if time.Now().After(resp.ExpiresAt) {
		delete(m.idem, key)
		return StoredResponse{}, false
	}
	return resp, true
}
