package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

const badgerDocPrefix = "did/"

type badgerRecord struct {
	Document    string    `json:"document"`
	TxRef       string    `json:"txRef"`
	CommittedAt time.Time `json:"committedAt"`
}

// Badger is an embedded, durable Ledger for single-node deployments.
type Badger struct {
	db *badger.DB
}

// NewBadger opens (or creates) a ledger at path. An empty path keeps the
// database in memory.
func NewBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close flushes and closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// Ping fails once the database has been closed.
func (b *Badger) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

// Register writes the document in a single transaction. An identical
// document keeps its original transaction reference.
func (b *Badger) Register(ctx context.Context, did, documentJSON string) (model.LedgerReceipt, error) {
	if err := ctx.Err(); err != nil {
		return model.LedgerReceipt{}, err
	}
	key := []byte(badgerDocPrefix + did)
	var receipt model.LedgerReceipt
	err := b.db.Update(func(txn *badger.Txn) error {
		if existing, err := readBadgerRecord(txn, key); err == nil && existing.Document == documentJSON {
			receipt = model.LedgerReceipt{Committed: true, TxRef: existing.TxRef}
			return nil
		} else if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		rec := badgerRecord{Document: documentJSON, TxRef: uuid.NewString(), CommittedAt: time.Now().UTC()}
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(key, val); err != nil {
			return err
		}
		receipt = model.LedgerReceipt{Committed: true, TxRef: rec.TxRef}
		return nil
	})
	if err != nil {
		return model.LedgerReceipt{}, fmt.Errorf("badger register: %w", err)
	}
	return receipt, nil
}

// Resolve returns the stored document or ErrNotFound.
func (b *Badger) Resolve(ctx context.Context, did string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var doc string
	err := b.db.View(func(txn *badger.Txn) error {
		rec, err := readBadgerRecord(txn, []byte(badgerDocPrefix+did))
		if err != nil {
			return err
		}
		doc = rec.Document
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("badger resolve: %w", err)
	}
	return doc, nil
}

func readBadgerRecord(txn *badger.Txn, key []byte) (badgerRecord, error) {
	item, err := txn.Get(key)
	if err != nil {
		return badgerRecord{}, err
	}
	var rec badgerRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}
