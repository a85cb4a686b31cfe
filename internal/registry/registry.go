// Package registry is the client side of the identity ledger. It serializes
// documents, bounds every round trip with a timeout and translates backend
// failures into a small set of errors callers can act on.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/storage"
)

// DefaultTimeout bounds a single ledger call when none is configured.
const DefaultTimeout = 5 * time.Second

var (
	// ErrUnavailable means the ledger could not be reached or did not answer
	// in time. It never means "not found".
	ErrUnavailable = errors.New("registry unavailable")
	// ErrInvalidDocument is returned for documents the ledger must not accept.
	ErrInvalidDocument = errors.New("invalid document")
)

// Client registers and resolves identity documents.
type Client struct {
	ledger  storage.Ledger
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New wraps ledger.
func New(ledger storage.Ledger, opts ...Option) *Client {
	c := &Client{ledger: ledger, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register submits doc under id. It returns true only when the ledger
// confirms the commit. Registering the same pair twice is safe.
func (c *Client) Register(ctx context.Context, id did.Identifier, doc model.DIDDocument) (bool, error) {
	if doc.ID != id.String() {
		return false, fmt.Errorf("%w: document id %q does not match %q", ErrInvalidDocument, doc.ID, id)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	receipt, err := c.ledger.Register(ctx, id.String(), string(payload))
	if err != nil {
		c.logger.Warn("ledger register failed", "did", id.String(), "error", err, "elapsed", time.Since(start))
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !receipt.Committed {
		c.logger.Info("ledger rejected document", "did", id.String())
		return false, nil
	}
	c.logger.Debug("ledger committed document", "did", id.String(), "txRef", receipt.TxRef)
	return true, nil
}

// Resolve fetches the document for id. A missing document is reported as
// (zero, false, nil).
func (c *Client) Resolve(ctx context.Context, id did.Identifier) (model.DIDDocument, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.ledger.Resolve(ctx, id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return model.DIDDocument{}, false, nil
	}
	if err != nil {
		c.logger.Warn("ledger resolve failed", "did", id.String(), "error", err)
		return model.DIDDocument{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Numbers stay json.Number so the document canonicalizes to the bytes
	// its owner signed.
	var doc model.DIDDocument
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		// The ledger answered but holds something we cannot read.
		return model.DIDDocument{}, false, fmt.Errorf("%w: stored document: %v", ErrInvalidDocument, err)
	}
	return doc, true, nil
}

// Ping reports ledger health when the backend supports it.
func (c *Client) Ping(ctx context.Context) error {
	p, ok := c.ledger.(storage.Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
