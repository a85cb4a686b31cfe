// Package gateway implements the challenge-response authentication flow.
//
// A client fetches a fresh challenge, signs "<scope>:<challenge>" with the
// private half of a key it registered earlier, and exchanges that possession
// proof for a short-lived session token. The session token is then redeemed
// for an opaque access token bound to the resource the scope grants.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/storage"
)

const (
	// DefaultTokenTTL is the lifetime of a session token.
	DefaultTokenTTL = 5 * time.Minute
	// DefaultChallengeTTL bounds how long a tracked challenge stays redeemable.
	DefaultChallengeTTL = 5 * time.Minute
	// DefaultIssuer is stamped into session tokens when none is configured.
	DefaultIssuer = "registryaccord-agentid"

	challengeBytes   = 32
	accessTokenBytes = 16
)

// Errors returned by gateway operations. Callers match them with errors.Is.
var (
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrSignatureInvalid  = errors.New("possession proof invalid")
	ErrScope             = errors.New("scope not permitted")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrMissingField      = errors.New("missing field")
	ErrInvalidKeyFormat  = errors.New("invalid key format")
	ErrChallenge         = errors.New("challenge invalid or already used")
	ErrClosed            = errors.New("gateway closed")
)

// FieldError names the absent field. It matches ErrMissingField.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string { return "missing field: " + e.Field }

func (e *FieldError) Unwrap() error { return ErrMissingField }

// Options configures a Gateway. Keys, Scopes and Secret are required.
type Options struct {
	Keys   storage.KeyStore
	Scopes ScopeTable
	Secret []byte
	Issuer string

	TokenTTL     time.Duration
	ChallengeTTL time.Duration

	// Challenges enables single-use challenges. When nil, any well-formed
	// challenge string is accepted and only the signature binds it.
	Challenges      storage.ChallengeStore
	CleanupInterval time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// AuthRequest is a possession proof submitted for a session token.
type AuthRequest struct {
	DID       string
	Proof     string // hex signature over PossessionMessage(Claims.Access, Challenge)
	Claims    Claims
	Challenge string
}

// SessionToken is a signed, short-lived token carrying subject and scope.
type SessionToken struct {
	Token     string
	Subject   string
	Scope     string
	ExpiresAt time.Time
}

// AccessToken is the opaque credential handed out on redemption.
type AccessToken struct {
	Token    string
	Resource string
}

// Gateway authenticates agents. All methods are safe for concurrent use.
type Gateway struct {
	keys         storage.KeyStore
	scopes       ScopeTable
	issuer       string
	tokenTTL     time.Duration
	challengeTTL time.Duration
	challenges   storage.ChallengeStore
	clock        func() time.Time
	logger       *slog.Logger

	secretMu sync.RWMutex
	secret   []byte

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// New validates opts and starts background cleanup when challenges are
// tracked. Call Shutdown to release it.
func New(opts Options) (*Gateway, error) {
	if opts.Keys == nil {
		return nil, errors.New("gateway: key store is required")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("gateway: token secret is required")
	}
	g := &Gateway{
		keys:         opts.Keys,
		scopes:       opts.Scopes,
		issuer:       opts.Issuer,
		tokenTTL:     opts.TokenTTL,
		challengeTTL: opts.ChallengeTTL,
		challenges:   opts.Challenges,
		clock:        opts.Clock,
		logger:       opts.Logger,
		secret:       append([]byte(nil), opts.Secret...),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	if g.issuer == "" {
		g.issuer = DefaultIssuer
	}
	if g.tokenTTL <= 0 {
		g.tokenTTL = DefaultTokenTTL
	}
	if g.challengeTTL <= 0 {
		g.challengeTTL = DefaultChallengeTTL
	}
	if g.clock == nil {
		g.clock = func() time.Time { return time.Now().UTC() }
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	if g.challenges != nil {
		interval := opts.CleanupInterval
		if interval <= 0 {
			interval = g.challengeTTL
		}
		go g.cleanupLoop(interval)
	} else {
		close(g.done)
	}
	return g, nil
}

// SingleUseChallenges reports whether challenges are tracked and consumed.
func (g *Gateway) SingleUseChallenges() bool {
	return g.challenges != nil
}

// Shutdown stops background work and wipes the token secret. Later calls to
// any operation return ErrClosed. It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(g.stop)

	var err error
	select {
	case <-g.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	g.secretMu.Lock()
	for i := range g.secret {
		g.secret[i] = 0
	}
	g.secret = nil
	g.secretMu.Unlock()
	return err
}

func (g *Gateway) cleanupLoop(interval time.Duration) {
	defer close(g.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := g.challenges.CleanupExpired(ctx, g.clock()); err != nil {
				g.logger.Warn("challenge cleanup failed", "error", err)
			}
			cancel()
		}
	}
}

// IssueChallenge returns 32 random bytes, hex encoded.
func (g *Gateway) IssueChallenge(ctx context.Context) (model.Challenge, error) {
	if g.closed.Load() {
		return model.Challenge{}, ErrClosed
	}
	value, err := randomHex(challengeBytes)
	if err != nil {
		return model.Challenge{}, err
	}
	c := model.Challenge{Value: value, ExpiresAt: g.clock().Add(g.challengeTTL)}
	if g.challenges != nil {
		if err := g.challenges.PutChallenge(ctx, c); err != nil {
			return model.Challenge{}, fmt.Errorf("store challenge: %w", err)
		}
	}
	return c, nil
}

// RegisterPublicKey associates keyText (PEM or base58 PKIX) with id,
// replacing any earlier key. Malformed input leaves the table untouched.
func (g *Gateway) RegisterPublicKey(ctx context.Context, id, keyText string) error {
	if g.closed.Load() {
		return ErrClosed
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return &FieldError{Field: "did"}
	}
	if strings.TrimSpace(keyText) == "" {
		return &FieldError{Field: "public_key"}
	}
	if !did.Valid(id) {
		return fmt.Errorf("%w: %q", did.ErrMalformed, id)
	}
	pub, err := keys.ParsePublicKey(keyText)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKeyFormat, err)
	}
	pemText, err := keys.MarshalPublicKeyPEM(pub)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKeyFormat, err)
	}
	entry := model.PublicKeyEntry{DID: id, Key: pub, PEM: pemText, RegisteredAt: g.clock()}
	if err := g.keys.PutPublicKey(ctx, entry); err != nil {
		return fmt.Errorf("store public key: %w", err)
	}
	g.logger.Info("public key registered", "did", id, "keyType", fmt.Sprintf("%T", pub))
	return nil
}

// Authenticate verifies a possession proof and mints a session token.
//
// Checks run in order: the identifier must have a registered key, the proof
// must verify over PossessionMessage(claims.access, challenge), and the scope
// must be present in the scope table.
func (g *Gateway) Authenticate(ctx context.Context, req AuthRequest) (SessionToken, error) {
	if g.closed.Load() {
		return SessionToken{}, ErrClosed
	}
	switch {
	case req.DID == "":
		return SessionToken{}, &FieldError{Field: "did"}
	case req.Proof == "":
		return SessionToken{}, &FieldError{Field: "proof"}
	case req.Claims.Access == "":
		return SessionToken{}, &FieldError{Field: "access"}
	case req.Challenge == "":
		return SessionToken{}, &FieldError{Field: "challenge"}
	}

	entry, err := g.keys.GetPublicKey(ctx, req.DID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return SessionToken{}, ErrUnknownIdentifier
		}
		return SessionToken{}, fmt.Errorf("lookup public key: %w", err)
	}

	now := g.clock()
	if g.challenges != nil {
		// Consumed before verification so a failed proof still burns it.
		if _, err := g.challenges.ConsumeChallenge(ctx, req.Challenge, now); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return SessionToken{}, ErrChallenge
			}
			return SessionToken{}, fmt.Errorf("consume challenge: %w", err)
		}
	}

	message := PossessionMessage(req.Claims.Access, req.Challenge)
	if !VerifyPossession(entry.Key, message, req.Proof) {
		g.logger.Info("possession proof rejected", "did", req.DID)
		return SessionToken{}, ErrSignatureInvalid
	}

	if _, ok := g.scopes.Lookup(req.Claims.Access); !ok {
		return SessionToken{}, fmt.Errorf("%w: %q", ErrScope, req.Claims.Access)
	}

	token, err := g.mintSession(req.DID, req.Claims.Access, now)
	if err != nil {
		return SessionToken{}, err
	}
	g.logger.Info("session issued", "did", req.DID, "scope", req.Claims.Access, "exp", token.ExpiresAt)
	return token, nil
}

// Redeem exchanges a session token for a fresh access token. Each call
// yields a new token.
func (g *Gateway) Redeem(ctx context.Context, token string) (AccessToken, error) {
	if g.closed.Load() {
		return AccessToken{}, ErrClosed
	}
	if strings.TrimSpace(token) == "" {
		return AccessToken{}, &FieldError{Field: "jwt"}
	}
	claims, err := g.parseSession(token)
	if err != nil {
		return AccessToken{}, err
	}
	resource, ok := g.scopes.Lookup(claims.Scope)
	if !ok {
		return AccessToken{}, fmt.Errorf("%w: %q", ErrScope, claims.Scope)
	}
	value, err := randomHex(accessTokenBytes)
	if err != nil {
		return AccessToken{}, err
	}
	g.logger.Info("session redeemed", "did", claims.Subject, "scope", claims.Scope, "jti", claims.ID)
	return AccessToken{Token: value, Resource: resource}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
