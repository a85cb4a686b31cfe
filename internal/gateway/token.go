package gateway

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionClaims is the payload of a session token.
type sessionClaims struct {
	Scope string `json:"scope"`
	jwtlib.RegisteredClaims
}

func (g *Gateway) mintSession(subject, scope string, now time.Time) (SessionToken, error) {
	expires := now.Add(g.tokenTTL)
	claims := sessionClaims{
		Scope: scope,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Issuer:    g.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	g.secretMu.RLock()
	defer g.secretMu.RUnlock()
	if g.secret == nil {
		return SessionToken{}, ErrClosed
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return SessionToken{}, fmt.Errorf("sign session token: %w", err)
	}
	return SessionToken{Token: signed, Subject: subject, Scope: scope, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// parseSession verifies signature first and claims second, so a tampered
// token is always ErrTokenInvalid even when it has also expired.
func (g *Gateway) parseSession(token string) (*sessionClaims, error) {
	g.secretMu.RLock()
	defer g.secretMu.RUnlock()
	if g.secret == nil {
		return nil, ErrClosed
	}

	claims := &sessionClaims{}
	_, err := jwtlib.ParseWithClaims(token, claims,
		func(*jwtlib.Token) (any, error) { return g.secret, nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(g.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(g.clock),
	)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Subject == "" || claims.Scope == "" {
		return nil, fmt.Errorf("%w: missing subject or scope", ErrTokenInvalid)
	}
	return claims, nil
}
