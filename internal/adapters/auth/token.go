// Package auth authenticates wallet owners by password or by a short-lived
// HS256 session token issued at signin.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuerName = "greenpoints"

// Tokens issues and verifies session tokens whose subject is the account ID.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

// WithTokenClock overrides the time source.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokens returns a token issuer signing with secret.
func NewTokens(secret string, ttl time.Duration, opts ...TokenOption) (*Tokens, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	t := &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for accountID and returns it with its expiry.
func (t *Tokens) Issue(accountID string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    issuerName,
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses token and returns its subject.
func (t *Tokens) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// LooksLikeToken reports whether credential has the three-part JWT shape.
func LooksLikeToken(credential string) bool {
	return strings.Count(credential, ".") == 2
}
