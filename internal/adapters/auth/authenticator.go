package auth

import (
	"context"
	"errors"
	"fmt"
)

// PasswordVerifier checks a wallet password. Implementations return an error
// listed in NewAuthenticator for ordinary authentication failures.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, accountID, password string) error
}

// Authenticator accepts either a session token or the wallet password.
type Authenticator struct {
	passwords PasswordVerifier
	tokens    *Tokens
	// failures lists errors from passwords that mean "not authenticated"
	// rather than an infrastructure fault.
	failures []error
}

// NewAuthenticator builds an Authenticator. tokens may be nil to accept
// passwords only. failures are the verifier's sentinel errors for an unknown
// account or a wrong password.
func NewAuthenticator(passwords PasswordVerifier, tokens *Tokens, failures ...error) *Authenticator {
	return &Authenticator{passwords: passwords, tokens: tokens, failures: failures}
}

// Authenticate reports whether credential proves ownership of accountID.
func (a *Authenticator) Authenticate(ctx context.Context, accountID, credential string) (bool, error) {
	if accountID == "" || credential == "" {
		return false, nil
	}

	if a.tokens != nil && LooksLikeToken(credential) {
		subject, err := a.tokens.Verify(credential)
		if err != nil {
			return false, nil
		}
		return subject == accountID, nil
	}

	if a.passwords == nil {
		return false, nil
	}
	err := a.passwords.VerifyPassword(ctx, accountID, credential)
	if err == nil {
		return true, nil
	}
	for _, f := range a.failures {
		if errors.Is(err, f) {
			return false, nil
		}
	}
	return false, fmt.Errorf("verify password: %w", err)
}
