// Package payout disburses reward units to wallets through a local token
// mint. Each transfer is signed by the mint authority and identified by the
// base58 signature.
package payout

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
)

// Sentinel kinds for payout errors.
var (
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// Minter is an in-process token mint. It tracks every holder's minted
// balance and the total supply.
type Minter struct {
	authority ed25519.PrivateKey
	address   string

	mu       sync.RWMutex
	balances map[string]int64
	supply   int64
	nonce    uint64
}

// MinterOption configures a Minter.
type MinterOption func(*Minter)

// WithAuthority sets the mint authority key. By default a fresh key is generated.
func WithAuthority(key ed25519.PrivateKey) MinterOption {
	return func(m *Minter) {
		if len(key) == ed25519.PrivateKeySize {
			m.authority = key
		}
	}
}

// NewMinter returns a mint with zero supply.
func NewMinter(opts ...MinterOption) (*Minter, error) {
	m := &Minter{balances: make(map[string]int64)}
	for _, opt := range opts {
		opt(m)
	}
	if m.authority == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate mint authority: %w", err)
		}
		m.authority = priv
	}
	m.address = base58.Encode(m.authority.Public().(ed25519.PublicKey))
	return m, nil
}

// Address returns the mint authority's base58 public key.
func (m *Minter) Address() string { return m.address }

// Disburse mints units to accountID and returns the transfer signature.
func (m *Minter) Disburse(ctx context.Context, accountID string, units int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if units <= 0 {
		return "", fmt.Errorf("mint %d to %s: %w", units, accountID, ErrInvalidAmount)
	}
	recipient, err := base58.Decode(accountID)
	if err != nil || len(recipient) != ed25519.PublicKeySize {
		return "", fmt.Errorf("mint to %q: %w", accountID, ErrInvalidRecipient)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nonce++
	msg := make([]byte, 0, len(recipient)+16)
	msg = append(msg, recipient...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(units))
	msg = binary.BigEndian.AppendUint64(msg, m.nonce)
	sig := ed25519.Sign(m.authority, msg)

	m.balances[accountID] += units
	m.supply += units
	return base58.Encode(sig), nil
}

// BalanceOf returns the units minted to accountID so far.
func (m *Minter) BalanceOf(accountID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[accountID]
}

// Supply returns the total units minted.
func (m *Minter) Supply() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supply
}
