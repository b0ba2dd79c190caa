// Package wallet manages locally generated wallets: an ed25519 keypair
// addressed by its base58 public key plus a bcrypt password hash, persisted
// in a bbolt database.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

var bucketWallets = []byte("wallets")

const generatedPasswordBytes = 16

// Wallet is a stored wallet record.
type Wallet struct {
	PublicKey    string    `json:"pubkey"`
	SecretKey    string    `json:"secret_key"` // base58 ed25519 private key
	PasswordHash []byte    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Info is the public view of a wallet.
type Info struct {
	PublicKey string    `json:"pubkey"`
	CreatedAt time.Time `json:"created_at"`
}

// Info returns the wallet's public fields.
func (w Wallet) Info() Info {
	return Info{PublicKey: w.PublicKey, CreatedAt: w.CreatedAt}
}

// Store persists wallets in bbolt.
type Store struct {
	db         *bolt.DB
	bcryptCost int
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBcryptCost sets the bcrypt cost used for new passwords.
func WithBcryptCost(cost int) Option {
	return func(s *Store) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (creating if needed) the wallet database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open wallet store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWallets)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate wallet store: %w", err)
	}

	s := &Store{db: db, bcryptCost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create generates a keypair and a random password, stores the wallet and
// returns it together with the plaintext password. The password is not
// recoverable afterwards.
func (s *Store) Create(ctx context.Context) (Wallet, string, error) {
	password, err := GeneratePassword()
	if err != nil {
		return Wallet{}, "", err
	}
	w, err := s.CreateWithPassword(ctx, password)
	if err != nil {
		return Wallet{}, "", err
	}
	return w, password, nil
}

// CreateWithPassword generates a keypair and stores it under password.
func (s *Store) CreateWithPassword(_ context.Context, password string) (Wallet, error) {
	if password == "" {
		return Wallet{}, fmt.Errorf("create wallet: %w", ErrInvalidPassword)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Wallet{}, fmt.Errorf("generate keypair: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return Wallet{}, fmt.Errorf("hash password: %w", err)
	}

	w := Wallet{
		PublicKey:    base58.Encode(pub),
		SecretKey:    base58.Encode(priv),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return Wallet{}, fmt.Errorf("encode wallet: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWallets)
		if b.Get([]byte(w.PublicKey)) != nil {
			return ErrExists
		}
		return b.Put([]byte(w.PublicKey), raw)
	})
	if err != nil {
		return Wallet{}, fmt.Errorf("store wallet %s: %w", w.PublicKey, err)
	}
	return w, nil
}

// Get returns the wallet for pubkey or ErrNotFound.
func (s *Store) Get(_ context.Context, pubkey string) (Wallet, error) {
	var w Wallet
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketWallets).Get([]byte(pubkey))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &w)
	})
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet %s: %w", pubkey, err)
	}
	return w, nil
}

// Exists reports whether a wallet is stored under pubkey.
func (s *Store) Exists(ctx context.Context, pubkey string) (bool, error) {
	_, err := s.Get(ctx, pubkey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// VerifyPassword checks password against the stored hash. It returns
// ErrNotFound for unknown wallets and ErrInvalidPassword on mismatch.
func (s *Store) VerifyPassword(ctx context.Context, pubkey, password string) error {
	w, err := s.Get(ctx, pubkey)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword(w.PasswordHash, []byte(password)); err != nil {
		return fmt.Errorf("wallet %s: %w", pubkey, ErrInvalidPassword)
	}
	return nil
}

// List returns every stored wallet's public info in key order.
func (s *Store) List(_ context.Context) ([]Info, error) {
	var out []Info
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWallets).ForEach(func(_, v []byte) error {
			var w Wallet
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			out = append(out, w.Info())
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return out, nil
}

// GeneratePassword returns a random URL-safe password.
func GeneratePassword() (string, error) {
	buf := make([]byte, generatedPasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidPublicKey reports whether s decodes to an ed25519 public key.
func ValidPublicKey(s string) bool {
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == ed25519.PublicKeySize
}
