package config

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "GREENPOINTS_"
	envConfigPath = "GREENPOINTS_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if GREENPOINTS_CONFIG is set
//  3. env (prefix GREENPOINTS_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// GREENPOINTS_POOL_SIZE -> pool_size; underscores are kept to match the koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LedgerBackend != LedgerMemory && c.LedgerBackend != LedgerSQLite:
		return fmt.Errorf("%w: ledger_backend must be %q or %q, got %q", ErrInvalidConfig, LedgerMemory, LedgerSQLite, c.LedgerBackend)
	case c.LedgerBackend == LedgerSQLite && c.LedgerPath == "":
		return fmt.Errorf("%w: ledger_path is required for the sqlite backend", ErrInvalidConfig)
	case c.ShardCount <= 0:
		return fmt.Errorf("%w: shard_count must be positive", ErrInvalidConfig)
	case c.PoolSize <= 0:
		return fmt.Errorf("%w: pool_size must be positive", ErrInvalidConfig)
	case c.DistributionIntervalS < 0:
		return fmt.Errorf("%w: distribution_interval_s must not be negative", ErrInvalidConfig)
	case c.DedupeWindowS < 0 || c.DedupeSize < 0:
		return fmt.Errorf("%w: dedupe settings must not be negative", ErrInvalidConfig)
	case c.PayoutWorkers <= 0 || c.PayoutQueueSize <= 0:
		return fmt.Errorf("%w: payout_workers and payout_queue_size must be positive", ErrInvalidConfig)
	case c.JWTSecret == "":
		return fmt.Errorf("%w: jwt_secret must not be empty", ErrInvalidConfig)
	case c.MaxProofBytes <= 0:
		return fmt.Errorf("%w: max_proof_bytes must be positive", ErrInvalidConfig)
	}
	for _, p := range c.TrustedProxyList() {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("%w: trusted_proxies entry %q is not an IP or CIDR", ErrInvalidConfig, p)
		}
	}
	return nil
}
