// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config populated with defaults.
// - Load layers a YAML file and GREENPOINTS_ environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"strings"
	"time"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// LedgerBackend selects the account ledger: memory or sqlite.
	LedgerBackend string `koanf:"ledger_backend"`

	// LedgerPath is the SQLite database file used by the sqlite backend.
	LedgerPath string `koanf:"ledger_path"`

	// ShardCount configures the number of shards in the in-memory ledger.
	ShardCount int `koanf:"shard_count"`

	// WalletPath is the bbolt file holding wallets.
	WalletPath string `koanf:"wallet_path"`

	// CatalogURL is the product catalog base URL. Empty selects the static catalog.
	CatalogURL       string `koanf:"catalog_url"`
	CatalogTimeoutMS int    `koanf:"catalog_timeout_ms"`

	// PoolSize is the reward pool distributed per round.
	PoolSize int64 `koanf:"pool_size"`

	// DistributionIntervalS enables the periodic distribution scheduler when > 0.
	DistributionIntervalS int `koanf:"distribution_interval_s"`

	// DedupeWindowS is the cooldown for identical submissions; DedupeSize caps tracked keys.
	DedupeWindowS int `koanf:"dedupe_window_s"`
	DedupeSize    int `koanf:"dedupe_size"`

	// PayoutWorkers and PayoutQueueSize size the disbursement worker pool.
	PayoutWorkers   int `koanf:"payout_workers"`
	PayoutQueueSize int `koanf:"payout_queue_size"`

	// JWTSecret signs session tokens issued at signin.
	JWTSecret string `koanf:"jwt_secret"`
	TokenTTLS int    `koanf:"token_ttl_s"`

	// SubmitRatePerMin and SubmitBurst bound validation requests per client.
	SubmitRatePerMin int `koanf:"submit_rate_per_min"`
	SubmitBurst      int `koanf:"submit_burst"`

	// TrustedProxies is a comma-separated list of proxy IPs or CIDRs whose
	// X-Real-IP / X-Forwarded-For headers name the client for rate limiting.
	// Empty trusts no proxy.
	TrustedProxies string `koanf:"trusted_proxies"`

	// MaxProofBytes caps the uploaded proof image size.
	MaxProofBytes int64 `koanf:"max_proof_bytes"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":5000",
		LedgerBackend:         LedgerMemory,
		LedgerPath:            "greenpoints.db",
		ShardCount:            8,
		WalletPath:            "wallets.db",
		CatalogURL:            "https://world.openfoodfacts.org",
		CatalogTimeoutMS:      5000,
		PoolSize:              1000,
		DistributionIntervalS: 0,
		DedupeWindowS:         3600,
		DedupeSize:            100_000,
		PayoutWorkers:         runtime.NumCPU(),
		PayoutQueueSize:       1024,
		JWTSecret:             "change-me",
		TokenTTLS:             3600,
		SubmitRatePerMin:      30,
		SubmitBurst:           10,
		MaxProofBytes:         10 << 20,
	}
}

// CatalogTimeout returns the catalog request timeout.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.CatalogTimeoutMS) * time.Millisecond
}

// DistributionInterval returns the scheduler period; zero disables it.
func (c *Config) DistributionInterval() time.Duration {
	return time.Duration(c.DistributionIntervalS) * time.Second
}

// DedupeWindow returns the duplicate-submission cooldown.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowS) * time.Second
}

// TokenTTL returns the session token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLS) * time.Second
}

// TrustedProxyList splits TrustedProxies into its non-empty entries.
func (c *Config) TrustedProxyList() []string {
	var out []string
	for _, e := range strings.Split(c.TrustedProxies, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
