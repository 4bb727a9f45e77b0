// Package config defines the divasettle node configuration and its
// validation.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DIVA_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Wallet     WalletConfig     `toml:"wallet"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Oracle     OracleConfig     `toml:"oracle"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	OfferStore OfferStoreConfig `toml:"offer_store"`
	Archive    ArchiveConfig    `toml:"archive"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig identifies the typed-data domain offers are signed under.
type ChainConfig struct {
	ChainID int64 `toml:"chain_id"`
	// LedgerAddress is the verifying contract of the domain. It also holds
	// pool collateral and accrued fees.
	LedgerAddress string `toml:"ledger_address"`
}

// WalletConfig holds the maker key used to sign offers built by this node.
// Both fields empty runs the node without a signing key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LedgerConfig holds the initial governance parameters and the ledger role.
type LedgerConfig struct {
	// Role is "primary" (runs the ownership election) or "secondary"
	// (mirrors the owner from oracle reports).
	Role                 string `toml:"role"`
	Owner                string `toml:"owner"`
	Treasury             string `toml:"treasury"`
	FallbackDataProvider string `toml:"fallback_data_provider"`

	// Fees are 18-decimal fractions given as decimal integer strings,
	// e.g. "2500000000000000" for 0.25%.
	ProtocolFee   string `toml:"protocol_fee"`
	SettlementFee string `toml:"settlement_fee"`

	SubmissionPeriod         duration `toml:"submission_period"`
	ChallengePeriod          duration `toml:"challenge_period"`
	ReviewPeriod             duration `toml:"review_period"`
	FallbackSubmissionPeriod duration `toml:"fallback_submission_period"`

	Collateral []CollateralConfig `toml:"collateral"`
	// StakeToken is the symbol of the collateral token staked in the
	// ownership election.
	StakeToken string `toml:"stake_token"`
}

// CollateralConfig registers a collateral token with the token ledger.
type CollateralConfig struct {
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
	// Address is optional; a deterministic address is derived when empty.
	Address string       `toml:"address"`
	Mint    []MintConfig `toml:"mint"`
}

// MintConfig seeds a token balance at startup.
type MintConfig struct {
	To     string `toml:"to"`
	Amount string `toml:"amount"`
}

// OracleConfig configures the ownership report feed of a secondary ledger.
type OracleConfig struct {
	OwnershipContract string   `toml:"ownership_contract"`
	DisputeWindow     duration `toml:"dispute_window"`
	MaxAge            duration `toml:"max_age"`
	PollInterval      duration `toml:"poll_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	OfferTTL   duration `toml:"offer_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`

	// SignatureMaxSkew is how far a signed request timestamp may drift
	// from the server clock.
	SignatureMaxSkew duration `toml:"signature_max_skew"`
}

// OfferStoreConfig points at a remote offer store that published offers
// are forwarded to and unknown offers are fetched from. Empty URL disables
// it.
type OfferStoreConfig struct {
	URL          string `toml:"url"`
	APIKey       string `toml:"api_key"`
	RequestLimit int    `toml:"request_limit"`
}

// ArchiveConfig controls copying of confirmed pools and old offers to S3.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Interval       duration `toml:"interval"`
	OfferRetention duration `toml:"offer_retention"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

const day = 24 * time.Hour

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:       1,
			LedgerAddress: "0x000000000000000000000000000000000000d1a0",
		},
		Ledger: LedgerConfig{
			Role:                     "primary",
			ProtocolFee:              "2500000000000000",
			SettlementFee:            "500000000000000",
			SubmissionPeriod:         duration{7 * day},
			ChallengePeriod:          duration{3 * day},
			ReviewPeriod:             duration{5 * day},
			FallbackSubmissionPeriod: duration{10 * day},
			Collateral: []CollateralConfig{
				{Symbol: "USDC", Decimals: 6},
			},
			StakeToken: "USDC",
		},
		Oracle: OracleConfig{
			DisputeWindow: duration{12 * time.Hour},
			MaxAge:        duration{36 * time.Hour},
			PollInterval:  duration{time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "divasettle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			OfferTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "divasettle-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   300,
			RateWindow:  duration{time.Minute},

			SignatureMaxSkew: duration{5 * time.Minute},
		},
		OfferStore: OfferStoreConfig{
			RequestLimit: 60,
		},
		Archive: ArchiveConfig{
			Enabled:        true,
			Interval:       duration{time.Hour},
			OfferRetention: duration{90 * day},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Bounds of every settlement period.
const (
	minPeriod = 3 * day
	maxPeriod = 15 * day
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	errs = checkAddress(errs, "chain: ledger_address", c.Chain.LedgerAddress, true)

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Ledger
	switch c.Ledger.Role {
	case "primary", "secondary":
	default:
		errs = append(errs, fmt.Sprintf("ledger: role must be primary or secondary, got %q", c.Ledger.Role))
	}
	errs = checkAddress(errs, "ledger: owner", c.Ledger.Owner, true)
	errs = checkAddress(errs, "ledger: treasury", c.Ledger.Treasury, true)
	errs = checkAddress(errs, "ledger: fallback_data_provider", c.Ledger.FallbackDataProvider, true)
	errs = checkAmount(errs, "ledger: protocol_fee", c.Ledger.ProtocolFee)
	errs = checkAmount(errs, "ledger: settlement_fee", c.Ledger.SettlementFee)
	for name, p := range map[string]time.Duration{
		"submission_period":          c.Ledger.SubmissionPeriod.Duration,
		"challenge_period":           c.Ledger.ChallengePeriod.Duration,
		"review_period":              c.Ledger.ReviewPeriod.Duration,
		"fallback_submission_period": c.Ledger.FallbackSubmissionPeriod.Duration,
	} {
		if p < minPeriod || p > maxPeriod {
			errs = append(errs, fmt.Sprintf("ledger: %s must be within [3d, 15d], got %s", name, p))
		}
	}
	if len(c.Ledger.Collateral) == 0 {
		errs = append(errs, "ledger: at least one collateral token is required")
	}
	symbols := make(map[string]bool, len(c.Ledger.Collateral))
	for i, col := range c.Ledger.Collateral {
		prefix := fmt.Sprintf("ledger: collateral[%d]", i)
		if col.Symbol == "" {
			errs = append(errs, prefix+": symbol must not be empty")
		}
		if symbols[col.Symbol] {
			errs = append(errs, fmt.Sprintf("%s: duplicate symbol %q", prefix, col.Symbol))
		}
		symbols[col.Symbol] = true
		if col.Decimals < 6 || col.Decimals > 18 {
			errs = append(errs, fmt.Sprintf("%s: decimals must be within [6, 18], got %d", prefix, col.Decimals))
		}
		errs = checkAddress(errs, prefix+": address", col.Address, false)
		for j, m := range col.Mint {
			errs = checkAddress(errs, fmt.Sprintf("%s: mint[%d].to", prefix, j), m.To, true)
			errs = checkAmount(errs, fmt.Sprintf("%s: mint[%d].amount", prefix, j), m.Amount)
		}
	}
	if c.Ledger.Role == "primary" && !symbols[c.Ledger.StakeToken] {
		errs = append(errs, fmt.Sprintf("ledger: stake_token %q is not a configured collateral symbol", c.Ledger.StakeToken))
	}

	// Oracle
	if c.Ledger.Role == "secondary" {
		errs = checkAddress(errs, "oracle: ownership_contract", c.Oracle.OwnershipContract, true)
		if c.Oracle.DisputeWindow.Duration <= 0 {
			errs = append(errs, "oracle: dispute_window must be > 0")
		}
		if c.Oracle.MaxAge.Duration <= c.Oracle.DisputeWindow.Duration {
			errs = append(errs, "oracle: max_age must exceed dispute_window")
		}
		if c.Oracle.PollInterval.Duration <= 0 {
			errs = append(errs, "oracle: poll_interval must be > 0")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.Archive.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SignatureMaxSkew.Duration < 0 {
			errs = append(errs, "server: signature_max_skew must be >= 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Offer store
	if c.OfferStore.URL != "" && !strings.HasPrefix(c.OfferStore.URL, "http") {
		errs = append(errs, fmt.Sprintf("offer_store: url must be http(s), got %q", c.OfferStore.URL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkAddress(errs []string, field, v string, required bool) []string {
	if v == "" {
		if required {
			return append(errs, field+" must not be empty")
		}
		return errs
	}
	if !common.IsHexAddress(v) || common.HexToAddress(v) == (common.Address{}) {
		return append(errs, fmt.Sprintf("%s must be a non-zero hex address, got %q", field, v))
	}
	return errs
}

func checkAmount(errs []string, field, v string) []string {
	if _, err := ParseAmount(v); err != nil {
		return append(errs, fmt.Sprintf("%s: %v", field, err))
	}
	return errs
}

// ParseAmount parses a non-negative decimal integer string.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
