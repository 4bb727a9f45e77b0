package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies DIVA_* environment overrides. An empty path skips the file.
// The result is not validated; callers run Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deployment
// values without touching the TOML file. Only set, non-empty variables
// override.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "DIVA_CHAIN_ID")
	setStr(&cfg.Chain.LedgerAddress, "DIVA_CHAIN_LEDGER_ADDRESS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DIVA_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DIVA_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DIVA_WALLET_KEY_PASSWORD")

	// ── Ledger ──
	setStr(&cfg.Ledger.Role, "DIVA_LEDGER_ROLE")
	setStr(&cfg.Ledger.Owner, "DIVA_LEDGER_OWNER")
	setStr(&cfg.Ledger.Treasury, "DIVA_LEDGER_TREASURY")
	setStr(&cfg.Ledger.FallbackDataProvider, "DIVA_LEDGER_FALLBACK_DATA_PROVIDER")
	setStr(&cfg.Ledger.ProtocolFee, "DIVA_LEDGER_PROTOCOL_FEE")
	setStr(&cfg.Ledger.SettlementFee, "DIVA_LEDGER_SETTLEMENT_FEE")
	setStr(&cfg.Ledger.StakeToken, "DIVA_LEDGER_STAKE_TOKEN")

	// ── Oracle ──
	setStr(&cfg.Oracle.OwnershipContract, "DIVA_ORACLE_OWNERSHIP_CONTRACT")
	setDuration(&cfg.Oracle.DisputeWindow, "DIVA_ORACLE_DISPUTE_WINDOW")
	setDuration(&cfg.Oracle.MaxAge, "DIVA_ORACLE_MAX_AGE")
	setDuration(&cfg.Oracle.PollInterval, "DIVA_ORACLE_POLL_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DIVA_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DIVA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DIVA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DIVA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DIVA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DIVA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DIVA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DIVA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DIVA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DIVA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DIVA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DIVA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DIVA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DIVA_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "DIVA_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.OfferTTL, "DIVA_REDIS_OFFER_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DIVA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DIVA_S3_REGION")
	setStr(&cfg.S3.Bucket, "DIVA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DIVA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DIVA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DIVA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DIVA_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DIVA_SERVER_ENABLED")
	setStr(&cfg.Server.Host, "DIVA_SERVER_HOST")
	setInt(&cfg.Server.Port, "DIVA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DIVA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DIVA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DIVA_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DIVA_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignatureMaxSkew, "DIVA_SERVER_SIGNATURE_MAX_SKEW")

	// ── Offer store ──
	setStr(&cfg.OfferStore.URL, "DIVA_OFFER_STORE_URL")
	setStr(&cfg.OfferStore.APIKey, "DIVA_OFFER_STORE_API_KEY")
	setInt(&cfg.OfferStore.RequestLimit, "DIVA_OFFER_STORE_REQUEST_LIMIT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DIVA_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "DIVA_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.OfferRetention, "DIVA_ARCHIVE_OFFER_RETENTION")

	// ── Top-level ──
	setStr(&cfg.Mode, "DIVA_MODE")
	setStr(&cfg.LogLevel, "DIVA_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
