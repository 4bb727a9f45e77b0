package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.OfferStore.APIKey)

	// Copy slices so callers cannot mutate the original through the copy.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Ledger.Collateral != nil {
		out.Ledger.Collateral = make([]CollateralConfig, len(cfg.Ledger.Collateral))
		for i, c := range cfg.Ledger.Collateral {
			c.Mint = append([]MintConfig(nil), c.Mint...)
			out.Ledger.Collateral[i] = c
		}
	}

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
