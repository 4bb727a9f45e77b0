package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/alanyoungcy/divasettle/internal/blob/s3"
	"github.com/alanyoungcy/divasettle/internal/cache/redis"
	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/config"
	"github.com/alanyoungcy/divasettle/internal/crypto"
	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/governance"
	"github.com/alanyoungcy/divasettle/internal/ledger"
	"github.com/alanyoungcy/divasettle/internal/oracle"
	"github.com/alanyoungcy/divasettle/internal/ownership"
	"github.com/alanyoungcy/divasettle/internal/platform/offerapi"
	"github.com/alanyoungcy/divasettle/internal/server/handler"
	"github.com/alanyoungcy/divasettle/internal/service"
	"github.com/alanyoungcy/divasettle/internal/store/postgres"
	"github.com/alanyoungcy/divasettle/internal/token"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	OfferStore *postgres.OfferStore
	EventStore domain.EventStore
	AuditStore domain.AuditStore

	// Caches
	OfferCache  domain.OfferCache
	RateLimiter *redis.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, nil unless archiving.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Ledger
	Tokens    *token.Ledger
	Ledger    *ledger.Ledger
	Publisher *service.EventPublisher

	// Ownership: Election on a primary, Book and Mirror on a secondary.
	Election *ownership.Election
	Book     *oracle.Book
	Mirror   *ownership.Mirror

	Signer  *crypto.Signer
	Offers  *service.OfferService
	Archive *service.ArchiveService

	// HealthChecks probes every external dependency.
	HealthChecks map[string]handler.HealthCheck
}

// defaultRemoteWindow is the window of the remote offer store request
// budget.
const defaultRemoteWindow = time.Minute

// needsS3 reports whether object storage must be connected.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || cfg.Mode == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}
	clk := clock.System{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.OfferStore = postgres.NewOfferStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.OfferCache = redis.NewOfferCache(redisClient, cfg.Redis.OfferTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		blobs := s3blob.NewStore(s3Client)
		deps.BlobReader = blobs
		deps.Archiver = s3blob.NewArchiver(blobs, deps.OfferStore, deps.AuditStore)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Ledger ---
	deps.Publisher = service.NewEventPublisher(deps.SignalBus, deps.EventStore, logger)

	ledgerAddr := common.HexToAddress(cfg.Chain.LedgerAddress)
	deps.Tokens = token.NewLedger(ledgerAddr)
	symbols, err := registerCollateral(deps.Tokens, cfg.Ledger.Collateral, logger)
	if err != nil {
		return fail("collateral", err)
	}

	params, err := newParameters(cfg, clock.Unix(clk))
	if err != nil {
		return fail("governance", err)
	}

	initialOwner := common.HexToAddress(cfg.Ledger.Owner)
	var owner ledger.OwnerProvider
	switch cfg.Ledger.Role {
	case "secondary":
		contract := common.HexToAddress(cfg.Oracle.OwnershipContract)
		queryID, err := oracle.OwnershipQueryID(contract, cfg.Chain.ChainID)
		if err != nil {
			return fail("ownership query", err)
		}
		deps.Book = oracle.NewBook()
		adapter := oracle.NewAdapter(deps.Book, clk, cfg.Oracle.DisputeWindow.Duration)
		deps.Mirror = ownership.NewMirror(initialOwner, adapter, queryID, clk, deps.Publisher, logger)
		owner = deps.Mirror
	default:
		deps.Election, err = ownership.NewElection(ownership.ElectionConfig{
			Address:      electionAddress(cfg, ledgerAddr),
			InitialOwner: initialOwner,
			StakeToken:   symbols[cfg.Ledger.StakeToken],
			Tokens:       deps.Tokens,
			Clock:        clk,
			Sink:         deps.Publisher,
			Logger:       logger,
		})
		if err != nil {
			return fail("ownership election", err)
		}
		owner = deps.Election
	}

	deps.Ledger, err = ledger.New(ledger.Config{
		ChainID: cfg.Chain.ChainID,
		Address: ledgerAddr,
		Tokens:  deps.Tokens,
		Params:  params,
		Owner:   owner,
		Clock:   clk,
		Sink:    deps.Publisher,
		Logger:  logger,
	})
	if err != nil {
		return fail("ledger", err)
	}

	// --- Offers ---
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wallet", err)
		}
		deps.Signer, err = crypto.NewSigner(key)
		if err != nil {
			return fail("wallet", err)
		}
		logger.Info("wire: maker key loaded", slog.String("maker", deps.Signer.Address().Hex()))
	}

	deps.Offers = service.NewOfferService(
		deps.Ledger, deps.OfferStore, deps.OfferCache, deps.LockManager, deps.RateLimiter,
		deps.SignalBus, deps.AuditStore, deps.Signer, clk, logger,
	)
	if cfg.OfferStore.URL != "" {
		remote := offerapi.NewClient(cfg.OfferStore.URL, cfg.OfferStore.APIKey,
			offerapi.WithLimiter(deps.RateLimiter, cfg.OfferStore.RequestLimit, defaultRemoteWindow),
		)
		deps.Offers.WithRemote(remote)
	}

	if deps.Archiver != nil {
		deps.Archive = service.NewArchiveService(
			deps.Ledger, deps.Archiver,
			cfg.Archive.OfferRetention.Duration, cfg.Archive.Interval.Duration,
			clk, logger,
		)
	}

	return deps, cleanup, nil
}

// registerCollateral registers or deploys every configured collateral
// token, applies its startup mints and returns the address per symbol.
func registerCollateral(tokens *token.Ledger, collateral []config.CollateralConfig, logger *slog.Logger) (map[string]common.Address, error) {
	symbols := make(map[string]common.Address, len(collateral))
	for _, col := range collateral {
		var addr common.Address
		if col.Address == "" {
			addr = tokens.Deploy(col.Symbol, col.Decimals)
		} else {
			addr = common.HexToAddress(col.Address)
			if err := tokens.Register(addr, col.Symbol, col.Decimals); err != nil {
				return nil, fmt.Errorf("register %s: %w", col.Symbol, err)
			}
		}
		symbols[col.Symbol] = addr

		for _, m := range col.Mint {
			amount, err := config.ParseAmount(m.Amount)
			if err != nil {
				return nil, fmt.Errorf("mint %s: %w", col.Symbol, err)
			}
			if err := tokens.Mint(addr, common.HexToAddress(m.To), amount); err != nil {
				return nil, fmt.Errorf("mint %s: %w", col.Symbol, err)
			}
		}
		logger.Info("wire: collateral registered",
			slog.String("symbol", col.Symbol),
			slog.String("address", addr.Hex()),
			slog.Int("decimals", int(col.Decimals)),
			slog.Int("mints", len(col.Mint)),
		)
	}
	return symbols, nil
}

func newParameters(cfg *config.Config, now uint64) (*governance.Parameters, error) {
	protocolFee, err := config.ParseAmount(cfg.Ledger.ProtocolFee)
	if err != nil {
		return nil, err
	}
	settlementFee, err := config.ParseAmount(cfg.Ledger.SettlementFee)
	if err != nil {
		return nil, err
	}
	seconds := func(d time.Duration) uint64 { return uint64(d / time.Second) }
	return governance.NewParameters(governance.Initial{
		Fees: domain.Fees{ProtocolFee: protocolFee, SettlementFee: settlementFee},
		Periods: domain.SettlementPeriods{
			SubmissionPeriod:         seconds(cfg.Ledger.SubmissionPeriod.Duration),
			ChallengePeriod:          seconds(cfg.Ledger.ChallengePeriod.Duration),
			ReviewPeriod:             seconds(cfg.Ledger.ReviewPeriod.Duration),
			FallbackSubmissionPeriod: seconds(cfg.Ledger.FallbackSubmissionPeriod.Duration),
		},
		Treasury:         common.HexToAddress(cfg.Ledger.Treasury),
		FallbackProvider: common.HexToAddress(cfg.Ledger.FallbackDataProvider),
	}, now)
}

// electionAddress is the account holding election stakes: the configured
// ownership contract, or an address derived from the ledger address.
func electionAddress(cfg *config.Config, ledgerAddr common.Address) common.Address {
	if cfg.Oracle.OwnershipContract != "" {
		return common.HexToAddress(cfg.Oracle.OwnershipContract)
	}
	return common.BytesToAddress(ethcrypto.Keccak256(ledgerAddr.Bytes(), []byte("ownership")))
}
