package service

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/crypto"
	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultOfferLifetime is applied by the Build helpers when no expiry
	// is given.
	DefaultOfferLifetime = 24 * time.Hour

	fillLockTTL    = 30 * time.Second
	publishLimit   = 20
	publishWindow  = time.Minute
	lockKeyPrefix  = "offer:"
	limitKeyPrefix = "publish:"
)

var maxSalt = new(big.Int).Lsh(big.NewInt(1), 256)

// RemoteOffers is a remote offer store that published offers are relayed
// to and missing offers are fetched from.
type RemoteOffers interface {
	Post(ctx context.Context, offer domain.SignedOffer) error
	Get(ctx context.Context, kind domain.OfferKind, hash common.Hash) (domain.SignedOffer, error)
}

// FillResult describes a successful fill.
type FillResult struct {
	Kind            domain.OfferKind
	OfferHash       common.Hash
	TakerFillAmount *big.Int
	// PoolID is set for create and add liquidity offers.
	PoolID common.Hash
}

// OfferService builds, signs, hosts and fills signed offers on top of the
// ledger.
type OfferService struct {
	ledger  *ledger.Ledger
	store   domain.OfferStore
	cache   domain.OfferCache
	locks   domain.LockManager
	limiter domain.RateLimiter
	bus     domain.SignalBus
	audit   domain.AuditStore
	signer  *crypto.Signer
	remote  RemoteOffers
	clock   clock.Clock
	logger  *slog.Logger
}

// NewOfferService creates an OfferService. signer may be nil on nodes
// that only host and fill offers.
func NewOfferService(
	l *ledger.Ledger,
	store domain.OfferStore,
	cache domain.OfferCache,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	signer *crypto.Signer,
	clk clock.Clock,
	logger *slog.Logger,
) *OfferService {
	if clk == nil {
		clk = clock.System{}
	}
	return &OfferService{
		ledger:  l,
		store:   store,
		cache:   cache,
		locks:   locks,
		limiter: limiter,
		bus:     bus,
		audit:   audit,
		signer:  signer,
		clock:   clk,
		logger:  logger.With(slog.String("component", "offer_service")),
	}
}

// WithRemote relays published offers to a remote offer store and falls
// back to it on lookups that miss locally.
func (s *OfferService) WithRemote(r RemoteOffers) *OfferService {
	s.remote = r
	return s
}

// Maker returns the address offers are built for, or the zero address
// when the node has no signing key.
func (s *OfferService) Maker() common.Address {
	if s.signer == nil {
		return common.Address{}
	}
	return s.signer.Address()
}

// BuildCreateOffer fills in maker, salt, expiry and minimum defaults.
func (s *OfferService) BuildCreateOffer(o domain.OfferCreateContingentPool) (domain.SignedOffer, error) {
	var err error
	o.Maker = s.Maker()
	o.Salt, o.OfferExpiry, o.MinimumTakerFillAmount, err = s.defaults(o.Salt, o.OfferExpiry, o.MinimumTakerFillAmount)
	if err != nil {
		return domain.SignedOffer{}, err
	}
	return domain.SignedOffer{Kind: domain.OfferKindCreateContingentPool, Create: &o}, nil
}

// BuildAddLiquidityOffer fills in maker, salt, expiry and minimum defaults.
func (s *OfferService) BuildAddLiquidityOffer(o domain.OfferAddLiquidity) (domain.SignedOffer, error) {
	var err error
	o.Maker = s.Maker()
	o.Salt, o.OfferExpiry, o.MinimumTakerFillAmount, err = s.defaults(o.Salt, o.OfferExpiry, o.MinimumTakerFillAmount)
	if err != nil {
		return domain.SignedOffer{}, err
	}
	return domain.SignedOffer{Kind: domain.OfferKindAddLiquidity, AddLiquidity: &o}, nil
}

// BuildRemoveLiquidityOffer fills in maker, salt, expiry and minimum
// defaults.
func (s *OfferService) BuildRemoveLiquidityOffer(o domain.OfferRemoveLiquidity) (domain.SignedOffer, error) {
	var err error
	o.Maker = s.Maker()
	o.Salt, o.OfferExpiry, o.MinimumTakerFillAmount, err = s.defaults(o.Salt, o.OfferExpiry, o.MinimumTakerFillAmount)
	if err != nil {
		return domain.SignedOffer{}, err
	}
	return domain.SignedOffer{Kind: domain.OfferKindRemoveLiquidity, RemoveLiquidity: &o}, nil
}

func (s *OfferService) defaults(salt *big.Int, expiry uint64, minimum *big.Int) (*big.Int, uint64, *big.Int, error) {
	if salt == nil {
		v, err := crand.Int(crand.Reader, maxSalt)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("offer_service: generate salt: %w", err)
		}
		salt = v
	}
	if expiry == 0 {
		expiry = uint64(s.clock.Now().Add(DefaultOfferLifetime).Unix())
	}
	if minimum == nil {
		minimum = new(big.Int)
	}
	return salt, expiry, minimum, nil
}

// Sign hashes the offer under the ledger's domain and signs it with the
// node key.
func (s *OfferService) Sign(o *domain.SignedOffer) error {
	if s.signer == nil {
		return fmt.Errorf("offer_service: sign: no signing key configured: %w", domain.ErrUnauthorized)
	}
	if err := s.signer.SignOffer(s.ledger.Domain(), o); err != nil {
		return fmt.Errorf("offer_service: sign: %w", err)
	}
	return nil
}

// Publish verifies a signed offer and makes it available to takers:
// stored, cached, announced on the bus and relayed to the remote store.
func (s *OfferService) Publish(ctx context.Context, o domain.SignedOffer) (domain.SignedOffer, error) {
	if err := checkKind(o); err != nil {
		return domain.SignedOffer{}, fmt.Errorf("offer_service: publish: %w", err)
	}
	hash, err := crypto.VerifyOffer(s.ledger.Domain(), o)
	if err != nil {
		return domain.SignedOffer{}, fmt.Errorf("offer_service: publish: %w", err)
	}
	o.OfferHash = hash

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, limitKeyPrefix+o.Maker().Hex(), publishLimit, publishWindow)
		if err != nil {
			return domain.SignedOffer{}, fmt.Errorf("offer_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.SignedOffer{}, domain.ErrRateLimited
		}
	}

	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.clock.Now().UTC()
	}
	if err := s.store.Save(ctx, o); err != nil {
		return domain.SignedOffer{}, fmt.Errorf("offer_service: save offer: %w", err)
	}
	s.cacheOffer(ctx, o)

	if payload, err := json.Marshal(o); err == nil && s.bus != nil {
		if err := s.bus.Publish(ctx, domain.ChannelOffers, payload); err != nil {
			s.logger.Warn("offer_service: bus publish failed",
				slog.String("offer_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.auditLog(ctx, "offer.published", map[string]any{
		"kind":       string(o.Kind),
		"offer_hash": hash.Hex(),
		"maker":      o.Maker().Hex(),
	})

	if s.remote != nil {
		if err := s.remote.Post(ctx, o); err != nil {
			return o, fmt.Errorf("offer_service: relay offer: %w", err)
		}
	}

	s.logger.Info("offer_service: offer published",
		slog.String("kind", string(o.Kind)),
		slog.String("offer_hash", hash.Hex()),
	)
	return o, nil
}

// Fetch returns an offer by kind and hash, reading through the cache, the
// store and finally the remote store.
func (s *OfferService) Fetch(ctx context.Context, kind domain.OfferKind, hash common.Hash) (domain.SignedOffer, error) {
	if !kind.Valid() {
		return domain.SignedOffer{}, fmt.Errorf("offer_service: fetch: %w", domain.ErrInvalidOfferKind)
	}

	if s.cache != nil {
		o, err := s.cache.Get(ctx, kind, hash)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("offer_service: cache read failed",
				slog.String("offer_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	o, err := s.store.Get(ctx, kind, hash)
	if err == nil {
		s.cacheOffer(ctx, o)
		return o, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.remote == nil {
		return domain.SignedOffer{}, fmt.Errorf("offer_service: fetch %s: %w", hash.Hex(), err)
	}

	o, err = s.remote.Get(ctx, kind, hash)
	if err != nil {
		return domain.SignedOffer{}, fmt.Errorf("offer_service: fetch remote %s: %w", hash.Hex(), err)
	}
	verified, err := crypto.VerifyOffer(s.ledger.Domain(), o)
	if err != nil {
		return domain.SignedOffer{}, fmt.Errorf("offer_service: fetch remote %s: %w", hash.Hex(), err)
	}
	if verified != hash {
		return domain.SignedOffer{}, fmt.Errorf("offer_service: fetch remote %s: %w", hash.Hex(), domain.ErrOfferHashMismatch)
	}
	o.OfferHash = verified
	o.CreatedAt = s.clock.Now().UTC()
	if err := s.store.Save(ctx, o); err != nil {
		s.logger.Warn("offer_service: save remote offer failed",
			slog.String("offer_hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
	}
	s.cacheOffer(ctx, o)
	return o, nil
}

// State resolves an offer against the current ledger state.
func (s *OfferService) State(o domain.SignedOffer) (domain.OfferState, error) {
	if err := checkKind(o); err != nil {
		return domain.OfferState{}, fmt.Errorf("offer_service: state: %w", err)
	}
	switch o.Kind {
	case domain.OfferKindCreateContingentPool:
		return s.ledger.GetOfferRelevantStateCreateContingentPool(o.Create, o.Signature)
	case domain.OfferKindAddLiquidity:
		return s.ledger.GetOfferRelevantStateAddLiquidity(o.AddLiquidity, o.Signature)
	default:
		return s.ledger.GetOfferRelevantStateRemoveLiquidity(o.RemoveLiquidity, o.Signature)
	}
}

// Fill fills a hosted offer on behalf of caller. Fills of the same offer
// are serialised across relay instances by a distributed lock.
func (s *OfferService) Fill(ctx context.Context, caller common.Address, kind domain.OfferKind, hash common.Hash, takerFillAmount *big.Int) (FillResult, error) {
	o, err := s.Fetch(ctx, kind, hash)
	if err != nil {
		return FillResult{}, err
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, lockKeyPrefix+string(kind)+":"+hash.Hex(), fillLockTTL)
		if err != nil {
			return FillResult{}, fmt.Errorf("offer_service: fill lock %s: %w", hash.Hex(), err)
		}
		defer unlock()
	}

	res := FillResult{Kind: kind, OfferHash: hash, TakerFillAmount: takerFillAmount}
	switch kind {
	case domain.OfferKindCreateContingentPool:
		res.PoolID, err = s.ledger.FillOfferCreateContingentPool(caller, o.Create, o.Signature, takerFillAmount)
	case domain.OfferKindAddLiquidity:
		res.PoolID = o.AddLiquidity.PoolID
		err = s.ledger.FillOfferAddLiquidity(caller, o.AddLiquidity, o.Signature, takerFillAmount)
	default:
		err = s.ledger.FillOfferRemoveLiquidity(caller, o.RemoveLiquidity, o.Signature, takerFillAmount)
	}
	if err != nil {
		return FillResult{}, fmt.Errorf("offer_service: fill %s: %w", hash.Hex(), err)
	}

	s.auditLog(ctx, "offer.filled", map[string]any{
		"kind":       string(kind),
		"offer_hash": hash.Hex(),
		"taker":      caller.Hex(),
		"amount":     takerFillAmount.String(),
	})
	s.logger.Info("offer_service: offer filled",
		slog.String("kind", string(kind)),
		slog.String("offer_hash", hash.Hex()),
		slog.String("amount", takerFillAmount.String()),
	)
	return res, nil
}

// Cancel cancels a hosted offer. Only the maker may cancel.
func (s *OfferService) Cancel(ctx context.Context, caller common.Address, kind domain.OfferKind, hash common.Hash) error {
	o, err := s.Fetch(ctx, kind, hash)
	if err != nil {
		return err
	}

	switch kind {
	case domain.OfferKindCreateContingentPool:
		err = s.ledger.CancelOfferCreateContingentPool(caller, o.Create)
	case domain.OfferKindAddLiquidity:
		err = s.ledger.CancelOfferAddLiquidity(caller, o.AddLiquidity)
	default:
		err = s.ledger.CancelOfferRemoveLiquidity(caller, o.RemoveLiquidity)
	}
	if err != nil {
		return fmt.Errorf("offer_service: cancel %s: %w", hash.Hex(), err)
	}

	s.auditLog(ctx, "offer.cancelled", map[string]any{
		"kind":       string(kind),
		"offer_hash": hash.Hex(),
	})
	return nil
}

// ListByMaker returns stored offers of maker, newest first.
func (s *OfferService) ListByMaker(ctx context.Context, maker common.Address, opts domain.ListOpts) ([]domain.SignedOffer, error) {
	out, err := s.store.ListByMaker(ctx, maker, opts)
	if err != nil {
		return nil, fmt.Errorf("offer_service: list by maker: %w", err)
	}
	return out, nil
}

// ListByPool returns stored liquidity offers referencing poolID.
func (s *OfferService) ListByPool(ctx context.Context, poolID common.Hash, opts domain.ListOpts) ([]domain.SignedOffer, error) {
	out, err := s.store.ListByPool(ctx, poolID, opts)
	if err != nil {
		return nil, fmt.Errorf("offer_service: list by pool: %w", err)
	}
	return out, nil
}

func (s *OfferService) cacheOffer(ctx context.Context, o domain.SignedOffer) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, o); err != nil {
		s.logger.Warn("offer_service: cache write failed",
			slog.String("offer_hash", o.OfferHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OfferService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.Warn("offer_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// checkKind reports whether Kind names the variant that is set.
func checkKind(o domain.SignedOffer) error {
	var ok bool
	switch o.Kind {
	case domain.OfferKindCreateContingentPool:
		ok = o.Create != nil
	case domain.OfferKindAddLiquidity:
		ok = o.AddLiquidity != nil
	case domain.OfferKindRemoveLiquidity:
		ok = o.RemoveLiquidity != nil
	}
	if !ok {
		return domain.ErrInvalidOfferKind
	}
	return nil
}
