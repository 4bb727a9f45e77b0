package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/crypto"
	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/governance"
	"github.com/alanyoungcy/divasettle/internal/ledger"
	"github.com/alanyoungcy/divasettle/internal/token"
)

const (
	t0  = uint64(1_700_000_000)
	day = uint64(24 * 60 * 60)
)

var (
	ledgerAddr   = common.HexToAddress("0x0000000000000000000000000000000000001000")
	usdc         = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	owner        = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	treasury     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	dataProvider = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	taker        = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	clock  *clock.Manual
	tokens *token.Ledger
	ledger *ledger.Ledger
	store  *memOfferStore
	cache  *memOfferCache
	locks  *memLocks
	bus    *memBus
	audit  *memAudit
	svc    *OfferService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens := token.NewLedger(ledgerAddr)
	require.NoError(t, tokens.Register(usdc, "USDC", 6))
	params, err := governance.NewParameters(governance.Initial{
		Fees:             governance.DefaultFees(),
		Periods:          governance.DefaultSettlementPeriods(),
		Treasury:         treasury,
		FallbackProvider: treasury,
	}, t0)
	require.NoError(t, err)

	clk := clock.NewManual(t0)
	l, err := ledger.New(ledger.Config{
		ChainID: 1,
		Address: ledgerAddr,
		Tokens:  tokens,
		Params:  params,
		Owner:   ledger.StaticOwner(owner),
		Clock:   clk,
	})
	require.NoError(t, err)

	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	for _, a := range []common.Address{signer.Address(), taker} {
		require.NoError(t, tokens.Mint(usdc, a, big.NewInt(1_000_000_000_000)))
		require.NoError(t, tokens.Approve(usdc, a, ledgerAddr, big.NewInt(1_000_000_000_000)))
	}

	f := &fixture{
		clock:  clk,
		tokens: tokens,
		ledger: l,
		store:  newMemOfferStore(),
		cache:  newMemOfferCache(),
		locks:  &memLocks{},
		bus:    newMemBus(),
		audit:  &memAudit{},
	}
	f.svc = NewOfferService(l, f.store, f.cache, f.locks, nil, f.bus, f.audit, signer, clk, discardLogger())
	return f
}

func dec18(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), domain.Unit)
}

func (f *fixture) signedCreateOffer(t *testing.T, makerAmount, takerAmount, minimum int64) domain.SignedOffer {
	t.Helper()
	o, err := f.svc.BuildCreateOffer(domain.OfferCreateContingentPool{
		MakerCollateralAmount:  big.NewInt(makerAmount),
		TakerCollateralAmount:  big.NewInt(takerAmount),
		MakerIsLong:            true,
		MinimumTakerFillAmount: big.NewInt(minimum),
		ReferenceAsset:         "ETH/USD",
		ExpiryTime:             t0 + 30*day,
		Floor:                  dec18(1000),
		Inflection:             dec18(1500),
		Cap:                    dec18(2000),
		Gradient:               big.NewInt(500_000),
		CollateralToken:        usdc,
		DataProvider:           dataProvider,
		Capacity:               big.NewInt(1_000_000_000_000),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Sign(&o))
	return o
}

func TestOfferService_BuildDefaults(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.BuildAddLiquidityOffer(domain.OfferAddLiquidity{
		MakerCollateralAmount: big.NewInt(1),
		TakerCollateralAmount: big.NewInt(1),
	})
	require.NoError(t, err)
	require.NotNil(t, o.AddLiquidity)
	assert.Equal(t, domain.OfferKindAddLiquidity, o.Kind)
	assert.Equal(t, f.svc.Maker(), o.AddLiquidity.Maker)
	assert.NotNil(t, o.AddLiquidity.Salt)
	assert.Equal(t, t0+uint64(DefaultOfferLifetime.Seconds()), o.AddLiquidity.OfferExpiry)
	assert.Zero(t, o.AddLiquidity.MinimumTakerFillAmount.Sign())

	other, err := f.svc.BuildAddLiquidityOffer(domain.OfferAddLiquidity{})
	require.NoError(t, err)
	assert.NotEqual(t, 0, o.AddLiquidity.Salt.Cmp(other.AddLiquidity.Salt), "salts should be random")

	fixed, err := f.svc.BuildRemoveLiquidityOffer(domain.OfferRemoveLiquidity{Salt: big.NewInt(9), OfferExpiry: t0 + 5})
	require.NoError(t, err)
	assert.Equal(t, int64(9), fixed.RemoveLiquidity.Salt.Int64())
	assert.Equal(t, t0+5, fixed.RemoveLiquidity.OfferExpiry)
}

func TestOfferService_PublishFetchFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)

	published, err := f.svc.Publish(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, o.OfferHash, published.OfferHash)
	assert.False(t, published.CreatedAt.IsZero())
	assert.Equal(t, 1, f.bus.count(domain.ChannelOffers))
	assert.Contains(t, f.audit.events, "offer.published")

	got, err := f.svc.Fetch(ctx, o.Kind, o.OfferHash)
	require.NoError(t, err)
	assert.Equal(t, o.OfferHash, got.OfferHash)
	assert.Zero(t, f.store.gets, "cached offers should not hit the store")

	st, err := f.svc.State(got)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusFillable, st.Info.Status)
	assert.True(t, st.IsSignatureValid)

	res, err := f.svc.Fill(ctx, taker, o.Kind, o.OfferHash, big.NewInt(80_000_000))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, res.PoolID)

	pool, err := f.ledger.GetPoolParameters(res.PoolID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), pool.CollateralBalance.Int64())

	st, err = f.svc.State(got)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusFilled, st.Info.Status)
	assert.Contains(t, f.audit.events, "offer.filled")
	assert.Empty(t, f.locks.held, "fill lock should be released")
}

func TestOfferService_FetchFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)
	_, err := f.svc.Publish(ctx, o)
	require.NoError(t, err)
	require.NoError(t, f.cache.Invalidate(ctx, o.Kind, o.OfferHash))

	_, err = f.svc.Fetch(ctx, o.Kind, o.OfferHash)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.gets)

	_, err = f.cache.Get(ctx, o.Kind, o.OfferHash)
	assert.NoError(t, err, "store hit should repopulate the cache")

	_, err = f.svc.Fetch(ctx, o.Kind, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Fetch(ctx, domain.OfferKind("swap"), o.OfferHash)
	assert.ErrorIs(t, err, domain.ErrInvalidOfferKind)
}

func TestOfferService_FetchFromRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)

	remote := &memRemote{offers: map[offerKey]domain.SignedOffer{{o.Kind, o.OfferHash}: o}}
	f.svc.WithRemote(remote)

	got, err := f.svc.Fetch(ctx, o.Kind, o.OfferHash)
	require.NoError(t, err)
	assert.Equal(t, o.OfferHash, got.OfferHash)

	_, err = f.store.Get(ctx, o.Kind, o.OfferHash)
	assert.NoError(t, err, "remote offers should be stored locally")

	tampered := o
	c := *o.Create
	c.MakerCollateralAmount = big.NewInt(1)
	tampered.Create = &c
	other := common.HexToHash("0x02")
	remote.offers[offerKey{o.Kind, other}] = tampered
	_, err = f.svc.Fetch(ctx, o.Kind, other)
	assert.ErrorIs(t, err, domain.ErrOfferHashMismatch)
}

func TestOfferService_PublishRelaysToRemote(t *testing.T) {
	f := newFixture(t)
	remote := &memRemote{}
	f.svc.WithRemote(remote)

	o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)
	_, err := f.svc.Publish(context.Background(), o)
	require.NoError(t, err)
	require.Len(t, remote.posted, 1)
	assert.Equal(t, o.OfferHash, remote.posted[0].OfferHash)
}

func TestOfferService_PublishRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("tampered fields", func(t *testing.T) {
		f := newFixture(t)
		o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)
		c := *o.Create
		c.TakerCollateralAmount = big.NewInt(1)
		o.Create = &c
		_, err := f.svc.Publish(ctx, o)
		assert.ErrorIs(t, err, domain.ErrOfferHashMismatch)
		assert.Empty(t, f.store.offers)
	})

	t.Run("foreign signature", func(t *testing.T) {
		f := newFixture(t)
		o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)
		other, err := crypto.GenerateSigner()
		require.NoError(t, err)
		o.Signature, err = other.SignDigest(o.OfferHash)
		require.NoError(t, err)
		_, err = f.svc.Publish(ctx, o)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		f := newFixture(t)
		o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)
		o.Kind = domain.OfferKindAddLiquidity
		_, err := f.svc.Publish(ctx, o)
		assert.ErrorIs(t, err, domain.ErrInvalidOfferKind)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t)
		f.svc.limiter = denyLimiter{}
		o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)
		_, err := f.svc.Publish(ctx, o)
		assert.ErrorIs(t, err, domain.ErrRateLimited)
	})
}

func TestOfferService_FillRespectsLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)
	_, err := f.svc.Publish(ctx, o)
	require.NoError(t, err)

	unlock, err := f.locks.Acquire(ctx, lockKeyPrefix+string(o.Kind)+":"+o.OfferHash.Hex(), fillLockTTL)
	require.NoError(t, err)

	_, err = f.svc.Fill(ctx, taker, o.Kind, o.OfferHash, big.NewInt(80_000_000))
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	_, err = f.svc.Fill(ctx, taker, o.Kind, o.OfferHash, big.NewInt(80_000_000))
	assert.NoError(t, err)
}

func TestOfferService_FillSurfacesLedgerErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 60_000_000)
	_, err := f.svc.Publish(ctx, o)
	require.NoError(t, err)

	_, err = f.svc.Fill(ctx, taker, o.Kind, o.OfferHash, big.NewInt(20_000_000))
	assert.ErrorIs(t, err, domain.ErrAmountTooSmall)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestOfferService_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.signedCreateOffer(t, 20_000_000, 80_000_000, 0)
	_, err := f.svc.Publish(ctx, o)
	require.NoError(t, err)

	err = f.svc.Cancel(ctx, taker, o.Kind, o.OfferHash)
	assert.ErrorIs(t, err, domain.ErrNotMaker)

	require.NoError(t, f.svc.Cancel(ctx, f.svc.Maker(), o.Kind, o.OfferHash))
	st, err := f.svc.State(o)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusCancelled, st.Info.Status)

	_, err = f.svc.Fill(ctx, taker, o.Kind, o.OfferHash, big.NewInt(80_000_000))
	assert.ErrorIs(t, err, domain.ErrOfferCancelled)
}

func TestOfferService_SignWithoutKey(t *testing.T) {
	f := newFixture(t)
	f.svc.signer = nil
	o := domain.SignedOffer{Kind: domain.OfferKindAddLiquidity, AddLiquidity: &domain.OfferAddLiquidity{}}
	assert.ErrorIs(t, f.svc.Sign(&o), domain.ErrUnauthorized)
}
