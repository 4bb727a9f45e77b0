package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

func TestComputeMakerFillAmount_FloorDivision(t *testing.T) {
	tests := []struct {
		name                string
		taker, maker, total int64
		want                int64
	}{
		{"six decimal example", 1_000_000, 20_000_000, 80_000_000, 250_000},
		{"exact", 60, 20, 80, 15},
		{"truncates", 1, 1, 3, 0},
		{"truncates large", 10, 7, 3, 23},
		{"zero taker total", 5, 5, 0, 0},
		{"full fill", 80, 20, 80, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeMakerFillAmount(big.NewInt(tt.taker), big.NewInt(tt.maker), big.NewInt(tt.total))
			assert.Equal(t, big.NewInt(tt.want), got)
		})
	}
}

func TestCheckFill(t *testing.T) {
	total, minimum := big.NewInt(80), big.NewInt(60)

	assert.ErrorIs(t, checkFill(big.NewInt(0), big.NewInt(59), minimum, total), domain.ErrAmountTooSmall)
	assert.NoError(t, checkFill(big.NewInt(0), big.NewInt(60), minimum, total))
	// The minimum no longer applies once something has been filled.
	assert.NoError(t, checkFill(big.NewInt(60), big.NewInt(20), minimum, total))
	assert.ErrorIs(t, checkFill(big.NewInt(60), big.NewInt(21), minimum, total), domain.ErrAmountExceedsRemaining)
	assert.ErrorIs(t, checkFill(big.NewInt(80), big.NewInt(1), minimum, total), domain.ErrOfferFullyFilled)
	assert.ErrorIs(t, checkFill(big.NewInt(10), big.NewInt(0), minimum, total), domain.ErrZeroAmount)
}

func TestFillOfferCreateContingentPool_Scenario(t *testing.T) {
	h := newHarness(t)
	o := h.createOffer(20_000_000, 80_000_000, 60_000_000)
	sig := h.signCreate(o)

	// Below the first-fill minimum.
	_, err := h.ledger.FillOfferCreateContingentPool(taker, o, sig, mustBig(20_000_000))
	require.ErrorIs(t, err, domain.ErrAmountTooSmall)

	poolID, err := h.ledger.FillOfferCreateContingentPool(taker, o, sig, mustBig(60_000_000))
	require.NoError(t, err)

	p := h.pool(poolID)
	// maker contributes floor(60 * 20 / 80) = 15
	assert.Equal(t, mustBig(75_000_000), p.CollateralBalance)
	assert.Equal(t, int64(75_000_000), h.balance(p.LongToken, h.maker.Address()))
	assert.Equal(t, int64(75_000_000), h.balance(p.ShortToken, taker))

	st, err := h.ledger.GetOfferRelevantStateCreateContingentPool(o, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusFillable, st.Info.Status)
	assert.True(t, st.PoolExists)
	assert.Equal(t, mustBig(20_000_000), st.ActualTakerFillableAmount)

	// The same amount that failed before now passes: the minimum applies once.
	samePool, err := h.ledger.FillOfferCreateContingentPool(taker, o, sig, mustBig(20_000_000))
	require.NoError(t, err)
	assert.Equal(t, poolID, samePool)

	p = h.pool(poolID)
	assert.Equal(t, mustBig(100_000_000), p.CollateralBalance)

	st, err = h.ledger.GetOfferRelevantStateCreateContingentPool(o, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusFilled, st.Info.Status)
	assert.Equal(t, mustBig(80_000_000), st.Info.TakerFilledAmount)
	assert.Zero(t, st.ActualTakerFillableAmount.Sign())

	_, err = h.ledger.FillOfferCreateContingentPool(taker, o, sig, mustBig(1))
	assert.ErrorIs(t, err, domain.ErrOfferFullyFilled)

	assert.Len(t, h.eventsOf(domain.EventPoolIssued), 1)
	assert.Len(t, h.eventsOf(domain.EventOfferFilled), 2)
	assert.Equal(t, poolID, h.ledger.GetPoolIDByTypedCreateOfferHash(st.Info.TypedOfferHash))
}

func TestFillOfferAddLiquidity_MonotonicFill(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(10_000_000)
	o := h.addOffer(poolID, 30_000_000, 90_000_000, 9_000_000)
	sig := h.signAdd(o)
	hash, err := h.ledger.Domain().HashAddLiquidityOffer(o)
	require.NoError(t, err)

	prev := big.NewInt(0)
	for _, fill := range []int64{9_000_000, 6_000_000, 30_000_000, 45_000_000} {
		require.NoError(t, h.ledger.FillOfferAddLiquidity(taker, o, sig, mustBig(fill)))
		cur := h.ledger.TakerFilledAmount(hash)
		assert.True(t, cur.Cmp(prev) > 0)
		assert.True(t, cur.Cmp(o.TakerCollateralAmount) <= 0)
		prev = cur
	}
	assert.Equal(t, mustBig(90_000_000), prev)

	st, err := h.ledger.GetOfferRelevantStateAddLiquidity(o, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusFilled, st.Info.Status)

	p := h.pool(poolID)
	assert.Equal(t, mustBig(10_000_000+30_000_000+90_000_000), p.CollateralBalance)
	// maker is short on this offer
	assert.Equal(t, int64(30_000_000+90_000_000), h.balance(p.ShortToken, h.maker.Address()))
}

func TestFillOffer_RejectsWithoutStateChange(t *testing.T) {
	h := newHarness(t)
	o := h.createOffer(20_000_000, 80_000_000, 0)
	sig := h.signCreate(o)
	hash, err := h.ledger.Domain().HashCreateOffer(o)
	require.NoError(t, err)

	t.Run("taker without allowance", func(t *testing.T) {
		poor := bob
		require.NoError(t, h.tokens.Approve(usdc, poor, ledgerAddr, big.NewInt(0)))
		events := len(h.events)

		_, err := h.ledger.FillOfferCreateContingentPool(poor, o, sig, mustBig(40_000_000))
		require.ErrorIs(t, err, domain.ErrInsufficientAllowance)

		assert.Zero(t, h.ledger.TakerFilledAmount(hash).Sign())
		assert.Len(t, h.events, events)
		pools, err := h.ledger.Pools()
		require.NoError(t, err)
		assert.Empty(t, pools)
	})

	t.Run("tampered offer", func(t *testing.T) {
		tampered := *o
		tampered.TakerCollateralAmount = mustBig(40_000_000)
		_, err := h.ledger.FillOfferCreateContingentPool(taker, &tampered, sig, mustBig(40_000_000))
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("reserved taker", func(t *testing.T) {
		reserved := *o
		reserved.Taker = alice
		_, err := h.ledger.FillOfferCreateContingentPool(taker, &reserved, h.signCreate(&reserved), mustBig(40_000_000))
		assert.ErrorIs(t, err, domain.ErrUnauthorizedTaker)
	})

	t.Run("expired offer", func(t *testing.T) {
		h.setTime(o.OfferExpiry)
		defer h.setTime(t0)
		_, err := h.ledger.FillOfferCreateContingentPool(taker, o, sig, mustBig(40_000_000))
		assert.ErrorIs(t, err, domain.ErrOfferExpired)
	})
}

func TestCancelOffer(t *testing.T) {
	h := newHarness(t)
	o := h.createOffer(20_000_000, 80_000_000, 0)
	sig := h.signCreate(o)

	assert.ErrorIs(t, h.ledger.CancelOfferCreateContingentPool(taker, o), domain.ErrNotMaker)

	_, err := h.ledger.FillOfferCreateContingentPool(taker, o, sig, mustBig(40_000_000))
	require.NoError(t, err)

	require.NoError(t, h.ledger.CancelOfferCreateContingentPool(h.maker.Address(), o))
	require.NoError(t, h.ledger.CancelOfferCreateContingentPool(h.maker.Address(), o))
	assert.Len(t, h.eventsOf(domain.EventOfferCancelled), 1)

	// Prior fills stand.
	st, err := h.ledger.GetOfferRelevantStateCreateContingentPool(o, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusCancelled, st.Info.Status)
	assert.Equal(t, mustBig(40_000_000), st.Info.TakerFilledAmount)

	_, err = h.ledger.FillOfferCreateContingentPool(taker, o, sig, mustBig(1_000_000))
	assert.ErrorIs(t, err, domain.ErrOfferCancelled)
}

func TestFillOfferRemoveLiquidity(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)
	p := h.pool(poolID)

	// The maker holds 40 long, the taker 40 short.
	require.NoError(t, h.tokens.Transfer(p.LongToken, alice, h.maker.Address(), mustBig(40_000_000)))
	require.NoError(t, h.tokens.Transfer(p.ShortToken, bob, taker, mustBig(40_000_000)))

	o := &domain.OfferRemoveLiquidity{
		Maker:                  h.maker.Address(),
		PositionTokenAmount:    mustBig(40_000_000),
		MakerCollateralAmount:  mustBig(10_000_000),
		MakerIsLong:            true,
		OfferExpiry:            t0 + day,
		MinimumTakerFillAmount: mustBig(0),
		PoolID:                 poolID,
		Salt:                   mustBig(3),
	}
	sig := h.signRemove(o)

	st, err := h.ledger.GetOfferRelevantStateRemoveLiquidity(o, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusFillable, st.Info.Status)
	assert.Equal(t, mustBig(40_000_000), st.ActualTakerFillableAmount)

	makerBefore := h.balance(usdc, h.maker.Address())
	takerBefore := h.balance(usdc, taker)
	require.NoError(t, h.ledger.FillOfferRemoveLiquidity(taker, o, sig, mustBig(40_000_000)))

	// 40 freed: maker share 10, taker share 30, each less 0.30% fees.
	assert.Equal(t, int64(10_000_000-25_000-5_000), h.balance(usdc, h.maker.Address())-makerBefore)
	assert.Equal(t, int64(30_000_000-75_000-15_000), h.balance(usdc, taker)-takerBefore)
	assert.Equal(t, mustBig(100_000), h.ledger.GetClaim(usdc, treasury))
	assert.Equal(t, mustBig(20_000), h.ledger.GetClaim(usdc, dataProvider))
	assert.Equal(t, mustBig(60_000_000), h.pool(poolID).CollateralBalance)
	assert.Zero(t, h.balance(p.LongToken, h.maker.Address()))
	assert.Zero(t, h.balance(p.ShortToken, taker))
}

func TestRemoveLiquidity_AccruesFees(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)
	p := h.pool(poolID)
	require.NoError(t, h.tokens.Transfer(p.ShortToken, bob, alice, mustBig(100_000_000)))

	before := h.balance(usdc, alice)
	require.NoError(t, h.ledger.RemoveLiquidity(alice, poolID, mustBig(10_000_000)))

	assert.Equal(t, int64(10_000_000-25_000-5_000), h.balance(usdc, alice)-before)
	assert.Equal(t, mustBig(25_000), h.ledger.GetClaim(usdc, treasury))
	assert.Equal(t, mustBig(5_000), h.ledger.GetClaim(usdc, dataProvider))
	assert.Equal(t, mustBig(90_000_000), h.pool(poolID).CollateralBalance)

	err := h.ledger.RemoveLiquidity(bob, poolID, mustBig(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestFillOfferAddLiquidity_RejectsAmountsBeyondUint256(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(10_000_000)
	o := h.addOffer(poolID, 30_000_000, 90_000_000, 0)
	sig := h.signAdd(o)

	wrap := new(big.Int).Lsh(big.NewInt(1), 256)
	inflated := *o
	inflated.MakerCollateralAmount = new(big.Int).Add(o.MakerCollateralAmount, wrap)
	inflated.TakerCollateralAmount = new(big.Int).Add(o.TakerCollateralAmount, wrap)

	_, err := h.ledger.Domain().HashAddLiquidityOffer(&inflated)
	require.ErrorIs(t, err, domain.ErrInvalidInputParams)

	st, err := h.ledger.GetOfferRelevantStateAddLiquidity(&inflated, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusInvalid, st.Info.Status)
	assert.False(t, st.IsSignatureValid)
	assert.Zero(t, st.ActualTakerFillableAmount.Sign())

	makerBefore := h.balance(usdc, h.maker.Address())
	events := len(h.events)
	err = h.ledger.FillOfferAddLiquidity(taker, &inflated, sig, mustBig(9_000_000))
	require.Error(t, err)
	assert.Equal(t, makerBefore, h.balance(usdc, h.maker.Address()))
	assert.Len(t, h.events, events)

	require.Error(t, h.ledger.CancelOfferAddLiquidity(h.maker.Address(), &inflated))

	// The signed terms still fill at the signed ratio.
	require.NoError(t, h.ledger.FillOfferAddLiquidity(taker, o, sig, mustBig(9_000_000)))
	assert.Equal(t, makerBefore-3_000_000, h.balance(usdc, h.maker.Address()))
}
