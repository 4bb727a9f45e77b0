package ledger

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

const expiry = t0 + 30*day

func (h *harness) confirmedEvents() []domain.Event {
	var out []domain.Event
	for _, e := range h.eventsOf(domain.EventStatusChanged) {
		if e.Attrs["status"] == domain.StatusConfirmed.String() {
			out = append(out, e)
		}
	}
	return out
}

func TestSettlement_ConfirmAndRedeem(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)
	p := h.pool(poolID)

	err := h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1605.33"), false)
	require.ErrorIs(t, err, domain.ErrPoolNotExpired)

	err = h.ledger.RedeemPositionToken(alice, p.LongToken, mustBig(1))
	require.ErrorIs(t, err, domain.ErrNotConfirmed)

	h.setTime(expiry + 1)
	require.NoError(t, h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1605.33"), false))

	p = h.pool(poolID)
	assert.Equal(t, domain.StatusConfirmed, p.StatusFinalReferenceValue)
	assert.Equal(t, mustBig(329_010), p.PayoutLong)
	assert.Equal(t, mustBig(667_990), p.PayoutShort)
	assert.Equal(t, mustBig(99_700_000), p.CollateralBalance)
	assert.Equal(t, mustBig(250_000), h.ledger.GetClaim(usdc, treasury))
	assert.Equal(t, mustBig(50_000), h.ledger.GetClaim(usdc, dataProvider))

	aliceBefore := h.balance(usdc, alice)
	require.NoError(t, h.ledger.RedeemPositionToken(alice, p.LongToken, mustBig(100_000_000)))
	assert.Equal(t, int64(32_901_000), h.balance(usdc, alice)-aliceBefore)

	bobBefore := h.balance(usdc, bob)
	require.NoError(t, h.ledger.RedeemPositionToken(bob, p.ShortToken, mustBig(100_000_000)))
	assert.Equal(t, int64(66_799_000), h.balance(usdc, bob)-bobBefore)

	assert.Zero(t, h.pool(poolID).CollateralBalance.Sign())
	assert.Zero(t, h.balance(p.LongToken, alice))

	err = h.ledger.RedeemPositionToken(alice, usdc, mustBig(1))
	assert.ErrorIs(t, err, domain.ErrInvalidPositionToken)

	err = h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1700"), false)
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
}

func TestSettlement_ChallengeAndResubmit(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)

	h.setTime(expiry + 1)
	require.NoError(t, h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1700"), true))
	assert.Equal(t, domain.StatusSubmitted, h.pool(poolID).StatusFinalReferenceValue)

	err := h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1700"), true)
	require.ErrorIs(t, err, domain.ErrAlreadySubmitted)

	h.setTime(expiry + 1 + 3*day - 1)
	err = h.ledger.ChallengeFinalReferenceValue(taker, poolID, dec18(t, "1650"))
	require.ErrorIs(t, err, domain.ErrNoPositionTokens)

	require.NoError(t, h.ledger.ChallengeFinalReferenceValue(alice, poolID, dec18(t, "1650")))
	p := h.pool(poolID)
	assert.Equal(t, domain.StatusChallenged, p.StatusFinalReferenceValue)
	assert.Equal(t, expiry+3*day, p.StatusTimestamp)

	err = h.ledger.ChallengeFinalReferenceValue(bob, poolID, dec18(t, "1750"))
	require.ErrorIs(t, err, domain.ErrAlreadyConfirmedOrNoChallengeWindow)

	err = h.ledger.SetFinalReferenceValue(alice, poolID, dec18(t, "1650"), false)
	require.ErrorIs(t, err, domain.ErrNotDataProvider)

	require.NoError(t, h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1650"), true))
	p = h.pool(poolID)
	assert.Equal(t, domain.StatusConfirmed, p.StatusFinalReferenceValue)
	assert.Equal(t, dec18(t, "1650"), p.FinalReferenceValue)
	assert.Len(t, h.confirmedEvents(), 1)
}

func TestSettlement_LazyConfirmationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)

	h.setTime(expiry + 10)
	require.NoError(t, h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1800"), true))

	h.setTime(expiry + 10 + 3*day + 1)
	first := h.pool(poolID)
	assert.Equal(t, domain.StatusConfirmed, first.StatusFinalReferenceValue)
	assert.Equal(t, expiry+10+3*day, first.StatusTimestamp)
	assert.Equal(t, dec18(t, "1800"), first.FinalReferenceValue)

	h.advance(24 * time.Hour)
	second := h.pool(poolID)
	assert.Equal(t, first.StatusTimestamp, second.StatusTimestamp)
	assert.Equal(t, first.PayoutLong, second.PayoutLong)

	// A failing call still observes the transition exactly once.
	err := h.ledger.ChallengeFinalReferenceValue(alice, poolID, dec18(t, "1"))
	require.ErrorIs(t, err, domain.ErrAlreadyConfirmedOrNoChallengeWindow)
	assert.Len(t, h.confirmedEvents(), 1)
	// The data provider reported, so it receives the settlement fee.
	assert.Equal(t, mustBig(50_000), h.ledger.GetClaim(usdc, dataProvider))
}

func TestSettlement_LazyConfirmationOnFailedCall(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)

	h.setTime(expiry + 1)
	require.NoError(t, h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1800"), true))

	h.setTime(expiry + 1 + 3*day + 1)
	err := h.ledger.ChallengeFinalReferenceValue(alice, poolID, dec18(t, "1"))
	require.ErrorIs(t, err, domain.ErrAlreadyConfirmedOrNoChallengeWindow)

	require.Len(t, h.confirmedEvents(), 1)
	assert.Equal(t, poolID.Hex(), h.confirmedEvents()[0].Attrs["poolId"])
	assert.Equal(t, domain.StatusConfirmed, h.pool(poolID).StatusFinalReferenceValue)
	assert.Len(t, h.confirmedEvents(), 1)
}

func TestSettlement_SubmissionWindows(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)
	value := dec18(t, "1700")

	h.setTime(expiry + 7*day)
	err := h.ledger.SetFinalReferenceValue(alice, poolID, value, false)
	assert.ErrorIs(t, err, domain.ErrNotEligibleSubmitter)

	h.setTime(expiry + 7*day + 1)
	err = h.ledger.SetFinalReferenceValue(dataProvider, poolID, value, false)
	assert.ErrorIs(t, err, domain.ErrPeriodExpired)
	err = h.ledger.SetFinalReferenceValue(alice, poolID, value, false)
	assert.ErrorIs(t, err, domain.ErrNotEligibleSubmitter)

	require.NoError(t, h.ledger.SetFinalReferenceValue(fallbackProvider, poolID, value, true))
	p := h.pool(poolID)
	assert.Equal(t, domain.StatusConfirmed, p.StatusFinalReferenceValue)
	assert.Equal(t, value, p.FinalReferenceValue)
	assert.Equal(t, mustBig(50_000), h.ledger.GetClaim(usdc, fallbackProvider))
}

func TestSettlement_NoReportConfirmsAtInflection(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)

	end := expiry + 7*day + 10*day
	h.setTime(end + 1)
	require.NoError(t, h.ledger.SetFinalReferenceValue(alice, poolID, dec18(t, "1"), false))

	p := h.pool(poolID)
	assert.Equal(t, domain.StatusConfirmed, p.StatusFinalReferenceValue)
	assert.Equal(t, dec18(t, "1605.33"), p.FinalReferenceValue)
	assert.Equal(t, end, p.StatusTimestamp)
	// No one reported: both fees go to the treasury.
	assert.Equal(t, mustBig(300_000), h.ledger.GetClaim(usdc, treasury))
	assert.Zero(t, h.ledger.GetClaim(usdc, dataProvider).Sign())
}

func TestSettlement_ConfirmedPoolRejectsLiquidity(t *testing.T) {
	h := newHarness(t)
	poolID := h.createPool(100_000_000)

	err := h.ledger.AddLiquidity(alice, poolID, mustBig(1_000_000), alice, bob)
	require.NoError(t, err)

	h.setTime(expiry)
	err = h.ledger.AddLiquidity(alice, poolID, mustBig(1_000_000), alice, bob)
	assert.ErrorIs(t, err, domain.ErrPoolExpired)

	require.NoError(t, h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1700"), false))
	p := h.pool(poolID)
	require.NoError(t, h.tokens.Transfer(p.ShortToken, bob, alice, mustBig(1_000_000)))
	err = h.ledger.RemoveLiquidity(alice, poolID, mustBig(1_000_000))
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
}

func TestPoolID_Deterministic(t *testing.T) {
	p := poolParams(t, 100_000_000)
	a, err := PoolID(p, alice, 0)
	require.NoError(t, err)
	b, err := PoolID(p, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := PoolID(p, alice, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
	d, err := PoolID(p, bob, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
	assert.NotEqual(t, common.Hash{}, a)
}

func TestValidatePoolParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.PoolParams)
	}{
		{"floor above inflection", func(p *domain.PoolParams) { p.Floor = dec18(t, "1700") }},
		{"inflection above cap", func(p *domain.PoolParams) { p.Cap = dec18(t, "1600") }},
		{"gradient above one", func(p *domain.PoolParams) { p.Gradient = big.NewInt(1_000_001) }},
		{"collateral below minimum", func(p *domain.PoolParams) { p.CollateralAmount = big.NewInt(999_999) }},
		{"above capacity", func(p *domain.PoolParams) { p.Capacity = big.NewInt(99_999_999) }},
		{"zero data provider", func(p *domain.PoolParams) { p.DataProvider = common.Address{} }},
		{"zero long recipient", func(p *domain.PoolParams) { p.LongRecipient = common.Address{} }},
		{"empty reference asset", func(p *domain.PoolParams) { p.ReferenceAsset = "" }},
	}

	require.NoError(t, ValidatePoolParams(poolParams(t, 100_000_000), 6))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := poolParams(t, 100_000_000)
			tt.mutate(&p)
			assert.Error(t, ValidatePoolParams(p, 6))
		})
	}
}
