package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

func TestOfferStatus_Precedence(t *testing.T) {
	h := newHarness(t)

	invalid := h.createOffer(20_000_000, 0, 0)
	require.NoError(t, h.ledger.CancelOfferCreateContingentPool(h.maker.Address(), invalid))
	h.setTime(invalid.OfferExpiry + 1)
	st, err := h.ledger.GetOfferRelevantStateCreateContingentPool(invalid, h.signCreate(invalid))
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusInvalid, st.Info.Status)

	cancelled := h.createOffer(20_000_000, 80_000_000, 0)
	require.NoError(t, h.ledger.CancelOfferCreateContingentPool(h.maker.Address(), cancelled))
	st, err = h.ledger.GetOfferRelevantStateCreateContingentPool(cancelled, h.signCreate(cancelled))
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusCancelled, st.Info.Status)
	assert.Zero(t, st.ActualTakerFillableAmount.Sign())

	expired := h.createOffer(20_000_000, 80_000_000, 0)
	expired.Salt = big.NewInt(9)
	st, err = h.ledger.GetOfferRelevantStateCreateContingentPool(expired, h.signCreate(expired))
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusExpired, st.Info.Status)
	assert.True(t, st.IsSignatureValid)
	assert.True(t, st.IsValidInputParams)
}

func TestOfferState_ClampsToCapacityAndAllowance(t *testing.T) {
	h := newHarness(t)
	p := poolParams(t, 40_000_000)
	p.Capacity = big.NewInt(100_000_000)
	poolID, err := h.ledger.CreateContingentPool(alice, p)
	require.NoError(t, err)

	o := h.addOffer(poolID, 30_000_000, 90_000_000, 0)
	sig := h.signAdd(o)

	// 60 of room split 30:90 leaves 45 for the taker.
	st, err := h.ledger.GetOfferRelevantStateAddLiquidity(o, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusFillable, st.Info.Status)
	assert.Equal(t, mustBig(45_000_000), st.ActualTakerFillableAmount)

	require.NoError(t, h.tokens.Approve(usdc, h.maker.Address(), ledgerAddr, mustBig(3_000_000)))
	st, err = h.ledger.GetOfferRelevantStateAddLiquidity(o, sig)
	require.NoError(t, err)
	assert.Equal(t, mustBig(9_000_000), st.ActualTakerFillableAmount)

	err = h.ledger.FillOfferAddLiquidity(taker, o, sig, mustBig(12_000_000))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	missing := h.addOffer(common.HexToHash("0x01"), 30_000_000, 90_000_000, 0)
	st, err = h.ledger.GetOfferRelevantStateAddLiquidity(missing, h.signAdd(missing))
	require.NoError(t, err)
	assert.False(t, st.PoolExists)
	assert.Zero(t, st.ActualTakerFillableAmount.Sign())
}
