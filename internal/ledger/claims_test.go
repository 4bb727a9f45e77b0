package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// settledPool confirms a 100 USDC pool at the inflection so the treasury
// holds a 250_000 claim and the data provider a 50_000 claim.
func settledPool(t *testing.T, h *harness) common.Hash {
	t.Helper()
	poolID := h.createPool(100_000_000)
	h.setTime(expiry + 1)
	require.NoError(t, h.ledger.SetFinalReferenceValue(dataProvider, poolID, dec18(t, "1605.33"), false))
	return poolID
}

func TestClaimFee_PaysRecipient(t *testing.T) {
	h := newHarness(t)
	settledPool(t, h)

	before := h.balance(usdc, alice)
	require.NoError(t, h.ledger.ClaimFee(treasury, usdc, alice))
	assert.Equal(t, int64(250_000), h.balance(usdc, alice)-before)
	assert.Zero(t, h.ledger.GetClaim(usdc, treasury).Sign())

	// Claiming an empty balance pays nothing.
	require.NoError(t, h.ledger.ClaimFee(treasury, usdc, alice))
	assert.Equal(t, int64(250_000), h.balance(usdc, alice)-before)

	assert.ErrorIs(t, h.ledger.ClaimFee(dataProvider, usdc, common.Address{}), domain.ErrZeroAddress)
	assert.Len(t, h.eventsOf(domain.EventFeeClaimed), 2)
}

func TestBatchClaimFee_IsAtomic(t *testing.T) {
	h := newHarness(t)
	settledPool(t, h)

	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	err := h.ledger.BatchClaimFee(dataProvider, []domain.ClaimRequest{
		{CollateralToken: usdc, Recipient: dataProvider},
		{CollateralToken: unknown, Recipient: dataProvider},
	})
	require.ErrorIs(t, err, domain.ErrUnknownToken)
	assert.Equal(t, mustBig(50_000), h.ledger.GetClaim(usdc, dataProvider))
	assert.Zero(t, h.balance(usdc, dataProvider))
}

func TestBatchTransferFeeClaim(t *testing.T) {
	h := newHarness(t)
	settledPool(t, h)

	err := h.ledger.BatchTransferFeeClaim(dataProvider, []domain.ClaimTransfer{
		{Recipient: alice, CollateralToken: usdc, Amount: mustBig(30_000)},
		{Recipient: bob, CollateralToken: usdc, Amount: mustBig(30_000)},
	})
	require.ErrorIs(t, err, domain.ErrAmountExceedsClaim)
	assert.Equal(t, mustBig(50_000), h.ledger.GetClaim(usdc, dataProvider))
	assert.Zero(t, h.ledger.GetClaim(usdc, alice).Sign())
	assert.Empty(t, h.eventsOf(domain.EventFeeClaimTransferred))

	require.NoError(t, h.ledger.BatchTransferFeeClaim(dataProvider, []domain.ClaimTransfer{
		{Recipient: alice, CollateralToken: usdc, Amount: mustBig(30_000)},
		{Recipient: bob, CollateralToken: usdc, Amount: mustBig(20_000)},
	}))
	assert.Zero(t, h.ledger.GetClaim(usdc, dataProvider).Sign())
	assert.Equal(t, mustBig(30_000), h.ledger.GetClaim(usdc, alice))
	assert.Equal(t, mustBig(20_000), h.ledger.GetClaim(usdc, bob))
	assert.Len(t, h.eventsOf(domain.EventFeeClaimTransferred), 2)

	err = h.ledger.TransferFeeClaim(alice, common.Address{}, usdc, mustBig(1))
	assert.ErrorIs(t, err, domain.ErrZeroAddress)

	require.NoError(t, h.ledger.TransferFeeClaim(alice, bob, usdc, mustBig(0)))
	assert.Equal(t, mustBig(30_000), h.ledger.GetClaim(usdc, alice))
}
