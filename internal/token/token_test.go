package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

var (
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	vault = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(vault)
	require.NoError(t, l.Register(usdc, "USDC", 6))
	require.NoError(t, l.Mint(usdc, alice, big.NewInt(1_000)))
	return l
}

func balance(t *testing.T, l *Ledger, tok, owner common.Address) int64 {
	t.Helper()
	b, err := l.BalanceOf(tok, owner)
	require.NoError(t, err)
	return b.Int64()
}

func TestLedger_TransferAndSupply(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Transfer(usdc, alice, bob, big.NewInt(400)))
	assert.Equal(t, int64(600), balance(t, l, usdc, alice))
	assert.Equal(t, int64(400), balance(t, l, usdc, bob))

	err := l.Transfer(usdc, bob, alice, big.NewInt(401))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	supply, err := l.TotalSupply(usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), supply.Int64())
}

func TestLedger_TransferFromConsumesAllowance(t *testing.T) {
	l := newTestLedger(t)

	err := l.TransferFrom(usdc, vault, alice, vault, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, l.Approve(usdc, alice, vault, big.NewInt(100)))
	require.NoError(t, l.TransferFrom(usdc, vault, alice, vault, big.NewInt(60)))

	left, err := l.Allowance(usdc, alice, vault)
	require.NoError(t, err)
	assert.Equal(t, int64(40), left.Int64())
	assert.Equal(t, int64(60), balance(t, l, usdc, vault))
}

func TestLedger_ApplyIsAtomic(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Approve(usdc, alice, vault, big.NewInt(1_000)))

	err := l.Apply(
		TransferFrom(usdc, vault, alice, vault, big.NewInt(500)),
		TransferFrom(usdc, vault, bob, vault, big.NewInt(1)),
	)
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	assert.Equal(t, int64(1_000), balance(t, l, usdc, alice))
	assert.Equal(t, int64(0), balance(t, l, usdc, vault))
}

func TestLedger_ApplySeesEarlierOps(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Approve(usdc, alice, vault, big.NewInt(1_000)))

	// Two pulls from the same account must fit the combined balance.
	err := l.Check(
		TransferFrom(usdc, vault, alice, vault, big.NewInt(600)),
		TransferFrom(usdc, vault, alice, vault, big.NewInt(600)),
	)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestLedger_DeployAndBurn(t *testing.T) {
	l := newTestLedger(t)

	long := l.Deploy("L1", 6)
	short := l.Deploy("S1", 6)
	assert.NotEqual(t, long, short)

	require.NoError(t, l.Mint(long, bob, big.NewInt(50)))
	require.NoError(t, l.Burn(long, bob, big.NewInt(20)))

	info, err := l.Info(long)
	require.NoError(t, err)
	assert.Equal(t, "L1", info.Symbol)
	assert.Equal(t, int64(30), info.TotalSupply.Int64())
}

func TestLedger_UnknownToken(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Decimals(bob)
	assert.ErrorIs(t, err, domain.ErrUnknownToken)
	assert.ErrorIs(t, l.Mint(bob, alice, big.NewInt(1)), domain.ErrUnknownToken)
}
