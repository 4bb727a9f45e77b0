package ledger

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/crypto"
	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/governance"
	"github.com/alanyoungcy/divasettle/internal/token"
)

const (
	t0  = uint64(1_700_000_000)
	day = uint64(24 * 60 * 60)
)

var (
	ledgerAddr       = common.HexToAddress("0x0000000000000000000000000000000000001000")
	usdc             = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	owner            = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	treasury         = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	fallbackProvider = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	dataProvider     = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	taker            = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	alice            = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob              = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

type harness struct {
	t      *testing.T
	clock  *clock.Manual
	tokens *token.Ledger
	ledger *Ledger
	maker  *crypto.Signer
	events []domain.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tokens := token.NewLedger(ledgerAddr)
	require.NoError(t, tokens.Register(usdc, "USDC", 6))

	params, err := governance.NewParameters(governance.Initial{
		Fees:             governance.DefaultFees(),
		Periods:          governance.DefaultSettlementPeriods(),
		Treasury:         treasury,
		FallbackProvider: fallbackProvider,
	}, t0)
	require.NoError(t, err)

	maker, err := crypto.GenerateSigner()
	require.NoError(t, err)

	h := &harness{
		t:      t,
		clock:  clock.NewManual(t0),
		tokens: tokens,
		maker:  maker,
	}
	h.ledger, err = New(Config{
		ChainID: 1,
		Address: ledgerAddr,
		Tokens:  tokens,
		Params:  params,
		Owner:   StaticOwner(owner),
		Clock:   h.clock,
		Sink:    EventSinkFunc(func(e domain.Event) { h.events = append(h.events, e) }),
	})
	require.NoError(t, err)

	for _, a := range []common.Address{maker.Address(), taker, alice, bob} {
		h.fund(a, 1_000_000_000_000)
	}
	return h
}

// fund mints collateral to a and approves the ledger for all of it.
func (h *harness) fund(a common.Address, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.tokens.Mint(usdc, a, big.NewInt(amount)))
	require.NoError(h.t, h.tokens.Approve(usdc, a, ledgerAddr, big.NewInt(amount)))
}

func (h *harness) balance(tok, a common.Address) int64 {
	h.t.Helper()
	b, err := h.tokens.BalanceOf(tok, a)
	require.NoError(h.t, err)
	return b.Int64()
}

func (h *harness) setTime(sec uint64) {
	h.clock.Set(sec)
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
}

func (h *harness) eventsOf(typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range h.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) pool(id common.Hash) domain.Pool {
	h.t.Helper()
	p, err := h.ledger.GetPoolParameters(id)
	require.NoError(h.t, err)
	return p
}

// dec18 parses a decimal string into 18-decimal fixed point.
func dec18(t *testing.T, s string) *big.Int {
	t.Helper()
	r, ok := new(big.Rat).SetString(s)
	require.True(t, ok)
	r.Mul(r, new(big.Rat).SetInt(domain.Unit))
	require.True(t, r.IsInt())
	return new(big.Int).Set(r.Num())
}

func poolParams(t *testing.T, collateral int64) domain.PoolParams {
	return domain.PoolParams{
		ReferenceAsset:   "ETH/USD",
		ExpiryTime:       t0 + 30*day,
		Floor:            dec18(t, "1198.53"),
		Inflection:       dec18(t, "1605.33"),
		Cap:              dec18(t, "2001.17"),
		Gradient:         big.NewInt(330_000),
		CollateralAmount: big.NewInt(collateral),
		CollateralToken:  usdc,
		DataProvider:     dataProvider,
		Capacity:         big.NewInt(1_000_000_000_000),
		LongRecipient:    alice,
		ShortRecipient:   bob,
	}
}

// createPool creates a pool funded by alice, long to alice, short to bob.
func (h *harness) createPool(collateral int64) common.Hash {
	h.t.Helper()
	id, err := h.ledger.CreateContingentPool(alice, poolParams(h.t, collateral))
	require.NoError(h.t, err)
	return id
}

func (h *harness) createOffer(makerAmount, takerAmount, minimum int64) *domain.OfferCreateContingentPool {
	return &domain.OfferCreateContingentPool{
		Maker:                  h.maker.Address(),
		MakerCollateralAmount:  big.NewInt(makerAmount),
		TakerCollateralAmount:  big.NewInt(takerAmount),
		MakerIsLong:            true,
		OfferExpiry:            t0 + day,
		MinimumTakerFillAmount: big.NewInt(minimum),
		ReferenceAsset:         "ETH/USD",
		ExpiryTime:             t0 + 30*day,
		Floor:                  dec18(h.t, "1198.53"),
		Inflection:             dec18(h.t, "1605.33"),
		Cap:                    dec18(h.t, "2001.17"),
		Gradient:               big.NewInt(330_000),
		CollateralToken:        usdc,
		DataProvider:           dataProvider,
		Capacity:               big.NewInt(1_000_000_000_000),
		Salt:                   big.NewInt(1),
	}
}

func (h *harness) signCreate(o *domain.OfferCreateContingentPool) domain.Signature {
	h.t.Helper()
	digest, err := h.ledger.Domain().HashCreateOffer(o)
	require.NoError(h.t, err)
	sig, err := h.maker.SignDigest(digest)
	require.NoError(h.t, err)
	return sig
}

func (h *harness) addOffer(poolID common.Hash, makerAmount, takerAmount, minimum int64) *domain.OfferAddLiquidity {
	return &domain.OfferAddLiquidity{
		Maker:                  h.maker.Address(),
		MakerCollateralAmount:  big.NewInt(makerAmount),
		TakerCollateralAmount:  big.NewInt(takerAmount),
		MakerIsLong:            false,
		OfferExpiry:            t0 + day,
		MinimumTakerFillAmount: big.NewInt(minimum),
		PoolID:                 poolID,
		Salt:                   big.NewInt(2),
	}
}

func (h *harness) signAdd(o *domain.OfferAddLiquidity) domain.Signature {
	h.t.Helper()
	digest, err := h.ledger.Domain().HashAddLiquidityOffer(o)
	require.NoError(h.t, err)
	sig, err := h.maker.SignDigest(digest)
	require.NoError(h.t, err)
	return sig
}

func (h *harness) signRemove(o *domain.OfferRemoveLiquidity) domain.Signature {
	h.t.Helper()
	digest, err := h.ledger.Domain().HashRemoveLiquidityOffer(o)
	require.NoError(h.t, err)
	sig, err := h.maker.SignDigest(digest)
	require.NoError(h.t, err)
	return sig
}

func mustBig(v int64) *big.Int { return big.NewInt(v) }
