package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/crypto"
	"github.com/alanyoungcy/divasettle/internal/domain"
)

// offerTerms is the kind-independent view of an offer used for status
// derivation. For remove-liquidity offers takerAmount is the position
// token amount.
type offerTerms struct {
	hash        common.Hash
	maker       common.Address
	makerAmount *big.Int
	takerAmount *big.Int
	expiry      uint64
	validParams bool
	// hashed is false when the offer could not be encoded; hash is then
	// zero and the offer is Invalid.
	hashed bool
}

// resolve derives status and offer-level fillable amount. First match
// wins: Invalid, Cancelled, Filled, Expired, Fillable.
func (l *Ledger) resolve(t offerTerms, sig domain.Signature, now uint64) domain.OfferState {
	filled := l.takerFilled(t.hash)
	takerAmount := domain.BigOrZero(t.takerAmount)

	var status domain.OfferStatus
	switch {
	case !t.hashed || takerAmount.Sign() == 0 || !t.validParams:
		status = domain.OfferStatusInvalid
	case l.cancelled[t.hash]:
		status = domain.OfferStatusCancelled
	case filled.Cmp(takerAmount) >= 0:
		status = domain.OfferStatusFilled
	case now >= t.expiry:
		status = domain.OfferStatusExpired
	default:
		status = domain.OfferStatusFillable
	}

	fillable := new(big.Int)
	if status == domain.OfferStatusFillable {
		fillable.Sub(takerAmount, filled)
	}

	return domain.OfferState{
		Info: domain.OfferInfo{
			TypedOfferHash:    t.hash,
			Status:            status,
			TakerFilledAmount: filled,
		},
		ActualTakerFillableAmount: fillable,
		IsSignatureValid:          t.hashed && crypto.IsValidSignature(t.hash, sig, t.maker),
		IsValidInputParams:        t.validParams,
	}
}

// clamp lowers st's fillable amount to limit.
func clamp(st *domain.OfferState, limit *big.Int) {
	if limit.Sign() < 0 {
		limit = new(big.Int)
	}
	if st.ActualTakerFillableAmount.Cmp(limit) > 0 {
		st.ActualTakerFillableAmount = new(big.Int).Set(limit)
	}
}

// makerFundingLimit is the largest taker fill the maker's collateral
// balance and allowance can match.
func (l *Ledger) makerFundingLimit(collateral, maker common.Address, makerAmount, takerAmount *big.Int) *big.Int {
	if domain.BigOrZero(makerAmount).Sign() == 0 {
		return new(big.Int).Set(domain.BigOrZero(takerAmount))
	}
	balance, err := l.tokens.BalanceOf(collateral, maker)
	if err != nil {
		return new(big.Int)
	}
	allowance, err := l.tokens.Allowance(collateral, maker, l.self)
	if err != nil {
		return new(big.Int)
	}
	avail := balance
	if allowance.Cmp(avail) < 0 {
		avail = allowance
	}
	out := new(big.Int).Mul(avail, takerAmount)
	return out.Quo(out, makerAmount)
}

// capacityLimit is the largest taker fill whose combined maker and taker
// collateral still fits the pool.
func capacityLimit(ps *poolState, makerAmount, takerAmount *big.Int) *big.Int {
	room := new(big.Int).Sub(ps.Capacity, ps.CollateralBalance)
	if room.Sign() <= 0 {
		return new(big.Int)
	}
	den := new(big.Int).Add(domain.BigOrZero(makerAmount), domain.BigOrZero(takerAmount))
	if den.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(room, takerAmount)
	return out.Quo(out, den)
}

// validCreateOffer reports whether the pool a create offer describes would
// pass pool validation when fully filled.
func (l *Ledger) validCreateOffer(o *domain.OfferCreateContingentPool) bool {
	decimals, err := l.tokens.Decimals(o.CollateralToken)
	if err != nil {
		return false
	}
	// The taker is unknown until fill time; the maker stands in for it.
	p := createOfferPoolParams(o, domain.BigOrZero(o.MakerCollateralAmount), domain.BigOrZero(o.TakerCollateralAmount), o.Maker)
	return ValidatePoolParams(p, decimals) == nil
}

// createOfferPoolParams returns the pool a create offer fill issues.
func createOfferPoolParams(o *domain.OfferCreateContingentPool, makerFill, takerFill *big.Int, taker common.Address) domain.PoolParams {
	longRecipient, shortRecipient := sides(o.MakerIsLong, o.Maker, taker)
	return domain.PoolParams{
		ReferenceAsset:          o.ReferenceAsset,
		ExpiryTime:              o.ExpiryTime,
		Floor:                   o.Floor,
		Inflection:              o.Inflection,
		Cap:                     o.Cap,
		Gradient:                o.Gradient,
		CollateralAmount:        new(big.Int).Add(makerFill, takerFill),
		CollateralToken:         o.CollateralToken,
		DataProvider:            o.DataProvider,
		Capacity:                o.Capacity,
		LongRecipient:           longRecipient,
		ShortRecipient:          shortRecipient,
		PermissionedERC721Token: o.PermissionedERC721Token,
	}
}

// sides returns (long, short) for a maker/taker pair.
func sides(makerIsLong bool, maker, taker common.Address) (common.Address, common.Address) {
	if makerIsLong {
		return maker, taker
	}
	return taker, maker
}

func (l *Ledger) createOfferState(tx *txn, o *domain.OfferCreateContingentPool, sig domain.Signature) domain.OfferState {
	h, err := l.offers.HashCreateOffer(o)
	st := l.resolve(offerTerms{
		hash:        h,
		maker:       o.Maker,
		makerAmount: o.MakerCollateralAmount,
		takerAmount: o.TakerCollateralAmount,
		expiry:      o.OfferExpiry,
		validParams: err == nil && l.validCreateOffer(o),
		hashed:      err == nil,
	}, sig, tx.now)

	poolID, exists := l.poolByOffer[h]
	exists = exists && err == nil
	st.PoolExists = exists
	if st.ActualTakerFillableAmount.Sign() == 0 {
		return st
	}
	if exists {
		ps := l.pools[poolID]
		if tx.now >= ps.ExpiryTime {
			clamp(&st, new(big.Int))
			return st
		}
		clamp(&st, capacityLimit(ps, o.MakerCollateralAmount, o.TakerCollateralAmount))
	}
	clamp(&st, l.makerFundingLimit(o.CollateralToken, o.Maker, o.MakerCollateralAmount, o.TakerCollateralAmount))
	return st
}

func (l *Ledger) addLiquidityOfferState(tx *txn, o *domain.OfferAddLiquidity, sig domain.Signature) domain.OfferState {
	h, err := l.offers.HashAddLiquidityOffer(o)
	st := l.resolve(offerTerms{
		hash:        h,
		maker:       o.Maker,
		makerAmount: o.MakerCollateralAmount,
		takerAmount: o.TakerCollateralAmount,
		expiry:      o.OfferExpiry,
		validParams: err == nil,
		hashed:      err == nil,
	}, sig, tx.now)

	ps, exists := l.pools[o.PoolID]
	st.PoolExists = exists
	if st.ActualTakerFillableAmount.Sign() == 0 {
		return st
	}
	if !exists || tx.now >= ps.ExpiryTime {
		clamp(&st, new(big.Int))
		return st
	}
	clamp(&st, capacityLimit(ps, o.MakerCollateralAmount, o.TakerCollateralAmount))
	clamp(&st, l.makerFundingLimit(ps.CollateralToken, o.Maker, o.MakerCollateralAmount, o.TakerCollateralAmount))
	return st
}

func (l *Ledger) removeLiquidityOfferState(tx *txn, o *domain.OfferRemoveLiquidity, sig domain.Signature) (domain.OfferState, error) {
	h, err := l.offers.HashRemoveLiquidityOffer(o)
	st := l.resolve(offerTerms{
		hash:        h,
		maker:       o.Maker,
		makerAmount: o.MakerCollateralAmount,
		takerAmount: o.PositionTokenAmount,
		expiry:      o.OfferExpiry,
		validParams: err == nil && domain.BigOrZero(o.MakerCollateralAmount).Cmp(domain.BigOrZero(o.PositionTokenAmount)) <= 0,
		hashed:      err == nil,
	}, sig, tx.now)

	ps, exists := l.pools[o.PoolID]
	st.PoolExists = exists
	if st.ActualTakerFillableAmount.Sign() == 0 {
		return st, nil
	}
	if !exists {
		clamp(&st, new(big.Int))
		return st, nil
	}
	if err := l.advance(ps, tx); err != nil {
		return domain.OfferState{}, err
	}
	if ps.StatusFinalReferenceValue == domain.StatusConfirmed {
		clamp(&st, new(big.Int))
		return st, nil
	}
	makerToken, _ := sides(o.MakerIsLong, ps.LongToken, ps.ShortToken)
	balance, err := l.tokens.BalanceOf(makerToken, o.Maker)
	if err != nil {
		return domain.OfferState{}, err
	}
	clamp(&st, balance)
	clamp(&st, ps.CollateralBalance)
	return st, nil
}

// GetOfferRelevantStateCreateContingentPool resolves a create offer against
// current ledger state and time.
func (l *Ledger) GetOfferRelevantStateCreateContingentPool(o *domain.OfferCreateContingentPool, sig domain.Signature) (domain.OfferState, error) {
	var st domain.OfferState
	err := l.run("offer_state_create", func(tx *txn) error {
		st = l.createOfferState(tx, o, sig)
		return nil
	})
	return st, err
}

// GetOfferRelevantStateAddLiquidity resolves an add-liquidity offer.
func (l *Ledger) GetOfferRelevantStateAddLiquidity(o *domain.OfferAddLiquidity, sig domain.Signature) (domain.OfferState, error) {
	var st domain.OfferState
	err := l.run("offer_state_add", func(tx *txn) error {
		st = l.addLiquidityOfferState(tx, o, sig)
		return nil
	})
	return st, err
}

// GetOfferRelevantStateRemoveLiquidity resolves a remove-liquidity offer.
func (l *Ledger) GetOfferRelevantStateRemoveLiquidity(o *domain.OfferRemoveLiquidity, sig domain.Signature) (domain.OfferState, error) {
	var st domain.OfferState
	err := l.run("offer_state_remove", func(tx *txn) error {
		var err error
		st, err = l.removeLiquidityOfferState(tx, o, sig)
		return err
	})
	return st, err
}
