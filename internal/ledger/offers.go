package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/token"
)

// checkFillable rejects fills of offers that are not Fillable or whose
// signature does not recover the maker.
func checkFillable(st domain.OfferState) error {
	if !st.IsSignatureValid {
		return fmt.Errorf("ledger: fill offer %s: %w", st.Info.TypedOfferHash.Hex(), domain.ErrInvalidSignature)
	}
	if err := statusError(st.Info.Status); err != nil {
		return fmt.Errorf("ledger: fill offer %s: %w", st.Info.TypedOfferHash.Hex(), err)
	}
	return nil
}

// FillOfferCreateContingentPool fills a create offer as caller. The first
// fill issues the pool; later fills add liquidity to it. It returns the
// pool id.
func (l *Ledger) FillOfferCreateContingentPool(caller common.Address, o *domain.OfferCreateContingentPool, sig domain.Signature, takerFillAmount *big.Int) (common.Hash, error) {
	var poolID common.Hash
	err := l.run("fill_create", func(tx *txn) error {
		st := l.createOfferState(tx, o, sig)
		if err := checkFillable(st); err != nil {
			return err
		}
		if err := checkTaker(o.Taker, caller); err != nil {
			return err
		}
		takerFill := domain.BigOrZero(takerFillAmount)
		if err := checkFill(st.Info.TakerFilledAmount, takerFill, o.MinimumTakerFillAmount, o.TakerCollateralAmount); err != nil {
			return err
		}

		h := st.Info.TypedOfferHash
		makerFill := ComputeMakerFillAmount(takerFill, o.MakerCollateralAmount, o.TakerCollateralAmount)
		funders := []funding{{o.Maker, makerFill}, {caller, takerFill}}

		var exists bool
		poolID, exists = l.poolByOffer[h]
		if exists {
			longRecipient, shortRecipient := sides(o.MakerIsLong, o.Maker, caller)
			if err := l.addLiquidity(tx, l.pools[poolID], funders, longRecipient, shortRecipient); err != nil {
				return err
			}
		} else {
			var err error
			poolID, err = l.issuePool(tx, o.Maker, createOfferPoolParams(o, makerFill, takerFill, caller), funders)
			if err != nil {
				return err
			}
			l.poolByOffer[h] = poolID
		}

		total := l.recordFill(h, takerFill)
		tx.emit(domain.EventOfferFilled,
			"typedOfferHash", h,
			"maker", o.Maker,
			"taker", caller,
			"takerFilledAmount", total,
			"poolId", poolID,
		)
		return nil
	})
	return poolID, err
}

// FillOfferAddLiquidity fills an add-liquidity offer as caller.
func (l *Ledger) FillOfferAddLiquidity(caller common.Address, o *domain.OfferAddLiquidity, sig domain.Signature, takerFillAmount *big.Int) error {
	return l.run("fill_add", func(tx *txn) error {
		st := l.addLiquidityOfferState(tx, o, sig)
		if err := checkFillable(st); err != nil {
			return err
		}
		ps, err := l.pool(o.PoolID)
		if err != nil {
			return err
		}
		if err := checkTaker(o.Taker, caller); err != nil {
			return err
		}
		takerFill := domain.BigOrZero(takerFillAmount)
		if err := checkFill(st.Info.TakerFilledAmount, takerFill, o.MinimumTakerFillAmount, o.TakerCollateralAmount); err != nil {
			return err
		}

		makerFill := ComputeMakerFillAmount(takerFill, o.MakerCollateralAmount, o.TakerCollateralAmount)
		longRecipient, shortRecipient := sides(o.MakerIsLong, o.Maker, caller)
		if err := l.addLiquidity(tx, ps, []funding{{o.Maker, makerFill}, {caller, takerFill}}, longRecipient, shortRecipient); err != nil {
			return err
		}

		h := st.Info.TypedOfferHash
		total := l.recordFill(h, takerFill)
		tx.emit(domain.EventOfferFilled,
			"typedOfferHash", h,
			"maker", o.Maker,
			"taker", caller,
			"takerFilledAmount", total,
			"poolId", ps.ID,
		)
		return nil
	})
}

// FillOfferRemoveLiquidity fills a remove-liquidity offer as caller. The
// maker returns its side's position tokens and the taker the other side's,
// takerFillAmount of each. The freed collateral is split by the offer's
// ratio and each share is charged protocol and settlement fees.
func (l *Ledger) FillOfferRemoveLiquidity(caller common.Address, o *domain.OfferRemoveLiquidity, sig domain.Signature, takerFillAmount *big.Int) error {
	return l.run("fill_remove", func(tx *txn) error {
		st, err := l.removeLiquidityOfferState(tx, o, sig)
		if err != nil {
			return err
		}
		if err := checkFillable(st); err != nil {
			return err
		}
		ps, err := l.pool(o.PoolID)
		if err != nil {
			return err
		}
		if err := checkTaker(o.Taker, caller); err != nil {
			return err
		}
		takerFill := domain.BigOrZero(takerFillAmount)
		if err := checkFill(st.Info.TakerFilledAmount, takerFill, o.MinimumTakerFillAmount, o.PositionTokenAmount); err != nil {
			return err
		}
		if err := l.checkRemoveLiquidity(ps, takerFill); err != nil {
			return err
		}

		makerShare := ComputeMakerFillAmount(takerFill, o.MakerCollateralAmount, o.PositionTokenAmount)
		takerShare := new(big.Int).Sub(takerFill, makerShare)

		makerProtocolFee, makerSettlementFee, err := l.removalFees(ps, makerShare)
		if err != nil {
			return err
		}
		takerProtocolFee, takerSettlementFee, err := l.removalFees(ps, takerShare)
		if err != nil {
			return err
		}
		makerNet := new(big.Int).Sub(makerShare, makerProtocolFee)
		makerNet.Sub(makerNet, makerSettlementFee)
		takerNet := new(big.Int).Sub(takerShare, takerProtocolFee)
		takerNet.Sub(takerNet, takerSettlementFee)

		makerToken, takerToken := sides(o.MakerIsLong, ps.LongToken, ps.ShortToken)
		if err := l.tokens.Apply(
			token.Burn(makerToken, o.Maker, takerFill),
			token.Burn(takerToken, caller, takerFill),
			token.Transfer(ps.CollateralToken, l.self, o.Maker, makerNet),
			token.Transfer(ps.CollateralToken, l.self, caller, takerNet),
		); err != nil {
			return fmt.Errorf("ledger: fill remove liquidity: %w", err)
		}
		ps.CollateralBalance.Sub(ps.CollateralBalance, takerFill)
		l.accrueRemovalFees(tx, ps,
			new(big.Int).Add(makerProtocolFee, takerProtocolFee),
			new(big.Int).Add(makerSettlementFee, takerSettlementFee),
		)

		longHolder, shortHolder := sides(o.MakerIsLong, o.Maker, caller)
		tx.emit(domain.EventLiquidityRemoved,
			"poolId", ps.ID,
			"longTokenHolder", longHolder,
			"shortTokenHolder", shortHolder,
			"collateralAmount", takerFill,
		)

		h := st.Info.TypedOfferHash
		total := l.recordFill(h, takerFill)
		tx.emit(domain.EventOfferFilled,
			"typedOfferHash", h,
			"maker", o.Maker,
			"taker", caller,
			"takerFilledAmount", total,
			"poolId", ps.ID,
		)
		return nil
	})
}

// cancel sets the one-way cancellation flag of an offer. Repeated
// cancellation succeeds without a second event.
func (l *Ledger) cancel(tx *txn, caller, maker common.Address, h common.Hash) error {
	if caller != maker {
		return fmt.Errorf("ledger: cancel offer %s: %w", h.Hex(), domain.ErrNotMaker)
	}
	if l.cancelled[h] {
		return nil
	}
	l.cancelled[h] = true
	tx.emit(domain.EventOfferCancelled,
		"typedOfferHash", h,
		"maker", maker,
	)
	return nil
}

// CancelOfferCreateContingentPool cancels a create offer. Only the maker may cancel.
func (l *Ledger) CancelOfferCreateContingentPool(caller common.Address, o *domain.OfferCreateContingentPool) error {
	return l.run("cancel_create", func(tx *txn) error {
		h, err := l.offers.HashCreateOffer(o)
		if err != nil {
			return fmt.Errorf("ledger: cancel offer: %w", err)
		}
		return l.cancel(tx, caller, o.Maker, h)
	})
}

// CancelOfferAddLiquidity cancels an add-liquidity offer.
func (l *Ledger) CancelOfferAddLiquidity(caller common.Address, o *domain.OfferAddLiquidity) error {
	return l.run("cancel_add", func(tx *txn) error {
		h, err := l.offers.HashAddLiquidityOffer(o)
		if err != nil {
			return fmt.Errorf("ledger: cancel offer: %w", err)
		}
		return l.cancel(tx, caller, o.Maker, h)
	})
}

// CancelOfferRemoveLiquidity cancels a remove-liquidity offer.
func (l *Ledger) CancelOfferRemoveLiquidity(caller common.Address, o *domain.OfferRemoveLiquidity) error {
	return l.run("cancel_remove", func(tx *txn) error {
		h, err := l.offers.HashRemoveLiquidityOffer(o)
		if err != nil {
			return fmt.Errorf("ledger: cancel offer: %w", err)
		}
		return l.cancel(tx, caller, o.Maker, h)
	})
}

// TakerFilledAmount returns the cumulative taker fill recorded for an offer hash.
func (l *Ledger) TakerFilledAmount(typedOfferHash common.Hash) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.takerFilled(typedOfferHash)
}
