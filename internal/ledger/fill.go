package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// ComputeMakerFillAmount returns
// floor(takerFillAmount * makerCollateralAmount / takerCollateralAmount).
// A zero taker collateral amount yields zero.
func ComputeMakerFillAmount(takerFillAmount, makerCollateralAmount, takerCollateralAmount *big.Int) *big.Int {
	total := domain.BigOrZero(takerCollateralAmount)
	if total.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(domain.BigOrZero(takerFillAmount), domain.BigOrZero(makerCollateralAmount))
	return out.Quo(out, total)
}

// checkFill validates a taker fill against an offer's fill state: the
// minimum applies only to the first fill, and no fill may exceed what
// remains.
func checkFill(filled, takerFillAmount, minimum, total *big.Int) error {
	switch {
	case filled.Cmp(total) >= 0:
		return fmt.Errorf("ledger: fill: %w", domain.ErrOfferFullyFilled)
	case takerFillAmount.Sign() <= 0:
		return fmt.Errorf("ledger: fill: %w", domain.ErrZeroAmount)
	case filled.Sign() == 0 && takerFillAmount.Cmp(domain.BigOrZero(minimum)) < 0:
		return fmt.Errorf("ledger: fill %s below minimum %s: %w", takerFillAmount, minimum, domain.ErrAmountTooSmall)
	case new(big.Int).Add(filled, takerFillAmount).Cmp(total) > 0:
		remaining := new(big.Int).Sub(total, filled)
		return fmt.Errorf("ledger: fill %s above remaining %s: %w", takerFillAmount, remaining, domain.ErrAmountExceedsRemaining)
	}
	return nil
}

// takerFilled returns the cumulative taker fill of an offer.
func (l *Ledger) takerFilled(typedOfferHash common.Hash) *big.Int {
	return new(big.Int).Set(domain.BigOrZero(l.filled[typedOfferHash]))
}

// recordFill is the only writer of per-offer fill state. Callers have
// passed checkFill for the same amount.
func (l *Ledger) recordFill(typedOfferHash common.Hash, takerFillAmount *big.Int) *big.Int {
	cur, ok := l.filled[typedOfferHash]
	if !ok {
		cur = new(big.Int)
		l.filled[typedOfferHash] = cur
	}
	cur.Add(cur, takerFillAmount)
	return new(big.Int).Set(cur)
}

// statusError maps a non-fillable offer status to its error.
func statusError(s domain.OfferStatus) error {
	switch s {
	case domain.OfferStatusInvalid:
		return domain.ErrOfferInvalid
	case domain.OfferStatusCancelled:
		return domain.ErrOfferCancelled
	case domain.OfferStatusFilled:
		return domain.ErrOfferFullyFilled
	case domain.OfferStatusExpired:
		return domain.ErrOfferExpired
	default:
		return nil
	}
}

// checkTaker enforces the optional taker restriction of an offer.
func checkTaker(offerTaker, caller common.Address) error {
	if offerTaker != (common.Address{}) && offerTaker != caller {
		return fmt.Errorf("ledger: offer reserved for %s: %w", offerTaker.Hex(), domain.ErrUnauthorizedTaker)
	}
	return nil
}
