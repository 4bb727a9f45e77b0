package ledger

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/payoff"
	"github.com/alanyoungcy/divasettle/internal/token"
)

// advance applies settlement windows that have closed since the pool was
// last touched:
//
//	Open after submission and fallback windows  -> Confirmed at inflection
//	Submitted after the challenge period        -> Confirmed
//	Challenged after the review period          -> Confirmed with the last submitted value
//
// The confirmation is timestamped at the window end, so the result does not
// depend on when it is first observed.
func (l *Ledger) advance(ps *poolState, tx *txn) error {
	mark := len(tx.events)
	defer func() {
		tx.settled = append(tx.settled, tx.events[mark:]...)
		tx.events = tx.events[:mark]
	}()

	periods := l.periodsFor(ps)
	switch ps.StatusFinalReferenceValue {
	case domain.StatusOpen:
		end := ps.ExpiryTime + periods.SubmissionPeriod + periods.FallbackSubmissionPeriod
		if tx.now > end {
			return l.confirm(tx, ps, ps.Inflection, common.Address{}, end)
		}
	case domain.StatusSubmitted:
		end := ps.StatusTimestamp + periods.ChallengePeriod
		if tx.now > end {
			return l.confirm(tx, ps, ps.FinalReferenceValue, ps.reporter, end)
		}
	case domain.StatusChallenged:
		end := ps.StatusTimestamp + periods.ReviewPeriod
		if tx.now > end {
			return l.confirm(tx, ps, ps.FinalReferenceValue, ps.reporter, end)
		}
	}
	return nil
}

// confirm fixes the final value and payouts and accrues the pool fees. The
// settlement fee goes to reporter, or to the treasury when no one reported.
func (l *Ledger) confirm(tx *txn, ps *poolState, value *big.Int, reporter common.Address, at uint64) error {
	fees := l.feesFor(ps)
	pay, err := payoff.Calculate(payoff.Params{
		Floor:               ps.Floor,
		Inflection:          ps.Inflection,
		Cap:                 ps.Cap,
		Gradient:            ps.Gradient,
		FinalReferenceValue: value,
		CollateralDecimals:  ps.decimals,
		Fee:                 fees.Total(),
	})
	if err != nil {
		return fmt.Errorf("ledger: confirm %s: %w", ps.ID.Hex(), err)
	}
	protocolFee, err := payoff.FeeAmount(ps.CollateralBalance, fees.ProtocolFee)
	if err != nil {
		return err
	}
	settlementFee, err := payoff.FeeAmount(ps.CollateralBalance, fees.SettlementFee)
	if err != nil {
		return err
	}

	treasury := l.params.Treasury.At(at)
	if reporter == (common.Address{}) {
		reporter = treasury
	}

	ps.FinalReferenceValue = new(big.Int).Set(value)
	ps.StatusFinalReferenceValue = domain.StatusConfirmed
	ps.StatusTimestamp = at
	ps.PayoutLong = pay.PayoutLong
	ps.PayoutShort = pay.PayoutShort
	ps.reporter = reporter
	ps.CollateralBalance.Sub(ps.CollateralBalance, protocolFee)
	ps.CollateralBalance.Sub(ps.CollateralBalance, settlementFee)

	l.accrue(tx, ps.ID, ps.CollateralToken, treasury, protocolFee)
	l.accrue(tx, ps.ID, ps.CollateralToken, reporter, settlementFee)

	tx.emit(domain.EventStatusChanged,
		"poolId", ps.ID,
		"status", domain.StatusConfirmed,
		"by", reporter,
		"finalReferenceValue", value,
	)
	l.logger.Info("ledger: pool confirmed",
		slog.String("pool_id", ps.ID.Hex()),
		slog.String("final_reference_value", value.String()),
		slog.String("payout_long", pay.PayoutLong.String()),
		slog.String("payout_short", pay.PayoutShort.String()),
	)
	return nil
}

// SetFinalReferenceValue reports the final value of an expired pool.
//
// During the submission window only the data provider may report; with
// allowChallenge the value is Submitted, otherwise Confirmed. During the
// fallback window only the fallback provider may report and its value is
// Confirmed. Once both windows have passed any caller triggers confirmation
// at the inflection. A Challenged pool is confirmed by the data provider's
// re-submission within the review period.
func (l *Ledger) SetFinalReferenceValue(caller common.Address, poolID common.Hash, value *big.Int, allowChallenge bool) error {
	return l.run("set_final_reference_value", func(tx *txn) error {
		ps, err := l.pool(poolID)
		if err != nil {
			return err
		}
		if value == nil || value.Sign() < 0 {
			return fmt.Errorf("ledger: final reference value: %w", domain.ErrInvalidInputParams)
		}
		prev := ps.StatusFinalReferenceValue
		if err := l.advance(ps, tx); err != nil {
			return err
		}
		if prev == domain.StatusOpen && ps.StatusFinalReferenceValue == domain.StatusConfirmed {
			return nil
		}

		switch ps.StatusFinalReferenceValue {
		case domain.StatusConfirmed:
			return fmt.Errorf("ledger: submit %s: %w", poolID.Hex(), domain.ErrAlreadyConfirmed)
		case domain.StatusSubmitted:
			return fmt.Errorf("ledger: submit %s: %w", poolID.Hex(), domain.ErrAlreadySubmitted)
		case domain.StatusChallenged:
			if caller != ps.DataProvider {
				return fmt.Errorf("ledger: resubmit %s: %w", poolID.Hex(), domain.ErrNotDataProvider)
			}
			return l.confirm(tx, ps, value, ps.DataProvider, tx.now)
		}

		if tx.now < ps.ExpiryTime {
			return fmt.Errorf("ledger: submit %s: %w", poolID.Hex(), domain.ErrPoolNotExpired)
		}
		periods := l.periodsFor(ps)
		if tx.now <= ps.ExpiryTime+periods.SubmissionPeriod {
			if caller != ps.DataProvider {
				return fmt.Errorf("ledger: submit %s as %s: %w", poolID.Hex(), caller.Hex(), domain.ErrNotEligibleSubmitter)
			}
			if !allowChallenge {
				return l.confirm(tx, ps, value, caller, tx.now)
			}
			ps.FinalReferenceValue = new(big.Int).Set(value)
			ps.StatusFinalReferenceValue = domain.StatusSubmitted
			ps.StatusTimestamp = tx.now
			ps.reporter = caller
			tx.emit(domain.EventStatusChanged,
				"poolId", ps.ID,
				"status", domain.StatusSubmitted,
				"by", caller,
				"finalReferenceValue", value,
			)
			return nil
		}

		fallback := l.params.FallbackProvider.At(tx.now)
		if caller != fallback {
			if caller == ps.DataProvider {
				return fmt.Errorf("ledger: submit %s: %w", poolID.Hex(), domain.ErrPeriodExpired)
			}
			return fmt.Errorf("ledger: submit %s as %s: %w", poolID.Hex(), caller.Hex(), domain.ErrNotEligibleSubmitter)
		}
		return l.confirm(tx, ps, value, caller, tx.now)
	})
}

// ChallengeFinalReferenceValue disputes a Submitted value within the
// challenge period. The caller must hold long or short tokens of the pool.
func (l *Ledger) ChallengeFinalReferenceValue(caller common.Address, poolID common.Hash, proposedValue *big.Int) error {
	return l.run("challenge", func(tx *txn) error {
		ps, err := l.pool(poolID)
		if err != nil {
			return err
		}
		if err := l.advance(ps, tx); err != nil {
			return err
		}
		if ps.StatusFinalReferenceValue != domain.StatusSubmitted {
			return fmt.Errorf("ledger: challenge %s (%s): %w", poolID.Hex(), ps.StatusFinalReferenceValue, domain.ErrAlreadyConfirmedOrNoChallengeWindow)
		}

		long, err := l.tokens.BalanceOf(ps.LongToken, caller)
		if err != nil {
			return err
		}
		short, err := l.tokens.BalanceOf(ps.ShortToken, caller)
		if err != nil {
			return err
		}
		if long.Sign() == 0 && short.Sign() == 0 {
			return fmt.Errorf("ledger: challenge %s: %w", poolID.Hex(), domain.ErrNoPositionTokens)
		}

		ps.StatusFinalReferenceValue = domain.StatusChallenged
		ps.StatusTimestamp = tx.now
		tx.emit(domain.EventStatusChanged,
			"poolId", ps.ID,
			"status", domain.StatusChallenged,
			"by", caller,
			"proposedFinalReferenceValue", domain.BigOrZero(proposedValue),
		)
		return nil
	})
}

// RedeemPositionToken burns amount of a confirmed pool's position token
// and pays out amount * payout / 10^decimals collateral.
func (l *Ledger) RedeemPositionToken(caller, positionToken common.Address, amount *big.Int) error {
	return l.run("redeem", func(tx *txn) error {
		poolID, ok := l.positionTokens[positionToken]
		if !ok {
			return fmt.Errorf("ledger: redeem %s: %w", positionToken.Hex(), domain.ErrInvalidPositionToken)
		}
		ps := l.pools[poolID]
		if err := l.advance(ps, tx); err != nil {
			return err
		}
		if ps.StatusFinalReferenceValue != domain.StatusConfirmed {
			return fmt.Errorf("ledger: redeem from %s: %w", poolID.Hex(), domain.ErrNotConfirmed)
		}
		amount = domain.BigOrZero(amount)
		if amount.Sign() <= 0 {
			return fmt.Errorf("ledger: redeem: %w", domain.ErrZeroAmount)
		}

		payout := ps.PayoutShort
		if positionToken == ps.LongToken {
			payout = ps.PayoutLong
		}
		collateral := new(big.Int).Mul(amount, payout)
		collateral.Quo(collateral, pow10(ps.decimals))
		if collateral.Cmp(ps.CollateralBalance) > 0 {
			collateral.Set(ps.CollateralBalance)
		}

		if err := l.tokens.Apply(
			token.Burn(positionToken, caller, amount),
			token.Transfer(ps.CollateralToken, l.self, caller, collateral),
		); err != nil {
			return fmt.Errorf("ledger: redeem: %w", err)
		}
		ps.CollateralBalance.Sub(ps.CollateralBalance, collateral)

		tx.emit(domain.EventPositionTokenRedeemed,
			"poolId", ps.ID,
			"positionToken", positionToken,
			"amountPositionToken", amount,
			"collateralAmountReturned", collateral,
			"returnedTo", caller,
		)
		return nil
	})
}
