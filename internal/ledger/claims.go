package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/token"
)

// accrue credits a fee claim. Zero amounts are skipped.
func (l *Ledger) accrue(tx *txn, poolID common.Hash, collateral, recipient common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	k := claimKey{collateral, recipient}
	cur, ok := l.claims[k]
	if !ok {
		cur = new(big.Int)
		l.claims[k] = cur
	}
	cur.Add(cur, amount)
	tx.emit(domain.EventFeeClaimAllocated,
		"poolId", poolID,
		"recipient", recipient,
		"amount", amount,
	)
}

// GetClaim returns the fee claim of recipient in collateral.
func (l *Ledger) GetClaim(collateral, recipient common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(domain.BigOrZero(l.claims[claimKey{collateral, recipient}]))
}

// claimView stages claim balances so batches validate every entry before
// anything is written.
type claimView struct {
	l      *Ledger
	staged map[claimKey]*big.Int
}

func (l *Ledger) claimView() *claimView {
	return &claimView{l: l, staged: make(map[claimKey]*big.Int)}
}

func (v *claimView) get(k claimKey) *big.Int {
	if b, ok := v.staged[k]; ok {
		return b
	}
	b := new(big.Int).Set(domain.BigOrZero(v.l.claims[k]))
	v.staged[k] = b
	return b
}

func (v *claimView) commit() {
	for k, b := range v.staged {
		if b.Sign() == 0 {
			delete(v.l.claims, k)
			continue
		}
		v.l.claims[k] = b
	}
}

// ClaimFee pays caller's whole fee claim in collateral out to recipient.
func (l *Ledger) ClaimFee(caller, collateral, recipient common.Address) error {
	return l.BatchClaimFee(caller, []domain.ClaimRequest{{CollateralToken: collateral, Recipient: recipient}})
}

// BatchClaimFee claims several collateral tokens at once. An invalid entry
// fails the whole batch.
func (l *Ledger) BatchClaimFee(caller common.Address, reqs []domain.ClaimRequest) error {
	return l.run("claim_fee", func(tx *txn) error {
		view := l.claimView()
		ops := make([]token.Op, 0, len(reqs))
		amounts := make([]*big.Int, 0, len(reqs))
		for i, r := range reqs {
			if r.Recipient == (common.Address{}) {
				return fmt.Errorf("ledger: claim %d: %w", i, domain.ErrZeroAddress)
			}
			if !l.tokens.Exists(r.CollateralToken) {
				return fmt.Errorf("ledger: claim %d: %s: %w", i, r.CollateralToken.Hex(), domain.ErrUnknownToken)
			}
			bal := view.get(claimKey{r.CollateralToken, caller})
			amount := new(big.Int).Set(bal)
			bal.SetInt64(0)
			ops = append(ops, token.Transfer(r.CollateralToken, l.self, r.Recipient, amount))
			amounts = append(amounts, amount)
		}
		if err := l.tokens.Apply(ops...); err != nil {
			return fmt.Errorf("ledger: claim fee: %w", err)
		}
		view.commit()

		for i, r := range reqs {
			tx.emit(domain.EventFeeClaimed,
				"claimer", caller,
				"recipient", r.Recipient,
				"collateralToken", r.CollateralToken,
				"amount", amounts[i],
			)
		}
		return nil
	})
}

// TransferFeeClaim moves amount of caller's claim to recipient. A zero
// amount changes nothing but is still recorded as an event.
func (l *Ledger) TransferFeeClaim(caller, recipient, collateral common.Address, amount *big.Int) error {
	return l.BatchTransferFeeClaim(caller, []domain.ClaimTransfer{{
		Recipient:       recipient,
		CollateralToken: collateral,
		Amount:          amount,
	}})
}

// BatchTransferFeeClaim applies several claim transfers from caller. Each
// entry is checked against the balance left by the entries before it; an
// invalid entry fails the whole batch.
func (l *Ledger) BatchTransferFeeClaim(caller common.Address, transfers []domain.ClaimTransfer) error {
	return l.run("transfer_fee_claim", func(tx *txn) error {
		view := l.claimView()
		for i, t := range transfers {
			amount := domain.BigOrZero(t.Amount)
			if t.Recipient == (common.Address{}) {
				return fmt.Errorf("ledger: transfer claim %d: %w", i, domain.ErrZeroAddress)
			}
			if amount.Sign() < 0 {
				return fmt.Errorf("ledger: transfer claim %d: %w", i, domain.ErrInvalidInputParams)
			}
			from := view.get(claimKey{t.CollateralToken, caller})
			if amount.Cmp(from) > 0 {
				return fmt.Errorf("ledger: transfer claim %d: %s above %s: %w", i, amount, from, domain.ErrAmountExceedsClaim)
			}
			from.Sub(from, amount)
			to := view.get(claimKey{t.CollateralToken, t.Recipient})
			to.Add(to, amount)
		}
		view.commit()

		for _, t := range transfers {
			tx.emit(domain.EventFeeClaimTransferred,
				"from", caller,
				"to", t.Recipient,
				"collateralToken", t.CollateralToken,
				"amount", domain.BigOrZero(t.Amount),
			)
		}
		return nil
	})
}
