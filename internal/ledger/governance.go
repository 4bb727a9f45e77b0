package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/governance"
)

func (l *Ledger) onlyOwner(caller common.Address) error {
	if owner := l.owner.Owner(); caller != owner {
		return fmt.Errorf("ledger: %s is not owner %s: %w", caller.Hex(), owner.Hex(), domain.ErrNotOwner)
	}
	return nil
}

// UpdateFees schedules new fees, active after governance.FeesActivationDelay.
func (l *Ledger) UpdateFees(caller common.Address, fees domain.Fees) error {
	return l.run("update_fees", func(tx *txn) error {
		if err := l.onlyOwner(caller); err != nil {
			return err
		}
		if err := governance.ValidateFees(fees); err != nil {
			return err
		}
		v, err := l.params.Fees.Update(fees, tx.now, governance.FeesActivationDelay)
		if err != nil {
			return err
		}
		tx.emit(domain.EventFeesUpdated,
			"from", caller,
			"protocolFee", domain.BigOrZero(fees.ProtocolFee),
			"settlementFee", domain.BigOrZero(fees.SettlementFee),
			"startTime", v.StartTime,
		)
		return nil
	})
}

// RevokePendingFeesUpdate cancels a scheduled fee change.
func (l *Ledger) RevokePendingFeesUpdate(caller common.Address) error {
	return l.run("revoke_fees", func(tx *txn) error {
		if err := l.onlyOwner(caller); err != nil {
			return err
		}
		revoked, err := l.params.Fees.Revoke(tx.now)
		if err != nil {
			return err
		}
		tx.emit(domain.EventFeesUpdateRevoked,
			"revokedBy", caller,
			"revokedProtocolFee", domain.BigOrZero(revoked.ProtocolFee),
			"revokedSettlementFee", domain.BigOrZero(revoked.SettlementFee),
		)
		return nil
	})
}

// UpdateSettlementPeriods schedules new settlement windows, active after
// governance.PeriodsActivationDelay.
func (l *Ledger) UpdateSettlementPeriods(caller common.Address, periods domain.SettlementPeriods) error {
	return l.run("update_settlement_periods", func(tx *txn) error {
		if err := l.onlyOwner(caller); err != nil {
			return err
		}
		if err := governance.ValidateSettlementPeriods(periods); err != nil {
			return err
		}
		v, err := l.params.Periods.Update(periods, tx.now, governance.PeriodsActivationDelay)
		if err != nil {
			return err
		}
		tx.emit(domain.EventSettlementPeriodUpdated,
			"from", caller,
			"submissionPeriod", periods.SubmissionPeriod,
			"challengePeriod", periods.ChallengePeriod,
			"reviewPeriod", periods.ReviewPeriod,
			"fallbackSubmissionPeriod", periods.FallbackSubmissionPeriod,
			"startTime", v.StartTime,
		)
		return nil
	})
}

// RevokePendingSettlementPeriodsUpdate cancels a scheduled period change.
func (l *Ledger) RevokePendingSettlementPeriodsUpdate(caller common.Address) error {
	return l.run("revoke_settlement_periods", func(tx *txn) error {
		if err := l.onlyOwner(caller); err != nil {
			return err
		}
		if _, err := l.params.Periods.Revoke(tx.now); err != nil {
			return err
		}
		tx.emit(domain.EventSettlementPeriodRevoked, "revokedBy", caller)
		return nil
	})
}

// UpdateTreasury schedules a new treasury, active after
// governance.AddressActivationDelay.
func (l *Ledger) UpdateTreasury(caller, treasury common.Address) error {
	return l.updateAddress("update_treasury", caller, treasury, l.params.Treasury, domain.EventTreasuryUpdated, "treasury")
}

// RevokePendingTreasuryUpdate cancels a scheduled treasury change.
func (l *Ledger) RevokePendingTreasuryUpdate(caller common.Address) error {
	return l.revokeAddress("revoke_treasury", caller, l.params.Treasury, domain.EventTreasuryUpdateRevoked, "revokedTreasury")
}

// UpdateFallbackDataProvider schedules a new fallback data provider,
// active after governance.AddressActivationDelay.
func (l *Ledger) UpdateFallbackDataProvider(caller, provider common.Address) error {
	return l.updateAddress("update_fallback_provider", caller, provider, l.params.FallbackProvider, domain.EventFallbackProviderUpdated, "fallbackDataProvider")
}

// RevokePendingFallbackDataProviderUpdate cancels a scheduled fallback
// provider change.
func (l *Ledger) RevokePendingFallbackDataProviderUpdate(caller common.Address) error {
	return l.revokeAddress("revoke_fallback_provider", caller, l.params.FallbackProvider, domain.EventFallbackProviderRevoked, "revokedFallbackDataProvider")
}

func (l *Ledger) updateAddress(op string, caller, addr common.Address, log *governance.Log[common.Address], typ domain.EventType, key string) error {
	return l.run(op, func(tx *txn) error {
		if err := l.onlyOwner(caller); err != nil {
			return err
		}
		if addr == (common.Address{}) {
			return fmt.Errorf("ledger: %s: %w", op, domain.ErrZeroAddress)
		}
		v, err := log.Update(addr, tx.now, governance.AddressActivationDelay)
		if err != nil {
			return err
		}
		tx.emit(typ, "from", caller, key, addr, "startTime", v.StartTime)
		return nil
	})
}

func (l *Ledger) revokeAddress(op string, caller common.Address, log *governance.Log[common.Address], typ domain.EventType, key string) error {
	return l.run(op, func(tx *txn) error {
		if err := l.onlyOwner(caller); err != nil {
			return err
		}
		revoked, err := log.Revoke(tx.now)
		if err != nil {
			return err
		}
		tx.emit(typ, "revokedBy", caller, key, revoked)
		return nil
	})
}

// GetGovernanceParameters returns the fee and settlement-period versions
// effective now.
func (l *Ledger) GetGovernanceParameters() domain.GovernanceParameters {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	return domain.GovernanceParameters{
		Fees:              l.params.Fees.Current(now),
		SettlementPeriods: l.params.Periods.Current(now),
	}
}

// GetTreasuryInfo returns the previous, current and start time of the
// treasury, including a pending change.
func (l *Ledger) GetTreasuryInfo() domain.AddressInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return addressInfo(l.params.Treasury)
}

// GetFallbackDataProviderInfo is GetTreasuryInfo for the fallback provider.
func (l *Ledger) GetFallbackDataProviderInfo() domain.AddressInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return addressInfo(l.params.FallbackProvider)
}

func addressInfo(log *governance.Log[common.Address]) domain.AddressInfo {
	v := log.Latest()
	return domain.AddressInfo{
		Previous:  v.PreviousValue,
		Current:   v.CurrentValue,
		StartTime: v.StartTime,
	}
}

// GetFeesHistory returns the last n fee versions, newest last.
func (l *Ledger) GetFeesHistory(n int) []domain.ParameterVersion[domain.Fees] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params.Fees.History(n)
}

// GetSettlementPeriodsHistory returns the last n period versions.
func (l *Ledger) GetSettlementPeriodsHistory(n int) []domain.ParameterVersion[domain.SettlementPeriods] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params.Periods.History(n)
}

// GetOwner returns the current protocol owner.
func (l *Ledger) GetOwner() common.Address {
	return l.owner.Owner()
}
