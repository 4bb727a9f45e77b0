package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Fees are fractions in 18-decimal fixed point.
type Fees struct {
	ProtocolFee   *big.Int `json:"protocolFee"`
	SettlementFee *big.Int `json:"settlementFee"`
}

// Total returns ProtocolFee + SettlementFee.
func (f Fees) Total() *big.Int {
	return new(big.Int).Add(BigOrZero(f.ProtocolFee), BigOrZero(f.SettlementFee))
}

// SettlementPeriods are window lengths in seconds.
type SettlementPeriods struct {
	SubmissionPeriod         uint64 `json:"submissionPeriod"`
	ChallengePeriod          uint64 `json:"challengePeriod"`
	ReviewPeriod             uint64 `json:"reviewPeriod"`
	FallbackSubmissionPeriod uint64 `json:"fallbackSubmissionPeriod"`
}

// ParameterVersion is one historized value of a governance parameter.
type ParameterVersion[T any] struct {
	PreviousValue T      `json:"previousValue"`
	CurrentValue  T      `json:"currentValue"`
	StartTime     uint64 `json:"startTimeOfCurrentValue"`
}

// GovernanceParameters is the current fee and settlement-period state.
type GovernanceParameters struct {
	Fees              ParameterVersion[Fees]              `json:"fees"`
	SettlementPeriods ParameterVersion[SettlementPeriods] `json:"settlementPeriods"`
}

// AddressInfo describes an address-valued governance parameter.
type AddressInfo struct {
	Previous  common.Address `json:"previous"`
	Current   common.Address `json:"current"`
	StartTime uint64         `json:"startTime"`
}

// ClaimTransfer is one entry of a batched fee claim transfer.
type ClaimTransfer struct {
	Recipient       common.Address
	CollateralToken common.Address
	Amount          *big.Int
}

// ClaimRequest is one entry of a batched fee claim.
type ClaimRequest struct {
	CollateralToken common.Address
	Recipient       common.Address
}
