package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Unit is 1.0 in 18-decimal fixed point.
var Unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PoolStatus is the status of a pool's final reference value.
type PoolStatus uint8

const (
	StatusOpen PoolStatus = iota
	StatusSubmitted
	StatusChallenged
	StatusConfirmed
)

// String returns the protocol name of the status.
func (s PoolStatus) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusSubmitted:
		return "Submitted"
	case StatusChallenged:
		return "Challenged"
	case StatusConfirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s PoolStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PoolStatus) UnmarshalText(b []byte) error {
	for _, v := range []PoolStatus{StatusOpen, StatusSubmitted, StatusChallenged, StatusConfirmed} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("domain: unknown pool status %q", b)
}

// Pool is a contingent pool. Strike levels and the final reference value
// are 18-decimal fixed point; gradient, balances and payouts are in
// collateral token decimals.
type Pool struct {
	ID                        common.Hash
	ReferenceAsset            string
	ExpiryTime                uint64
	Floor                     *big.Int
	Inflection                *big.Int
	Cap                       *big.Int
	Gradient                  *big.Int
	CollateralToken           common.Address
	CollateralBalance         *big.Int
	Capacity                  *big.Int
	DataProvider              common.Address
	LongToken                 common.Address
	ShortToken                common.Address
	PermissionedERC721Token   common.Address
	FinalReferenceValue       *big.Int
	StatusFinalReferenceValue PoolStatus
	StatusTimestamp           uint64
	PayoutLong                *big.Int
	PayoutShort               *big.Int
	IndexFees                 int
	IndexSettlementPeriods    int
}

// Clone returns a deep copy so callers cannot mutate ledger state.
func (p Pool) Clone() Pool {
	out := p
	out.Floor = cloneBig(p.Floor)
	out.Inflection = cloneBig(p.Inflection)
	out.Cap = cloneBig(p.Cap)
	out.Gradient = cloneBig(p.Gradient)
	out.CollateralBalance = cloneBig(p.CollateralBalance)
	out.Capacity = cloneBig(p.Capacity)
	out.FinalReferenceValue = cloneBig(p.FinalReferenceValue)
	out.PayoutLong = cloneBig(p.PayoutLong)
	out.PayoutShort = cloneBig(p.PayoutShort)
	return out
}

// PoolParams are the inputs of a direct pool creation.
type PoolParams struct {
	ReferenceAsset          string
	ExpiryTime              uint64
	Floor                   *big.Int
	Inflection              *big.Int
	Cap                     *big.Int
	Gradient                *big.Int
	CollateralAmount        *big.Int
	CollateralToken         common.Address
	DataProvider            common.Address
	Capacity                *big.Int
	LongRecipient           common.Address
	ShortRecipient          common.Address
	PermissionedERC721Token common.Address
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// BigOrZero returns v, or a fresh zero when v is nil.
func BigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// FitsUint256 reports whether v is representable as a uint256. nil counts
// as zero.
func FitsUint256(v *big.Int) bool {
	return v == nil || (v.Sign() >= 0 && v.BitLen() <= 256)
}
