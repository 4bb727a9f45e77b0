package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OfferKind identifies one of the three signed offer shapes. The value is
// also the path segment used by the offer store protocol.
type OfferKind string

const (
	OfferKindCreateContingentPool OfferKind = "create_contingent_pool"
	OfferKindAddLiquidity         OfferKind = "add_liquidity"
	OfferKindRemoveLiquidity      OfferKind = "remove_liquidity"
)

// Valid reports whether k is a known offer kind.
func (k OfferKind) Valid() bool {
	switch k {
	case OfferKindCreateContingentPool, OfferKindAddLiquidity, OfferKindRemoveLiquidity:
		return true
	default:
		return false
	}
}

// OfferStatus is the derived status of an offer.
type OfferStatus uint8

const (
	OfferStatusInvalid OfferStatus = iota
	OfferStatusCancelled
	OfferStatusFilled
	OfferStatusExpired
	OfferStatusFillable
)

// String returns the protocol name of the status.
func (s OfferStatus) String() string {
	switch s {
	case OfferStatusInvalid:
		return "Invalid"
	case OfferStatusCancelled:
		return "Cancelled"
	case OfferStatusFilled:
		return "Filled"
	case OfferStatusExpired:
		return "Expired"
	case OfferStatusFillable:
		return "Fillable"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s OfferStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OfferStatus) UnmarshalText(b []byte) error {
	for _, v := range []OfferStatus{OfferStatusInvalid, OfferStatusCancelled, OfferStatusFilled, OfferStatusExpired, OfferStatusFillable} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("domain: unknown offer status %q", b)
}

// Signature is an ECDSA signature split into its EIP-712 components.
// V is 27 or 28.
type Signature struct {
	V uint8       `json:"v"`
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
}

// Bytes returns the 65-byte r || s || v encoding.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// OfferCreateContingentPool is a maker's intent to create a pool together
// with a taker.
type OfferCreateContingentPool struct {
	Maker                   common.Address
	Taker                   common.Address
	MakerCollateralAmount   *big.Int
	TakerCollateralAmount   *big.Int
	MakerIsLong             bool
	OfferExpiry             uint64
	MinimumTakerFillAmount  *big.Int
	ReferenceAsset          string
	ExpiryTime              uint64
	Floor                   *big.Int
	Inflection              *big.Int
	Cap                     *big.Int
	Gradient                *big.Int
	CollateralToken         common.Address
	DataProvider            common.Address
	Capacity                *big.Int
	PermissionedERC721Token common.Address
	Salt                    *big.Int
}

// OfferAddLiquidity is a maker's intent to add collateral to an existing
// pool together with a taker.
type OfferAddLiquidity struct {
	Maker                  common.Address
	Taker                  common.Address
	MakerCollateralAmount  *big.Int
	TakerCollateralAmount  *big.Int
	MakerIsLong            bool
	OfferExpiry            uint64
	MinimumTakerFillAmount *big.Int
	PoolID                 common.Hash
	Salt                   *big.Int
}

// OfferRemoveLiquidity is a maker's intent to return long and short
// position tokens together with a taker. PositionTokenAmount plays the role
// of the taker amount for fill accounting.
type OfferRemoveLiquidity struct {
	Maker                  common.Address
	Taker                  common.Address
	PositionTokenAmount    *big.Int
	MakerCollateralAmount  *big.Int
	MakerIsLong            bool
	OfferExpiry            uint64
	MinimumTakerFillAmount *big.Int
	PoolID                 common.Hash
	Salt                   *big.Int
}

// OfferInfo is the ledger's view of an offer identity and fill state.
type OfferInfo struct {
	TypedOfferHash    common.Hash
	Status            OfferStatus
	TakerFilledAmount *big.Int
}

// OfferState is the result of resolving an offer against current ledger
// state and wall-clock time.
type OfferState struct {
	Info                      OfferInfo
	ActualTakerFillableAmount *big.Int
	IsSignatureValid          bool
	PoolExists                bool
	IsValidInputParams        bool
}

// SignedOffer is the exchanged form of an offer: exactly one of Create,
// AddLiquidity or RemoveLiquidity is set, matching Kind.
type SignedOffer struct {
	Kind              OfferKind
	Create            *OfferCreateContingentPool
	AddLiquidity      *OfferAddLiquidity
	RemoveLiquidity   *OfferRemoveLiquidity
	ChainID           int64
	VerifyingContract common.Address
	Signature         Signature
	OfferHash         common.Hash
	CreatedAt         time.Time
}

// Maker returns the maker of whichever offer variant is set.
func (o SignedOffer) Maker() common.Address {
	switch {
	case o.Create != nil:
		return o.Create.Maker
	case o.AddLiquidity != nil:
		return o.AddLiquidity.Maker
	case o.RemoveLiquidity != nil:
		return o.RemoveLiquidity.Maker
	default:
		return common.Address{}
	}
}

// PoolID returns the referenced pool for liquidity offers and the zero hash
// for create offers.
func (o SignedOffer) PoolID() common.Hash {
	switch {
	case o.AddLiquidity != nil:
		return o.AddLiquidity.PoolID
	case o.RemoveLiquidity != nil:
		return o.RemoveLiquidity.PoolID
	default:
		return common.Hash{}
	}
}

// OfferExpiry returns the expiry of whichever offer variant is set.
func (o SignedOffer) OfferExpiry() uint64 {
	switch {
	case o.Create != nil:
		return o.Create.OfferExpiry
	case o.AddLiquidity != nil:
		return o.AddLiquidity.OfferExpiry
	case o.RemoveLiquidity != nil:
		return o.RemoveLiquidity.OfferExpiry
	default:
		return 0
	}
}
