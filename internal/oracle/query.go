package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// OwnershipQueryType tags reports that carry the primary ledger's owner.
const OwnershipQueryType = "DIVAProtocol"

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	queryArgs   = abi.Arguments{{Type: mustType("string")}, {Type: mustType("bytes")}}
	contextArgs = abi.Arguments{{Type: mustType("address")}, {Type: mustType("uint256")}}
	addressArgs = abi.Arguments{{Type: mustType("address")}}
)

// OwnershipQueryID returns
// keccak256(abi.encode("DIVAProtocol", abi.encode(ownershipContract, chainID))).
func OwnershipQueryID(ownershipContract common.Address, chainID int64) (common.Hash, error) {
	inner, err := contextArgs.Pack(ownershipContract, big.NewInt(chainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("oracle: query data: %w", err)
	}
	data, err := queryArgs.Pack(OwnershipQueryType, inner)
	if err != nil {
		return common.Hash{}, fmt.Errorf("oracle: query data: %w", err)
	}
	return ethcrypto.Keccak256Hash(data), nil
}

// EncodeAddress returns the 32-byte ABI encoding of a.
func EncodeAddress(a common.Address) []byte {
	out, _ := addressArgs.Pack(a)
	return out
}

// DecodeAddress decodes an ABI-encoded address value.
func DecodeAddress(value []byte) (common.Address, error) {
	vals, err := addressArgs.Unpack(value)
	if err != nil || len(vals) != 1 {
		return common.Address{}, fmt.Errorf("oracle: decode address: %w", domain.ErrInvalidInputParams)
	}
	a, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("oracle: decode address: %w", domain.ErrInvalidInputParams)
	}
	return a, nil
}
