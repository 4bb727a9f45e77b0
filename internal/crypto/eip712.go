package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// Domain name and version of every offer signature.
const (
	DomainName    = "DIVA Protocol"
	DomainVersion = "1"
)

const (
	domainType = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"

	createOfferType = "OfferCreateContingentPool(address maker,address taker,uint256 makerCollateralAmount,uint256 takerCollateralAmount,bool makerIsLong,uint256 offerExpiry,uint256 minimumTakerFillAmount,string referenceAsset,uint96 expiryTime,uint256 floor,uint256 inflection,uint256 cap,uint256 gradient,address collateralToken,address dataProvider,uint256 capacity,address permissionedERC721Token,uint256 salt)"

	addLiquidityOfferType = "OfferAddLiquidity(address maker,address taker,uint256 makerCollateralAmount,uint256 takerCollateralAmount,bool makerIsLong,uint256 offerExpiry,uint256 minimumTakerFillAmount,bytes32 poolId,uint256 salt)"

	removeLiquidityOfferType = "OfferRemoveLiquidity(address maker,address taker,uint256 positionTokenAmount,uint256 makerCollateralAmount,bool makerIsLong,uint256 offerExpiry,uint256 minimumTakerFillAmount,bytes32 poolId,uint256 salt)"
)

var (
	domainTypeHash               = ethcrypto.Keccak256([]byte(domainType))
	createOfferTypeHash          = ethcrypto.Keccak256([]byte(createOfferType))
	addLiquidityOfferTypeHash    = ethcrypto.Keccak256([]byte(addLiquidityOfferType))
	removeLiquidityOfferTypeHash = ethcrypto.Keccak256([]byte(removeLiquidityOfferType))
)

// Domain is the typed-data domain offers are signed under.
type Domain struct {
	ChainID           int64
	VerifyingContract common.Address
}

// NewDomain returns the offer domain for a deployment.
func NewDomain(chainID int64, verifyingContract common.Address) Domain {
	return Domain{ChainID: chainID, VerifyingContract: verifyingContract}
}

// Separator returns
// keccak256(abi.encode(typeHash, keccak(name), keccak(version), chainId, verifyingContract)).
func (d Domain) Separator() common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			ethcrypto.Keccak256([]byte(DomainName)),
			ethcrypto.Keccak256([]byte(DomainVersion)),
			bigIntTo32Bytes(big.NewInt(d.ChainID)),
			addressWord(d.VerifyingContract),
		),
	))
}

// HashCreateOffer returns the typed-data digest of a create offer. Amounts
// outside the uint256 range fail with domain.ErrInvalidInputParams.
func (d Domain) HashCreateOffer(o *domain.OfferCreateContingentPool) (common.Hash, error) {
	var w structWriter
	w.raw(createOfferTypeHash)
	w.address(o.Maker)
	w.address(o.Taker)
	w.uint256("makerCollateralAmount", o.MakerCollateralAmount)
	w.uint256("takerCollateralAmount", o.TakerCollateralAmount)
	w.bool(o.MakerIsLong)
	w.uint64(o.OfferExpiry)
	w.uint256("minimumTakerFillAmount", o.MinimumTakerFillAmount)
	w.raw(ethcrypto.Keccak256([]byte(o.ReferenceAsset)))
	w.uint64(o.ExpiryTime)
	w.uint256("floor", o.Floor)
	w.uint256("inflection", o.Inflection)
	w.uint256("cap", o.Cap)
	w.uint256("gradient", o.Gradient)
	w.address(o.CollateralToken)
	w.address(o.DataProvider)
	w.uint256("capacity", o.Capacity)
	w.address(o.PermissionedERC721Token)
	w.uint256("salt", o.Salt)
	return d.finish(&w)
}

// HashAddLiquidityOffer returns the typed-data digest of an add-liquidity offer.
func (d Domain) HashAddLiquidityOffer(o *domain.OfferAddLiquidity) (common.Hash, error) {
	var w structWriter
	w.raw(addLiquidityOfferTypeHash)
	w.address(o.Maker)
	w.address(o.Taker)
	w.uint256("makerCollateralAmount", o.MakerCollateralAmount)
	w.uint256("takerCollateralAmount", o.TakerCollateralAmount)
	w.bool(o.MakerIsLong)
	w.uint64(o.OfferExpiry)
	w.uint256("minimumTakerFillAmount", o.MinimumTakerFillAmount)
	w.raw(o.PoolID.Bytes())
	w.uint256("salt", o.Salt)
	return d.finish(&w)
}

// HashRemoveLiquidityOffer returns the typed-data digest of a
// remove-liquidity offer.
func (d Domain) HashRemoveLiquidityOffer(o *domain.OfferRemoveLiquidity) (common.Hash, error) {
	var w structWriter
	w.raw(removeLiquidityOfferTypeHash)
	w.address(o.Maker)
	w.address(o.Taker)
	w.uint256("positionTokenAmount", o.PositionTokenAmount)
	w.uint256("makerCollateralAmount", o.MakerCollateralAmount)
	w.bool(o.MakerIsLong)
	w.uint64(o.OfferExpiry)
	w.uint256("minimumTakerFillAmount", o.MinimumTakerFillAmount)
	w.raw(o.PoolID.Bytes())
	w.uint256("salt", o.Salt)
	return d.finish(&w)
}

// HashOffer dispatches on whichever variant of o is set.
func (d Domain) HashOffer(o domain.SignedOffer) (common.Hash, error) {
	switch {
	case o.Create != nil:
		return d.HashCreateOffer(o.Create)
	case o.AddLiquidity != nil:
		return d.HashAddLiquidityOffer(o.AddLiquidity)
	case o.RemoveLiquidity != nil:
		return d.HashRemoveLiquidityOffer(o.RemoveLiquidity)
	default:
		return common.Hash{}, fmt.Errorf("crypto: hash offer: %w", domain.ErrInvalidOfferKind)
	}
}

// Matches reports whether the offer was produced for this domain.
func (d Domain) Matches(o domain.SignedOffer) bool {
	return o.ChainID == d.ChainID && o.VerifyingContract == d.VerifyingContract
}

// finish hashes the encoded struct into the domain digest.
func (d Domain) finish(w *structWriter) (common.Hash, error) {
	if w.err != nil {
		return common.Hash{}, w.err
	}
	return d.digest(ethcrypto.Keccak256(w.buf)), nil
}

// digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func (d Domain) digest(structHash []byte) common.Hash {
	sep := d.Separator()
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			sep.Bytes(),
			structHash,
		),
	))
}

// --------------------------------------------------------------------------
// Wallet-facing typed data
// --------------------------------------------------------------------------

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var offerTypes = map[domain.OfferKind]struct {
	primary string
	fields  []apitypes.Type
}{
	domain.OfferKindCreateContingentPool: {
		primary: "OfferCreateContingentPool",
		fields: []apitypes.Type{
			{Name: "maker", Type: "address"},
			{Name: "taker", Type: "address"},
			{Name: "makerCollateralAmount", Type: "uint256"},
			{Name: "takerCollateralAmount", Type: "uint256"},
			{Name: "makerIsLong", Type: "bool"},
			{Name: "offerExpiry", Type: "uint256"},
			{Name: "minimumTakerFillAmount", Type: "uint256"},
			{Name: "referenceAsset", Type: "string"},
			{Name: "expiryTime", Type: "uint96"},
			{Name: "floor", Type: "uint256"},
			{Name: "inflection", Type: "uint256"},
			{Name: "cap", Type: "uint256"},
			{Name: "gradient", Type: "uint256"},
			{Name: "collateralToken", Type: "address"},
			{Name: "dataProvider", Type: "address"},
			{Name: "capacity", Type: "uint256"},
			{Name: "permissionedERC721Token", Type: "address"},
			{Name: "salt", Type: "uint256"},
		},
	},
	domain.OfferKindAddLiquidity: {
		primary: "OfferAddLiquidity",
		fields: []apitypes.Type{
			{Name: "maker", Type: "address"},
			{Name: "taker", Type: "address"},
			{Name: "makerCollateralAmount", Type: "uint256"},
			{Name: "takerCollateralAmount", Type: "uint256"},
			{Name: "makerIsLong", Type: "bool"},
			{Name: "offerExpiry", Type: "uint256"},
			{Name: "minimumTakerFillAmount", Type: "uint256"},
			{Name: "poolId", Type: "bytes32"},
			{Name: "salt", Type: "uint256"},
		},
	},
	domain.OfferKindRemoveLiquidity: {
		primary: "OfferRemoveLiquidity",
		fields: []apitypes.Type{
			{Name: "maker", Type: "address"},
			{Name: "taker", Type: "address"},
			{Name: "positionTokenAmount", Type: "uint256"},
			{Name: "makerCollateralAmount", Type: "uint256"},
			{Name: "makerIsLong", Type: "bool"},
			{Name: "offerExpiry", Type: "uint256"},
			{Name: "minimumTakerFillAmount", Type: "uint256"},
			{Name: "poolId", Type: "bytes32"},
			{Name: "salt", Type: "uint256"},
		},
	},
}

// TypedData builds the eth_signTypedData_v4 payload of an offer so a wallet
// can display its fields before signing.
func (d Domain) TypedData(o domain.SignedOffer) (apitypes.TypedData, error) {
	var msg apitypes.TypedDataMessage
	switch {
	case o.Create != nil:
		c := o.Create
		msg = apitypes.TypedDataMessage{
			"maker":                   c.Maker.Hex(),
			"taker":                   c.Taker.Hex(),
			"makerCollateralAmount":   domain.BigOrZero(c.MakerCollateralAmount),
			"takerCollateralAmount":   domain.BigOrZero(c.TakerCollateralAmount),
			"makerIsLong":             c.MakerIsLong,
			"offerExpiry":             new(big.Int).SetUint64(c.OfferExpiry),
			"minimumTakerFillAmount":  domain.BigOrZero(c.MinimumTakerFillAmount),
			"referenceAsset":          c.ReferenceAsset,
			"expiryTime":              new(big.Int).SetUint64(c.ExpiryTime),
			"floor":                   domain.BigOrZero(c.Floor),
			"inflection":              domain.BigOrZero(c.Inflection),
			"cap":                     domain.BigOrZero(c.Cap),
			"gradient":                domain.BigOrZero(c.Gradient),
			"collateralToken":         c.CollateralToken.Hex(),
			"dataProvider":            c.DataProvider.Hex(),
			"capacity":                domain.BigOrZero(c.Capacity),
			"permissionedERC721Token": c.PermissionedERC721Token.Hex(),
			"salt":                    domain.BigOrZero(c.Salt),
		}
	case o.AddLiquidity != nil:
		a := o.AddLiquidity
		msg = apitypes.TypedDataMessage{
			"maker":                  a.Maker.Hex(),
			"taker":                  a.Taker.Hex(),
			"makerCollateralAmount":  domain.BigOrZero(a.MakerCollateralAmount),
			"takerCollateralAmount":  domain.BigOrZero(a.TakerCollateralAmount),
			"makerIsLong":            a.MakerIsLong,
			"offerExpiry":            new(big.Int).SetUint64(a.OfferExpiry),
			"minimumTakerFillAmount": domain.BigOrZero(a.MinimumTakerFillAmount),
			"poolId":                 a.PoolID.Hex(),
			"salt":                   domain.BigOrZero(a.Salt),
		}
	case o.RemoveLiquidity != nil:
		r := o.RemoveLiquidity
		msg = apitypes.TypedDataMessage{
			"maker":                  r.Maker.Hex(),
			"taker":                  r.Taker.Hex(),
			"positionTokenAmount":    domain.BigOrZero(r.PositionTokenAmount),
			"makerCollateralAmount":  domain.BigOrZero(r.MakerCollateralAmount),
			"makerIsLong":            r.MakerIsLong,
			"offerExpiry":            new(big.Int).SetUint64(r.OfferExpiry),
			"minimumTakerFillAmount": domain.BigOrZero(r.MinimumTakerFillAmount),
			"poolId":                 r.PoolID.Hex(),
			"salt":                   domain.BigOrZero(r.Salt),
		}
	default:
		return apitypes.TypedData{}, fmt.Errorf("crypto: typed data: %w", domain.ErrInvalidOfferKind)
	}

	kind := o.Kind
	if !kind.Valid() {
		kind = kindOf(o)
	}
	t := offerTypes[kind]

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			t.primary:      t.fields,
		},
		PrimaryType: t.primary,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: msg,
	}, nil
}

func kindOf(o domain.SignedOffer) domain.OfferKind {
	switch {
	case o.AddLiquidity != nil:
		return domain.OfferKindAddLiquidity
	case o.RemoveLiquidity != nil:
		return domain.OfferKindRemoveLiquidity
	default:
		return domain.OfferKindCreateContingentPool
	}
}

// --------------------------------------------------------------------------
// ABI word helpers
// --------------------------------------------------------------------------

// bigIntTo32Bytes returns the 32-byte big-endian word of n; nil encodes
// zero. n must already be known to fit in 256 bits.
func bigIntTo32Bytes(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	return math.U256Bytes(new(big.Int).Set(n))
}

// structWriter appends ABI words of a typed-data struct and keeps the first
// encoding error.
type structWriter struct {
	buf []byte
	err error
}

func (w *structWriter) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *structWriter) address(a common.Address) {
	w.raw(addressWord(a))
}

func (w *structWriter) bool(b bool) {
	w.raw(boolWord(b))
}

func (w *structWriter) uint64(v uint64) {
	w.raw(bigIntTo32Bytes(new(big.Int).SetUint64(v)))
}

// uint256 appends n, refusing values that would wrap modulo 2^256.
func (w *structWriter) uint256(field string, n *big.Int) {
	if w.err != nil {
		return
	}
	if !domain.FitsUint256(n) {
		w.err = fmt.Errorf("crypto: %s out of uint256 range: %w", field, domain.ErrInvalidInputParams)
		return
	}
	w.raw(bigIntTo32Bytes(n))
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func boolWord(b bool) []byte {
	w := make([]byte, 32)
	if b {
		w[31] = 1
	}
	return w
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
