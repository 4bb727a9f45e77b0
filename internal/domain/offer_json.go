package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// offerJSON is the flat wire shape of a signed offer: the union of the
// three offer field sets plus domain, signature and hash. Amounts and
// timestamps are decimal strings so they survive JavaScript clients.
type offerJSON struct {
	Maker                   string    `json:"maker"`
	Taker                   string    `json:"taker"`
	MakerCollateralAmount   string    `json:"makerCollateralAmount"`
	TakerCollateralAmount   string    `json:"takerCollateralAmount,omitempty"`
	PositionTokenAmount     string    `json:"positionTokenAmount,omitempty"`
	MakerIsLong             bool      `json:"makerIsLong"`
	OfferExpiry             string    `json:"offerExpiry"`
	MinimumTakerFillAmount  string    `json:"minimumTakerFillAmount"`
	ReferenceAsset          string    `json:"referenceAsset,omitempty"`
	ExpiryTime              string    `json:"expiryTime,omitempty"`
	Floor                   string    `json:"floor,omitempty"`
	Inflection              string    `json:"inflection,omitempty"`
	Cap                     string    `json:"cap,omitempty"`
	Gradient                string    `json:"gradient,omitempty"`
	CollateralToken         string    `json:"collateralToken,omitempty"`
	DataProvider            string    `json:"dataProvider,omitempty"`
	Capacity                string    `json:"capacity,omitempty"`
	PermissionedERC721Token string    `json:"permissionedERC721Token,omitempty"`
	PoolID                  string    `json:"poolId,omitempty"`
	Salt                    string    `json:"salt"`
	ChainID                 int64     `json:"chainId"`
	VerifyingContract       string    `json:"verifyingContract"`
	Signature               Signature `json:"signature"`
	OfferHash               string    `json:"offerHash"`
}

// MarshalJSON encodes the offer in the exchanged JSON shape.
func (o SignedOffer) MarshalJSON() ([]byte, error) {
	w := offerJSON{
		ChainID:           o.ChainID,
		VerifyingContract: o.VerifyingContract.Hex(),
		Signature:         o.Signature,
		OfferHash:         o.OfferHash.Hex(),
	}

	switch {
	case o.Create != nil:
		c := o.Create
		w.Maker = c.Maker.Hex()
		w.Taker = c.Taker.Hex()
		w.MakerCollateralAmount = bigString(c.MakerCollateralAmount)
		w.TakerCollateralAmount = bigString(c.TakerCollateralAmount)
		w.MakerIsLong = c.MakerIsLong
		w.OfferExpiry = strconv.FormatUint(c.OfferExpiry, 10)
		w.MinimumTakerFillAmount = bigString(c.MinimumTakerFillAmount)
		w.ReferenceAsset = c.ReferenceAsset
		w.ExpiryTime = strconv.FormatUint(c.ExpiryTime, 10)
		w.Floor = bigString(c.Floor)
		w.Inflection = bigString(c.Inflection)
		w.Cap = bigString(c.Cap)
		w.Gradient = bigString(c.Gradient)
		w.CollateralToken = c.CollateralToken.Hex()
		w.DataProvider = c.DataProvider.Hex()
		w.Capacity = bigString(c.Capacity)
		w.PermissionedERC721Token = c.PermissionedERC721Token.Hex()
		w.Salt = bigString(c.Salt)
	case o.AddLiquidity != nil:
		a := o.AddLiquidity
		w.Maker = a.Maker.Hex()
		w.Taker = a.Taker.Hex()
		w.MakerCollateralAmount = bigString(a.MakerCollateralAmount)
		w.TakerCollateralAmount = bigString(a.TakerCollateralAmount)
		w.MakerIsLong = a.MakerIsLong
		w.OfferExpiry = strconv.FormatUint(a.OfferExpiry, 10)
		w.MinimumTakerFillAmount = bigString(a.MinimumTakerFillAmount)
		w.PoolID = a.PoolID.Hex()
		w.Salt = bigString(a.Salt)
	case o.RemoveLiquidity != nil:
		r := o.RemoveLiquidity
		w.Maker = r.Maker.Hex()
		w.Taker = r.Taker.Hex()
		w.PositionTokenAmount = bigString(r.PositionTokenAmount)
		w.MakerCollateralAmount = bigString(r.MakerCollateralAmount)
		w.MakerIsLong = r.MakerIsLong
		w.OfferExpiry = strconv.FormatUint(r.OfferExpiry, 10)
		w.MinimumTakerFillAmount = bigString(r.MinimumTakerFillAmount)
		w.PoolID = r.PoolID.Hex()
		w.Salt = bigString(r.Salt)
	default:
		return nil, fmt.Errorf("domain: marshal offer: %w", ErrInvalidOfferKind)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes the exchanged JSON shape. The variant is inferred
// from the fields present: poolId plus positionTokenAmount is a remove
// offer, poolId alone an add offer, otherwise a create offer. Callers that
// know the kind from context should compare it with Kind afterwards.
func (o *SignedOffer) UnmarshalJSON(data []byte) error {
	var w offerJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	p := &bigParser{}
	out := SignedOffer{
		ChainID:           w.ChainID,
		VerifyingContract: p.address("verifyingContract", w.VerifyingContract),
		Signature:         w.Signature,
	}
	if w.OfferHash != "" {
		out.OfferHash = p.hash("offerHash", w.OfferHash)
	}

	switch {
	case w.PoolID != "" && w.PositionTokenAmount != "":
		out.Kind = OfferKindRemoveLiquidity
		out.RemoveLiquidity = &OfferRemoveLiquidity{
			Maker:                  p.address("maker", w.Maker),
			Taker:                  p.address("taker", w.Taker),
			PositionTokenAmount:    p.big("positionTokenAmount", w.PositionTokenAmount),
			MakerCollateralAmount:  p.big("makerCollateralAmount", w.MakerCollateralAmount),
			MakerIsLong:            w.MakerIsLong,
			OfferExpiry:            p.uint("offerExpiry", w.OfferExpiry),
			MinimumTakerFillAmount: p.big("minimumTakerFillAmount", w.MinimumTakerFillAmount),
			PoolID:                 p.hash("poolId", w.PoolID),
			Salt:                   p.big("salt", w.Salt),
		}
	case w.PoolID != "":
		out.Kind = OfferKindAddLiquidity
		out.AddLiquidity = &OfferAddLiquidity{
			Maker:                  p.address("maker", w.Maker),
			Taker:                  p.address("taker", w.Taker),
			MakerCollateralAmount:  p.big("makerCollateralAmount", w.MakerCollateralAmount),
			TakerCollateralAmount:  p.big("takerCollateralAmount", w.TakerCollateralAmount),
			MakerIsLong:            w.MakerIsLong,
			OfferExpiry:            p.uint("offerExpiry", w.OfferExpiry),
			MinimumTakerFillAmount: p.big("minimumTakerFillAmount", w.MinimumTakerFillAmount),
			PoolID:                 p.hash("poolId", w.PoolID),
			Salt:                   p.big("salt", w.Salt),
		}
	default:
		out.Kind = OfferKindCreateContingentPool
		out.Create = &OfferCreateContingentPool{
			Maker:                   p.address("maker", w.Maker),
			Taker:                   p.address("taker", w.Taker),
			MakerCollateralAmount:   p.big("makerCollateralAmount", w.MakerCollateralAmount),
			TakerCollateralAmount:   p.big("takerCollateralAmount", w.TakerCollateralAmount),
			MakerIsLong:             w.MakerIsLong,
			OfferExpiry:             p.uint("offerExpiry", w.OfferExpiry),
			MinimumTakerFillAmount:  p.big("minimumTakerFillAmount", w.MinimumTakerFillAmount),
			ReferenceAsset:          w.ReferenceAsset,
			ExpiryTime:              p.uint("expiryTime", w.ExpiryTime),
			Floor:                   p.big("floor", w.Floor),
			Inflection:              p.big("inflection", w.Inflection),
			Cap:                     p.big("cap", w.Cap),
			Gradient:                p.big("gradient", w.Gradient),
			CollateralToken:         p.address("collateralToken", w.CollateralToken),
			DataProvider:            p.address("dataProvider", w.DataProvider),
			Capacity:                p.big("capacity", w.Capacity),
			PermissionedERC721Token: p.optionalAddress(w.PermissionedERC721Token),
			Salt:                    p.big("salt", w.Salt),
		}
	}

	if p.err != nil {
		return p.err
	}
	*o = out
	return nil
}

// bigParser accumulates the first parse error so field decoding reads as
// a flat list of assignments.
type bigParser struct {
	err error
}

func (p *bigParser) fail(field, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("domain: invalid %s %q: %w", field, value, ErrInvalidInputParams)
	}
}

func (p *bigParser) big(field, s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || !FitsUint256(v) {
		p.fail(field, s)
		return new(big.Int)
	}
	return v
}

func (p *bigParser) uint(field, s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		p.fail(field, s)
		return 0
	}
	return v
}

func (p *bigParser) address(field, s string) common.Address {
	if !common.IsHexAddress(s) {
		p.fail(field, s)
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (p *bigParser) optionalAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return p.address("permissionedERC721Token", s)
}

func (p *bigParser) hash(field, s string) common.Hash {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		p.fail(field, s)
		return common.Hash{}
	}
	return common.BytesToHash(b)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
