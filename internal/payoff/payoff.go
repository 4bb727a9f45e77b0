// Package payoff maps a reported reference value to long and short payouts
// along a pool's floor/inflection/cap curve. All arithmetic is unsigned
// 256-bit fixed point with floor division.
package payoff

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

const (
	// MinDecimals and MaxDecimals bound collateral token decimals.
	MinDecimals = 6
	MaxDecimals = 18
)

var unit = uint256.NewInt(1_000_000_000_000_000_000)

// Params are the inputs of a payoff calculation. Floor, Inflection, Cap and
// FinalReferenceValue are 18-decimal; Gradient is in collateral decimals;
// Fee is the total fee fraction in 18 decimals.
type Params struct {
	Floor               *big.Int
	Inflection          *big.Int
	Cap                 *big.Int
	Gradient            *big.Int
	FinalReferenceValue *big.Int
	CollateralDecimals  uint8
	Fee                 *big.Int
}

// Payoffs holds gross per-token payoffs in 18 decimals and net per-token
// payouts in collateral decimals.
type Payoffs struct {
	PayoffLong  *big.Int
	PayoffShort *big.Int
	PayoutLong  *big.Int
	PayoutShort *big.Int
}

// Calculate evaluates the payoff curve at p.FinalReferenceValue.
func Calculate(p Params) (Payoffs, error) {
	if p.CollateralDecimals < MinDecimals || p.CollateralDecimals > MaxDecimals {
		return Payoffs{}, fmt.Errorf("payoff: collateral decimals %d: %w", p.CollateralDecimals, domain.ErrInvalidInputParams)
	}

	floor, err := toU256("floor", p.Floor)
	if err != nil {
		return Payoffs{}, err
	}
	inflection, err := toU256("inflection", p.Inflection)
	if err != nil {
		return Payoffs{}, err
	}
	capLevel, err := toU256("cap", p.Cap)
	if err != nil {
		return Payoffs{}, err
	}
	gradient, err := toU256("gradient", p.Gradient)
	if err != nil {
		return Payoffs{}, err
	}
	value, err := toU256("final reference value", p.FinalReferenceValue)
	if err != nil {
		return Payoffs{}, err
	}
	fee, err := toU256("fee", p.Fee)
	if err != nil {
		return Payoffs{}, err
	}

	if floor.Gt(inflection) || inflection.Gt(capLevel) {
		return Payoffs{}, fmt.Errorf("payoff: floor <= inflection <= cap violated: %w", domain.ErrInvalidInputParams)
	}
	if !fee.Lt(unit) {
		return Payoffs{}, fmt.Errorf("payoff: fee %s: %w", fee.Dec(), domain.ErrFeeOutOfBounds)
	}

	scaling := ScalingFactor(p.CollateralDecimals)
	gradientScaled := new(uint256.Int).Mul(gradient, scaling)
	if gradientScaled.Gt(unit) {
		return Payoffs{}, fmt.Errorf("payoff: gradient above one: %w", domain.ErrInvalidInputParams)
	}

	long := curve(floor, inflection, capLevel, gradientScaled, value)
	short := new(uint256.Int).Sub(unit, long)

	feeComplement := new(uint256.Int).Sub(unit, fee)
	netLong := mulDiv(long, feeComplement, unit)
	netShort := mulDiv(short, feeComplement, unit)

	return Payoffs{
		PayoffLong:  long.ToBig(),
		PayoffShort: short.ToBig(),
		PayoutLong:  new(uint256.Int).Div(netLong, scaling).ToBig(),
		PayoutShort: new(uint256.Int).Div(netShort, scaling).ToBig(),
	}, nil
}

// curve returns the gross long payoff in 18 decimals.
func curve(floor, inflection, capLevel, g, value *uint256.Int) *uint256.Int {
	switch {
	case value.Eq(inflection):
		return new(uint256.Int).Set(g)
	case !value.Gt(floor):
		return new(uint256.Int)
	case !value.Lt(capLevel):
		return new(uint256.Int).Set(unit)
	case value.Lt(inflection):
		num := new(uint256.Int).Sub(value, floor)
		den := new(uint256.Int).Sub(inflection, floor)
		return mulDiv(g, num, den)
	default:
		num := new(uint256.Int).Sub(value, inflection)
		den := new(uint256.Int).Sub(capLevel, inflection)
		rest := mulDiv(new(uint256.Int).Sub(unit, g), num, den)
		return rest.Add(rest, g)
	}
}

// FeeAmount returns floor(amount * fee / 1e18).
func FeeAmount(amount, fee *big.Int) (*big.Int, error) {
	a, err := toU256("amount", amount)
	if err != nil {
		return nil, err
	}
	f, err := toU256("fee", fee)
	if err != nil {
		return nil, err
	}
	return mulDiv(a, f, unit).ToBig(), nil
}

// ScalingFactor returns 10^(18-decimals).
func ScalingFactor(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(MaxDecimals-int(decimals))))
}

// mulDiv computes floor(x*y/d) with a 512-bit intermediate product. The
// callers guarantee the quotient fits 256 bits.
func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	z, _ := new(uint256.Int).MulDivOverflow(x, y, d)
	return z
}

func toU256(name string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("payoff: negative %s: %w", name, domain.ErrInvalidInputParams)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("payoff: %s overflows 256 bits: %w", name, domain.ErrInvalidInputParams)
	}
	return u, nil
}
