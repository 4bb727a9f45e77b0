package governance

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

const day = uint64(24 * 60 * 60)

// Activation delays, in seconds.
const (
	FeesActivationDelay    = 60 * day
	PeriodsActivationDelay = 60 * day
	AddressActivationDelay = 2 * day
)

// Settlement period bounds, in seconds.
const (
	MinSettlementPeriod = 3 * day
	MaxSettlementPeriod = 15 * day
)

var (
	// MinFee is 0.01% and MaxFee 1.5%, both in 18 decimals. Zero is also allowed.
	MinFee = big.NewInt(100_000_000_000_000)
	MaxFee = big.NewInt(15_000_000_000_000_000)
)

// DefaultFees are 0.25% protocol fee and 0.05% settlement fee.
func DefaultFees() domain.Fees {
	return domain.Fees{
		ProtocolFee:   big.NewInt(2_500_000_000_000_000),
		SettlementFee: big.NewInt(500_000_000_000_000),
	}
}

// DefaultSettlementPeriods returns the launch settlement windows.
func DefaultSettlementPeriods() domain.SettlementPeriods {
	return domain.SettlementPeriods{
		SubmissionPeriod:         7 * day,
		ChallengePeriod:          3 * day,
		ReviewPeriod:             5 * day,
		FallbackSubmissionPeriod: 10 * day,
	}
}

// ValidateFees checks that each fee is zero or inside [MinFee, MaxFee].
func ValidateFees(f domain.Fees) error {
	var errs []error
	for _, fee := range []struct {
		name  string
		value *big.Int
	}{
		{"protocol fee", f.ProtocolFee},
		{"settlement fee", f.SettlementFee},
	} {
		v := domain.BigOrZero(fee.value)
		if v.Sign() == 0 {
			continue
		}
		if v.Sign() < 0 || v.Cmp(MinFee) < 0 || v.Cmp(MaxFee) > 0 {
			errs = append(errs, fmt.Errorf("governance: %s %s: %w", fee.name, v, domain.ErrFeeOutOfBounds))
		}
	}
	return errors.Join(errs...)
}

// ValidateSettlementPeriods checks that each period lies in
// [MinSettlementPeriod, MaxSettlementPeriod].
func ValidateSettlementPeriods(p domain.SettlementPeriods) error {
	var errs []error
	for _, period := range []struct {
		name  string
		value uint64
	}{
		{"submission period", p.SubmissionPeriod},
		{"challenge period", p.ChallengePeriod},
		{"review period", p.ReviewPeriod},
		{"fallback submission period", p.FallbackSubmissionPeriod},
	} {
		if period.value < MinSettlementPeriod || period.value > MaxSettlementPeriod {
			errs = append(errs, fmt.Errorf("governance: %s %ds: %w", period.name, period.value, domain.ErrPeriodOutOfBounds))
		}
	}
	return errors.Join(errs...)
}

// Parameters groups the four parameter families.
type Parameters struct {
	Fees             *Log[domain.Fees]
	Periods          *Log[domain.SettlementPeriods]
	Treasury         *Log[common.Address]
	FallbackProvider *Log[common.Address]
}

// Initial holds the values the parameter logs start with.
type Initial struct {
	Fees             domain.Fees
	Periods          domain.SettlementPeriods
	Treasury         common.Address
	FallbackProvider common.Address
}

// NewParameters validates initial and returns logs active from start.
func NewParameters(initial Initial, start uint64) (*Parameters, error) {
	if err := errors.Join(ValidateFees(initial.Fees), ValidateSettlementPeriods(initial.Periods)); err != nil {
		return nil, err
	}
	if initial.Treasury == (common.Address{}) || initial.FallbackProvider == (common.Address{}) {
		return nil, fmt.Errorf("governance: treasury and fallback provider required: %w", domain.ErrZeroAddress)
	}
	return &Parameters{
		Fees:             NewLog(initial.Fees, start),
		Periods:          NewLog(initial.Periods, start),
		Treasury:         NewLog(initial.Treasury, start),
		FallbackProvider: NewLog(initial.FallbackProvider, start),
	}, nil
}
