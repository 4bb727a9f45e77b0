package domain

import "errors"

// Infrastructure errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
)

// Authorization errors: wrong caller for a privileged action.
var (
	ErrNotOwner             = errors.New("caller is not the owner")
	ErrNotEligibleSubmitter = errors.New("caller is not eligible to submit the final reference value")
	ErrNotDataProvider      = errors.New("caller is not the data provider")
	ErrNotMaker             = errors.New("caller is not the offer maker")
	ErrUnauthorizedTaker    = errors.New("caller is not the offer taker")
	ErrNoPositionTokens     = errors.New("caller holds no position tokens of the pool")
	ErrNotEligibleForClaim  = errors.New("candidate is not eligible for an ownership claim")
)

// Temporal errors: action attempted outside its valid time window.
var (
	ErrPoolNotExpired      = errors.New("pool not expired")
	ErrPoolExpired         = errors.New("pool already expired")
	ErrPeriodExpired       = errors.New("submission period expired")
	ErrOfferExpired        = errors.New("offer expired")
	ErrReviewPeriodExpired = errors.New("review period expired")
	ErrMinStakingPeriod    = errors.New("minimum staking period not elapsed")
	ErrNotInClaimWindow    = errors.New("outside of the ownership claim window")
	ErrElectionNotFinished = errors.New("ownership claim window has not ended")
	ErrWithinCooldown      = errors.New("election cycle cooldown not elapsed")
	ErrReportTooRecent     = errors.New("oracle value still within dispute window")
	ErrReportTooOld        = errors.New("oracle value is older than the maximum age")
)

// Validation errors: malformed or out-of-bounds input.
var (
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrInvalidInputParams     = errors.New("invalid input parameters")
	ErrZeroAddress            = errors.New("zero address")
	ErrZeroAmount             = errors.New("zero amount")
	ErrAmountExceedsClaim     = errors.New("amount exceeds claimable fee")
	ErrAmountTooSmall         = errors.New("taker fill amount is smaller than the minimum")
	ErrAmountExceedsRemaining = errors.New("taker fill amount exceeds the remaining fillable amount")
	ErrExceedsCapacity        = errors.New("pool capacity exceeded")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientAllowance  = errors.New("insufficient allowance")
	ErrUnknownToken           = errors.New("unknown token")
	ErrInvalidPositionToken   = errors.New("token is not a position token of the pool")
	ErrFeeOutOfBounds         = errors.New("fee out of bounds")
	ErrPeriodOutOfBounds      = errors.New("settlement period out of bounds")
	ErrInvalidOfferKind       = errors.New("invalid offer kind")
	ErrOfferHashMismatch      = errors.New("offer hash does not match offer fields")
	ErrDomainMismatch         = errors.New("offer domain does not match this ledger")
	ErrValueNotAvailable      = errors.New("oracle value not available")
)

// State-conflict errors: action incompatible with the current status.
var (
	ErrPoolNotFound                        = errors.New("pool not found")
	ErrOfferCancelled                      = errors.New("offer cancelled")
	ErrOfferFullyFilled                    = errors.New("offer already fully filled")
	ErrOfferInvalid                        = errors.New("offer invalid")
	ErrAlreadySubmitted                    = errors.New("final reference value already submitted")
	ErrAlreadyConfirmed                    = errors.New("final reference value already confirmed")
	ErrAlreadyConfirmedOrNoChallengeWindow = errors.New("final reference value already confirmed or challenge window closed")
	ErrNotConfirmed                        = errors.New("final reference value not confirmed")
	ErrPendingUpdate                       = errors.New("pending update already exists")
	ErrNoPendingUpdate                     = errors.New("no pending update to revoke")
	ErrElectionActive                      = errors.New("election cycle already active")
	ErrNoElectionActive                    = errors.New("no election cycle active")
	ErrInsufficientVotes                   = errors.New("insufficient votes")
	ErrStaleReport                         = errors.New("oracle report not newer than the last applied one")
)

// ErrorKind classifies an error according to the ledger error taxonomy.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthorization
	KindTemporal
	KindValidation
	KindStateConflict
	KindNotFound
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindTemporal:
		return "temporal"
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

var errorKinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindNotFound, []error{ErrNotFound, ErrPoolNotFound}},
	{KindAuthorization, []error{
		ErrUnauthorized, ErrNotOwner, ErrNotEligibleSubmitter, ErrNotDataProvider,
		ErrNotMaker, ErrUnauthorizedTaker, ErrNoPositionTokens, ErrNotEligibleForClaim,
	}},
	{KindTemporal, []error{
		ErrPoolNotExpired, ErrPoolExpired, ErrPeriodExpired, ErrOfferExpired,
		ErrReviewPeriodExpired, ErrMinStakingPeriod, ErrNotInClaimWindow,
		ErrElectionNotFinished, ErrWithinCooldown, ErrReportTooRecent, ErrReportTooOld,
	}},
	{KindValidation, []error{
		ErrInvalidSignature, ErrInvalidInputParams, ErrZeroAddress, ErrZeroAmount,
		ErrAmountExceedsClaim, ErrAmountTooSmall, ErrAmountExceedsRemaining,
		ErrExceedsCapacity, ErrInsufficientBalance, ErrInsufficientAllowance,
		ErrUnknownToken, ErrInvalidPositionToken, ErrFeeOutOfBounds, ErrPeriodOutOfBounds,
		ErrInvalidOfferKind, ErrOfferHashMismatch, ErrDomainMismatch, ErrValueNotAvailable,
	}},
	{KindStateConflict, []error{
		ErrOfferCancelled, ErrOfferFullyFilled, ErrOfferInvalid, ErrAlreadySubmitted,
		ErrAlreadyConfirmed, ErrAlreadyConfirmedOrNoChallengeWindow, ErrNotConfirmed,
		ErrPendingUpdate, ErrNoPendingUpdate, ErrElectionActive, ErrNoElectionActive,
		ErrInsufficientVotes, ErrStaleReport, ErrLockHeld,
	}},
}

// KindOf returns the taxonomy kind of err, looking through wrapped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindUnknown
}
