// Package ownership decides who owns the protocol. On the primary ledger
// an Election lets stakers replace the owner; secondary ledgers run a
// Mirror that follows the primary's owner through oracle reports. Both
// satisfy ledger.OwnerProvider.
package ownership

import (
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/token"
)

// Election periods, in seconds.
const (
	ShowdownPeriod     = uint64(30 * 24 * 60 * 60)
	ClaimPeriod        = uint64(7 * 24 * 60 * 60)
	CooldownPeriod     = uint64(7 * 24 * 60 * 60)
	MinStakingPeriod   = uint64(7 * 24 * 60 * 60)
	electionCycleTotal = ShowdownPeriod + ClaimPeriod
)

// EventSink receives election events. Emit runs with the election lock
// held and must not call back into the Election.
type EventSink interface {
	Emit(domain.Event)
}

type stakeKey struct {
	user      common.Address
	candidate common.Address
}

// ElectionConfig wires an Election.
type ElectionConfig struct {
	// Address holds staked tokens.
	Address      common.Address
	InitialOwner common.Address
	StakeToken   common.Address
	Tokens       *token.Ledger
	Clock        clock.Clock
	Sink         EventSink
	Logger       *slog.Logger
}

// Election is a stake-weighted owner election. It is safe for concurrent
// use.
type Election struct {
	mu sync.Mutex

	self       common.Address
	stakeToken common.Address
	tokens     *token.Ledger
	clock      clock.Clock
	sink       EventSink
	logger     *slog.Logger

	owner     common.Address
	votes     map[common.Address]*big.Int
	staked    map[stakeKey]*big.Int
	lastStake map[common.Address]uint64

	// cycleActive is set from TriggerElectionCycle until SetOwner.
	cycleActive bool
	cycleStart  uint64
	leader      common.Address
	cooldownEnd uint64
}

// NewElection returns an election with cfg.InitialOwner in office.
func NewElection(cfg ElectionConfig) (*Election, error) {
	if cfg.Tokens == nil || !cfg.Tokens.Exists(cfg.StakeToken) {
		return nil, fmt.Errorf("ownership: stake token %s: %w", cfg.StakeToken.Hex(), domain.ErrUnknownToken)
	}
	if cfg.InitialOwner == (common.Address{}) || cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("ownership: election: %w", domain.ErrZeroAddress)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Election{
		self:       cfg.Address,
		stakeToken: cfg.StakeToken,
		tokens:     cfg.Tokens,
		clock:      cfg.Clock,
		sink:       cfg.Sink,
		logger:     cfg.Logger.With(slog.String("component", "ownership_election")),
		owner:      cfg.InitialOwner,
		votes:      make(map[common.Address]*big.Int),
		staked:     make(map[stakeKey]*big.Int),
		lastStake:  make(map[common.Address]uint64),
	}, nil
}

// Owner returns the current owner.
func (e *Election) Owner() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

// Votes returns the stake counted for candidate.
func (e *Election) Votes(candidate common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.votesOf(candidate))
}

// StakedBy returns what user has staked for candidate.
func (e *Election) StakedBy(user, candidate common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(domain.BigOrZero(e.staked[stakeKey{user, candidate}]))
}

// Leader returns the current claim leader of an active cycle.
func (e *Election) Leader() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

func (e *Election) votesOf(a common.Address) *big.Int {
	return domain.BigOrZero(e.votes[a])
}


func (e *Election) claimWindow() (start, end uint64) {
	return e.cycleStart + ShowdownPeriod, e.cycleStart + electionCycleTotal
}

// run executes fn under the lock and emits the event it returns before
// the lock is released, so the sink sees events in state order.
func (e *Election) run(fn func(now uint64) (domain.EventType, map[string]string, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := clock.Unix(e.clock)
	typ, kv, err := fn(now)
	if err != nil {
		return err
	}
	if e.sink != nil {
		e.sink.Emit(domain.Event{ID: uuid.NewString(), Type: typ, Timestamp: now, Attrs: kv})
	}
	return nil
}

// Stake moves amount of the stake token from user into the election and
// counts it for candidate. Staking is closed during the claim window.
func (e *Election) Stake(user, candidate common.Address, amount *big.Int) error {
	return e.run(func(now uint64) (domain.EventType, map[string]string, error) {
		if amount == nil || amount.Sign() <= 0 {
			return "", nil, fmt.Errorf("ownership: stake: %w", domain.ErrZeroAmount)
		}
		if candidate == (common.Address{}) {
			return "", nil, fmt.Errorf("ownership: stake candidate: %w", domain.ErrZeroAddress)
		}
		if start, end := e.claimWindow(); e.cycleActive && now >= start && now <= end {
			return "", nil, fmt.Errorf("ownership: stake: %w", domain.ErrElectionActive)
		}
		if err := e.tokens.TransferFrom(e.stakeToken, e.self, user, e.self, amount); err != nil {
			return "", nil, fmt.Errorf("ownership: stake: %w", err)
		}

		k := stakeKey{user, candidate}
		e.staked[k] = new(big.Int).Add(domain.BigOrZero(e.staked[k]), amount)
		e.votes[candidate] = new(big.Int).Add(e.votesOf(candidate), amount)
		e.lastStake[user] = now
		return domain.EventStaked, map[string]string{
			"by":        user.Hex(),
			"candidate": candidate.Hex(),
			"amount":    amount.String(),
		}, nil
	})
}

// Unstake returns amount staked by user for candidate. It requires
// MinStakingPeriod since the user's last stake and no active cycle.
func (e *Election) Unstake(user, candidate common.Address, amount *big.Int) error {
	return e.run(func(now uint64) (domain.EventType, map[string]string, error) {
		k := stakeKey{user, candidate}
		staked := domain.BigOrZero(e.staked[k])
		switch {
		case amount == nil || amount.Sign() <= 0:
			return "", nil, fmt.Errorf("ownership: unstake: %w", domain.ErrZeroAmount)
		case e.cycleActive:
			return "", nil, fmt.Errorf("ownership: unstake: %w", domain.ErrElectionActive)
		case now < e.lastStake[user]+MinStakingPeriod:
			return "", nil, fmt.Errorf("ownership: unstake: %w", domain.ErrMinStakingPeriod)
		case amount.Cmp(staked) > 0:
			return "", nil, fmt.Errorf("ownership: unstake %s of %s: %w", amount, staked, domain.ErrInsufficientBalance)
		}
		if err := e.tokens.Transfer(e.stakeToken, e.self, user, amount); err != nil {
			return "", nil, fmt.Errorf("ownership: unstake: %w", err)
		}
		e.staked[k] = new(big.Int).Sub(staked, amount)
		e.votes[candidate] = new(big.Int).Sub(e.votesOf(candidate), amount)
		return domain.EventUnstaked, map[string]string{
			"by":        user.Hex(),
			"candidate": candidate.Hex(),
			"amount":    amount.String(),
		}, nil
	})
}

// TriggerElectionCycle starts a cycle. caller must have staked for a
// candidate whose votes exceed the owner's.
func (e *Election) TriggerElectionCycle(caller, candidate common.Address) error {
	return e.run(func(now uint64) (domain.EventType, map[string]string, error) {
		switch {
		case e.cycleActive:
			return "", nil, fmt.Errorf("ownership: trigger: %w", domain.ErrElectionActive)
		case now < e.cooldownEnd:
			return "", nil, fmt.Errorf("ownership: trigger before %d: %w", e.cooldownEnd, domain.ErrWithinCooldown)
		case domain.BigOrZero(e.staked[stakeKey{caller, candidate}]).Sign() == 0:
			return "", nil, fmt.Errorf("ownership: trigger: %s has no stake for %s: %w", caller.Hex(), candidate.Hex(), domain.ErrNotEligibleForClaim)
		case e.votesOf(candidate).Cmp(e.votesOf(e.owner)) <= 0:
			return "", nil, fmt.Errorf("ownership: trigger: %w", domain.ErrInsufficientVotes)
		}
		e.cycleActive = true
		e.cycleStart = now
		e.leader = e.owner
		start, end := e.claimWindow()

		e.logger.Info("ownership: election cycle triggered",
			slog.String("by", caller.Hex()),
			slog.Duration("showdown", time.Duration(ShowdownPeriod)*time.Second),
		)
		return domain.EventElectionCycleTriggered, map[string]string{
			"by":              caller.Hex(),
			"claimWindowFrom": strconv.FormatUint(start, 10),
			"claimWindowTo":   strconv.FormatUint(end, 10),
		}, nil
	})
}

// SubmitOwnershipClaim makes candidate the leader if its votes strictly
// exceed the current leader's. Only possible inside the claim window.
func (e *Election) SubmitOwnershipClaim(candidate common.Address) error {
	return e.run(func(now uint64) (domain.EventType, map[string]string, error) {
		if !e.cycleActive {
			return "", nil, fmt.Errorf("ownership: claim: %w", domain.ErrNoElectionActive)
		}
		if start, end := e.claimWindow(); now < start || now > end {
			return "", nil, fmt.Errorf("ownership: claim at %d outside [%d, %d]: %w", now, start, end, domain.ErrNotInClaimWindow)
		}
		if e.votesOf(candidate).Cmp(e.votesOf(e.leader)) <= 0 {
			return "", nil, fmt.Errorf("ownership: claim by %s: %w", candidate.Hex(), domain.ErrInsufficientVotes)
		}
		e.leader = candidate
		return domain.EventOwnershipClaimSubmitted, map[string]string{
			"candidate": candidate.Hex(),
			"votes":     e.votesOf(candidate).String(),
		}, nil
	})
}

// SetOwner ends the cycle after the claim window: the leader becomes
// owner and the cooldown starts.
func (e *Election) SetOwner() error {
	return e.run(func(now uint64) (domain.EventType, map[string]string, error) {
		if !e.cycleActive {
			return "", nil, fmt.Errorf("ownership: set owner: %w", domain.ErrNoElectionActive)
		}
		_, end := e.claimWindow()
		if now <= end {
			return "", nil, fmt.Errorf("ownership: set owner before %d: %w", end, domain.ErrElectionNotFinished)
		}
		e.owner = e.leader
		e.cycleActive = false
		e.cooldownEnd = end + CooldownPeriod

		e.logger.Info("ownership: owner set", slog.String("owner", e.owner.Hex()))
		return domain.EventOwnerSet, map[string]string{"owner": e.owner.Hex()}, nil
	})
}
