// Package ledger is the authoritative state of contingent pools, offer
// fills, settlement and fee claims. A single Ledger serialises every call;
// each operation validates fully before its first mutation, so a failed call
// leaves state unchanged.
package ledger

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/crypto"
	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/governance"
	"github.com/alanyoungcy/divasettle/internal/token"
)

// EventSink receives events of successful operations, in order. Emit runs
// with the ledger lock held and must not call back into the Ledger.
type EventSink interface {
	Emit(domain.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(domain.Event)

// Emit calls f(e).
func (f EventSinkFunc) Emit(e domain.Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(domain.Event) {}

// OwnerProvider reports the protocol owner allowed to change governance
// parameters.
type OwnerProvider interface {
	Owner() common.Address
}

// StaticOwner is an OwnerProvider with a fixed owner.
type StaticOwner common.Address

// Owner returns the fixed owner.
func (o StaticOwner) Owner() common.Address { return common.Address(o) }

// Config wires a Ledger to its collaborators.
type Config struct {
	// ChainID and Address form the typed-data domain; Address also holds
	// all pool collateral and accrued fees.
	ChainID int64
	Address common.Address
	Tokens  *token.Ledger
	Params  *governance.Parameters
	Owner   OwnerProvider
	Clock   clock.Clock
	Sink    EventSink
	Logger  *slog.Logger
}

type poolState struct {
	domain.Pool
	decimals uint8
	// reporter receives the settlement fee at confirmation.
	reporter common.Address
}

type claimKey struct {
	token     common.Address
	recipient common.Address
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	self   common.Address
	offers crypto.Domain
	tokens *token.Ledger
	params *governance.Parameters
	owner  OwnerProvider
	clock  clock.Clock
	sink   EventSink
	logger *slog.Logger

	nonce          uint64
	pools          map[common.Hash]*poolState
	poolOrder      []common.Hash
	positionTokens map[common.Address]common.Hash
	poolByOffer    map[common.Hash]common.Hash
	filled         map[common.Hash]*big.Int
	cancelled      map[common.Hash]bool
	claims         map[claimKey]*big.Int
}

// New returns an empty ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Tokens == nil || cfg.Params == nil || cfg.Owner == nil {
		return nil, fmt.Errorf("ledger: tokens, params and owner are required: %w", domain.ErrInvalidInputParams)
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("ledger: address: %w", domain.ErrZeroAddress)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ledger{
		self:           cfg.Address,
		offers:         crypto.NewDomain(cfg.ChainID, cfg.Address),
		tokens:         cfg.Tokens,
		params:         cfg.Params,
		owner:          cfg.Owner,
		clock:          cfg.Clock,
		sink:           cfg.Sink,
		logger:         cfg.Logger.With(slog.String("component", "ledger")),
		pools:          make(map[common.Hash]*poolState),
		positionTokens: make(map[common.Address]common.Hash),
		poolByOffer:    make(map[common.Hash]common.Hash),
		filled:         make(map[common.Hash]*big.Int),
		cancelled:      make(map[common.Hash]bool),
		claims:         make(map[claimKey]*big.Int),
	}, nil
}

// Address returns the ledger's own address.
func (l *Ledger) Address() common.Address { return l.self }

// Domain returns the typed-data domain offers must be signed under.
func (l *Ledger) Domain() crypto.Domain { return l.offers }

// Tokens returns the token ledger the ledger settles in.
func (l *Ledger) Tokens() *token.Ledger { return l.tokens }

// txn carries the per-call time and collects events until the call
// succeeds. Events of lazy settlement transitions are kept apart in
// settled: those transitions stand even when the call itself fails.
type txn struct {
	now     uint64
	events  []domain.Event
	settled []domain.Event
}

// run executes fn under the ledger lock and emits the collected events
// only if fn succeeds. Events are emitted while the lock is still held so
// the sink receives them in the order the state changed.
func (l *Ledger) run(op string, fn func(tx *txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := &txn{now: l.now()}
	err := fn(tx)

	for _, e := range tx.settled {
		l.sink.Emit(e)
	}
	if err != nil {
		l.logger.Debug("ledger: operation rejected",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return err
	}
	for _, e := range tx.events {
		l.sink.Emit(e)
	}
	return nil
}

func (l *Ledger) pool(id common.Hash) (*poolState, error) {
	ps, ok := l.pools[id]
	if !ok {
		return nil, fmt.Errorf("ledger: pool %s: %w", id.Hex(), domain.ErrPoolNotFound)
	}
	return ps, nil
}

func (l *Ledger) feesFor(ps *poolState) domain.Fees {
	v, _ := l.params.Fees.Get(ps.IndexFees)
	return v.CurrentValue
}

func (l *Ledger) periodsFor(ps *poolState) domain.SettlementPeriods {
	v, _ := l.params.Periods.Get(ps.IndexSettlementPeriods)
	return v.CurrentValue
}

// Pools returns a snapshot of every pool in creation order, with elapsed
// settlement windows applied.
func (l *Ledger) Pools() ([]domain.Pool, error) {
	var out []domain.Pool
	err := l.run("pools", func(tx *txn) error {
		out = make([]domain.Pool, 0, len(l.poolOrder))
		for _, id := range l.poolOrder {
			ps := l.pools[id]
			if err := l.advance(ps, tx); err != nil {
				return err
			}
			out = append(out, ps.Pool.Clone())
		}
		return nil
	})
	return out, err
}

func (l *Ledger) now() uint64 {
	return clock.Unix(l.clock)
}
