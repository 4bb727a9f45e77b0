// Package token is an in-memory ERC20-style token ledger. It holds the
// collateral tokens users deposit and the long/short position tokens the
// protocol mints for every pool.
package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// Info describes a registered token.
type Info struct {
	Address     common.Address `json:"address"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *big.Int       `json:"totalSupply"`
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type tokenState struct {
	symbol     string
	decimals   uint8
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

// Ledger holds every token's balances and allowances. It is safe for
// concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	deployer common.Address
	nonce    uint64
	tokens   map[common.Address]*tokenState
}

// NewLedger returns an empty ledger. Position token addresses are derived
// from deployer and an internal nonce, the way contract addresses are.
func NewLedger(deployer common.Address) *Ledger {
	return &Ledger{
		deployer: deployer,
		tokens:   make(map[common.Address]*tokenState),
	}
}

// Register adds an externally addressed token such as a collateral token.
func (l *Ledger) Register(addr common.Address, symbol string, decimals uint8) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("token: register: %w", domain.ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[addr]; ok {
		return fmt.Errorf("token: register %s: already registered: %w", addr.Hex(), domain.ErrInvalidInputParams)
	}
	l.tokens[addr] = newTokenState(symbol, decimals)
	return nil
}

// Deploy creates a new token at a derived address and returns it.
func (l *Ledger) Deploy(symbol string, decimals uint8) common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr := crypto.CreateAddress(l.deployer, l.nonce)
	l.nonce++
	l.tokens[addr] = newTokenState(symbol, decimals)
	return addr
}

func newTokenState(symbol string, decimals uint8) *tokenState {
	return &tokenState{
		symbol:     symbol,
		decimals:   decimals,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Exists reports whether addr is a registered token.
func (l *Ledger) Exists(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tokens[addr]
	return ok
}

// Info returns the token's metadata and supply.
func (l *Ledger) Info(addr common.Address) (Info, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, err := l.get(addr)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Address:     addr,
		Symbol:      t.symbol,
		Decimals:    t.decimals,
		TotalSupply: new(big.Int).Set(t.supply),
	}, nil
}

// Decimals returns the token's decimals.
func (l *Ledger) Decimals(addr common.Address) (uint8, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, err := l.get(addr)
	if err != nil {
		return 0, err
	}
	return t.decimals, nil
}

// TotalSupply returns the token's total supply.
func (l *Ledger) TotalSupply(addr common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, err := l.get(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.supply), nil
}

// BalanceOf returns owner's balance of the token.
func (l *Ledger) BalanceOf(addr, owner common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, err := l.get(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(domain.BigOrZero(t.balances[owner])), nil
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(addr, owner, spender common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, err := l.get(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(domain.BigOrZero(t.allowances[allowanceKey{owner, spender}])), nil
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(addr, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: approve: %w", domain.ErrInvalidInputParams)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.get(addr)
	if err != nil {
		return err
	}
	t.allowances[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(addr, from, to common.Address, amount *big.Int) error {
	return l.Apply(Transfer(addr, from, to, amount))
}

// TransferFrom moves amount from one account to another using spender's
// allowance.
func (l *Ledger) TransferFrom(addr, spender, from, to common.Address, amount *big.Int) error {
	return l.Apply(TransferFrom(addr, spender, from, to, amount))
}

// Mint creates amount new tokens for to.
func (l *Ledger) Mint(addr, to common.Address, amount *big.Int) error {
	return l.Apply(Mint(addr, to, amount))
}

// Burn destroys amount of from's tokens.
func (l *Ledger) Burn(addr, from common.Address, amount *big.Int) error {
	return l.Apply(Burn(addr, from, amount))
}

func (l *Ledger) get(addr common.Address) (*tokenState, error) {
	t, ok := l.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("token: %s: %w", addr.Hex(), domain.ErrUnknownToken)
	}
	return t, nil
}
