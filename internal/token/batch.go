package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// OpKind is the kind of a balance-changing operation.
type OpKind uint8

const (
	OpTransfer OpKind = iota
	OpTransferFrom
	OpMint
	OpBurn
)

// Op is one balance-changing operation in a batch.
type Op struct {
	Kind    OpKind
	Token   common.Address
	Spender common.Address
	From    common.Address
	To      common.Address
	Amount  *big.Int
}

// Transfer returns a transfer op.
func Transfer(tok, from, to common.Address, amount *big.Int) Op {
	return Op{Kind: OpTransfer, Token: tok, From: from, To: to, Amount: amount}
}

// TransferFrom returns an allowance-consuming transfer op.
func TransferFrom(tok, spender, from, to common.Address, amount *big.Int) Op {
	return Op{Kind: OpTransferFrom, Token: tok, Spender: spender, From: from, To: to, Amount: amount}
}

// Mint returns a mint op.
func Mint(tok, to common.Address, amount *big.Int) Op {
	return Op{Kind: OpMint, Token: tok, To: to, Amount: amount}
}

// Burn returns a burn op.
func Burn(tok, from common.Address, amount *big.Int) Op {
	return Op{Kind: OpBurn, Token: tok, From: from, Amount: amount}
}

type balanceKey struct {
	token common.Address
	owner common.Address
}

type stagedAllowanceKey struct {
	token common.Address
	allowanceKey
}

// staging overlays pending writes on the ledger so a batch can be checked
// in full before anything is committed.
type staging struct {
	l          *Ledger
	balances   map[balanceKey]*big.Int
	allowances map[stagedAllowanceKey]*big.Int
	supplies   map[common.Address]*big.Int
}

func (s *staging) balance(tok, owner common.Address) *big.Int {
	k := balanceKey{tok, owner}
	if v, ok := s.balances[k]; ok {
		return v
	}
	v := new(big.Int).Set(domain.BigOrZero(s.l.tokens[tok].balances[owner]))
	s.balances[k] = v
	return v
}

func (s *staging) allowance(tok, owner, spender common.Address) *big.Int {
	k := stagedAllowanceKey{tok, allowanceKey{owner, spender}}
	if v, ok := s.allowances[k]; ok {
		return v
	}
	v := new(big.Int).Set(domain.BigOrZero(s.l.tokens[tok].allowances[k.allowanceKey]))
	s.allowances[k] = v
	return v
}

func (s *staging) supply(tok common.Address) *big.Int {
	if v, ok := s.supplies[tok]; ok {
		return v
	}
	v := new(big.Int).Set(s.l.tokens[tok].supply)
	s.supplies[tok] = v
	return v
}

func (s *staging) debit(tok, owner common.Address, amount *big.Int) error {
	b := s.balance(tok, owner)
	if b.Cmp(amount) < 0 {
		return fmt.Errorf("token: %s balance of %s: %w", tok.Hex(), owner.Hex(), domain.ErrInsufficientBalance)
	}
	b.Sub(b, amount)
	return nil
}

func (s *staging) apply(op Op) error {
	if op.Amount == nil || op.Amount.Sign() < 0 {
		return fmt.Errorf("token: negative amount: %w", domain.ErrInvalidInputParams)
	}
	if _, ok := s.l.tokens[op.Token]; !ok {
		return fmt.Errorf("token: %s: %w", op.Token.Hex(), domain.ErrUnknownToken)
	}

	switch op.Kind {
	case OpTransferFrom:
		a := s.allowance(op.Token, op.From, op.Spender)
		if a.Cmp(op.Amount) < 0 {
			return fmt.Errorf("token: %s allowance of %s: %w", op.Token.Hex(), op.Spender.Hex(), domain.ErrInsufficientAllowance)
		}
		a.Sub(a, op.Amount)
		fallthrough
	case OpTransfer:
		if op.To == (common.Address{}) {
			return fmt.Errorf("token: transfer to zero address: %w", domain.ErrZeroAddress)
		}
		if err := s.debit(op.Token, op.From, op.Amount); err != nil {
			return err
		}
		b := s.balance(op.Token, op.To)
		b.Add(b, op.Amount)
	case OpMint:
		if op.To == (common.Address{}) {
			return fmt.Errorf("token: mint to zero address: %w", domain.ErrZeroAddress)
		}
		b := s.balance(op.Token, op.To)
		b.Add(b, op.Amount)
		sup := s.supply(op.Token)
		sup.Add(sup, op.Amount)
	case OpBurn:
		if err := s.debit(op.Token, op.From, op.Amount); err != nil {
			return err
		}
		sup := s.supply(op.Token)
		sup.Sub(sup, op.Amount)
	default:
		return fmt.Errorf("token: unknown op kind %d: %w", op.Kind, domain.ErrInvalidInputParams)
	}
	return nil
}

func (s *staging) commit() {
	for k, v := range s.balances {
		s.l.tokens[k.token].balances[k.owner] = v
	}
	for k, v := range s.allowances {
		s.l.tokens[k.token].allowances[k.allowanceKey] = v
	}
	for tok, v := range s.supplies {
		s.l.tokens[tok].supply = v
	}
}

// Check reports whether ops would succeed, without applying them.
func (l *Ledger) Check(ops ...Op) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.stage()
	for _, op := range ops {
		if err := s.apply(op); err != nil {
			return err
		}
	}
	return nil
}

// Apply executes ops in order as one unit: either all of them take effect
// or none does.
func (l *Ledger) Apply(ops ...Op) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stage()
	for _, op := range ops {
		if err := s.apply(op); err != nil {
			return err
		}
	}
	s.commit()
	return nil
}

func (l *Ledger) stage() *staging {
	return &staging{
		l:          l,
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[stagedAllowanceKey]*big.Int),
		supplies:   make(map[common.Address]*big.Int),
	}
}
