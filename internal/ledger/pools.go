package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/payoff"
	"github.com/alanyoungcy/divasettle/internal/token"
)

// MinCollateral is the smallest collateral amount, in base units, a new
// pool may start with.
var MinCollateral = big.NewInt(1_000_000)

var poolIDArgs = func() abi.Arguments {
	str, _ := abi.NewType("string", "", nil)
	u96, _ := abi.NewType("uint96", "", nil)
	u256, _ := abi.NewType("uint256", "", nil)
	addr, _ := abi.NewType("address", "", nil)
	return abi.Arguments{
		{Name: "referenceAsset", Type: str},
		{Name: "expiryTime", Type: u96},
		{Name: "floor", Type: u256},
		{Name: "inflection", Type: u256},
		{Name: "cap", Type: u256},
		{Name: "gradient", Type: u256},
		{Name: "collateralAmount", Type: u256},
		{Name: "collateralToken", Type: addr},
		{Name: "dataProvider", Type: addr},
		{Name: "capacity", Type: u256},
		{Name: "longRecipient", Type: addr},
		{Name: "shortRecipient", Type: addr},
		{Name: "permissionedERC721Token", Type: addr},
		{Name: "creator", Type: addr},
		{Name: "nonce", Type: u256},
	}
}()

// PoolID derives a pool id from its creation parameters, creator and the
// ledger's pool nonce.
func PoolID(p domain.PoolParams, creator common.Address, nonce uint64) (common.Hash, error) {
	packed, err := poolIDArgs.Pack(
		p.ReferenceAsset,
		new(big.Int).SetUint64(p.ExpiryTime),
		domain.BigOrZero(p.Floor),
		domain.BigOrZero(p.Inflection),
		domain.BigOrZero(p.Cap),
		domain.BigOrZero(p.Gradient),
		domain.BigOrZero(p.CollateralAmount),
		p.CollateralToken,
		p.DataProvider,
		domain.BigOrZero(p.Capacity),
		p.LongRecipient,
		p.ShortRecipient,
		p.PermissionedERC721Token,
		creator,
		new(big.Int).SetUint64(nonce),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ledger: pool id: %v: %w", err, domain.ErrInvalidInputParams)
	}
	return ethcrypto.Keccak256Hash(packed), nil
}

// ValidatePoolParams checks the curve and funding parameters of a new pool
// whose collateral token has the given decimals.
func ValidatePoolParams(p domain.PoolParams, decimals uint8) error {
	invalid := func(reason string) error {
		return fmt.Errorf("ledger: %s: %w", reason, domain.ErrInvalidInputParams)
	}
	floor, infl, capLevel := domain.BigOrZero(p.Floor), domain.BigOrZero(p.Inflection), domain.BigOrZero(p.Cap)
	collateral, capacity := domain.BigOrZero(p.CollateralAmount), domain.BigOrZero(p.Capacity)

	for _, v := range []*big.Int{p.Floor, p.Inflection, p.Cap, p.Gradient, p.CollateralAmount, p.Capacity} {
		if !domain.FitsUint256(v) {
			return invalid(fmt.Sprintf("%s out of uint256 range", v))
		}
	}

	switch {
	case p.ReferenceAsset == "":
		return invalid("empty reference asset")
	case floor.Sign() < 0 || floor.Cmp(infl) > 0 || infl.Cmp(capLevel) > 0:
		return invalid("floor <= inflection <= cap violated")
	case decimals < payoff.MinDecimals || decimals > payoff.MaxDecimals:
		return invalid(fmt.Sprintf("collateral decimals %d", decimals))
	case p.DataProvider == (common.Address{}):
		return fmt.Errorf("ledger: data provider: %w", domain.ErrZeroAddress)
	case domain.BigOrZero(p.Gradient).Sign() < 0 || domain.BigOrZero(p.Gradient).Cmp(pow10(decimals)) > 0:
		return invalid("gradient above one")
	case collateral.Cmp(MinCollateral) < 0:
		return invalid(fmt.Sprintf("collateral %s below minimum %s", collateral, MinCollateral))
	case capacity.Cmp(collateral) < 0:
		return fmt.Errorf("ledger: collateral %s above capacity %s: %w", collateral, capacity, domain.ErrExceedsCapacity)
	case p.LongRecipient == (common.Address{}) || p.ShortRecipient == (common.Address{}):
		return fmt.Errorf("ledger: position token recipient: %w", domain.ErrZeroAddress)
	}
	return nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// funding is one collateral contribution pulled from an account.
type funding struct {
	from   common.Address
	amount *big.Int
}

// CreateContingentPool creates a pool funded entirely by caller.
func (l *Ledger) CreateContingentPool(caller common.Address, p domain.PoolParams) (common.Hash, error) {
	var id common.Hash
	err := l.run("create_pool", func(tx *txn) error {
		var err error
		id, err = l.issuePool(tx, caller, p, []funding{{caller, domain.BigOrZero(p.CollateralAmount)}})
		return err
	})
	return id, err
}

// issuePool validates p, pulls the collateral, deploys and mints the
// position tokens and registers the pool.
func (l *Ledger) issuePool(tx *txn, creator common.Address, p domain.PoolParams, funders []funding) (common.Hash, error) {
	decimals, err := l.tokens.Decimals(p.CollateralToken)
	if err != nil {
		return common.Hash{}, err
	}
	if err := ValidatePoolParams(p, decimals); err != nil {
		return common.Hash{}, err
	}
	id, err := PoolID(p, creator, l.nonce)
	if err != nil {
		return common.Hash{}, err
	}

	if err := l.tokens.Apply(l.pulls(p.CollateralToken, funders)...); err != nil {
		return common.Hash{}, fmt.Errorf("ledger: fund pool: %w", err)
	}

	l.nonce++
	symbolIndex := len(l.poolOrder) + 1
	long := l.tokens.Deploy(fmt.Sprintf("L%d", symbolIndex), decimals)
	short := l.tokens.Deploy(fmt.Sprintf("S%d", symbolIndex), decimals)
	collateral := domain.BigOrZero(p.CollateralAmount)
	if err := l.tokens.Apply(
		token.Mint(long, p.LongRecipient, collateral),
		token.Mint(short, p.ShortRecipient, collateral),
	); err != nil {
		// Unreachable after validation: recipients are non-zero and both
		// tokens exist.
		return common.Hash{}, fmt.Errorf("ledger: mint position tokens: %w", err)
	}

	ps := &poolState{
		Pool: domain.Pool{
			ID:                        id,
			ReferenceAsset:            p.ReferenceAsset,
			ExpiryTime:                p.ExpiryTime,
			Floor:                     new(big.Int).Set(domain.BigOrZero(p.Floor)),
			Inflection:                new(big.Int).Set(domain.BigOrZero(p.Inflection)),
			Cap:                       new(big.Int).Set(domain.BigOrZero(p.Cap)),
			Gradient:                  new(big.Int).Set(domain.BigOrZero(p.Gradient)),
			CollateralToken:           p.CollateralToken,
			CollateralBalance:         new(big.Int).Set(collateral),
			Capacity:                  new(big.Int).Set(domain.BigOrZero(p.Capacity)),
			DataProvider:              p.DataProvider,
			LongToken:                 long,
			ShortToken:                short,
			PermissionedERC721Token:   p.PermissionedERC721Token,
			FinalReferenceValue:       new(big.Int),
			StatusFinalReferenceValue: domain.StatusOpen,
			StatusTimestamp:           tx.now,
			PayoutLong:                new(big.Int),
			PayoutShort:               new(big.Int),
			IndexFees:                 l.params.Fees.Index(tx.now),
			IndexSettlementPeriods:    l.params.Periods.Index(tx.now),
		},
		decimals: decimals,
		reporter: p.DataProvider,
	}
	l.pools[id] = ps
	l.poolOrder = append(l.poolOrder, id)
	l.positionTokens[long] = id
	l.positionTokens[short] = id

	tx.emit(domain.EventPoolIssued,
		"poolId", id,
		"longRecipient", p.LongRecipient,
		"shortRecipient", p.ShortRecipient,
		"collateralAmount", collateral,
		"permissionedERC721Token", p.PermissionedERC721Token,
	)
	return id, nil
}

// AddLiquidity adds collateral from caller to an open pool and mints the
// same amount of long and short tokens to the recipients.
func (l *Ledger) AddLiquidity(caller common.Address, poolID common.Hash, amount *big.Int, longRecipient, shortRecipient common.Address) error {
	return l.run("add_liquidity", func(tx *txn) error {
		ps, err := l.pool(poolID)
		if err != nil {
			return err
		}
		return l.addLiquidity(tx, ps, []funding{{caller, domain.BigOrZero(amount)}}, longRecipient, shortRecipient)
	})
}

func (l *Ledger) addLiquidity(tx *txn, ps *poolState, funders []funding, longRecipient, shortRecipient common.Address) error {
	if err := l.checkAddLiquidity(ps, funders, longRecipient, shortRecipient, tx.now); err != nil {
		return err
	}
	total := fundingTotal(funders)
	ops := append(l.pulls(ps.CollateralToken, funders),
		token.Mint(ps.LongToken, longRecipient, total),
		token.Mint(ps.ShortToken, shortRecipient, total),
	)
	if err := l.tokens.Apply(ops...); err != nil {
		return fmt.Errorf("ledger: add liquidity: %w", err)
	}
	ps.CollateralBalance.Add(ps.CollateralBalance, total)

	tx.emit(domain.EventLiquidityAdded,
		"poolId", ps.ID,
		"longRecipient", longRecipient,
		"shortRecipient", shortRecipient,
		"collateralAmount", total,
	)
	return nil
}

func (l *Ledger) checkAddLiquidity(ps *poolState, funders []funding, longRecipient, shortRecipient common.Address, now uint64) error {
	total := fundingTotal(funders)
	switch {
	case now >= ps.ExpiryTime:
		return fmt.Errorf("ledger: add liquidity to %s: %w", ps.ID.Hex(), domain.ErrPoolExpired)
	case total.Sign() <= 0:
		return fmt.Errorf("ledger: add liquidity: %w", domain.ErrZeroAmount)
	case longRecipient == (common.Address{}) || shortRecipient == (common.Address{}):
		return fmt.Errorf("ledger: add liquidity recipient: %w", domain.ErrZeroAddress)
	case new(big.Int).Add(ps.CollateralBalance, total).Cmp(ps.Capacity) > 0:
		return fmt.Errorf("ledger: add liquidity to %s: %w", ps.ID.Hex(), domain.ErrExceedsCapacity)
	}
	return nil
}

// RemoveLiquidity burns amount long and amount short tokens of caller and
// returns the collateral net of fees. The protocol fee accrues to the
// treasury and the settlement fee to the data provider.
func (l *Ledger) RemoveLiquidity(caller common.Address, poolID common.Hash, amount *big.Int) error {
	return l.run("remove_liquidity", func(tx *txn) error {
		ps, err := l.pool(poolID)
		if err != nil {
			return err
		}
		if err := l.advance(ps, tx); err != nil {
			return err
		}
		amount = domain.BigOrZero(amount)
		if err := l.checkRemoveLiquidity(ps, amount); err != nil {
			return err
		}

		protocolFee, settlementFee, err := l.removalFees(ps, amount)
		if err != nil {
			return err
		}
		net := new(big.Int).Sub(amount, protocolFee)
		net.Sub(net, settlementFee)

		if err := l.tokens.Apply(
			token.Burn(ps.LongToken, caller, amount),
			token.Burn(ps.ShortToken, caller, amount),
			token.Transfer(ps.CollateralToken, l.self, caller, net),
		); err != nil {
			return fmt.Errorf("ledger: remove liquidity: %w", err)
		}
		ps.CollateralBalance.Sub(ps.CollateralBalance, amount)
		l.accrueRemovalFees(tx, ps, protocolFee, settlementFee)

		tx.emit(domain.EventLiquidityRemoved,
			"poolId", ps.ID,
			"longTokenHolder", caller,
			"shortTokenHolder", caller,
			"collateralAmount", amount,
		)
		return nil
	})
}

func (l *Ledger) checkRemoveLiquidity(ps *poolState, amount *big.Int) error {
	switch {
	case ps.StatusFinalReferenceValue == domain.StatusConfirmed:
		return fmt.Errorf("ledger: remove liquidity from %s: %w", ps.ID.Hex(), domain.ErrAlreadyConfirmed)
	case amount.Sign() <= 0:
		return fmt.Errorf("ledger: remove liquidity: %w", domain.ErrZeroAmount)
	case amount.Cmp(ps.CollateralBalance) > 0:
		return fmt.Errorf("ledger: remove %s from pool balance %s: %w", amount, ps.CollateralBalance, domain.ErrInsufficientBalance)
	}
	return nil
}

// removalFees returns the protocol and settlement fee on amount at the
// pool's fee version.
func (l *Ledger) removalFees(ps *poolState, amount *big.Int) (*big.Int, *big.Int, error) {
	fees := l.feesFor(ps)
	protocolFee, err := payoff.FeeAmount(amount, fees.ProtocolFee)
	if err != nil {
		return nil, nil, err
	}
	settlementFee, err := payoff.FeeAmount(amount, fees.SettlementFee)
	if err != nil {
		return nil, nil, err
	}
	return protocolFee, settlementFee, nil
}

func (l *Ledger) accrueRemovalFees(tx *txn, ps *poolState, protocolFee, settlementFee *big.Int) {
	l.accrue(tx, ps.ID, ps.CollateralToken, l.params.Treasury.At(tx.now), protocolFee)
	l.accrue(tx, ps.ID, ps.CollateralToken, ps.DataProvider, settlementFee)
}

// GetPoolParameters returns the pool with elapsed settlement windows applied.
func (l *Ledger) GetPoolParameters(poolID common.Hash) (domain.Pool, error) {
	var out domain.Pool
	err := l.run("get_pool", func(tx *txn) error {
		ps, err := l.pool(poolID)
		if err != nil {
			return err
		}
		if err := l.advance(ps, tx); err != nil {
			return err
		}
		out = ps.Pool.Clone()
		return nil
	})
	return out, err
}

// GetPoolIDByTypedCreateOfferHash returns the pool created by the first
// fill of a create offer, or the zero hash.
func (l *Ledger) GetPoolIDByTypedCreateOfferHash(typedOfferHash common.Hash) common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poolByOffer[typedOfferHash]
}

func (l *Ledger) pulls(collateral common.Address, funders []funding) []token.Op {
	ops := make([]token.Op, 0, len(funders))
	for _, f := range funders {
		ops = append(ops, token.TransferFrom(collateral, l.self, f.from, l.self, f.amount))
	}
	return ops
}

func fundingTotal(funders []funding) *big.Int {
	total := new(big.Int)
	for _, f := range funders {
		total.Add(total, f.amount)
	}
	return total
}
