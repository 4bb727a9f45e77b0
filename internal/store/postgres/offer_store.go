package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// OfferStore implements domain.OfferStore. The offer itself is kept as its
// JSON exchange shape; indexed columns are copied out for queries.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore creates an OfferStore backed by pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

// Save inserts o. Saving an offer that already exists is a no-op.
func (s *OfferStore) Save(ctx context.Context, o domain.SignedOffer) error {
	if !o.Kind.Valid() {
		return fmt.Errorf("postgres: save offer: %w", domain.ErrInvalidOfferKind)
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("postgres: marshal offer %s: %w", o.OfferHash.Hex(), err)
	}

	var poolID *string
	if id := o.PoolID(); id != (common.Hash{}) {
		v := id.Hex()
		poolID = &v
	}
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO offers (
			kind, offer_hash, maker, pool_id, offer_expiry,
			chain_id, verifying_contract, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, offer_hash) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		string(o.Kind), o.OfferHash.Hex(), o.Maker().Hex(), poolID, int64(o.OfferExpiry()),
		o.ChainID, o.VerifyingContract.Hex(), payload, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save offer %s: %w", o.OfferHash.Hex(), err)
	}
	return nil
}

const offerSelectCols = `kind, payload, created_at`

func scanOffer(row interface{ Scan(dest ...any) error }) (domain.SignedOffer, error) {
	var (
		kind      string
		payload   []byte
		createdAt time.Time
	)
	if err := row.Scan(&kind, &payload, &createdAt); err != nil {
		return domain.SignedOffer{}, err
	}
	var o domain.SignedOffer
	if err := json.Unmarshal(payload, &o); err != nil {
		return domain.SignedOffer{}, fmt.Errorf("postgres: decode offer payload: %w", err)
	}
	if o.Kind != domain.OfferKind(kind) {
		return domain.SignedOffer{}, fmt.Errorf("postgres: stored %s offer decodes as %s: %w", kind, o.Kind, domain.ErrInvalidOfferKind)
	}
	o.CreatedAt = createdAt
	return o, nil
}

// Get returns the offer of kind with the given hash.
func (s *OfferStore) Get(ctx context.Context, kind domain.OfferKind, hash common.Hash) (domain.SignedOffer, error) {
	query := `SELECT ` + offerSelectCols + ` FROM offers WHERE kind = $1 AND offer_hash = $2`
	o, err := scanOffer(s.pool.QueryRow(ctx, query, string(kind), hash.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SignedOffer{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SignedOffer{}, fmt.Errorf("postgres: get offer %s: %w", hash.Hex(), err)
	}
	return o, nil
}

// ListByMaker returns offers signed by maker, newest first.
func (s *OfferStore) ListByMaker(ctx context.Context, maker common.Address, opts domain.ListOpts) ([]domain.SignedOffer, error) {
	query, args := listClause(
		`SELECT `+offerSelectCols+` FROM offers WHERE maker = $1`,
		"created_at", "created_at DESC", []any{maker.Hex()}, opts,
	)
	return s.list(ctx, "list offers by maker", query, args)
}

// ListByPool returns liquidity offers referencing poolID, newest first.
func (s *OfferStore) ListByPool(ctx context.Context, poolID common.Hash, opts domain.ListOpts) ([]domain.SignedOffer, error) {
	query, args := listClause(
		`SELECT `+offerSelectCols+` FROM offers WHERE pool_id = $1`,
		"created_at", "created_at DESC", []any{poolID.Hex()}, opts,
	)
	return s.list(ctx, "list offers by pool", query, args)
}

// ListBefore returns up to limit offers created before before, oldest first.
func (s *OfferStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.SignedOffer, error) {
	query, args := listClause(
		`SELECT `+offerSelectCols+` FROM offers WHERE created_at < $1`,
		"created_at", "created_at ASC", []any{before}, domain.ListOpts{Limit: limit},
	)
	return s.list(ctx, "list offers before", query, args)
}

func (s *OfferStore) list(ctx context.Context, op, query string, args []any) ([]domain.SignedOffer, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.SignedOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}
