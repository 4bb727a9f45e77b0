package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const defaultOfferTTL = 10 * time.Minute

// OfferCache implements domain.OfferCache with JSON-encoded signed offers.
//
// Key schema:
//
//	offer:{kind}:{hash} - string holding the exchanged JSON shape
type OfferCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOfferCache creates an OfferCache backed by the given Client. A
// non-positive ttl selects the default of ten minutes.
func NewOfferCache(c *Client, ttl time.Duration) *OfferCache {
	if ttl <= 0 {
		ttl = defaultOfferTTL
	}
	return &OfferCache{rdb: c.Underlying(), ttl: ttl}
}

func offerKey(kind domain.OfferKind, hash common.Hash) string {
	return "offer:" + string(kind) + ":" + hash.Hex()
}

// Set stores the offer under its kind and hash.
func (oc *OfferCache) Set(ctx context.Context, offer domain.SignedOffer) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("redis: marshal offer %s: %w", offer.OfferHash.Hex(), err)
	}
	if err := oc.rdb.Set(ctx, offerKey(offer.Kind, offer.OfferHash), data, oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set offer %s: %w", offer.OfferHash.Hex(), err)
	}
	return nil
}

// Get returns the cached offer or domain.ErrNotFound.
func (oc *OfferCache) Get(ctx context.Context, kind domain.OfferKind, hash common.Hash) (domain.SignedOffer, error) {
	data, err := oc.rdb.Get(ctx, offerKey(kind, hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SignedOffer{}, domain.ErrNotFound
		}
		return domain.SignedOffer{}, fmt.Errorf("redis: get offer %s: %w", hash.Hex(), err)
	}

	var offer domain.SignedOffer
	if err := json.Unmarshal(data, &offer); err != nil {
		return domain.SignedOffer{}, fmt.Errorf("redis: unmarshal offer %s: %w", hash.Hex(), err)
	}
	if offer.Kind != kind {
		return domain.SignedOffer{}, domain.ErrNotFound
	}
	return offer, nil
}

// Invalidate drops the cached offer. Missing keys are not an error.
func (oc *OfferCache) Invalidate(ctx context.Context, kind domain.OfferKind, hash common.Hash) error {
	if err := oc.rdb.Del(ctx, offerKey(kind, hash)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate offer %s: %w", hash.Hex(), err)
	}
	return nil
}

var _ domain.OfferCache = (*OfferCache)(nil)
