package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OfferCache provides fast signed offer lookups by hash.
type OfferCache interface {
	Set(ctx context.Context, offer SignedOffer) error
	Get(ctx context.Context, kind OfferKind, hash common.Hash) (SignedOffer, error)
	Invalidate(ctx context.Context, kind OfferKind, hash common.Hash) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels and streams.
const (
	ChannelLedger = "ch:ledger"
	ChannelOffers = "ch:offers"
	StreamLedger  = "stream:ledger"
)
