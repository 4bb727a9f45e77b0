package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OfferStore persists signed offers keyed by kind and offer hash.
type OfferStore interface {
	Save(ctx context.Context, offer SignedOffer) error
	Get(ctx context.Context, kind OfferKind, hash common.Hash) (SignedOffer, error)
	ListByMaker(ctx context.Context, maker common.Address, opts ListOpts) ([]SignedOffer, error)
	ListByPool(ctx context.Context, poolID common.Hash, opts ListOpts) ([]SignedOffer, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]SignedOffer, error)
}

// EventStore persists an append-only log of ledger events.
type EventStore interface {
	Append(ctx context.Context, evt Event) error
	List(ctx context.Context, opts ListOpts) ([]EventRecord, error)
	ListByType(ctx context.Context, typ EventType, opts ListOpts) ([]EventRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of operator actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
