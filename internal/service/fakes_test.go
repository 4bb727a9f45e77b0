package service

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type offerKey struct {
	kind domain.OfferKind
	hash common.Hash
}

type memOfferStore struct {
	mu     sync.Mutex
	offers map[offerKey]domain.SignedOffer
	gets   int
}

func newMemOfferStore() *memOfferStore {
	return &memOfferStore{offers: map[offerKey]domain.SignedOffer{}}
}

func (m *memOfferStore) Save(_ context.Context, o domain.SignedOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := offerKey{o.Kind, o.OfferHash}
	if _, ok := m.offers[k]; !ok {
		m.offers[k] = o
	}
	return nil
}

func (m *memOfferStore) Get(_ context.Context, kind domain.OfferKind, hash common.Hash) (domain.SignedOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	o, ok := m.offers[offerKey{kind, hash}]
	if !ok {
		return domain.SignedOffer{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memOfferStore) ListByMaker(_ context.Context, maker common.Address, _ domain.ListOpts) ([]domain.SignedOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SignedOffer
	for _, o := range m.offers {
		if o.Maker() == maker {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOfferStore) ListByPool(_ context.Context, poolID common.Hash, _ domain.ListOpts) ([]domain.SignedOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SignedOffer
	for _, o := range m.offers {
		if o.PoolID() == poolID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOfferStore) ListBefore(context.Context, time.Time, int) ([]domain.SignedOffer, error) {
	return nil, nil
}

type memOfferCache struct {
	memOfferStore
}

func newMemOfferCache() *memOfferCache {
	return &memOfferCache{memOfferStore{offers: map[offerKey]domain.SignedOffer{}}}
}

func (m *memOfferCache) Set(ctx context.Context, o domain.SignedOffer) error {
	return m.Save(ctx, o)
}

func (m *memOfferCache) Invalidate(_ context.Context, kind domain.OfferKind, hash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offers, offerKey{kind, hash})
	return nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = map[string]bool{}
	}
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memEvents) Append(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memEvents) List(context.Context, domain.ListOpts) ([]domain.EventRecord, error) {
	return nil, nil
}

func (m *memEvents) ListByType(context.Context, domain.EventType, domain.ListOpts) ([]domain.EventRecord, error) {
	return nil, nil
}

func (m *memEvents) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type memRemote struct {
	offers map[offerKey]domain.SignedOffer
	posted []domain.SignedOffer
}

func (r *memRemote) Post(_ context.Context, o domain.SignedOffer) error {
	r.posted = append(r.posted, o)
	return nil
}

func (r *memRemote) Get(_ context.Context, kind domain.OfferKind, hash common.Hash) (domain.SignedOffer, error) {
	o, ok := r.offers[offerKey{kind, hash}]
	if !ok {
		return domain.SignedOffer{}, domain.ErrNotFound
	}
	return o, nil
}
