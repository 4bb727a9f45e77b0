package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/google/uuid"
)

const eventBuffer = 1024

// EventPublisher receives ledger and election events and forwards them to
// the signal bus and the persistent event log. Emit never blocks the
// caller on I/O; delivery failures are logged and dropped.
type EventPublisher struct {
	bus     domain.SignalBus
	events  domain.EventStore
	queue   chan domain.Event
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewEventPublisher creates an EventPublisher. Either sink may be nil.
func NewEventPublisher(bus domain.SignalBus, events domain.EventStore, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		bus:    bus,
		events: events,
		queue:  make(chan domain.Event, eventBuffer),
		logger: logger.With(slog.String("component", "event_publisher")),
	}
}

// Emit queues e for delivery. Events without an id get one.
func (p *EventPublisher) Emit(e domain.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	select {
	case p.queue <- e:
	default:
		p.dropped.Add(1)
		p.logger.Warn("event_publisher: queue full, event dropped",
			slog.String("event_id", e.ID),
			slog.String("type", string(e.Type)),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *EventPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left in the queue.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil
		case e := <-p.queue:
			p.deliver(ctx, e)
		}
	}
}

func (p *EventPublisher) drain() {
	for {
		select {
		case e := <-p.queue:
			p.deliver(context.Background(), e)
		default:
			return
		}
	}
}

func (p *EventPublisher) deliver(ctx context.Context, e domain.Event) {
	log := p.logger.With(
		slog.String("event_id", e.ID),
		slog.String("type", string(e.Type)),
	)

	if p.events != nil {
		if err := p.events.Append(ctx, e); err != nil {
			log.Error("event_publisher: append to event log failed", slog.String("error", err.Error()))
		}
	}
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		log.Error("event_publisher: marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Publish(ctx, domain.ChannelLedger, payload); err != nil {
		log.Warn("event_publisher: bus publish failed", slog.String("error", err.Error()))
	}
	if err := p.bus.StreamAppend(ctx, domain.StreamLedger, payload); err != nil {
		log.Warn("event_publisher: stream append failed", slog.String("error", err.Error()))
	}
}
