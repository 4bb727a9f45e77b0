package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// EventStore implements domain.EventStore, an append-only ledger event log.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append records evt. Re-appending an event id is ignored.
func (s *EventStore) Append(ctx context.Context, evt domain.Event) error {
	attrs, err := json.Marshal(evt.Attrs)
	if err != nil {
		return fmt.Errorf("postgres: marshal event attrs: %w", err)
	}
	const query = `
		INSERT INTO ledger_events (event_id, event_type, ts, attrs)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, evt.ID, string(evt.Type), int64(evt.Timestamp), attrs); err != nil {
		return fmt.Errorf("postgres: append event %s: %w", evt.Type, err)
	}
	return nil
}

// List returns events in append order.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.EventRecord, error) {
	query, args := listClause(
		`SELECT seq, event_id, event_type, ts, attrs, recorded_at FROM ledger_events WHERE 1=1`,
		"recorded_at", "seq ASC", nil, opts,
	)
	return s.list(ctx, query, args)
}

// ListByType returns events of typ in append order.
func (s *EventStore) ListByType(ctx context.Context, typ domain.EventType, opts domain.ListOpts) ([]domain.EventRecord, error) {
	query, args := listClause(
		`SELECT seq, event_id, event_type, ts, attrs, recorded_at FROM ledger_events WHERE event_type = $1`,
		"recorded_at", "seq ASC", []any{string(typ)}, opts,
	)
	return s.list(ctx, query, args)
}

func (s *EventStore) list(ctx context.Context, query string, args []any) ([]domain.EventRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		var (
			r     domain.EventRecord
			typ   string
			ts    int64
			attrs []byte
		)
		if err := rows.Scan(&r.Seq, &r.Event.ID, &typ, &ts, &attrs, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		r.Event.Type = domain.EventType(typ)
		r.Event.Timestamp = uint64(ts)
		if err := json.Unmarshal(attrs, &r.Event.Attrs); err != nil {
			return nil, fmt.Errorf("postgres: decode event attrs: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}
