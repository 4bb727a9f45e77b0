package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// EventHandler serves the persisted ledger event log.
type EventHandler struct {
	events domain.EventStore
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events domain.EventStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

type eventRecordJSON struct {
	Seq   int64        `json:"seq"`
	Event domain.Event `json:"event"`
}

// ListEvents returns logged events, optionally filtered by type.
// GET /api/events?type=PoolIssued&limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	var (
		recs []domain.EventRecord
		err  error
	)
	if typ := r.URL.Query().Get("type"); typ != "" {
		recs, err = h.events.ListByType(r.Context(), domain.EventType(typ), opts)
	} else {
		recs, err = h.events.List(r.Context(), opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	out := make([]eventRecordJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, eventRecordJSON{Seq: rec.Seq, Event: rec.Event})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
