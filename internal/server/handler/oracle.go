package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ReportBook is the writable oracle report book of a secondary ledger.
type ReportBook interface {
	SubmitValue(reporter common.Address, queryID common.Hash, value []byte, ts uint64) error
	Dispute(queryID common.Hash, ts uint64) error
}

// OwnerRefresher pulls the latest owner report into the mirror.
type OwnerRefresher interface {
	UpdateOwner(ctx context.Context) error
}

// OracleHandler accepts reports and disputes for the ownership feed.
type OracleHandler struct {
	book   ReportBook
	mirror OwnerRefresher
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler. mirror may be nil.
func NewOracleHandler(book ReportBook, mirror OwnerRefresher, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{book: book, mirror: mirror, logger: logger}
}

type reportRequest struct {
	Reporter  string        `json:"reporter"`
	QueryID   string        `json:"queryId"`
	Value     hexutil.Bytes `json:"value"`
	Timestamp uint64        `json:"timestamp"`
}

// SubmitReport records a reported value.
// POST /api/oracle/reports
func (h *OracleHandler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reporter, err := requestCaller(r, req.Reporter)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	queryID, err := parseHash(req.QueryID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.book.SubmitValue(reporter, queryID, req.Value, req.Timestamp); err != nil {
		writeDomainError(w, r, h.logger, "submit report", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"queryId":   queryID,
		"timestamp": req.Timestamp,
	})
}

type disputeRequest struct {
	QueryID   string `json:"queryId"`
	Timestamp uint64 `json:"timestamp"`
}

// DisputeReport flags a report so it is never consumed.
// POST /api/oracle/disputes
func (h *OracleHandler) DisputeReport(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	queryID, err := parseHash(req.QueryID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.book.Dispute(queryID, req.Timestamp); err != nil {
		writeDomainError(w, r, h.logger, "dispute report", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputed": true})
}

// RefreshOwner applies the latest eligible ownership report now instead
// of waiting for the next poll.
// POST /api/ownership/refresh
func (h *OracleHandler) RefreshOwner(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil {
		writeError(w, http.StatusNotFound, "no ownership mirror")
		return
	}
	if err := h.mirror.UpdateOwner(r.Context()); err != nil {
		writeDomainError(w, r, h.logger, "refresh owner", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
