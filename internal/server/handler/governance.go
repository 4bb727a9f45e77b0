package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Governor is the owner-only side of governance. Updates take effect after
// the ledger's activation delay and can be revoked until then.
type Governor interface {
	UpdateFees(caller common.Address, fees domain.Fees) error
	RevokePendingFeesUpdate(caller common.Address) error
	UpdateSettlementPeriods(caller common.Address, periods domain.SettlementPeriods) error
	RevokePendingSettlementPeriodsUpdate(caller common.Address) error
	UpdateTreasury(caller, treasury common.Address) error
	RevokePendingTreasuryUpdate(caller common.Address) error
	UpdateFallbackDataProvider(caller, provider common.Address) error
	RevokePendingFallbackDataProviderUpdate(caller common.Address) error
}

// GovernanceHandler schedules and revokes governance updates.
type GovernanceHandler struct {
	gov    Governor
	logger *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler.
func NewGovernanceHandler(gov Governor, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{gov: gov, logger: logger}
}

type feesUpdateRequest struct {
	Caller        string `json:"caller"`
	ProtocolFee   string `json:"protocolFee"`
	SettlementFee string `json:"settlementFee"`
}

// UpdateFees schedules new fees.
// POST /api/governance/fees
func (h *GovernanceHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	var req feesUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := requestCaller(r, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	protocol, err := parseAmount(req.ProtocolFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settlement, err := parseAmount(req.SettlementFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = h.gov.UpdateFees(caller, domain.Fees{ProtocolFee: protocol, SettlementFee: settlement})
	h.respond(w, r, "update fees", err)
}

type periodsUpdateRequest struct {
	Caller string `json:"caller"`
	domain.SettlementPeriods
}

// UpdateSettlementPeriods schedules new settlement periods, in seconds.
// POST /api/governance/settlement-periods
func (h *GovernanceHandler) UpdateSettlementPeriods(w http.ResponseWriter, r *http.Request) {
	var req periodsUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := requestCaller(r, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	h.respond(w, r, "update settlement periods", h.gov.UpdateSettlementPeriods(caller, req.SettlementPeriods))
}

type addressUpdateRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

// UpdateTreasury schedules a new treasury.
// POST /api/governance/treasury
func (h *GovernanceHandler) UpdateTreasury(w http.ResponseWriter, r *http.Request) {
	h.updateAddress(w, r, "update treasury", h.gov.UpdateTreasury)
}

// UpdateFallbackProvider schedules a new fallback data provider.
// POST /api/governance/fallback-provider
func (h *GovernanceHandler) UpdateFallbackProvider(w http.ResponseWriter, r *http.Request) {
	h.updateAddress(w, r, "update fallback provider", h.gov.UpdateFallbackDataProvider)
}

func (h *GovernanceHandler) updateAddress(w http.ResponseWriter, r *http.Request, op string, update func(caller, addr common.Address) error) {
	var req addressUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := requestCaller(r, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, op, update(caller, addr))
}

type callerRequest struct {
	Caller string `json:"caller"`
}

// RevokePending cancels a pending update of one parameter: fees,
// settlement-periods, treasury or fallback-provider.
// POST /api/governance/{param}/revoke
func (h *GovernanceHandler) RevokePending(w http.ResponseWriter, r *http.Request) {
	var revoke func(common.Address) error
	switch param := r.PathValue("param"); param {
	case "fees":
		revoke = h.gov.RevokePendingFeesUpdate
	case "settlement-periods":
		revoke = h.gov.RevokePendingSettlementPeriodsUpdate
	case "treasury":
		revoke = h.gov.RevokePendingTreasuryUpdate
	case "fallback-provider":
		revoke = h.gov.RevokePendingFallbackDataProviderUpdate
	default:
		writeError(w, http.StatusNotFound, "unknown governance parameter "+param)
		return
	}

	var req callerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := requestCaller(r, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	if err := revoke(caller); err != nil {
		writeDomainError(w, r, h.logger, "revoke "+r.PathValue("param"), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *GovernanceHandler) respond(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
