package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Ledger defines the ledger reads and settlement actions the handler
// exposes.
type Ledger interface {
	Pools() ([]domain.Pool, error)
	GetPoolParameters(poolID common.Hash) (domain.Pool, error)
	GetClaim(collateral, recipient common.Address) *big.Int
	ClaimFee(caller, collateral, recipient common.Address) error
	GetGovernanceParameters() domain.GovernanceParameters
	GetTreasuryInfo() domain.AddressInfo
	GetFallbackDataProviderInfo() domain.AddressInfo
	GetFeesHistory(n int) []domain.ParameterVersion[domain.Fees]
	GetSettlementPeriodsHistory(n int) []domain.ParameterVersion[domain.SettlementPeriods]
	GetOwner() common.Address
	SetFinalReferenceValue(caller common.Address, poolID common.Hash, value *big.Int, allowChallenge bool) error
	ChallengeFinalReferenceValue(caller common.Address, poolID common.Hash, proposedValue *big.Int) error
	RedeemPositionToken(caller, positionToken common.Address, amount *big.Int) error
}

// LedgerHandler serves pool, claim and governance endpoints.
type LedgerHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(l Ledger, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

type poolResponse struct {
	ID                        common.Hash       `json:"id"`
	ReferenceAsset            string            `json:"referenceAsset"`
	ExpiryTime                uint64            `json:"expiryTime"`
	Floor                     string            `json:"floor"`
	Inflection                string            `json:"inflection"`
	Cap                       string            `json:"cap"`
	Gradient                  string            `json:"gradient"`
	CollateralToken           common.Address    `json:"collateralToken"`
	CollateralBalance         string            `json:"collateralBalance"`
	Capacity                  string            `json:"capacity"`
	DataProvider              common.Address    `json:"dataProvider"`
	LongToken                 common.Address    `json:"longToken"`
	ShortToken                common.Address    `json:"shortToken"`
	PermissionedERC721Token   common.Address    `json:"permissionedERC721Token"`
	FinalReferenceValue       string            `json:"finalReferenceValue"`
	StatusFinalReferenceValue domain.PoolStatus `json:"statusFinalReferenceValue"`
	StatusTimestamp           uint64            `json:"statusTimestamp"`
	PayoutLong                string            `json:"payoutLong"`
	PayoutShort               string            `json:"payoutShort"`
	IndexFees                 int               `json:"indexFees"`
	IndexSettlementPeriods    int               `json:"indexSettlementPeriods"`
}

func newPoolResponse(p domain.Pool) poolResponse {
	return poolResponse{
		ID:                        p.ID,
		ReferenceAsset:            p.ReferenceAsset,
		ExpiryTime:                p.ExpiryTime,
		Floor:                     bigString(p.Floor),
		Inflection:                bigString(p.Inflection),
		Cap:                       bigString(p.Cap),
		Gradient:                  bigString(p.Gradient),
		CollateralToken:           p.CollateralToken,
		CollateralBalance:         bigString(p.CollateralBalance),
		Capacity:                  bigString(p.Capacity),
		DataProvider:              p.DataProvider,
		LongToken:                 p.LongToken,
		ShortToken:                p.ShortToken,
		PermissionedERC721Token:   p.PermissionedERC721Token,
		FinalReferenceValue:       bigString(p.FinalReferenceValue),
		StatusFinalReferenceValue: p.StatusFinalReferenceValue,
		StatusTimestamp:           p.StatusTimestamp,
		PayoutLong:                bigString(p.PayoutLong),
		PayoutShort:               bigString(p.PayoutShort),
		IndexFees:                 p.IndexFees,
		IndexSettlementPeriods:    p.IndexSettlementPeriods,
	}
}

// ListPools returns every pool.
// GET /api/pools
func (h *LedgerHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.ledger.Pools()
	if err != nil {
		writeDomainError(w, r, h.logger, "list pools", err)
		return
	}
	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, newPoolResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

// GetPool returns one pool with elapsed settlement windows applied.
// GET /api/pools/{id}
func (h *LedgerHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.ledger.GetPoolParameters(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(p))
}

type finalValueRequest struct {
	Caller         string `json:"caller"`
	Value          string `json:"value"`
	AllowChallenge bool   `json:"allowChallenge"`
}

// SubmitFinalReferenceValue records the data provider's final value.
// POST /api/pools/{id}/final-reference-value
func (h *LedgerHandler) SubmitFinalReferenceValue(w http.ResponseWriter, r *http.Request) {
	id, caller, value, req, ok := h.decodeValueRequest(w, r)
	if !ok {
		return
	}
	if err := h.ledger.SetFinalReferenceValue(caller, id, value, req.AllowChallenge); err != nil {
		writeDomainError(w, r, h.logger, "submit final reference value", err)
		return
	}
	h.writePool(w, r, id)
}

// ChallengeFinalReferenceValue challenges a submitted value as a position
// token holder.
// POST /api/pools/{id}/challenge
func (h *LedgerHandler) ChallengeFinalReferenceValue(w http.ResponseWriter, r *http.Request) {
	id, caller, value, _, ok := h.decodeValueRequest(w, r)
	if !ok {
		return
	}
	if err := h.ledger.ChallengeFinalReferenceValue(caller, id, value); err != nil {
		writeDomainError(w, r, h.logger, "challenge final reference value", err)
		return
	}
	h.writePool(w, r, id)
}

func (h *LedgerHandler) decodeValueRequest(w http.ResponseWriter, r *http.Request) (common.Hash, common.Address, *big.Int, finalValueRequest, bool) {
	var req finalValueRequest
	id, err := parseHash(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, common.Address{}, nil, req, false
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, common.Address{}, nil, req, false
	}
	caller, err := requestCaller(r, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return common.Hash{}, common.Address{}, nil, req, false
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, common.Address{}, nil, req, false
	}
	return id, caller, value, req, true
}

func (h *LedgerHandler) writePool(w http.ResponseWriter, r *http.Request, id common.Hash) {
	p, err := h.ledger.GetPoolParameters(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolResponse(p))
}

type redeemRequest struct {
	Caller        string `json:"caller"`
	PositionToken string `json:"positionToken"`
	Amount        string `json:"amount"`
}

// RedeemPositionToken burns position tokens of a confirmed pool for
// collateral.
// POST /api/redeem
func (h *LedgerHandler) RedeemPositionToken(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := requestCaller(r, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	tok, err := parseAddress(req.PositionToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ledger.RedeemPositionToken(caller, tok, amount); err != nil {
		writeDomainError(w, r, h.logger, "redeem position token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
}

// GetClaim returns the fee claim of recipient in a collateral token.
// GET /api/claims/{token}/{recipient}
func (h *LedgerHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	tok, err := parseAddress(r.PathValue("token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipient, err := parseAddress(r.PathValue("recipient"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"collateralToken": tok.Hex(),
		"recipient":       recipient.Hex(),
		"amount":          bigString(h.ledger.GetClaim(tok, recipient)),
	})
}

type claimFeeRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

// ClaimFee pays the caller's whole fee claim in a token to a recipient.
// POST /api/claims/{token}
func (h *LedgerHandler) ClaimFee(w http.ResponseWriter, r *http.Request) {
	tok, err := parseAddress(r.PathValue("token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req claimFeeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := requestCaller(r, req.Caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	recipient := caller
	if req.Recipient != "" {
		if recipient, err = parseAddress(req.Recipient); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.ledger.ClaimFee(caller, tok, recipient); err != nil {
		writeDomainError(w, r, h.logger, "claim fee", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

type feesJSON struct {
	ProtocolFee   string `json:"protocolFee"`
	SettlementFee string `json:"settlementFee"`
}

func newFeesJSON(f domain.Fees) feesJSON {
	return feesJSON{ProtocolFee: bigString(f.ProtocolFee), SettlementFee: bigString(f.SettlementFee)}
}

type feesVersionJSON struct {
	PreviousValue feesJSON `json:"previousValue"`
	CurrentValue  feesJSON `json:"currentValue"`
	StartTime     uint64   `json:"startTimeOfCurrentValue"`
}

func newFeesVersion(v domain.ParameterVersion[domain.Fees]) feesVersionJSON {
	return feesVersionJSON{
		PreviousValue: newFeesJSON(v.PreviousValue),
		CurrentValue:  newFeesJSON(v.CurrentValue),
		StartTime:     v.StartTime,
	}
}

// GetGovernance returns current fees, settlement periods and owner.
// GET /api/governance
func (h *LedgerHandler) GetGovernance(w http.ResponseWriter, r *http.Request) {
	p := h.ledger.GetGovernanceParameters()
	writeJSON(w, http.StatusOK, map[string]any{
		"fees":              newFeesVersion(p.Fees),
		"settlementPeriods": p.SettlementPeriods,
		"owner":             h.ledger.GetOwner(),
	})
}

// GetTreasury returns the treasury address history entry.
// GET /api/governance/treasury
func (h *LedgerHandler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.GetTreasuryInfo())
}

// GetFallbackProvider returns the fallback data provider entry.
// GET /api/governance/fallback-provider
func (h *LedgerHandler) GetFallbackProvider(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.GetFallbackDataProviderInfo())
}

// GetFeesHistory returns the last n fee versions.
// GET /api/governance/fees/history?n=5
func (h *LedgerHandler) GetFeesHistory(w http.ResponseWriter, r *http.Request) {
	hist := h.ledger.GetFeesHistory(historyCount(r))
	out := make([]feesVersionJSON, 0, len(hist))
	for _, v := range hist {
		out = append(out, newFeesVersion(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

// GetSettlementPeriodsHistory returns the last n settlement period
// versions.
// GET /api/governance/settlement-periods/history?n=5
func (h *LedgerHandler) GetSettlementPeriodsHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"history": h.ledger.GetSettlementPeriodsHistory(historyCount(r)),
	})
}

func historyCount(r *http.Request) int {
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	return n
}
