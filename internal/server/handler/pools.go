package handler

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PoolWriter is the direct (offer-less) pool and fee-claim side of the
// ledger.
type PoolWriter interface {
	CreateContingentPool(caller common.Address, p domain.PoolParams) (common.Hash, error)
	AddLiquidity(caller common.Address, poolID common.Hash, amount *big.Int, longRecipient, shortRecipient common.Address) error
	RemoveLiquidity(caller common.Address, poolID common.Hash, amount *big.Int) error
	TransferFeeClaim(caller, recipient, collateral common.Address, amount *big.Int) error
	BatchClaimFee(caller common.Address, reqs []domain.ClaimRequest) error
	BatchTransferFeeClaim(caller common.Address, transfers []domain.ClaimTransfer) error
}

// PoolHandler creates pools, moves liquidity and moves fee claims.
type PoolHandler struct {
	pools  PoolWriter
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolWriter, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logger}
}

type createPoolRequest struct {
	Caller                  string `json:"caller"`
	ReferenceAsset          string `json:"referenceAsset"`
	ExpiryTime              uint64 `json:"expiryTime"`
	Floor                   string `json:"floor"`
	Inflection              string `json:"inflection"`
	Cap                     string `json:"cap"`
	Gradient                string `json:"gradient"`
	CollateralAmount        string `json:"collateralAmount"`
	CollateralToken         string `json:"collateralToken"`
	DataProvider            string `json:"dataProvider"`
	Capacity                string `json:"capacity"`
	LongRecipient           string `json:"longRecipient"`
	ShortRecipient          string `json:"shortRecipient"`
	PermissionedERC721Token string `json:"permissionedERC721Token"`
}

// fieldParser collects the first parse failure so request decoding reads
// top to bottom.
type fieldParser struct {
	err error
}

func (p *fieldParser) amount(name, s string) *big.Int {
	if p.err != nil {
		return nil
	}
	v, err := parseAmount(s)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

func (p *fieldParser) address(name, s string) common.Address {
	if p.err != nil {
		return common.Address{}
	}
	a, err := parseAddress(s)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return a
}

// optionalAddress parses s, treating "" as the zero address.
func (p *fieldParser) optionalAddress(name, s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return p.address(name, s)
}

// CreatePool creates a pool directly from the caller's collateral.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, ok := authCaller(w, r, h.logger, req.Caller)
	if !ok {
		return
	}
	var fp fieldParser
	params := domain.PoolParams{
		ReferenceAsset:          req.ReferenceAsset,
		ExpiryTime:              req.ExpiryTime,
		Floor:                   fp.amount("floor", req.Floor),
		Inflection:              fp.amount("inflection", req.Inflection),
		Cap:                     fp.amount("cap", req.Cap),
		Gradient:                fp.amount("gradient", req.Gradient),
		CollateralAmount:        fp.amount("collateralAmount", req.CollateralAmount),
		CollateralToken:         fp.address("collateralToken", req.CollateralToken),
		DataProvider:            fp.address("dataProvider", req.DataProvider),
		Capacity:                fp.amount("capacity", req.Capacity),
		LongRecipient:           fp.address("longRecipient", req.LongRecipient),
		ShortRecipient:          fp.address("shortRecipient", req.ShortRecipient),
		PermissionedERC721Token: fp.optionalAddress("permissionedERC721Token", req.PermissionedERC721Token),
	}
	if fp.err != nil {
		writeError(w, http.StatusBadRequest, fp.err.Error())
		return
	}

	id, err := h.pools.CreateContingentPool(caller, params)
	if err != nil {
		writeDomainError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"poolId": id})
}

type liquidityRequest struct {
	Caller         string `json:"caller"`
	Amount         string `json:"amount"`
	LongRecipient  string `json:"longRecipient"`
	ShortRecipient string `json:"shortRecipient"`
}

// AddLiquidity adds collateral to a pool and mints both position tokens.
// POST /api/pools/{id}/liquidity
func (h *PoolHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeLiquidity(w, r)
	if !ok {
		return
	}
	caller, ok := authCaller(w, r, h.logger, req.Caller)
	if !ok {
		return
	}
	var fp fieldParser
	amount := fp.amount("amount", req.Amount)
	long := fp.address("longRecipient", req.LongRecipient)
	short := fp.address("shortRecipient", req.ShortRecipient)
	if fp.err != nil {
		writeError(w, http.StatusBadRequest, fp.err.Error())
		return
	}
	if err := h.pools.AddLiquidity(caller, id, amount, long, short); err != nil {
		writeDomainError(w, r, h.logger, "add liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// RemoveLiquidity burns equal long and short tokens for collateral.
// POST /api/pools/{id}/liquidity/remove
func (h *PoolHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeLiquidity(w, r)
	if !ok {
		return
	}
	caller, ok := authCaller(w, r, h.logger, req.Caller)
	if !ok {
		return
	}
	var fp fieldParser
	amount := fp.amount("amount", req.Amount)
	if fp.err != nil {
		writeError(w, http.StatusBadRequest, fp.err.Error())
		return
	}
	if err := h.pools.RemoveLiquidity(caller, id, amount); err != nil {
		writeDomainError(w, r, h.logger, "remove liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *PoolHandler) decodeLiquidity(w http.ResponseWriter, r *http.Request) (common.Hash, liquidityRequest, bool) {
	var req liquidityRequest
	id, err := parseHash(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, req, false
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Hash{}, req, false
	}
	return id, req, true
}

type claimTransferJSON struct {
	Recipient       string `json:"recipient"`
	CollateralToken string `json:"collateralToken"`
	Amount          string `json:"amount"`
}

type claimTransfersRequest struct {
	Caller    string              `json:"caller"`
	Transfers []claimTransferJSON `json:"transfers"`
}

// TransferFeeClaims moves parts of the caller's fee claims to other
// recipients. A single transfer uses TransferFeeClaim; several are applied
// all or nothing.
// POST /api/claims/transfers
func (h *PoolHandler) TransferFeeClaims(w http.ResponseWriter, r *http.Request) {
	var req claimTransfersRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := authCaller(w, r, h.logger, req.Caller)
	if !ok {
		return
	}
	var fp fieldParser
	transfers := make([]domain.ClaimTransfer, 0, len(req.Transfers))
	for i, t := range req.Transfers {
		transfers = append(transfers, domain.ClaimTransfer{
			Recipient:       fp.address(fmt.Sprintf("transfers[%d].recipient", i), t.Recipient),
			CollateralToken: fp.address(fmt.Sprintf("transfers[%d].collateralToken", i), t.CollateralToken),
			Amount:          fp.amount(fmt.Sprintf("transfers[%d].amount", i), t.Amount),
		})
	}
	if fp.err == nil && len(transfers) == 0 {
		fp.err = fmt.Errorf("transfers must not be empty")
	}
	if fp.err != nil {
		writeError(w, http.StatusBadRequest, fp.err.Error())
		return
	}

	var err error
	if len(transfers) == 1 {
		t := transfers[0]
		err = h.pools.TransferFeeClaim(caller, t.Recipient, t.CollateralToken, t.Amount)
	} else {
		err = h.pools.BatchTransferFeeClaim(caller, transfers)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer fee claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "transferred", "count": len(transfers)})
}

type claimRequestJSON struct {
	CollateralToken string `json:"collateralToken"`
	Recipient       string `json:"recipient"`
}

type batchClaimRequest struct {
	Caller string             `json:"caller"`
	Claims []claimRequestJSON `json:"claims"`
}

// BatchClaimFee claims several tokens at once, all or nothing.
// POST /api/claims
func (h *PoolHandler) BatchClaimFee(w http.ResponseWriter, r *http.Request) {
	var req batchClaimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := authCaller(w, r, h.logger, req.Caller)
	if !ok {
		return
	}
	var fp fieldParser
	claims := make([]domain.ClaimRequest, 0, len(req.Claims))
	for i, c := range req.Claims {
		recipient := caller
		if c.Recipient != "" {
			recipient = fp.address(fmt.Sprintf("claims[%d].recipient", i), c.Recipient)
		}
		claims = append(claims, domain.ClaimRequest{
			CollateralToken: fp.address(fmt.Sprintf("claims[%d].collateralToken", i), c.CollateralToken),
			Recipient:       recipient,
		})
	}
	if fp.err == nil && len(claims) == 0 {
		fp.err = fmt.Errorf("claims must not be empty")
	}
	if fp.err != nil {
		writeError(w, http.StatusBadRequest, fp.err.Error())
		return
	}
	if err := h.pools.BatchClaimFee(caller, claims); err != nil {
		writeDomainError(w, r, h.logger, "batch claim fee", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "claimed", "count": len(claims)})
}
