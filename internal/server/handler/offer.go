package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/service"
	"github.com/ethereum/go-ethereum/common"
)

// OfferService defines the methods that the offer handler requires from
// the service layer.
type OfferService interface {
	Publish(ctx context.Context, o domain.SignedOffer) (domain.SignedOffer, error)
	Fetch(ctx context.Context, kind domain.OfferKind, hash common.Hash) (domain.SignedOffer, error)
	State(o domain.SignedOffer) (domain.OfferState, error)
	Fill(ctx context.Context, caller common.Address, kind domain.OfferKind, hash common.Hash, takerFillAmount *big.Int) (service.FillResult, error)
	Cancel(ctx context.Context, caller common.Address, kind domain.OfferKind, hash common.Hash) error
	ListByMaker(ctx context.Context, maker common.Address, opts domain.ListOpts) ([]domain.SignedOffer, error)
	ListByPool(ctx context.Context, poolID common.Hash, opts domain.ListOpts) ([]domain.SignedOffer, error)
}

// OfferHandler serves the offer store protocol and offer operations.
type OfferHandler struct {
	offers OfferService
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler.
func NewOfferHandler(offers OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{offers: offers, logger: logger}
}

func pathKind(r *http.Request) (domain.OfferKind, bool) {
	k := domain.OfferKind(r.PathValue("kind"))
	return k, k.Valid()
}

// decodeOffer reads a signed offer body and checks it against the path kind.
func decodeOffer(w http.ResponseWriter, r *http.Request) (domain.SignedOffer, bool) {
	kind, ok := pathKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown offer kind")
		return domain.SignedOffer{}, false
	}
	var o domain.SignedOffer
	if err := decodeBody(w, r, &o); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.SignedOffer{}, false
	}
	if o.Kind != kind {
		writeError(w, http.StatusBadRequest, "offer fields do not match kind "+string(kind))
		return domain.SignedOffer{}, false
	}
	return o, true
}

// PostOffer verifies and stores a signed offer.
// POST /{kind}
func (h *OfferHandler) PostOffer(w http.ResponseWriter, r *http.Request) {
	o, ok := decodeOffer(w, r)
	if !ok {
		return
	}
	stored, err := h.offers.Publish(r.Context(), o)
	if err != nil {
		writeDomainError(w, r, h.logger, "publish offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// GetOffer returns a stored offer in its exchanged JSON shape.
// GET /{kind}/{hash}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown offer kind")
		return
	}
	hash, err := parseHash(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.offers.Fetch(r.Context(), kind, hash)
	if err != nil {
		writeDomainError(w, r, h.logger, "get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type offerStateResponse struct {
	TypedOfferHash            common.Hash        `json:"typedOfferHash"`
	Status                    domain.OfferStatus `json:"status"`
	TakerFilledAmount         string             `json:"takerFilledAmount"`
	ActualTakerFillableAmount string             `json:"actualTakerFillableAmount"`
	IsSignatureValid          bool               `json:"isSignatureValid"`
	PoolExists                bool               `json:"poolExists"`
	IsValidInputParams        bool               `json:"isValidInputParams"`
}

// OfferState resolves a signed offer against current ledger state.
// POST /api/offers/{kind}/state
func (h *OfferHandler) OfferState(w http.ResponseWriter, r *http.Request) {
	o, ok := decodeOffer(w, r)
	if !ok {
		return
	}
	st, err := h.offers.State(o)
	if err != nil {
		writeDomainError(w, r, h.logger, "offer state", err)
		return
	}
	writeJSON(w, http.StatusOK, offerStateResponse{
		TypedOfferHash:            st.Info.TypedOfferHash,
		Status:                    st.Info.Status,
		TakerFilledAmount:         bigString(st.Info.TakerFilledAmount),
		ActualTakerFillableAmount: bigString(st.ActualTakerFillableAmount),
		IsSignatureValid:          st.IsSignatureValid,
		PoolExists:                st.PoolExists,
		IsValidInputParams:        st.IsValidInputParams,
	})
}

type fillRequest struct {
	Taker           string `json:"taker"`
	TakerFillAmount string `json:"takerFillAmount"`
}

type fillResponse struct {
	OfferHash       common.Hash `json:"offerHash"`
	TakerFillAmount string      `json:"takerFillAmount"`
	PoolID          common.Hash `json:"poolId"`
}

// FillOffer fills a hosted offer for the given taker.
// POST /api/offers/{kind}/{hash}/fill
func (h *OfferHandler) FillOffer(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown offer kind")
		return
	}
	hash, err := parseHash(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req fillRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taker, err := requestCaller(r, req.Taker)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	amount, err := parseAmount(req.TakerFillAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.offers.Fill(r.Context(), taker, kind, hash, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "fill offer", err)
		return
	}
	writeJSON(w, http.StatusOK, fillResponse{
		OfferHash:       res.OfferHash,
		TakerFillAmount: bigString(res.TakerFillAmount),
		PoolID:          res.PoolID,
	})
}

type cancelRequest struct {
	Maker string `json:"maker"`
}

// CancelOffer cancels a hosted offer on behalf of its maker.
// POST /api/offers/{kind}/{hash}/cancel
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown offer kind")
		return
	}
	hash, err := parseHash(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req cancelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maker, err := requestCaller(r, req.Maker)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return
	}
	if err := h.offers.Cancel(r.Context(), maker, kind, hash); err != nil {
		writeDomainError(w, r, h.logger, "cancel offer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "cancelled",
		"offerHash": hash.Hex(),
	})
}

type listOffersResponse struct {
	Offers []domain.SignedOffer `json:"offers"`
}

// ListOffers lists stored offers by maker or by pool.
// GET /api/offers?maker=0x...|poolId=0x...&limit=50&offset=0
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	var (
		offers []domain.SignedOffer
		err    error
	)
	switch {
	case q.Get("maker") != "":
		maker, perr := parseAddress(q.Get("maker"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		offers, err = h.offers.ListByMaker(r.Context(), maker, opts)
	case q.Get("poolId") != "":
		poolID, perr := parseHash(q.Get("poolId"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		offers, err = h.offers.ListByPool(r.Context(), poolID, opts)
	default:
		writeError(w, http.StatusBadRequest, "maker or poolId query parameter required")
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "list offers", err)
		return
	}
	if offers == nil {
		offers = []domain.SignedOffer{}
	}
	writeJSON(w, http.StatusOK, listOffersResponse{Offers: offers})
}
