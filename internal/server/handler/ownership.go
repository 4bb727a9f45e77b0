package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// OwnerSource reports the current protocol owner.
type OwnerSource interface {
	Owner() common.Address
}

// Election is the ownership election of the primary ledger.
type Election interface {
	OwnerSource
	Votes(candidate common.Address) *big.Int
	Leader() common.Address
	Stake(user, candidate common.Address, amount *big.Int) error
	Unstake(user, candidate common.Address, amount *big.Int) error
	TriggerElectionCycle(caller, candidate common.Address) error
	SubmitOwnershipClaim(candidate common.Address) error
	SetOwner() error
}

// OwnershipHandler serves owner reads and, on the primary, the election.
type OwnershipHandler struct {
	owner    OwnerSource
	election Election
	logger   *slog.Logger
}

// NewOwnershipHandler creates an OwnershipHandler. election is nil on a
// secondary ledger that mirrors the owner from the oracle.
func NewOwnershipHandler(owner OwnerSource, election Election, logger *slog.Logger) *OwnershipHandler {
	return &OwnershipHandler{owner: owner, election: election, logger: logger}
}

// HasElection reports whether election routes should be registered.
func (h *OwnershipHandler) HasElection() bool {
	return h.election != nil
}

// GetOwner returns the current owner.
// GET /api/ownership
func (h *OwnershipHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"owner": h.owner.Owner()}
	if h.election != nil {
		resp["leader"] = h.election.Leader()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetVotes returns the stake behind a candidate.
// GET /api/ownership/votes/{candidate}
func (h *OwnershipHandler) GetVotes(w http.ResponseWriter, r *http.Request) {
	candidate, err := parseAddress(r.PathValue("candidate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"candidate": candidate.Hex(),
		"votes":     bigString(h.election.Votes(candidate)),
	})
}

type stakeRequest struct {
	User      string `json:"user"`
	Candidate string `json:"candidate"`
	Amount    string `json:"amount"`
}

func (h *OwnershipHandler) decodeStake(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, *big.Int, bool) {
	var req stakeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, common.Address{}, nil, false
	}
	user, err := requestCaller(r, req.User)
	if err != nil {
		writeDomainError(w, r, h.logger, "authenticate caller", err)
		return common.Address{}, common.Address{}, nil, false
	}
	candidate, err := parseAddress(req.Candidate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, common.Address{}, nil, false
	}
	amount := new(big.Int)
	if req.Amount != "" {
		if amount, err = parseAmount(req.Amount); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return common.Address{}, common.Address{}, nil, false
		}
	}
	return user, candidate, amount, true
}

// Stake stakes for a candidate.
// POST /api/ownership/stake
func (h *OwnershipHandler) Stake(w http.ResponseWriter, r *http.Request) {
	user, candidate, amount, ok := h.decodeStake(w, r)
	if !ok {
		return
	}
	if err := h.election.Stake(user, candidate, amount); err != nil {
		writeDomainError(w, r, h.logger, "stake", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "staked"})
}

// Unstake withdraws stake from a candidate.
// POST /api/ownership/unstake
func (h *OwnershipHandler) Unstake(w http.ResponseWriter, r *http.Request) {
	user, candidate, amount, ok := h.decodeStake(w, r)
	if !ok {
		return
	}
	if err := h.election.Unstake(user, candidate, amount); err != nil {
		writeDomainError(w, r, h.logger, "unstake", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unstaked"})
}

// TriggerElection starts an election cycle.
// POST /api/ownership/election
func (h *OwnershipHandler) TriggerElection(w http.ResponseWriter, r *http.Request) {
	caller, candidate, _, ok := h.decodeStake(w, r)
	if !ok {
		return
	}
	if err := h.election.TriggerElectionCycle(caller, candidate); err != nil {
		writeDomainError(w, r, h.logger, "trigger election", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "election triggered"})
}

// SubmitClaim submits a candidate as the leading ownership claim.
// POST /api/ownership/claim/{candidate}
func (h *OwnershipHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	candidate, err := parseAddress(r.PathValue("candidate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.election.SubmitOwnershipClaim(candidate); err != nil {
		writeDomainError(w, r, h.logger, "submit ownership claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claim submitted"})
}

// SetOwner finalises the election.
// POST /api/ownership/owner
func (h *OwnershipHandler) SetOwner(w http.ResponseWriter, r *http.Request) {
	if err := h.election.SetOwner(); err != nil {
		writeDomainError(w, r, h.logger, "set owner", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": h.election.Owner()})
}
