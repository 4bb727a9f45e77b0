// Package server exposes the offer store protocol, the ledger API and the
// event WebSocket over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/server/handler"
	"github.com/alanyoungcy/divasettle/internal/server/middleware"
	"github.com/alanyoungcy/divasettle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimit is the per-IP request budget per RateWindow. Zero disables
	// limiting.
	RateLimit  int
	RateWindow time.Duration

	// Nonces records used request nonces for caller-signed writes. nil
	// disables replay protection, which only tests should do.
	Nonces domain.LockManager
	// SignatureMaxSkew bounds the age of a signed request. Zero means
	// middleware.DefaultMaxSkew.
	SignatureMaxSkew time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Pools,
// Governance, Events, Ownership, Oracle and Archive may be nil.
type Handlers struct {
	Health     *handler.HealthHandler
	Offers     *handler.OfferHandler
	Ledger     *handler.LedgerHandler
	Pools      *handler.PoolHandler
	Governance *handler.GovernanceHandler
	Events     *handler.EventHandler
	Ownership  *handler.OwnershipHandler
	Oracle     *handler.OracleHandler
	Archive    *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain.
// limiter may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:           NewHandler(cfg, h, hub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Writes that act for a caller carry an EIP-191 request signature.
	callerAuth := middleware.CallerAuth(middleware.CallerAuthConfig{
		Nonces:  cfg.Nonces,
		MaxSkew: cfg.SignatureMaxSkew,
	})
	signed := func(pattern string, f http.HandlerFunc) {
		mux.Handle(pattern, callerAuth(f))
	}

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	// Offer store protocol.
	mux.HandleFunc("POST /{kind}", h.Offers.PostOffer)
	mux.HandleFunc("GET /{kind}/{hash}", h.Offers.GetOffer)

	// Offers.
	mux.HandleFunc("GET /api/offers", h.Offers.ListOffers)
	mux.HandleFunc("POST /api/offers/{kind}/state", h.Offers.OfferState)
	signed("POST /api/offers/{kind}/{hash}/fill", h.Offers.FillOffer)
	signed("POST /api/offers/{kind}/{hash}/cancel", h.Offers.CancelOffer)

	// Pools and settlement.
	mux.HandleFunc("GET /api/pools", h.Ledger.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", h.Ledger.GetPool)
	signed("POST /api/pools/{id}/final-reference-value", h.Ledger.SubmitFinalReferenceValue)
	signed("POST /api/pools/{id}/challenge", h.Ledger.ChallengeFinalReferenceValue)
	signed("POST /api/redeem", h.Ledger.RedeemPositionToken)
	mux.HandleFunc("GET /api/claims/{token}/{recipient}", h.Ledger.GetClaim)
	signed("POST /api/claims/{token}", h.Ledger.ClaimFee)

	if h.Pools != nil {
		signed("POST /api/pools", h.Pools.CreatePool)
		signed("POST /api/pools/{id}/liquidity", h.Pools.AddLiquidity)
		signed("POST /api/pools/{id}/liquidity/remove", h.Pools.RemoveLiquidity)
		signed("POST /api/claims", h.Pools.BatchClaimFee)
		signed("POST /api/claims/transfers", h.Pools.TransferFeeClaims)
	}

	// Governance.
	mux.HandleFunc("GET /api/governance", h.Ledger.GetGovernance)
	mux.HandleFunc("GET /api/governance/treasury", h.Ledger.GetTreasury)
	mux.HandleFunc("GET /api/governance/fallback-provider", h.Ledger.GetFallbackProvider)
	mux.HandleFunc("GET /api/governance/fees/history", h.Ledger.GetFeesHistory)
	mux.HandleFunc("GET /api/governance/settlement-periods/history", h.Ledger.GetSettlementPeriodsHistory)

	if h.Governance != nil {
		signed("POST /api/governance/fees", h.Governance.UpdateFees)
		signed("POST /api/governance/settlement-periods", h.Governance.UpdateSettlementPeriods)
		signed("POST /api/governance/treasury", h.Governance.UpdateTreasury)
		signed("POST /api/governance/fallback-provider", h.Governance.UpdateFallbackProvider)
		signed("POST /api/governance/{param}/revoke", h.Governance.RevokePending)
	}

	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.ListEvents)
	}

	if h.Ownership != nil {
		mux.HandleFunc("GET /api/ownership", h.Ownership.GetOwner)
		if h.Ownership.HasElection() {
			mux.HandleFunc("POST /api/ownership/owner", h.Ownership.SetOwner)
			mux.HandleFunc("GET /api/ownership/votes/{candidate}", h.Ownership.GetVotes)
			signed("POST /api/ownership/stake", h.Ownership.Stake)
			signed("POST /api/ownership/unstake", h.Ownership.Unstake)
			signed("POST /api/ownership/election", h.Ownership.TriggerElection)
			mux.HandleFunc("POST /api/ownership/claim/{candidate}", h.Ownership.SubmitClaim)
		}
	}

	if h.Oracle != nil {
		signed("POST /api/oracle/reports", h.Oracle.SubmitReport)
		mux.HandleFunc("POST /api/oracle/disputes", h.Oracle.DisputeReport)
		mux.HandleFunc("POST /api/ownership/refresh", h.Oracle.RefreshOwner)
	}

	if h.Archive != nil {
		mux.HandleFunc("GET /api/archive", h.Archive.ListArchives)
		mux.HandleFunc("GET /api/archive/{path...}", h.Archive.GetArchive)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Applied innermost first: auth, rate limit, logging, CORS.
	var handler http.Handler = mux
	handler = middleware.Auth(cfg.APIKey, middleware.ReadOnly)(handler)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		handler = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
