package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/divasettle/internal/server"
	"github.com/alanyoungcy/divasettle/internal/server/handler"
	"github.com/alanyoungcy/divasettle/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP API and WebSocket and runs the event
// publisher, the ownership mirror of a secondary and the periodic
// archiver until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode",
		slog.String("role", a.cfg.Ledger.Role),
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(deps.Publisher.Run(ctx))
	})

	if deps.Mirror != nil {
		g.Go(func() error {
			return ignoreCanceled(deps.Mirror.Run(ctx, a.cfg.Oracle.PollInterval.Duration))
		})
	}

	if deps.Archive != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			return ignoreCanceled(deps.Archive.Run(ctx))
		})
	}

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Role:           a.cfg.Ledger.Role,
			ChainID:        a.cfg.Chain.ChainID,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			return ignoreCanceled(hub.Run(ctx))
		})

		srv := server.NewServer(server.Config{
			Host:        a.cfg.Server.Host,
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,

			Nonces:           deps.LockManager,
			SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
		}, a.handlers(deps), hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// ArchiveMode runs a single archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	res, err := deps.Archive.RunOnce(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archive mode complete",
		slog.Int64("pools", res.Pools),
		slog.Int64("offers", res.Offers),
	)
	return nil
}

// handlers builds the HTTP handlers for the wired dependencies.
func (a *App) handlers(deps *Dependencies) server.Handlers {
	h := server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Offers:     handler.NewOfferHandler(deps.Offers, a.logger),
		Ledger:     handler.NewLedgerHandler(deps.Ledger, a.logger),
		Pools:      handler.NewPoolHandler(deps.Ledger, a.logger),
		Governance: handler.NewGovernanceHandler(deps.Ledger, a.logger),
		Events:     handler.NewEventHandler(deps.EventStore, a.logger),
	}

	// Interfaces holding typed nil pointers are non-nil, so only pass set
	// values.
	switch {
	case deps.Election != nil:
		h.Ownership = handler.NewOwnershipHandler(deps.Election, deps.Election, a.logger)
	case deps.Mirror != nil:
		h.Ownership = handler.NewOwnershipHandler(deps.Mirror, nil, a.logger)
		h.Oracle = handler.NewOracleHandler(deps.Book, deps.Mirror, a.logger)
	}

	if deps.BlobReader != nil {
		h.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}
	return h
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
