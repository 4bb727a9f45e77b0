package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PoolSource lists pools with elapsed settlement windows applied.
type PoolSource interface {
	Pools() ([]domain.Pool, error)
}

// ArchiveResult counts what one archive pass wrote.
type ArchiveResult struct {
	Pools  int64
	Offers int64
}

// ArchiveService periodically copies confirmed pools and old offers to
// cold storage.
type ArchiveService struct {
	pools     PoolSource
	archiver  domain.Archiver
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	archived map[common.Hash]bool
}

// NewArchiveService creates an ArchiveService. Offers created more than
// retention ago are archived on each pass.
func NewArchiveService(pools PoolSource, archiver domain.Archiver, retention, interval time.Duration, clk clock.Clock, logger *slog.Logger) *ArchiveService {
	if interval <= 0 {
		interval = time.Hour
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &ArchiveService{
		pools:     pools,
		archiver:  archiver,
		retention: retention,
		interval:  interval,
		clock:     clk,
		logger:    logger.With(slog.String("component", "archive_service")),
		archived:  make(map[common.Hash]bool),
	}
}

// Run archives once per interval until ctx is cancelled.
func (a *ArchiveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive_service: archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce archives pools confirmed since the previous pass and offers
// older than the retention period.
func (a *ArchiveService) RunOnce(ctx context.Context) (ArchiveResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.pools.Pools()
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("archive_service: list pools: %w", err)
	}
	var confirmed []domain.Pool
	for _, p := range all {
		if p.StatusFinalReferenceValue == domain.StatusConfirmed && !a.archived[p.ID] {
			confirmed = append(confirmed, p)
		}
	}

	var res ArchiveResult
	if len(confirmed) > 0 {
		res.Pools, err = a.archiver.ArchivePools(ctx, confirmed)
		if err != nil {
			return res, fmt.Errorf("archive_service: archive pools: %w", err)
		}
		for _, p := range confirmed {
			a.archived[p.ID] = true
		}
	}

	if a.retention > 0 {
		res.Offers, err = a.archiver.ArchiveOffers(ctx, a.clock.Now().Add(-a.retention))
		if err != nil {
			return res, fmt.Errorf("archive_service: archive offers: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "archive_service: archive pass complete",
		slog.Int64("pools", res.Pools),
		slog.Int64("offers", res.Offers),
	)
	return res, nil
}
