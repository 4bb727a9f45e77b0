package ownership

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/alanyoungcy/divasettle/internal/oracle"
)

// MaxReportAge bounds how old an ownership report may be when applied.
const MaxReportAge = 36 * time.Hour

// ValueSource fetches the latest value that has cleared the oracle's
// dispute window.
type ValueSource interface {
	FetchLatestUndisputedValue(ctx context.Context, queryID common.Hash, maxAge time.Duration) (oracle.Report, error)
}

// Mirror follows the primary ledger's owner on a secondary ledger. It is
// safe for concurrent use.
type Mirror struct {
	src     ValueSource
	queryID common.Hash
	clock   clock.Clock
	sink    EventSink
	logger  *slog.Logger

	mu         sync.RWMutex
	owner      common.Address
	lastReport uint64
}

// NewMirror returns a mirror that reports initialOwner until the first
// successful UpdateOwner.
func NewMirror(initialOwner common.Address, src ValueSource, queryID common.Hash, clk clock.Clock, sink EventSink, logger *slog.Logger) *Mirror {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		src:     src,
		queryID: queryID,
		clock:   clk,
		sink:    sink,
		logger:  logger.With(slog.String("component", "ownership_mirror")),
		owner:   initialOwner,
	}
}

// Owner returns the last applied owner.
func (m *Mirror) Owner() common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owner
}

// UpdateOwner applies the latest undisputed ownership report. The report
// must be strictly newer than the one last applied and carry a non-zero
// address.
func (m *Mirror) UpdateOwner(ctx context.Context) error {
	r, err := m.src.FetchLatestUndisputedValue(ctx, m.queryID, MaxReportAge)
	if err != nil {
		return fmt.Errorf("ownership: update owner: %w", err)
	}
	owner, err := oracle.DecodeAddress(r.Value)
	if err != nil {
		return err
	}
	if owner == (common.Address{}) {
		return fmt.Errorf("ownership: reported owner: %w", domain.ErrZeroAddress)
	}

	m.mu.Lock()
	if r.Timestamp <= m.lastReport {
		last := m.lastReport
		m.mu.Unlock()
		return fmt.Errorf("ownership: report at %d not after %d: %w", r.Timestamp, last, domain.ErrStaleReport)
	}
	m.owner = owner
	m.lastReport = r.Timestamp
	m.mu.Unlock()

	m.logger.Info("ownership: mirrored owner updated",
		slog.String("owner", owner.Hex()),
		slog.Int64("report_timestamp", int64(r.Timestamp)),
	)
	if m.sink != nil {
		m.sink.Emit(domain.Event{
			ID:        uuid.NewString(),
			Type:      domain.EventOwnerSet,
			Timestamp: clock.Unix(m.clock),
			Attrs: map[string]string{
				"owner":           owner.Hex(),
				"reportTimestamp": fmt.Sprint(r.Timestamp),
			},
		})
	}
	return nil
}

// Run polls UpdateOwner every interval until ctx ends. Expected refusals
// (no value yet, stale report) are logged at debug level.
func (m *Mirror) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := m.UpdateOwner(ctx); err != nil {
			m.logger.Debug("ownership: mirror poll", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
