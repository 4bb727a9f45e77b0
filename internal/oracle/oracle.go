// Package oracle is a generic reported-value oracle: reporters submit
// opaque values per query id, values can be disputed, and consumers read
// the latest undisputed value that has cleared the dispute window.
package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/domain"
)

// Report is one submitted value.
type Report struct {
	QueryID   common.Hash    `json:"queryId"`
	Value     []byte         `json:"value"`
	Timestamp uint64         `json:"timestamp"`
	Reporter  common.Address `json:"reporter"`
	Disputed  bool           `json:"disputed"`
}

// Book stores reports in timestamp order per query id. It is safe for
// concurrent use.
type Book struct {
	mu      sync.RWMutex
	reports map[common.Hash][]Report
}

// NewBook returns an empty report book.
func NewBook() *Book {
	return &Book{reports: make(map[common.Hash][]Report)}
}

// SubmitValue records value for queryID at timestamp ts. Timestamps of a
// query must strictly increase.
func (b *Book) SubmitValue(reporter common.Address, queryID common.Hash, value []byte, ts uint64) error {
	if len(value) == 0 {
		return fmt.Errorf("oracle: submit %s: empty value: %w", queryID.Hex(), domain.ErrInvalidInputParams)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.reports[queryID]
	if n := len(rs); n > 0 && rs[n-1].Timestamp >= ts {
		return fmt.Errorf("oracle: submit %s at %d: %w", queryID.Hex(), ts, domain.ErrStaleReport)
	}
	b.reports[queryID] = append(rs, Report{
		QueryID:   queryID,
		Value:     append([]byte(nil), value...),
		Timestamp: ts,
		Reporter:  reporter,
	})
	return nil
}

// Dispute flags the report of queryID at ts. Disputed reports are never
// returned by GetDataBefore.
func (b *Book) Dispute(queryID common.Hash, ts uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.reports[queryID]
	i := sort.Search(len(rs), func(i int) bool { return rs[i].Timestamp >= ts })
	if i == len(rs) || rs[i].Timestamp != ts {
		return fmt.Errorf("oracle: dispute %s at %d: %w", queryID.Hex(), ts, domain.ErrNotFound)
	}
	rs[i].Disputed = true
	return nil
}

// GetDataBefore returns the latest undisputed report of queryID with a
// timestamp strictly before ts.
func (b *Book) GetDataBefore(queryID common.Hash, ts uint64) (Report, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rs := b.reports[queryID]
	i := sort.Search(len(rs), func(i int) bool { return rs[i].Timestamp >= ts })
	for i--; i >= 0; i-- {
		if !rs[i].Disputed {
			r := rs[i]
			r.Value = append([]byte(nil), r.Value...)
			return r, nil
		}
	}
	return Report{}, fmt.Errorf("oracle: %s before %d: %w", queryID.Hex(), ts, domain.ErrValueNotAvailable)
}

// DataSource is the read side of a report book.
type DataSource interface {
	GetDataBefore(queryID common.Hash, ts uint64) (Report, error)
}

// DisputeWindow is how long a report must age before it is treated as
// final.
const DisputeWindow = 12 * time.Hour

// Adapter narrows a report book to the one capability consumers need.
type Adapter struct {
	src           DataSource
	clock         clock.Clock
	disputeWindow time.Duration
}

// NewAdapter returns an adapter over src. A zero disputeWindow selects
// DisputeWindow.
func NewAdapter(src DataSource, clk clock.Clock, disputeWindow time.Duration) *Adapter {
	if disputeWindow <= 0 {
		disputeWindow = DisputeWindow
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Adapter{src: src, clock: clk, disputeWindow: disputeWindow}
}

// FetchLatestUndisputedValue returns the latest undisputed value of
// queryID that is older than the dispute window and no older than maxAge.
func (a *Adapter) FetchLatestUndisputedValue(ctx context.Context, queryID common.Hash, maxAge time.Duration) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	now := clock.Unix(a.clock)
	window := uint64(a.disputeWindow / time.Second)
	if now < window {
		return Report{}, fmt.Errorf("oracle: fetch %s: %w", queryID.Hex(), domain.ErrValueNotAvailable)
	}

	r, err := a.src.GetDataBefore(queryID, now-window+1)
	if err != nil {
		return Report{}, err
	}
	if age := now - r.Timestamp; age > uint64(maxAge/time.Second) {
		return Report{}, fmt.Errorf("oracle: %s reported %ds ago: %w", queryID.Hex(), age, domain.ErrReportTooOld)
	}
	return r, nil
}
