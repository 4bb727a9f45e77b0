package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/clock"
	"github.com/alanyoungcy/divasettle/internal/domain"
)

var (
	reporter = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	queryID  = common.HexToHash("0x01")
)

func TestBook_SubmitAndGetDataBefore(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.SubmitValue(reporter, queryID, []byte{1}, 100))
	require.NoError(t, b.SubmitValue(reporter, queryID, []byte{2}, 200))

	assert.ErrorIs(t, b.SubmitValue(reporter, queryID, []byte{3}, 200), domain.ErrStaleReport)
	assert.ErrorIs(t, b.SubmitValue(reporter, queryID, nil, 300), domain.ErrInvalidInputParams)

	r, err := b.GetDataBefore(queryID, 200)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, r.Value)

	r, err = b.GetDataBefore(queryID, 201)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), r.Timestamp)

	_, err = b.GetDataBefore(queryID, 100)
	assert.ErrorIs(t, err, domain.ErrValueNotAvailable)
}

func TestBook_DisputedReportsAreSkipped(t *testing.T) {
	b := NewBook()
	require.NoError(t, b.SubmitValue(reporter, queryID, []byte{1}, 100))
	require.NoError(t, b.SubmitValue(reporter, queryID, []byte{2}, 200))
	require.NoError(t, b.Dispute(queryID, 200))
	assert.ErrorIs(t, b.Dispute(queryID, 150), domain.ErrNotFound)

	r, err := b.GetDataBefore(queryID, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.Timestamp)

	require.NoError(t, b.Dispute(queryID, 100))
	_, err = b.GetDataBefore(queryID, 1000)
	assert.ErrorIs(t, err, domain.ErrValueNotAvailable)
}

func TestAdapter_DisputeWindowAndMaxAge(t *testing.T) {
	const start = uint64(1_700_000_000)
	b := NewBook()
	clk := clock.NewManual(start)
	a := NewAdapter(b, clk, 0)
	ctx := context.Background()
	maxAge := 36 * time.Hour

	require.NoError(t, b.SubmitValue(reporter, queryID, []byte{7}, start))

	clk.Advance(12*time.Hour - time.Second)
	_, err := a.FetchLatestUndisputedValue(ctx, queryID, maxAge)
	assert.ErrorIs(t, err, domain.ErrValueNotAvailable)

	clk.Advance(time.Second)
	r, err := a.FetchLatestUndisputedValue(ctx, queryID, maxAge)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, r.Value)

	clk.Advance(24*time.Hour + time.Second)
	_, err = a.FetchLatestUndisputedValue(ctx, queryID, maxAge)
	assert.ErrorIs(t, err, domain.ErrReportTooOld)
}

func TestOwnershipQueryID(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	a, err := OwnershipQueryID(contract, 1)
	require.NoError(t, err)
	b, err := OwnershipQueryID(contract, 137)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	again, err := OwnershipQueryID(contract, 1)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestEncodeDecodeAddress(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000e0")
	enc := EncodeAddress(owner)
	assert.Len(t, enc, 32)

	got, err := DecodeAddress(enc)
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	_, err = DecodeAddress([]byte{1, 2})
	assert.ErrorIs(t, err, domain.ErrInvalidInputParams)
}
