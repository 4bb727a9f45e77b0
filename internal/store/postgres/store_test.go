package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// setupClient starts a PostgreSQL container and returns a migrated client.
func setupClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("divasettle"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	// A second run finds everything applied.
	require.NoError(t, client.RunMigrations(ctx))
	return client
}

var (
	maker    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	verifier = common.HexToAddress("0x0000000000000000000000000000000000001000")
	poolID   = common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")
)

func addOffer(salt int64, created time.Time) domain.SignedOffer {
	return domain.SignedOffer{
		Kind: domain.OfferKindAddLiquidity,
		AddLiquidity: &domain.OfferAddLiquidity{
			Maker:                  maker,
			MakerCollateralAmount:  big.NewInt(20_000_000),
			TakerCollateralAmount:  big.NewInt(80_000_000),
			OfferExpiry:            1_800_000_000,
			MinimumTakerFillAmount: big.NewInt(0),
			PoolID:                 poolID,
			Salt:                   big.NewInt(salt),
		},
		ChainID:           1,
		VerifyingContract: verifier,
		Signature:         domain.Signature{V: 27, R: common.HexToHash("0x01"), S: common.HexToHash("0x02")},
		OfferHash:         common.BigToHash(big.NewInt(salt)),
		CreatedAt:         created,
	}
}

func TestOfferStore(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	store := NewOfferStore(client.Pool())

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := addOffer(1, base)
	second := addOffer(2, base.Add(time.Hour))

	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Get(ctx, domain.OfferKindAddLiquidity, first.OfferHash)
	require.NoError(t, err)
	assert.Equal(t, first.OfferHash, got.OfferHash)
	assert.Equal(t, domain.OfferKindAddLiquidity, got.Kind)
	assert.Equal(t, first.AddLiquidity.TakerCollateralAmount, got.AddLiquidity.TakerCollateralAmount)
	assert.Equal(t, first.Signature, got.Signature)

	_, err = store.Get(ctx, domain.OfferKindRemoveLiquidity, first.OfferHash)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	byMaker, err := store.ListByMaker(ctx, maker, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, byMaker, 2)
	assert.Equal(t, second.OfferHash, byMaker[0].OfferHash)

	byPool, err := store.ListByPool(ctx, poolID, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, byPool, 1)

	old, err := store.ListBefore(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, first.OfferHash, old[0].OfferHash)
}

func TestEventStore(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	store := NewEventStore(client.Pool())

	events := []domain.Event{
		{ID: "e1", Type: domain.EventPoolIssued, Timestamp: 10, Attrs: map[string]string{"poolId": poolID.Hex()}},
		{ID: "e2", Type: domain.EventOfferFilled, Timestamp: 11, Attrs: map[string]string{"takerFilledAmount": "60"}},
		{ID: "e3", Type: domain.EventOfferFilled, Timestamp: 12, Attrs: map[string]string{"takerFilledAmount": "80"}},
	}
	for _, e := range events {
		require.NoError(t, store.Append(ctx, e))
	}
	require.NoError(t, store.Append(ctx, events[0]))

	all, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e1", all[0].Event.ID)
	assert.Equal(t, poolID.Hex(), all[0].Event.Attrs["poolId"])

	fills, err := store.ListByType(ctx, domain.EventOfferFilled, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, uint64(12), fills[1].Event.Timestamp)
}

func TestAuditStore(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	store := NewAuditStore(client.Pool())

	require.NoError(t, store.Log(ctx, "offer_published", map[string]any{"hash": "0x01"}))
	require.NoError(t, store.Log(ctx, "archive_run", map[string]any{"pools": 3.0}))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3.0, entries[0].Detail["pools"])
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/diva?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "diva"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}
