package offerapi

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func removeOffer() domain.SignedOffer {
	return domain.SignedOffer{
		Kind: domain.OfferKindRemoveLiquidity,
		RemoveLiquidity: &domain.OfferRemoveLiquidity{
			Maker:                  common.HexToAddress("0x0a"),
			PositionTokenAmount:    big.NewInt(30_000_000),
			MakerCollateralAmount:  big.NewInt(10_000_000),
			OfferExpiry:            1_800_000_000,
			MinimumTakerFillAmount: big.NewInt(0),
			PoolID:                 common.HexToHash("0xcc"),
			Salt:                   big.NewInt(42),
		},
		ChainID:           1,
		VerifyingContract: common.HexToAddress("0xd1"),
		OfferHash:         common.HexToHash("0xfeed"),
	}
}

// fakeStore is a minimal in-memory offer store server.
type fakeStore struct {
	mu     sync.Mutex
	offers map[string][]byte
	auth   []string
}

func (f *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{kind}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var probe struct {
			OfferHash string `json:"offerHash"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.offers[r.PathValue("kind")+"/"+probe.OfferHash] = body
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /{kind}/{hash}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body, ok := f.offers[r.PathValue("kind")+"/"+r.PathValue("hash")]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "offer not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	return mux
}

type countingLimiter struct{ calls int }

func (l *countingLimiter) Wait(context.Context, string, int, time.Duration) error {
	l.calls++
	return nil
}

func TestClient_PostThenGet(t *testing.T) {
	store := &fakeStore{offers: map[string][]byte{}}
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	lim := &countingLimiter{}
	c := NewClient(srv.URL+"/", "secret", WithLimiter(lim, 5, time.Second))
	offer := removeOffer()

	require.NoError(t, c.Post(context.Background(), offer))
	assert.Equal(t, 1, lim.calls)
	assert.Equal(t, []string{"Bearer secret"}, store.auth)

	got, err := c.Get(context.Background(), domain.OfferKindRemoveLiquidity, offer.OfferHash)
	require.NoError(t, err)
	require.NotNil(t, got.RemoveLiquidity)
	assert.Equal(t, offer.RemoveLiquidity.PoolID, got.RemoveLiquidity.PoolID)
	assert.Equal(t, 0, offer.RemoveLiquidity.PositionTokenAmount.Cmp(got.RemoveLiquidity.PositionTokenAmount))
	assert.Equal(t, offer.Signature, got.Signature)
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer((&fakeStore{offers: map[string][]byte{}}).handler())
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Get(context.Background(), domain.OfferKindAddLiquidity, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_InvalidKind(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "")
	_, err := c.Get(context.Background(), domain.OfferKind("swap"), common.Hash{})
	assert.ErrorIs(t, err, domain.ErrInvalidOfferKind)

	bad := removeOffer()
	bad.Kind = "swap"
	assert.ErrorIs(t, c.Post(context.Background(), bad), domain.ErrInvalidOfferKind)
}

func TestCheckHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusNotFound, domain.ErrNotFound},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, checkHTTPStatus(tt.code, []byte("x")), tt.want, "status %d", tt.code)
	}
	assert.NoError(t, checkHTTPStatus(http.StatusCreated, nil))
	assert.EqualError(t, checkHTTPStatus(http.StatusBadGateway, []byte("upstream\n")), "HTTP 502: upstream")
}
