package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/divasettle/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanBus struct {
	chans map[string]chan []byte
}

func newChanBus() *chanBus {
	return &chanBus{chans: map[string]chan []byte{
		domain.ChannelLedger: make(chan []byte, 8),
		domain.ChannelOffers: make(chan []byte, 8),
	}}
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHubRelaysSubscribedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Role: "primary", ChainID: 1})
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var status struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	readJSON(t, conn, &status)
	assert.Equal(t, "node_status", status.Type)
	assert.Equal(t, "primary", status.Payload["role"])

	require.NoError(t, conn.WriteJSON(subscribeMsg{
		Action: "subscribe",
		Types:  []domain.EventType{"StatusChanged"},
	}))
	// Give the read pump a moment to apply the filter.
	time.Sleep(100 * time.Millisecond)

	filtered, _ := json.Marshal(domain.Event{ID: "1", Type: "PoolIssued"})
	wanted, _ := json.Marshal(domain.Event{ID: "2", Type: "StatusChanged"})
	require.NoError(t, bus.Publish(ctx, domain.ChannelLedger, filtered))
	require.NoError(t, bus.Publish(ctx, domain.ChannelLedger, wanted))
	require.NoError(t, bus.Publish(ctx, domain.ChannelOffers, []byte(`{"offerHash":"0xbeef"}`)))

	var first, second struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	readJSON(t, conn, &first)
	readJSON(t, conn, &second)

	got := map[string]string{first.Channel: string(first.Data), second.Channel: string(second.Data)}
	assert.Contains(t, got[domain.ChannelLedger], `"id":"2"`)
	assert.Contains(t, got[domain.ChannelOffers], "0xbeef")
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(newChanBus(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		AllowedOrigins: []string{"https://app.example"},
	})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(req))
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, hub.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(req))
}
