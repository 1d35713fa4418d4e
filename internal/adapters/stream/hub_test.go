package stream_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/adapters/stream"
	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*stream.Hub, *httptest.Server) {
	t.Helper()
	hub := stream.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_FiltersByMarket(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "?topics=market:m1")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, domain.Event{Type: domain.EventTrade, MarketID: "m2", Category: "crypto"}))
	require.NoError(t, hub.Publish(ctx, domain.Event{Type: domain.EventTrade, MarketID: "m1", Category: "crypto", Version: 3}))

	ev := readEvent(t, conn)
	assert.Equal(t, "m1", ev.MarketID)
	assert.Equal(t, uint64(3), ev.Version)
}

func TestHub_DefaultReceivesEverything(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), domain.Event{Type: domain.EventMarketCreated, MarketID: "x"}))
	assert.Equal(t, domain.EventMarketCreated, readEvent(t, conn).Type)
}

func TestHub_SubscribeByCategory(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "?topics=market:none")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(stream.SubscribeMsg{Action: "subscribe", Topics: []string{"category:Sports"}}))

	var ack stream.Ack
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, []string{"category:sports", "market:none"}, ack.Topics)

	require.NoError(t, hub.Publish(context.Background(), domain.Event{Type: domain.EventTrade, MarketID: "s1", Category: "Sports"}))
	assert.Equal(t, "s1", readEvent(t, conn).MarketID)
}

func TestHub_PublishAfterStopDoesNotBlock(t *testing.T) {
	hub := stream.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, hub.Run(ctx))

	for i := 0; i < 2000; i++ {
		require.NoError(t, hub.Publish(context.Background(), domain.Event{MarketID: "m"}))
	}
}
