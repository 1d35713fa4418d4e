package apiclient_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/adapters/apiclient"
	"github.com/alejandrodnm/quantmarket/internal/adapters/httpapi"
	"github.com/alejandrodnm/quantmarket/internal/adapters/storage"
	"github.com/alejandrodnm/quantmarket/internal/application/engine"
	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(context.Context, int) {}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newClient(t *testing.T) *apiclient.Client {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := engine.New(db, engine.Config{FeeRate: decimal.RequireFromString("0.02")})
	require.NoError(t, reg.Load(context.Background()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(httpapi.NewServer(httpapi.Config{}, reg, nil, logger).Handler())
	t.Cleanup(srv.Close)

	return apiclient.New(srv.URL, apiclient.WithRate(1000, 100), apiclient.WithBackoff(noWait))
}

func TestClient_EndToEnd(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))
	_, err := c.Deposit(ctx, "alice", d("2000"))
	require.NoError(t, err)
	_, err = c.Deposit(ctx, "bob", d("50"))
	require.NoError(t, err)

	view, err := c.CreateMarket(ctx, domain.MarketConfig{
		Title:            "Fed cuts rates in March?",
		Category:         "economics",
		Creator:          "alice",
		Resolver:         "oracle",
		EndTime:          time.Now().Add(72 * time.Hour),
		MinDeposit:       d("1"),
		InitialLiquidity: d("500"),
	})
	require.NoError(t, err)
	id := view.Market.ID

	ids, err := c.MarketsByCategory(ctx, "economics")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	q, err := c.Quote(ctx, id, domain.ActionBuy, domain.SideNo, d("20"))
	require.NoError(t, err)

	trade, err := c.Buy(ctx, id, "bob", domain.SideNo, d("20"), q.Amount)
	require.NoError(t, err)
	assert.True(t, trade.Amount.Equal(q.Amount))

	prices, err := c.Prices(ctx, id)
	require.NoError(t, err)
	assert.True(t, prices.No.GreaterThan(d("0.5")))

	trades, err := c.Trades(ctx, "", "bob", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ActionBuy, trades[0].Action)

	pf, err := c.Portfolio(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pf.Entries, 1)
	assert.True(t, pf.Entries[0].Position.No.Equal(d("20")))

	sold, err := c.Sell(ctx, id, "bob", domain.SideNo, d("20"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, sold.Amount.LessThan(trade.Amount))
}

func TestClient_ErrorsMapToDomain(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.Market(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.Withdraw(ctx, "nobody", d("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = c.Balance(ctx, "0xnothex")
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	_, err = c.Trades(ctx, "", "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestClient_RetriesIdempotentRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"yes":"0.7","no":"0.3"}`))
	}))
	defer srv.Close()

	c := apiclient.New(srv.URL, apiclient.WithBackoff(noWait))
	prices, err := c.Prices(context.Background(), "m")
	require.NoError(t, err)
	assert.True(t, prices.Yes.Equal(d("0.7")))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryFailedPost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := apiclient.New(srv.URL, apiclient.WithBackoff(noWait))
	_, err := c.Buy(context.Background(), "m", "bob", domain.SideYes, d("1"), decimal.Zero)
	require.Error(t, err)
	assert.True(t, apiclient.IsStatus(err, http.StatusBadGateway))
	assert.Equal(t, int32(1), calls.Load(), "a trade may have executed: never resend")
}

func TestClient_RetriesRateLimitedPost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"account":"bob","balance":"5"}`))
	}))
	defer srv.Close()

	c := apiclient.New(srv.URL, apiclient.WithBackoff(noWait))
	bal, err := c.Deposit(context.Background(), "bob", d("5"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("5")))
	assert.Equal(t, int32(2), calls.Load())
}
