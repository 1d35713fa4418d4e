package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/adapters/storage"
	"github.com/alejandrodnm/quantmarket/internal/application/engine"
	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeClock es un reloj manual para controlar ventanas y edades.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyStore falla a demanda para simular errores de disco.
type flakyStore struct {
	ports.Store
	failAll     atomic.Bool
	failIntents atomic.Bool
}

var errDisk = errors.New("disk full")

func (f *flakyStore) Commit(ctx context.Context, m ports.Mutation) error {
	if f.failAll.Load() || (m.IntentID != "" && f.failIntents.Load()) {
		return errDisk
	}
	return f.Store.Commit(ctx, m)
}

// recorder captura los eventos publicados.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	reg   *engine.Registry
	store *flakyStore
	sql   *storage.SQLStore
	clock *fakeClock
	rec   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		store: &flakyStore{Store: db},
		sql:   db,
		clock: newClock(),
		rec:   &recorder{},
	}
	h.reg = engine.New(h.store, h.config())
	h.reg.AddPublisher(h.rec)
	require.NoError(t, h.reg.Load(context.Background()))

	for acct, amount := range map[string]string{
		"alice": "10000", "bob": "100", "carol": "10",
	} {
		_, err := h.reg.Deposit(context.Background(), acct, d(amount))
		require.NoError(t, err)
	}
	return h
}

func (h *harness) config() engine.Config {
	return engine.Config{
		FeeRate:       d("0.02"),
		DisputeWindow: 24 * time.Hour,
		Forfeit:       domain.ForfeitPolicy{WinnerShare: d("0.5"), Sink: "treasury"},
		Clock:         h.clock.Now,
	}
}

func (h *harness) marketConfig() domain.MarketConfig {
	return domain.MarketConfig{
		Title:            "Will BTC close above 100k?",
		Category:         "crypto",
		Creator:          "alice",
		Resolver:         "oracle",
		EndTime:          h.clock.Now().Add(48 * time.Hour),
		MinDeposit:       d("0.1"),
		InitialLiquidity: d("1000"),
	}
}

func (h *harness) createMarket(t *testing.T) string {
	t.Helper()
	v, err := h.reg.CreateMarket(context.Background(), h.marketConfig())
	require.NoError(t, err)
	return v.Market.ID
}

func TestCreateMarket(t *testing.T) {
	h := newHarness(t)

	v, err := h.reg.CreateMarket(context.Background(), h.marketConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, v.Market.Status)
	assert.False(t, v.Market.Graduated)
	assert.Equal(t, uint64(1), v.Market.Version)
	assert.True(t, v.Prices.Yes.Equal(d("0.5")))
	assert.True(t, v.Pool.FeeRate.Equal(d("0.02")))
	assert.Equal(t, engine.DefaultGraduation, v.Market.Criteria)
	assert.True(t, h.reg.Balance("alice").Equal(d("9000")))

	pos, err := h.reg.Position(v.Market.ID, "alice")
	require.NoError(t, err)
	assert.True(t, pos.LPShares.Equal(d("1000")))

	assert.Equal(t, []string{v.Market.ID}, h.reg.ListMarketsByCategory("crypto"))
	assert.Contains(t, h.rec.types(), domain.EventMarketCreated)
}

func TestCreateMarket_InvalidConfig(t *testing.T) {
	h := newHarness(t)

	cases := map[string]func(c *domain.MarketConfig){
		"end in past":      func(c *domain.MarketConfig) { c.EndTime = h.clock.Now().Add(-time.Minute) },
		"end now":          func(c *domain.MarketConfig) { c.EndTime = h.clock.Now() },
		"empty category":   func(c *domain.MarketConfig) { c.Category = "  " },
		"zero min deposit": func(c *domain.MarketConfig) { c.MinDeposit = decimal.Zero },
		"no liquidity":     func(c *domain.MarketConfig) { c.InitialLiquidity = decimal.Zero },
		"missing resolver": func(c *domain.MarketConfig) { c.Resolver = "" },
		"fee too high": func(c *domain.MarketConfig) {
			fee := d("0.5")
			c.FeeRate = &fee
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := h.marketConfig()
			mutate(&cfg)
			_, err := h.reg.CreateMarket(context.Background(), cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
	assert.Empty(t, h.reg.Markets())
	assert.True(t, h.reg.Balance("alice").Equal(d("10000")))
}

func TestCreateMarket_CreatorCannotAffordLiquidity(t *testing.T) {
	h := newHarness(t)
	cfg := h.marketConfig()
	cfg.Creator = "carol"

	_, err := h.reg.CreateMarket(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, h.reg.ListMarketsByCategory("crypto"))
}

func TestListMarketsByCategory_CreationOrder(t *testing.T) {
	h := newHarness(t)

	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, h.createMarket(t))
	}
	sports := h.marketConfig()
	sports.Category = "sports"
	_, err := h.reg.CreateMarket(context.Background(), sports)
	require.NoError(t, err)

	assert.Equal(t, want, h.reg.ListMarketsByCategory("crypto"))
	assert.Len(t, h.reg.ListMarketsByCategory("sports"), 1)
	assert.Empty(t, h.reg.ListMarketsByCategory("politics"))
}

func TestGetMarket_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.GetMarket("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
