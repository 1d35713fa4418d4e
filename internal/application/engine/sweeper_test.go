package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/application/engine"
	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type boardNotifier struct {
	mu     sync.Mutex
	boards int
}

func (n *boardNotifier) NotifyMarkets(_ context.Context, _ []domain.MarketView) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.boards++
	return nil
}

func (n *boardNotifier) NotifyPortfolio(_ context.Context, _ domain.Portfolio) error { return nil }

func (n *boardNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.boards
}

func TestFinalizeDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, h.createMarket(t))
	}
	h.clock.Advance(49 * time.Hour)
	for _, id := range ids[:3] {
		propose(t, h, id, "bob", domain.SideYes, "0.1")
	}
	_, err := h.reg.DisputeProposal(ctx, ids[2], "carol", d("0.1"))
	require.NoError(t, err)

	assert.Zero(t, h.reg.FinalizeDue(ctx, 2), "windows still open")

	h.clock.Advance(25 * time.Hour)
	assert.Equal(t, 2, h.reg.FinalizeDue(ctx, 2))
	assert.Zero(t, h.reg.FinalizeDue(ctx, 2))

	for i, want := range []domain.MarketStatus{
		domain.StatusResolved, domain.StatusResolved, domain.StatusDisputed, domain.StatusActive,
	} {
		v, err := h.reg.GetMarket(ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, v.Market.Status, "market %d", i)
	}
	assert.True(t, h.reg.Balance("bob").Equal(d("99.9")), "two deposits back, one still disputed")
}

func TestFinalizeDue_RetriesPendingSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	h.clock.Advance(49 * time.Hour)
	propose(t, h, id, "bob", domain.SideYes, "0.1")
	h.clock.Advance(25 * time.Hour)

	h.store.failIntents.Store(true)
	assert.Zero(t, h.reg.FinalizeDue(ctx, 1))

	h.store.failIntents.Store(false)
	assert.Equal(t, 1, h.reg.FinalizeDue(ctx, 1))
	v, _ := h.reg.GetMarket(id)
	assert.Equal(t, domain.StatusResolved, v.Market.Status)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	n := &boardNotifier{}
	s := engine.NewSweeper(h.reg, n, engine.SweeperConfig{
		Interval: 5 * time.Millisecond,
		Workers:  1,
		Board:    true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return n.count() > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
