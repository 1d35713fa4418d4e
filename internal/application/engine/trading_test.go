package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuySell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	before, err := h.reg.GetMarket(id)
	require.NoError(t, err)

	buy, err := h.reg.Buy(ctx, id, "bob", domain.SideYes, d("100"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, buy.Amount.IsPositive())
	assert.True(t, buy.Fee.IsPositive())
	assert.True(t, h.reg.Balance("bob").Equal(d("100").Sub(buy.Amount)))

	after, err := h.reg.GetMarket(id)
	require.NoError(t, err)
	assert.True(t, after.Prices.Yes.GreaterThan(before.Prices.Yes), "buying YES raises its price")
	assert.True(t, after.Prices.Yes.Add(after.Prices.No).Equal(decimal.NewFromInt(1)))
	assert.True(t, after.Pool.K().GreaterThanOrEqual(before.Pool.K()))
	assert.Equal(t, before.Market.Version+1, after.Market.Version)
	assert.True(t, after.Pool.Collateral.Equal(d("1000").Add(buy.Amount)))

	pos, err := h.reg.Position(id, "bob")
	require.NoError(t, err)
	assert.True(t, pos.Yes.Equal(d("100")))
	assert.True(t, pos.YesCost.Equal(buy.Amount))

	sell, err := h.reg.Sell(ctx, id, "bob", domain.SideYes, d("100"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, sell.Amount.LessThan(buy.Amount), "round trip loses the fee")

	pos, err = h.reg.Position(id, "bob")
	require.NoError(t, err)
	assert.True(t, pos.IsEmpty())

	final, err := h.reg.GetMarket(id)
	require.NoError(t, err)
	assert.True(t, final.Pool.K().GreaterThanOrEqual(after.Pool.K()))
	assert.Equal(t, int64(2), final.Pool.TradeCount)
	assert.True(t, final.Pool.Volume.Equal(buy.Amount.Add(sell.Amount)))

	trades, err := h.reg.Trades(ctx, ports.TradeFilter{MarketID: id})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.ActionSell, trades[0].Action)

	types := h.rec.types()
	assert.Contains(t, types, domain.EventTrade)
}

func TestBuy_SlippageLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	q, err := h.reg.Quote(id, domain.ActionBuy, domain.SideNo, d("50"))
	require.NoError(t, err)
	before, _ := h.reg.GetMarket(id)

	_, err = h.reg.Buy(ctx, id, "bob", domain.SideNo, d("50"), q.Amount.Sub(domain.Unit))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	after, _ := h.reg.GetMarket(id)
	assert.Equal(t, before.Market.Version, after.Market.Version)
	assert.True(t, h.reg.Balance("bob").Equal(d("100")))

	tr, err := h.reg.Buy(ctx, id, "bob", domain.SideNo, d("50"), q.Amount)
	require.NoError(t, err)
	assert.True(t, tr.Amount.Equal(q.Amount), "quote matches execution")
}

func TestSell_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	_, err := h.reg.Sell(ctx, id, "bob", domain.SideYes, d("1"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.reg.Buy(ctx, id, "bob", domain.SideYes, d("10"), decimal.Zero)
	require.NoError(t, err)
	_, err = h.reg.Sell(ctx, id, "bob", domain.SideYes, d("10"), d("100"))
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
}

func TestBuy_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	_, err := h.reg.Buy(ctx, id, "bob", domain.SideYes, decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.reg.Buy(ctx, id, "bob", domain.Side("MAYBE"), d("1"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.reg.Buy(ctx, id, "", domain.SideYes, d("1"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	_, err = h.reg.Buy(ctx, "missing", "bob", domain.SideYes, d("1"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// carol tiene 10: no alcanza para 100 shares
	_, err = h.reg.Buy(ctx, id, "carol", domain.SideYes, d("100"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestBuy_StoreFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)
	before, _ := h.reg.GetMarket(id)

	h.store.failAll.Store(true)
	_, err := h.reg.Buy(ctx, id, "bob", domain.SideYes, d("10"), decimal.Zero)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDisk)

	after, _ := h.reg.GetMarket(id)
	assert.Equal(t, before.Market.Version, after.Market.Version)
	assert.True(t, after.Pool.YesReserve.Equal(before.Pool.YesReserve))
	assert.True(t, h.reg.Balance("bob").Equal(d("100")))
	pos, _ := h.reg.Position(id, "bob")
	assert.True(t, pos.IsEmpty())

	h.store.failAll.Store(false)
	_, err = h.reg.Buy(ctx, id, "bob", domain.SideYes, d("10"), decimal.Zero)
	require.NoError(t, err)
}

func TestMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	yes, err := h.reg.Buy(ctx, id, "bob", domain.SideYes, d("10"), decimal.Zero)
	require.NoError(t, err)
	no, err := h.reg.Buy(ctx, id, "bob", domain.SideNo, d("10"), decimal.Zero)
	require.NoError(t, err)

	_, err = h.reg.Merge(ctx, id, "bob", d("11"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	pos, err := h.reg.Merge(ctx, id, "bob", d("10"))
	require.NoError(t, err)
	assert.True(t, pos.IsEmpty())
	want := d("100").Sub(yes.Amount).Sub(no.Amount).Add(d("10"))
	assert.True(t, h.reg.Balance("bob").Equal(want))
}

func TestLiquidity_AddRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	add, err := h.reg.AddLiquidity(ctx, id, "bob", d("50"))
	require.NoError(t, err)
	// pool 50/50: entra todo, nada vuelve
	assert.True(t, add.Shares.Equal(d("50")))
	assert.True(t, add.Yes.IsZero())
	assert.True(t, h.reg.Balance("bob").Equal(d("50")))

	rm, err := h.reg.RemoveLiquidity(ctx, id, "bob", add.Shares)
	require.NoError(t, err)
	assert.True(t, rm.Merged.Equal(d("50")))
	assert.True(t, h.reg.Balance("bob").Equal(d("100")))

	_, err = h.reg.RemoveLiquidity(ctx, id, "bob", d("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestLiquidity_SkewedPoolReturnsExcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	_, err := h.reg.Buy(ctx, id, "bob", domain.SideYes, d("40"), decimal.Zero)
	require.NoError(t, err)
	before, _ := h.reg.GetMarket(id)

	add, err := h.reg.AddLiquidity(ctx, id, "alice", d("100"))
	require.NoError(t, err)
	assert.True(t, add.Yes.IsPositive(), "YES is the scarce reserve, excess comes back")
	assert.True(t, add.No.IsZero())

	after, _ := h.reg.GetMarket(id)
	assert.True(t, after.Prices.Yes.Sub(before.Prices.Yes).Abs().LessThan(d("0.000001")),
		"adding liquidity keeps the price")
}

func TestDepositWithdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bal, err := h.reg.Withdraw(ctx, "carol", d("4"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("6")))

	_, err = h.reg.Withdraw(ctx, "carol", d("7"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.reg.Deposit(ctx, "carol", d("-1"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestPortfolio(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	tr, err := h.reg.Buy(ctx, id, "bob", domain.SideYes, d("20"), decimal.Zero)
	require.NoError(t, err)

	p := h.reg.Portfolio("bob")
	require.Len(t, p.Entries, 1)
	assert.True(t, p.CostBasis.Equal(tr.Amount))
	assert.True(t, p.Value.IsPositive())
	assert.True(t, p.PnL.Equal(p.Value.Sub(p.CostBasis)))

	lp := h.reg.Portfolio("alice")
	require.Len(t, lp.Entries, 1)
	assert.True(t, lp.CostBasis.Equal(d("1000")))
}

func TestGraduate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := h.marketConfig()
	cfg.Graduation = &domain.GraduationCriteria{
		LiquidityThreshold: d("100"),
		VolumeThreshold:    d("10"),
		AgeThreshold:       time.Hour,
	}
	v, err := h.reg.CreateMarket(ctx, cfg)
	require.NoError(t, err)
	id := v.Market.ID

	_, err = h.reg.Buy(ctx, id, "bob", domain.SideYes, d("30"), decimal.Zero)
	require.NoError(t, err)

	progress, err := h.reg.GetGraduationProgress(id)
	require.NoError(t, err)
	assert.True(t, progress.LiquidityProgress.Equal(decimal.NewFromInt(1)))
	assert.True(t, progress.VolumeProgress.Equal(decimal.NewFromInt(1)))
	assert.False(t, progress.CanGraduate, "too young")

	_, err = h.reg.Graduate(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotEligible)

	h.clock.Advance(2 * time.Hour)
	got, err := h.reg.Graduate(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Market.Graduated)
	require.NotNil(t, got.Market.GraduatedAt)
	assert.Equal(t, domain.StatusActive, got.Market.Status, "graduation does not touch resolution")

	again, err := h.reg.Graduate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got.Market.Version, again.Market.Version)
	assert.Contains(t, h.rec.types(), domain.EventMarketGraduated)
}

func TestConcurrentTrading_SameMarketSerializes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createMarket(t)

	const n = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		spent = decimal.Zero
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := h.reg.Buy(ctx, id, "alice", domain.SideYes, d("5"), decimal.Zero)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			spent = spent.Add(tr.Amount)
			mu.Unlock()
		}()
	}
	wg.Wait()

	v, err := h.reg.GetMarket(id)
	require.NoError(t, err)
	assert.Equal(t, int64(n), v.Pool.TradeCount)
	assert.Equal(t, uint64(1+n), v.Market.Version)
	assert.True(t, v.Pool.Collateral.Equal(d("1000").Add(spent)))
	assert.True(t, h.reg.Balance("alice").Equal(d("9000").Sub(spent)))
}

func TestConcurrentTrading_MarketsAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m1 := h.createMarket(t)
	m2 := h.createMarket(t)
	for _, acct := range []string{"t1", "t2"} {
		_, err := h.reg.Deposit(ctx, acct, d("1000"))
		require.NoError(t, err)
	}

	const rounds = 20
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, id := range []string{m1, m2} {
				p, err := h.reg.GetTokenPrices(id)
				if assert.NoError(t, err) {
					assert.True(t, p.Yes.Add(p.No).Equal(decimal.NewFromInt(1)))
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for _, job := range []struct{ market, account string }{{m1, "t1"}, {m2, "t2"}} {
		wg.Add(1)
		go func(market, account string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := h.reg.Buy(ctx, market, account, domain.SideNo, d("1"), decimal.Zero)
				assert.NoError(t, err)
			}
		}(job.market, job.account)
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	for _, tc := range []struct{ market, account string }{{m1, "t1"}, {m2, "t2"}} {
		v, err := h.reg.GetMarket(tc.market)
		require.NoError(t, err)
		assert.Equal(t, int64(rounds), v.Pool.TradeCount)

		pos, err := h.reg.Position(tc.market, tc.account)
		require.NoError(t, err)
		assert.True(t, pos.No.Equal(decimal.NewFromInt(rounds)))
		// lo gastado está exactamente en el colateral del pool
		assert.True(t, h.reg.Balance(tc.account).Add(v.Pool.Collateral).Equal(d("2000")))
	}
}
