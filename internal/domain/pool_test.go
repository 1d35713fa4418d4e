package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- Prices ---

func TestPrices_FreshPoolIsFiftyFifty(t *testing.T) {
	p := NewPool("m", dec("1000"), dec("0.02"))
	prices := p.Prices()
	assert.True(t, prices.Yes.Equal(dec("0.5")))
	assert.True(t, prices.No.Equal(dec("0.5")))
	assert.True(t, p.LiquidityValue().Equal(dec("1000")))
}

func TestPrices_SumToOne(t *testing.T) {
	// 1/3 no es representable: NO se deriva de YES.
	p := Pool{YesReserve: dec("200"), NoReserve: dec("100")}
	prices := p.Prices()
	assert.True(t, prices.Yes.Add(prices.No).Equal(one))
	assert.True(t, prices.Yes.LessThan(prices.No))
	assert.True(t, p.ImpliedProbability(SideNo).Equal(prices.No))
}

func TestPrices_EmptyPool(t *testing.T) {
	prices := Pool{YesReserve: decimal.Zero, NoReserve: decimal.Zero}.Prices()
	assert.True(t, prices.Yes.Equal(dec("0.5")))
}

// --- Buy / Sell ---

func TestQuoteBuy_NoFee(t *testing.T) {
	// x² + x(200 - 50) - 50·100 = 0 → x ≈ 28.0776
	p := NewPool("m", dec("100"), decimal.Zero)
	q, err := p.QuoteBuy(SideYes, dec("50"))
	require.NoError(t, err)
	assert.InDelta(t, 28.0776, q.Amount.InexactFloat64(), 0.0001)
	assert.True(t, q.NewYesPrice.GreaterThan(dec("0.5")))
	assert.True(t, q.Fee.IsZero())
}

func TestSwap_KNeverDecreases(t *testing.T) {
	p := NewPool("m", dec("1000"), dec("0.02"))
	steps := []struct {
		buy    bool
		side   Side
		shares string
	}{
		{true, SideYes, "10"},
		{true, SideNo, "333.333333333333333333"},
		{false, SideYes, "5"},
		{true, SideYes, "0.000000000000000001"},
		{false, SideNo, "100"},
	}
	for _, s := range steps {
		before := p.K()
		var err error
		if s.buy {
			p, _, err = p.Swap(s.side, dec(s.shares), decimal.Zero)
		} else {
			p, _, err = p.SwapOut(s.side, dec(s.shares), decimal.Zero)
		}
		require.NoError(t, err)
		assert.True(t, p.K().GreaterThanOrEqual(before), "k dropped after %+v", s)
		assert.True(t, p.Prices().Yes.Add(p.Prices().No).Equal(one))
	}
	assert.Equal(t, int64(len(steps)), p.TradeCount)
}

func TestQuoteBuy_PriceMonotoneInSize(t *testing.T) {
	p := NewPool("m", dec("1000"), dec("0.02"))
	prev := decimal.Zero
	for _, s := range []string{"1", "10", "100", "500"} {
		q, err := p.QuoteBuy(SideNo, dec(s))
		require.NoError(t, err)
		assert.True(t, q.AvgPrice.GreaterThan(prev), "avg price for %s", s)
		prev = q.AvgPrice
	}
}

func TestSwap_Slippage(t *testing.T) {
	p := NewPool("m", dec("1000"), dec("0.02"))
	q, err := p.QuoteBuy(SideYes, dec("100"))
	require.NoError(t, err)

	_, _, err = p.Swap(SideYes, dec("100"), q.Amount.Sub(Unit))
	assert.ErrorIs(t, err, ErrSlippageExceeded)

	next, _, err := p.Swap(SideYes, dec("100"), q.Amount)
	require.NoError(t, err)

	sq, err := next.QuoteSell(SideYes, dec("100"))
	require.NoError(t, err)
	_, _, err = next.SwapOut(SideYes, dec("100"), sq.Amount.Add(Unit))
	assert.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestSwap_RoundTripCostsFee(t *testing.T) {
	p := NewPool("m", dec("1000"), dec("0.02"))
	p1, buy, err := p.Swap(SideYes, dec("100"), decimal.Zero)
	require.NoError(t, err)
	p2, sell, err := p1.SwapOut(SideYes, dec("100"), decimal.Zero)
	require.NoError(t, err)

	assert.True(t, sell.Amount.LessThan(buy.Amount))
	// el colateral sigue respaldando los sets en circulación
	assert.True(t, p2.Collateral.Equal(dec("1000").Add(buy.Amount).Sub(sell.Amount)))
}

func TestQuote_InvalidInput(t *testing.T) {
	p := NewPool("m", dec("1000"), dec("0.02"))

	_, err := p.Quote(ActionBuy, SideYes, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = p.Quote(ActionBuy, SideYes, dec("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = p.Quote(ActionBuy, SideYes, dec("0.0000000000000000001"))
	assert.ErrorIs(t, err, ErrInvalidAmount, "below the minimum unit")
	_, err = p.Quote(ActionBuy, Side("X"), dec("1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = p.Quote(TradeAction("HOLD"), SideYes, dec("1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestQuoteSell_CannotDrainPool(t *testing.T) {
	p := NewPool("m", dec("10"), decimal.Zero)
	// vender una cantidad enorme acercaría la otra reserva a cero
	_, err := p.QuoteSell(SideYes, dec("1000000000000"))
	assert.ErrorIs(t, err, ErrInsufficientReserve)
}

func TestQuote_EmptyPool(t *testing.T) {
	p := NewPool("m", decimal.Zero, decimal.Zero)
	_, err := p.QuoteBuy(SideYes, dec("1"))
	assert.ErrorIs(t, err, ErrInsufficientReserve)
}

// --- Liquidity ---

func TestLiquidity_AddRemoveRoundTrip(t *testing.T) {
	p := NewPool("m", dec("1000"), dec("0.02"))
	p, _, err := p.Swap(SideYes, dec("150"), decimal.Zero)
	require.NoError(t, err)
	price := p.Prices().Yes

	added, ch, err := p.AddLiquidity(dec("200"))
	require.NoError(t, err)
	assert.True(t, ch.Shares.IsPositive())
	assert.True(t, ch.No.IsZero(), "NO is the abundant reserve")
	assert.InDelta(t, price.InexactFloat64(), added.Prices().Yes.InexactFloat64(), 1e-12)

	removed, out, err := added.RemoveLiquidity(ch.Shares)
	require.NoError(t, err)
	assert.True(t, removed.LPShares.Equal(p.LPShares))
	assert.True(t, out.Merged.IsPositive())
	assert.InDelta(t, price.InexactFloat64(), removed.Prices().Yes.InexactFloat64(), 1e-12)
}

func TestRemoveLiquidity_All(t *testing.T) {
	p := NewPool("m", dec("500"), decimal.Zero)
	next, ch, err := p.RemoveLiquidity(dec("500"))
	require.NoError(t, err)
	assert.True(t, next.YesReserve.IsZero())
	assert.True(t, next.Collateral.IsZero())
	assert.True(t, ch.Merged.Equal(dec("500")))

	_, _, err = p.RemoveLiquidity(dec("501"))
	assert.ErrorIs(t, err, ErrInsufficientReserve)
}

func TestAddLiquidity_EmptyPoolSeeds(t *testing.T) {
	p := NewPool("m", decimal.Zero, decimal.Zero)
	next, ch, err := p.AddLiquidity(dec("10"))
	require.NoError(t, err)
	assert.True(t, ch.Shares.Equal(dec("10")))
	assert.True(t, next.Prices().Yes.Equal(dec("0.5")))
}

func TestWithdrawResolved(t *testing.T) {
	p := NewPool("m", dec("1000"), decimal.Zero)
	p, buy, err := p.Swap(SideYes, dec("100"), decimal.Zero)
	require.NoError(t, err)

	next, won, err := p.WithdrawResolved(SideYes, dec("1000"))
	require.NoError(t, err)
	assert.True(t, won.Equal(p.YesReserve))
	// la fusión se deshace: el colateral lo libera Redeem
	assert.True(t, next.Collateral.Equal(dec("1000").Add(buy.Amount)))

	_, won, err = p.WithdrawResolved(SideNo, dec("1000"))
	require.NoError(t, err)
	assert.True(t, won.Equal(p.NoReserve))
}

func TestRelease(t *testing.T) {
	p := NewPool("m", dec("10"), decimal.Zero)
	next, err := p.Merge(dec("4"))
	require.NoError(t, err)
	assert.True(t, next.Collateral.Equal(dec("6")))

	_, err = next.Redeem(dec("7"))
	assert.ErrorIs(t, err, ErrInsufficientReserve)
}

// --- amount helpers ---

func TestProRata(t *testing.T) {
	assert.True(t, ProRata(dec("10"), dec("1"), dec("3")).Equal(dec("3.333333333333333333")))
	assert.True(t, ProRata(dec("10"), dec("1"), decimal.Zero).IsZero())
}

func TestSqrt(t *testing.T) {
	assert.True(t, sqrt(dec("144")).Round(AmountScale).Equal(dec("12")))
	assert.True(t, sqrt(decimal.Zero).IsZero())
	r := sqrt(dec("2"))
	assert.True(t, r.Mul(r).Sub(dec("2")).Abs().LessThan(dec("1e-30")))
}
