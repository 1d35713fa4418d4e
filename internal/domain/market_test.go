package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	s, err := ParseSide(" yes ")
	require.NoError(t, err)
	assert.Equal(t, SideYes, s)
	assert.Equal(t, SideNo, s.Opposite())

	_, err = ParseSide("maybe")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMarketTransitions(t *testing.T) {
	valid := [][2]MarketStatus{
		{StatusActive, StatusProposalPending},
		{StatusActive, StatusCancelled},
		{StatusProposalPending, StatusDisputed},
		{StatusProposalPending, StatusResolved},
		{StatusDisputed, StatusResolved},
		{StatusDisputed, StatusCancelled},
	}
	for _, tr := range valid {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]MarketStatus{
		{StatusActive, StatusResolved},
		{StatusActive, StatusDisputed},
		{StatusResolved, StatusCancelled},
		{StatusCancelled, StatusActive},
		{StatusResolved, StatusActive},
	}
	for _, tr := range invalid {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	m := Market{Status: StatusResolved}
	err := m.Transition(StatusCancelled)
	assert.ErrorIs(t, err, ErrMarketClosed)
	assert.Equal(t, StatusResolved, m.Status, "failed transition leaves the status")
}

func TestMarketStatusFlags(t *testing.T) {
	assert.True(t, StatusDisputed.Tradable())
	assert.False(t, StatusResolved.Tradable())
	assert.True(t, StatusCancelled.Final())
	assert.False(t, StatusProposalPending.Final())
}

func TestMarket_AgeAndEnded(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m := Market{CreatedAt: now, EndTime: now.Add(time.Hour)}

	assert.Zero(t, m.Age(now.Add(-time.Minute)))
	assert.Equal(t, 30*time.Minute, m.Age(now.Add(30*time.Minute)))
	assert.False(t, m.Ended(now))
	assert.True(t, m.Ended(now.Add(time.Hour)))
}

func TestMarketConfig_Validate(t *testing.T) {
	now := time.Now()
	base := MarketConfig{
		Title:            "Rain in Madrid tomorrow?",
		Category:         "weather",
		Creator:          "alice",
		Resolver:         "oracle",
		EndTime:          now.Add(time.Hour),
		MinDeposit:       dec("1"),
		InitialLiquidity: dec("100"),
	}
	require.NoError(t, base.Validate(now))

	zero := dec("0")
	cases := map[string]func(c *MarketConfig){
		"missing title":    func(c *MarketConfig) { c.Title = "" },
		"missing creator":  func(c *MarketConfig) { c.Creator = "" },
		"blank category":   func(c *MarketConfig) { c.Category = "\t" },
		"past end":         func(c *MarketConfig) { c.EndTime = now.Add(-time.Hour) },
		"negative deposit": func(c *MarketConfig) { c.MinDeposit = dec("-1") },
		"zero liquidity":   func(c *MarketConfig) { c.InitialLiquidity = zero },
		"zero age threshold": func(c *MarketConfig) {
			c.Graduation = &GraduationCriteria{LiquidityThreshold: dec("1"), VolumeThreshold: dec("1")}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.ErrorIs(t, c.Validate(now), ErrInvalidConfig)
		})
	}

	fee := dec("0.05")
	withFee := base
	withFee.FeeRate = &fee
	assert.NoError(t, withFee.Validate(now))
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "short", TruncateTitle("short", "id", 40))
	assert.Equal(t, "abcdefg...", TruncateTitle("abcdefghijklmnop", "id", 10))
	assert.Equal(t, "0123456789abcdefghij...", TruncateTitle("", "0123456789abcdefghijklmnop", 40))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("sell")
	require.NoError(t, err)
	assert.Equal(t, ActionSell, a)

	_, err = ParseAction("hold")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
