package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceArgsRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	ev := domain.Event{
		MarketID: "m1",
		Status:   domain.StatusDisputed,
		Prices: domain.TokenPrices{
			Yes: decimal.RequireFromString("0.62"),
			No:  decimal.RequireFromString("0.38"),
		},
		Version: 7,
		At:      at,
	}

	args := priceArgs(ev)
	require.Len(t, args, 5)
	vals := map[string]string{
		"version":    "7",
		"yes":        args[1].(string),
		"no":         args[2].(string),
		"status":     args[3].(string),
		"updated_at": args[4].(string),
	}

	p, err := parsePrice(vals)
	require.NoError(t, err)
	assert.True(t, p.Prices.Yes.Equal(ev.Prices.Yes))
	assert.True(t, p.Prices.No.Equal(ev.Prices.No))
	assert.Equal(t, domain.StatusDisputed, p.Status)
	assert.Equal(t, uint64(7), p.Version)
	assert.True(t, p.UpdatedAt.Equal(at), "sub-second precision survives")
}

func TestParsePrice_Corrupt(t *testing.T) {
	_, err := parsePrice(map[string]string{"yes": "x", "no": "0.5", "version": "1"})
	assert.Error(t, err)
	_, err = parsePrice(map[string]string{"yes": "0.5", "no": "0.5", "version": "-1"})
	assert.Error(t, err)
}

func TestNew_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}
