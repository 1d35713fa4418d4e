package cache

// events.go — precios y eventos de mercado en Redis.
//
// Key schema:
//
//	price:{marketID}  hash {version, yes, no, status, updated_at}
//	market-events     canal pub/sub con el domain.Event en JSON
//
// El hash solo avanza: un evento con versión menor o igual a la guardada
// no lo sobrescribe, así que la entrega fuera de orden no retrocede precios.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultChannel es el canal pub/sub de eventos.
const DefaultChannel = "market-events"

var setPrice = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'yes', ARGV[2], 'no', ARGV[3], 'status', ARGV[4], 'updated_at', ARGV[5])
return 1
`)

// CachedPrice es la última cotización conocida de un mercado.
type CachedPrice struct {
	Prices    domain.TokenPrices
	Status    domain.MarketStatus
	Version   uint64
	UpdatedAt time.Time
}

// EventBus implementa ports.EventPublisher sobre Redis.
type EventBus struct {
	rdb     *redis.Client
	channel string
}

// NewEventBus usa DefaultChannel si channel está vacío.
func NewEventBus(c *Client, channel string) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{rdb: c.rdb, channel: channel}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

func priceArgs(ev domain.Event) []any {
	return []any{
		ev.Version,
		ev.Prices.Yes.String(),
		ev.Prices.No.String(),
		string(ev.Status),
		ev.At.UTC().Format(time.RFC3339Nano),
	}
}

// Publish actualiza el hash de precios y difunde el evento.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("cache.Publish: marshal: %w", err)
	}
	if err := setPrice.Run(ctx, b.rdb, []string{priceKey(ev.MarketID)}, priceArgs(ev)...).Err(); err != nil {
		return fmt.Errorf("cache.Publish: set price %s: %w", ev.MarketID, err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("cache.Publish: publish %s: %w", b.channel, err)
	}
	return nil
}

// Price lee la última cotización cacheada.
func (b *EventBus) Price(ctx context.Context, marketID string) (CachedPrice, error) {
	vals, err := b.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return CachedPrice{}, fmt.Errorf("cache.Price: hgetall %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return CachedPrice{}, fmt.Errorf("%w: no cached price for %s", domain.ErrNotFound, marketID)
	}
	return parsePrice(vals)
}

func parsePrice(vals map[string]string) (CachedPrice, error) {
	var (
		p   CachedPrice
		err error
	)
	if p.Prices.Yes, err = decimal.NewFromString(vals["yes"]); err != nil {
		return CachedPrice{}, fmt.Errorf("cache.parsePrice: yes: %w", err)
	}
	if p.Prices.No, err = decimal.NewFromString(vals["no"]); err != nil {
		return CachedPrice{}, fmt.Errorf("cache.parsePrice: no: %w", err)
	}
	if p.Version, err = strconv.ParseUint(vals["version"], 10, 64); err != nil {
		return CachedPrice{}, fmt.Errorf("cache.parsePrice: version: %w", err)
	}
	if raw := vals["updated_at"]; raw != "" {
		if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return CachedPrice{}, fmt.Errorf("cache.parsePrice: updated_at: %w", err)
		}
	}
	p.Status = domain.MarketStatus(vals["status"])
	return p, nil
}

// Relay reenvía a pub los eventos del canal hasta que ctx se cancela. Así
// varias instancias de la API comparten el mismo feed.
func (b *EventBus) Relay(ctx context.Context, pub ports.EventPublisher) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("cache.Relay: subscribe %s: %w", b.channel, err)
	}
	slog.Info("cache: relaying events", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("cache: bad event payload", "channel", msg.Channel, "error", err)
				continue
			}
			if err := pub.Publish(ctx, ev); err != nil {
				slog.Warn("cache: relay publish failed", "market", ev.MarketID, "error", err)
			}
		}
	}
}
