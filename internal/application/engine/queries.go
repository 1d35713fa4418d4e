package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
)

// Las consultas leen el último snapshot publicado sin tomar el escritor.

// GetMarket devuelve el snapshot consistente de un mercado.
func (r *Registry) GetMarket(id string) (domain.MarketView, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.MarketView{}, err
	}
	return e.current.Load().view(), nil
}

// GetTokenPrices devuelve los precios YES/NO actuales.
func (r *Registry) GetTokenPrices(id string) (domain.TokenPrices, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.TokenPrices{}, err
	}
	return e.current.Load().pool.Prices(), nil
}

// GetGraduationProgress evalúa el mercado contra sus umbrales ahora.
func (r *Registry) GetGraduationProgress(id string) (domain.GraduationProgress, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.GraduationProgress{}, err
	}
	return r.evaluate(e.current.Load(), r.now()), nil
}

func (r *Registry) evaluate(s *snapshot, now time.Time) domain.GraduationProgress {
	return domain.EvaluateGraduation(domain.GraduationStats{
		Liquidity: s.pool.LiquidityValue(),
		Volume:    s.pool.Volume,
		Age:       s.market.Age(now),
	}, s.market.Criteria)
}

// ListMarketsByCategory devuelve los ids de la categoría en orden de creación.
func (r *Registry) ListMarketsByCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.categories[category]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Markets devuelve todos los mercados en orden de creación.
func (r *Registry) Markets() []domain.MarketView {
	snaps := r.snapshots()
	out := make([]domain.MarketView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.view())
	}
	return out
}

// Quote cotiza un trade sin ejecutarlo.
func (r *Registry) Quote(id string, action domain.TradeAction, side domain.Side, shares decimal.Decimal) (domain.Quote, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Quote{}, err
	}
	cur := e.current.Load()
	if !cur.market.Status.Tradable() {
		return domain.Quote{}, fmt.Errorf("%w: market %s is %s", domain.ErrMarketClosed, id, cur.market.Status)
	}
	return cur.pool.Quote(action, side, shares)
}

// Balance devuelve el saldo de liquidación de la cuenta.
func (r *Registry) Balance(account string) decimal.Decimal {
	return r.accounts.Balance(account)
}

// Position devuelve la posición de la cuenta en el mercado.
func (r *Registry) Position(id, account string) (domain.Position, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Position{}, err
	}
	return e.current.Load().position(account), nil
}

// Portfolio valora a mercado todas las posiciones de la cuenta.
func (r *Registry) Portfolio(account string) domain.Portfolio {
	p := domain.Portfolio{
		Account:   account,
		Balance:   r.accounts.Balance(account),
		Value:     decimal.Zero,
		CostBasis: decimal.Zero,
	}
	for _, v := range r.snapshots() {
		pos, ok := v.positions[account]
		if !ok || pos.IsEmpty() {
			continue
		}
		entry := domain.Valuate(v.market, v.pool, pos)
		p.Entries = append(p.Entries, entry)
		p.Value = p.Value.Add(entry.Value)
		p.CostBasis = p.CostBasis.Add(pos.CostBasis())
	}
	p.PnL = p.Value.Sub(p.CostBasis)
	return p
}

// Trades devuelve el historial de trades del store.
func (r *Registry) Trades(ctx context.Context, f ports.TradeFilter) ([]domain.Trade, error) {
	trades, err := r.store.Trades(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("engine.Trades: %w", err)
	}
	return trades, nil
}

func (r *Registry) snapshots() []*snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id].current.Load())
	}
	return out
}

// pct formatea un progreso [0,1] como porcentaje.
func pct(v decimal.Decimal) string {
	return v.Mul(decimal.NewFromInt(100)).StringFixed(1)
}
