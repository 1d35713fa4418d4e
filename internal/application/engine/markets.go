package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/google/uuid"
)

// CreateMarket valida la config, cobra la liquidez inicial al creador y
// abre el mercado con el pool 50/50. El creador recibe las shares LP.
func (r *Registry) CreateMarket(ctx context.Context, cfg domain.MarketConfig) (domain.MarketView, error) {
	now := r.now()
	if err := cfg.Validate(now); err != nil {
		return domain.MarketView{}, err
	}

	fee := r.cfg.FeeRate
	if cfg.FeeRate != nil {
		fee = *cfg.FeeRate
	}
	criteria := r.cfg.Graduation
	if cfg.Graduation != nil {
		criteria = *cfg.Graduation
	}

	id := uuid.New().String()
	m := domain.Market{
		ID:              id,
		Title:           cfg.Title,
		Description:     cfg.Description,
		Category:        cfg.Category,
		Creator:         cfg.Creator,
		Resolver:        cfg.Resolver,
		SettlementAsset: cfg.SettlementAsset,
		EndTime:         cfg.EndTime.UTC(),
		MinDeposit:      cfg.MinDeposit,
		Status:          domain.StatusActive,
		Criteria:        criteria,
		CreatedAt:       now,
	}
	pool := domain.NewPool(id, cfg.InitialLiquidity, fee)
	pos := domain.NewPosition(cfg.Creator, id).AddLP(cfg.InitialLiquidity, cfg.InitialLiquidity)

	snap := &snapshot{
		market:    m,
		pool:      pool,
		positions: map[string]domain.Position{cfg.Creator: pos},
	}

	// El entry no es visible hasta index, así que nadie más puede escribir.
	e := &entry{}
	err := r.commit(ctx, e, snap, []domain.BalanceDelta{
		{Account: cfg.Creator, Amount: cfg.InitialLiquidity.Neg()},
	}, ports.Mutation{Positions: []domain.Position{pos}})
	if err != nil {
		return domain.MarketView{}, err
	}
	r.mu.Lock()
	r.index(e)
	r.mu.Unlock()

	slog.Info("engine: market created",
		"market", id,
		"title", domain.TruncateTitle(m.Title, id, 40),
		"category", m.Category,
		"liquidity", cfg.InitialLiquidity.String(),
	)
	r.emit(ctx, domain.EventMarketCreated, snap, nil)
	return snap.view(), nil
}

// Graduate marca el mercado como graduado si cumple los tres umbrales.
// Repetirlo sobre un mercado ya graduado no hace nada.
func (r *Registry) Graduate(ctx context.Context, id string) (domain.MarketView, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.MarketView{}, err
	}

	var next *snapshot
	changed := false
	err = e.write(func(cur *snapshot) error {
		next = cur
		if cur.market.Status == domain.StatusCancelled {
			return fmt.Errorf("%w: market %s is cancelled", domain.ErrMarketClosed, id)
		}
		if cur.market.Graduated {
			return nil
		}
		now := r.now()
		progress := r.evaluate(cur, now)
		if !progress.CanGraduate {
			return fmt.Errorf("%w: liquidity %s%%, volume %s%%, age %s%%", domain.ErrNotEligible,
				pct(progress.LiquidityProgress), pct(progress.VolumeProgress), pct(progress.AgeProgress))
		}
		next = cur.clone()
		next.market.Graduated = true
		next.market.GraduatedAt = &now
		changed = true
		return r.commit(ctx, e, next, nil, ports.Mutation{})
	})
	if err != nil {
		return domain.MarketView{}, err
	}
	if changed {
		slog.Info("engine: market graduated", "market", id)
		r.emit(ctx, domain.EventMarketGraduated, next, nil)
	}
	return next.view(), nil
}

// Cancel cierra el mercado sin resultado. Solo el creador o el resolver
// pueden cancelar, y nunca después de aceptar una propuesta.
func (r *Registry) Cancel(ctx context.Context, id, caller string) (domain.MarketView, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.MarketView{}, err
	}
	return r.settle(ctx, e, func(cur *snapshot) (domain.SettlementIntent, error) {
		m := cur.market
		if caller != m.Creator && caller != m.Resolver {
			return domain.SettlementIntent{}, fmt.Errorf("%w: %s cannot cancel market %s", domain.ErrUnauthorized, caller, id)
		}
		if !domain.CanTransition(m.Status, domain.StatusCancelled) {
			return domain.SettlementIntent{}, fmt.Errorf("%w: market %s is %s", domain.ErrMarketClosed, id, m.Status)
		}
		return r.cancelIntent(cur), nil
	})
}
