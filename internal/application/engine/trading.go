package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Buy compra shares del lado side pagando como máximo maxCost (cero = sin tope).
func (r *Registry) Buy(ctx context.Context, id, account string, side domain.Side, shares, maxCost decimal.Decimal) (domain.Trade, error) {
	return r.trade(ctx, id, account, domain.ActionBuy, side, shares, maxCost)
}

// Sell vende shares del lado side recibiendo al menos minProceeds.
func (r *Registry) Sell(ctx context.Context, id, account string, side domain.Side, shares, minProceeds decimal.Decimal) (domain.Trade, error) {
	return r.trade(ctx, id, account, domain.ActionSell, side, shares, minProceeds)
}

func (r *Registry) trade(ctx context.Context, id, account string, action domain.TradeAction, side domain.Side, shares, limit decimal.Decimal) (domain.Trade, error) {
	if account == "" {
		return domain.Trade{}, fmt.Errorf("%w: empty account", domain.ErrInvalidAccount)
	}
	if !side.Valid() {
		return domain.Trade{}, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidAmount, side)
	}
	if limit.IsNegative() {
		return domain.Trade{}, fmt.Errorf("%w: negative slippage bound", domain.ErrInvalidAmount)
	}
	e, err := r.lookup(id)
	if err != nil {
		return domain.Trade{}, err
	}

	var (
		next  *snapshot
		trade domain.Trade
	)
	err = e.write(func(cur *snapshot) error {
		if !cur.market.Status.Tradable() {
			return fmt.Errorf("%w: market %s is %s", domain.ErrMarketClosed, id, cur.market.Status)
		}

		pos := cur.position(account)
		var (
			pool  domain.Pool
			q     domain.Quote
			delta decimal.Decimal
			err   error
		)
		if action == domain.ActionBuy {
			pool, q, err = cur.pool.Swap(side, shares, limit)
			if err != nil {
				return err
			}
			pos = pos.Credit(side, shares, q.Amount)
			delta = q.Amount.Neg()
		} else {
			if pos.Shares(side).LessThan(shares) {
				return fmt.Errorf("%w: %s holds %s %s, selling %s", domain.ErrInsufficientBalance,
					account, pos.Shares(side), side, shares)
			}
			pool, q, err = cur.pool.SwapOut(side, shares, limit)
			if err != nil {
				return err
			}
			pos = pos.Debit(side, shares)
			delta = q.Amount
		}

		trade = domain.Trade{
			ID:       uuid.New().String(),
			MarketID: id,
			Account:  account,
			Side:     side,
			Action:   action,
			Shares:   shares,
			Amount:   q.Amount,
			Price:    q.AvgPrice,
			Fee:      q.Fee,
			At:       r.now(),
		}
		next = cur.clone()
		next.pool = pool
		next.positions[account] = pos
		return r.commit(ctx, e, next,
			[]domain.BalanceDelta{{Account: account, Amount: delta}},
			ports.Mutation{Positions: []domain.Position{pos}, Trade: &trade},
		)
	})
	if err != nil {
		return domain.Trade{}, err
	}

	slog.Debug("engine: trade",
		"market", id,
		"account", account,
		"action", action,
		"side", side,
		"shares", shares.String(),
		"amount", trade.Amount.String(),
		"yes_price", next.pool.Prices().Yes.StringFixed(4),
	)
	r.emit(ctx, domain.EventTrade, next, &trade)
	return trade, nil
}

// Merge quema amount pares YES+NO de la cuenta y le abona amount de colateral.
func (r *Registry) Merge(ctx context.Context, id, account string, amount decimal.Decimal) (domain.Position, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return domain.Position{}, err
	}
	e, err := r.lookup(id)
	if err != nil {
		return domain.Position{}, err
	}

	var pos domain.Position
	err = e.write(func(cur *snapshot) error {
		if cur.market.Status == domain.StatusCancelled {
			return fmt.Errorf("%w: market %s is cancelled", domain.ErrMarketClosed, id)
		}
		pos = cur.position(account)
		if pos.Yes.LessThan(amount) || pos.No.LessThan(amount) {
			return fmt.Errorf("%w: %s holds %s YES / %s NO, merging %s", domain.ErrInsufficientBalance,
				account, pos.Yes, pos.No, amount)
		}
		pool, err := cur.pool.Merge(amount)
		if err != nil {
			return err
		}
		pos = pos.Debit(domain.SideYes, amount).Debit(domain.SideNo, amount)

		next := cur.clone()
		next.pool = pool
		next.positions[account] = pos
		return r.commit(ctx, e, next,
			[]domain.BalanceDelta{{Account: account, Amount: amount}},
			ports.Mutation{Positions: []domain.Position{pos}},
		)
	})
	if err != nil {
		return domain.Position{}, err
	}
	slog.Debug("engine: merged", "market", id, "account", account, "amount", amount.String())
	return pos, nil
}

// Redeem paga 1 por cada share ganadora de un mercado resuelto, incluidas
// las que corresponden a las shares LP de la cuenta. Las perdedoras se queman.
func (r *Registry) Redeem(ctx context.Context, id, account string) (decimal.Decimal, error) {
	e, err := r.lookup(id)
	if err != nil {
		return decimal.Zero, err
	}

	var payout decimal.Decimal
	err = e.write(func(cur *snapshot) error {
		if cur.market.Status != domain.StatusResolved {
			return fmt.Errorf("%w: market %s is %s", domain.ErrMarketNotResolvable, id, cur.market.Status)
		}
		outcome := cur.market.Outcome
		pos := cur.position(account)
		if pos.IsEmpty() {
			return fmt.Errorf("%w: %s has nothing to redeem in %s", domain.ErrNotEligible, account, id)
		}

		var err error
		pool := cur.pool
		payout = pos.Shares(outcome)
		if pos.LPShares.IsPositive() {
			var won decimal.Decimal
			pool, won, err = pool.WithdrawResolved(outcome, pos.LPShares)
			if err != nil {
				return err
			}
			payout = payout.Add(won)
		}
		if payout.IsPositive() {
			if pool, err = pool.Redeem(payout); err != nil {
				return err
			}
		}
		pos = pos.Clear()

		next := cur.clone()
		next.pool = pool
		delete(next.positions, account)
		return r.commit(ctx, e, next,
			[]domain.BalanceDelta{{Account: account, Amount: payout}},
			ports.Mutation{Positions: []domain.Position{pos}},
		)
	})
	if err != nil {
		return decimal.Zero, err
	}
	slog.Info("engine: redeemed", "market", id, "account", account, "payout", payout.String())
	return payout, nil
}
