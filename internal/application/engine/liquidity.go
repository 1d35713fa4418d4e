package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
)

// AddLiquidity cobra amount, mintea amount sets y los deposita en el pool.
// Los tokens que no entran en la proporción actual quedan en la posición.
func (r *Registry) AddLiquidity(ctx context.Context, id, account string, amount decimal.Decimal) (domain.LiquidityChange, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.LiquidityChange{}, err
	}

	var (
		next   *snapshot
		change domain.LiquidityChange
	)
	err = e.write(func(cur *snapshot) error {
		if !cur.market.Status.Tradable() {
			return fmt.Errorf("%w: market %s is %s", domain.ErrMarketClosed, id, cur.market.Status)
		}
		pool, ch, err := cur.pool.AddLiquidity(amount)
		if err != nil {
			return err
		}
		change = ch

		pos := cur.position(account).AddLP(ch.Shares, amount)
		if ch.Yes.IsPositive() {
			pos = pos.Credit(domain.SideYes, ch.Yes, decimal.Zero)
		}
		if ch.No.IsPositive() {
			pos = pos.Credit(domain.SideNo, ch.No, decimal.Zero)
		}

		next = cur.clone()
		next.pool = pool
		next.positions[account] = pos
		return r.commit(ctx, e, next,
			[]domain.BalanceDelta{{Account: account, Amount: amount.Neg()}},
			ports.Mutation{Positions: []domain.Position{pos}},
		)
	})
	if err != nil {
		return domain.LiquidityChange{}, err
	}

	slog.Info("engine: liquidity added", "market", id, "account", account,
		"amount", amount.String(), "lp_shares", change.Shares.String())
	r.emit(ctx, domain.EventLiquidity, next, nil)
	return change, nil
}

// RemoveLiquidity quema shares LP. Los pares devueltos se cobran como
// colateral; el exceso de un lado queda en la posición.
func (r *Registry) RemoveLiquidity(ctx context.Context, id, account string, shares decimal.Decimal) (domain.LiquidityChange, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.LiquidityChange{}, err
	}

	var (
		next   *snapshot
		change domain.LiquidityChange
	)
	err = e.write(func(cur *snapshot) error {
		if !cur.market.Status.Tradable() {
			return fmt.Errorf("%w: market %s is %s", domain.ErrMarketClosed, id, cur.market.Status)
		}
		pos := cur.position(account)
		if pos.LPShares.LessThan(shares) {
			return fmt.Errorf("%w: %s holds %s LP shares, removing %s", domain.ErrInsufficientBalance,
				account, pos.LPShares, shares)
		}
		pool, ch, err := cur.pool.RemoveLiquidity(shares)
		if err != nil {
			return err
		}
		change = ch

		pos = pos.RemoveLP(shares)
		if ch.Yes.IsPositive() {
			pos = pos.Credit(domain.SideYes, ch.Yes, decimal.Zero)
		}
		if ch.No.IsPositive() {
			pos = pos.Credit(domain.SideNo, ch.No, decimal.Zero)
		}

		next = cur.clone()
		next.pool = pool
		next.positions[account] = pos
		return r.commit(ctx, e, next,
			[]domain.BalanceDelta{{Account: account, Amount: ch.Merged}},
			ports.Mutation{Positions: []domain.Position{pos}},
		)
	})
	if err != nil {
		return domain.LiquidityChange{}, err
	}

	slog.Info("engine: liquidity removed", "market", id, "account", account,
		"lp_shares", shares.String(), "merged", change.Merged.String())
	r.emit(ctx, domain.EventLiquidity, next, nil)
	return change, nil
}

// Deposit acredita fondos externos a la cuenta.
func (r *Registry) Deposit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return decimal.Zero, err
	}
	return r.fund(ctx, "deposit", account, amount)
}

// Withdraw retira fondos de la cuenta.
func (r *Registry) Withdraw(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return decimal.Zero, err
	}
	return r.fund(ctx, "withdraw", account, amount.Neg())
}

func (r *Registry) fund(ctx context.Context, op, account string, delta decimal.Decimal) (decimal.Decimal, error) {
	if account == "" {
		return decimal.Zero, fmt.Errorf("%w: empty account", domain.ErrInvalidAccount)
	}
	err := r.accounts.Commit([]domain.BalanceDelta{{Account: account, Amount: delta}},
		func(next map[string]decimal.Decimal) error {
			if err := r.store.Commit(ctx, ports.Mutation{Balances: next}); err != nil {
				return fmt.Errorf("engine: persist %s for %s: %w", op, account, err)
			}
			return nil
		})
	if err != nil {
		return decimal.Zero, err
	}
	balance := r.accounts.Balance(account)
	slog.Info("engine: "+op, "account", account, "amount", delta.Abs().String(), "balance", balance.String())
	return balance, nil
}
