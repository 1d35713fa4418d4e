package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
)

const defaultTradeLimit = 100

func (s *SQLStore) insertTrade(ctx context.Context, tx querier, t domain.Trade) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO trades (id, market_id, account, side, action, shares, amount, price, fee, traded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		t.ID,
		t.MarketID,
		t.Account,
		string(t.Side),
		string(t.Action),
		t.Shares.String(),
		t.Amount.String(),
		t.Price.String(),
		t.Fee.String(),
		formatTime(t.At),
	)
	if err != nil {
		return fmt.Errorf("storage.Commit: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// Trades devuelve los trades más recientes primero.
func (s *SQLStore) Trades(ctx context.Context, f ports.TradeFilter) ([]domain.Trade, error) {
	var (
		where []string
		args  []any
	)
	if f.MarketID != "" {
		where = append(where, "market_id = ?")
		args = append(args, f.MarketID)
	}
	if f.Account != "" {
		where = append(where, "account = ?")
		args = append(args, f.Account)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultTradeLimit
	}

	query := `SELECT id, market_id, account, side, action, shares, amount, price, fee, traded_at FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY traded_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage.Trades: query: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t                          domain.Trade
			side, action               string
			shares, amount, price, fee string
			at                         string
		)
		if err := rows.Scan(&t.ID, &t.MarketID, &t.Account, &side, &action,
			&shares, &amount, &price, &fee, &at); err != nil {
			return nil, fmt.Errorf("storage.Trades: scan row: %w", err)
		}
		var d decs
		t.Shares = d.parse("shares", shares)
		t.Amount = d.parse("amount", amount)
		t.Price = d.parse("price", price)
		t.Fee = d.parse("fee", fee)
		if d.err != nil {
			return nil, fmt.Errorf("storage.Trades: trade %s: %w", t.ID, d.err)
		}
		t.Side = domain.Side(side)
		t.Action = domain.TradeAction(action)
		if t.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("storage.Trades: trade %s traded_at: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
