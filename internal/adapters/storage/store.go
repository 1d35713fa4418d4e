package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
)

// Commit escribe la mutación completa en una transacción.
func (s *SQLStore) Commit(ctx context.Context, m ports.Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Commit: begin tx: %w", err)
	}
	defer tx.Rollback()

	if m.Market != nil {
		if err := s.upsertMarket(ctx, tx, *m.Market); err != nil {
			return err
		}
	}
	if m.Pool != nil {
		if err := s.upsertPool(ctx, tx, *m.Pool); err != nil {
			return err
		}
	}
	for _, p := range m.Positions {
		if err := s.upsertPosition(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, p := range m.Proposals {
		if err := s.upsertProposal(ctx, tx, p); err != nil {
			return err
		}
	}

	// Orden estable de escritura de saldos.
	accounts := make([]string, 0, len(m.Balances))
	for acct := range m.Balances {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)
	for _, acct := range accounts {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO balances (account, amount) VALUES (?, ?)
			ON CONFLICT(account) DO UPDATE SET amount = excluded.amount
		`), acct, m.Balances[acct].String()); err != nil {
			return fmt.Errorf("storage.Commit: upsert balance %s: %w", acct, err)
		}
	}

	if m.Trade != nil {
		if err := s.insertTrade(ctx, tx, *m.Trade); err != nil {
			return err
		}
	}
	if m.IntentID != "" {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE settlement_intents SET status = ?, applied_at = ? WHERE id = ?
		`), string(domain.IntentApplied), formatTime(m.AppliedAt), m.IntentID)
		if err != nil {
			return fmt.Errorf("storage.Commit: mark intent %s: %w", m.IntentID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("storage.Commit: intent %s not found", m.IntentID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Commit: commit: %w", err)
	}
	return nil
}

// LoadState lee todo el estado. Los mercados vuelven en orden de creación.
func (s *SQLStore) LoadState(ctx context.Context) (ports.State, error) {
	var st ports.State
	var err error
	if st.Markets, err = s.loadMarkets(ctx); err != nil {
		return st, err
	}
	if st.Pools, err = s.loadPools(ctx); err != nil {
		return st, err
	}
	if st.Positions, err = s.loadPositions(ctx); err != nil {
		return st, err
	}
	if st.Proposals, err = s.loadProposals(ctx); err != nil {
		return st, err
	}
	if st.Balances, err = s.loadBalances(ctx); err != nil {
		return st, err
	}
	return st, nil
}

func (s *SQLStore) loadBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account, amount FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadState: query balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var acct, amount string
		if err := rows.Scan(&acct, &amount); err != nil {
			return nil, fmt.Errorf("storage.LoadState: scan balance: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadState: balance %s: %w", acct, err)
		}
		out[acct] = d
	}
	return out, rows.Err()
}

// decs parsea una lista de columnas decimales en orden.
type decs struct {
	err error
}

func (d *decs) parse(field string, raw string) decimal.Decimal {
	if d.err != nil {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		d.err = fmt.Errorf("parse %s %q: %w", field, raw, err)
		return decimal.Zero
	}
	return v
}

// querier es lo común a *sql.DB y *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
