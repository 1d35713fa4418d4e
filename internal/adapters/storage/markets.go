package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
)

func (s *SQLStore) upsertMarket(ctx context.Context, tx querier, m domain.Market) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO markets
			(id, seq, title, description, category, creator, resolver, settlement_asset,
			 end_time, min_deposit, status, graduated, graduated_at, outcome,
			 liquidity_threshold, volume_threshold, age_threshold_secs,
			 created_at, resolved_at, version)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM markets), ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status       = excluded.status,
			graduated    = excluded.graduated,
			graduated_at = excluded.graduated_at,
			outcome      = excluded.outcome,
			resolved_at  = excluded.resolved_at,
			version      = excluded.version
	`),
		m.ID,
		m.Title,
		m.Description,
		m.Category,
		m.Creator,
		m.Resolver,
		m.SettlementAsset,
		formatTime(m.EndTime),
		m.MinDeposit.String(),
		string(m.Status),
		boolToInt(m.Graduated),
		formatTimePtr(m.GraduatedAt),
		string(m.Outcome),
		m.Criteria.LiquidityThreshold.String(),
		m.Criteria.VolumeThreshold.String(),
		int64(m.Criteria.AgeThreshold/time.Second),
		formatTime(m.CreatedAt),
		formatTimePtr(m.ResolvedAt),
		int64(m.Version),
	)
	if err != nil {
		return fmt.Errorf("storage.Commit: upsert market %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLStore) upsertPool(ctx context.Context, tx querier, p domain.Pool) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO pools
			(market_id, yes_reserve, no_reserve, lp_shares, collateral, volume, fee_rate, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			yes_reserve = excluded.yes_reserve,
			no_reserve  = excluded.no_reserve,
			lp_shares   = excluded.lp_shares,
			collateral  = excluded.collateral,
			volume      = excluded.volume,
			trade_count = excluded.trade_count
	`),
		p.MarketID,
		p.YesReserve.String(),
		p.NoReserve.String(),
		p.LPShares.String(),
		p.Collateral.String(),
		p.Volume.String(),
		p.FeeRate.String(),
		p.TradeCount,
	)
	if err != nil {
		return fmt.Errorf("storage.Commit: upsert pool %s: %w", p.MarketID, err)
	}
	return nil
}

// upsertPosition borra la fila cuando la posición queda vacía.
func (s *SQLStore) upsertPosition(ctx context.Context, tx querier, p domain.Position) error {
	if p.IsEmpty() {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM positions WHERE market_id = ? AND account = ?`),
			p.MarketID, p.Account); err != nil {
			return fmt.Errorf("storage.Commit: delete position %s/%s: %w", p.MarketID, p.Account, err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO positions
			(market_id, account, yes_shares, no_shares, yes_cost, no_cost, lp_shares, lp_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, account) DO UPDATE SET
			yes_shares = excluded.yes_shares,
			no_shares  = excluded.no_shares,
			yes_cost   = excluded.yes_cost,
			no_cost    = excluded.no_cost,
			lp_shares  = excluded.lp_shares,
			lp_cost    = excluded.lp_cost
	`),
		p.MarketID,
		p.Account,
		p.Yes.String(),
		p.No.String(),
		p.YesCost.String(),
		p.NoCost.String(),
		p.LPShares.String(),
		p.LPCost.String(),
	)
	if err != nil {
		return fmt.Errorf("storage.Commit: upsert position %s/%s: %w", p.MarketID, p.Account, err)
	}
	return nil
}

func (s *SQLStore) upsertProposal(ctx context.Context, tx querier, p domain.Proposal) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO proposals
			(id, market_id, proposer, outcome, title, description, evidence, deposit,
			 submitted_at, dispute_deadline, status, challenger, counter_deposit,
			 disputed_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status          = excluded.status,
			challenger      = excluded.challenger,
			counter_deposit = excluded.counter_deposit,
			disputed_at     = excluded.disputed_at,
			resolved_at     = excluded.resolved_at
	`),
		p.ID,
		p.MarketID,
		p.Proposer,
		string(p.Outcome),
		p.Title,
		p.Description,
		p.Evidence,
		p.Deposit.String(),
		formatTime(p.SubmittedAt),
		formatTime(p.DisputeDeadline),
		string(p.Status),
		p.Challenger,
		p.CounterDeposit.String(),
		formatTimePtr(p.DisputedAt),
		formatTimePtr(p.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.Commit: upsert proposal %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLStore) loadMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, category, creator, resolver, settlement_asset,
		       end_time, min_deposit, status, graduated, graduated_at, outcome,
		       liquidity_threshold, volume_threshold, age_threshold_secs,
		       created_at, resolved_at, version
		FROM markets
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadState: query markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		var (
			m                          domain.Market
			endTime, createdAt         string
			minDeposit, liqThr, volThr string
			status, outcome            string
			graduated                  int
			ageSecs, version           int64
			graduatedAt, resolvedAt    sql.NullString
		)
		if err := rows.Scan(
			&m.ID, &m.Title, &m.Description, &m.Category, &m.Creator, &m.Resolver, &m.SettlementAsset,
			&endTime, &minDeposit, &status, &graduated, &graduatedAt, &outcome,
			&liqThr, &volThr, &ageSecs,
			&createdAt, &resolvedAt, &version,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadState: scan market: %w", err)
		}

		var d decs
		m.MinDeposit = d.parse("min_deposit", minDeposit)
		m.Criteria.LiquidityThreshold = d.parse("liquidity_threshold", liqThr)
		m.Criteria.VolumeThreshold = d.parse("volume_threshold", volThr)
		if d.err != nil {
			return nil, fmt.Errorf("storage.LoadState: market %s: %w", m.ID, d.err)
		}
		m.Criteria.AgeThreshold = time.Duration(ageSecs) * time.Second
		m.Status = domain.MarketStatus(status)
		m.Outcome = domain.Side(outcome)
		m.Graduated = graduated == 1
		m.Version = uint64(version)

		if m.EndTime, err = parseTime(endTime); err != nil {
			return nil, fmt.Errorf("storage.LoadState: market %s end_time: %w", m.ID, err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("storage.LoadState: market %s created_at: %w", m.ID, err)
		}
		if m.GraduatedAt, err = parseTimePtr(graduatedAt); err != nil {
			return nil, fmt.Errorf("storage.LoadState: market %s graduated_at: %w", m.ID, err)
		}
		if m.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
			return nil, fmt.Errorf("storage.LoadState: market %s resolved_at: %w", m.ID, err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *SQLStore) loadPools(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, yes_reserve, no_reserve, lp_shares, collateral, volume, fee_rate, trade_count
		FROM pools
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadState: query pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		var p domain.Pool
		var yes, no, lp, coll, vol, fee string
		if err := rows.Scan(&p.MarketID, &yes, &no, &lp, &coll, &vol, &fee, &p.TradeCount); err != nil {
			return nil, fmt.Errorf("storage.LoadState: scan pool: %w", err)
		}
		var d decs
		p.YesReserve = d.parse("yes_reserve", yes)
		p.NoReserve = d.parse("no_reserve", no)
		p.LPShares = d.parse("lp_shares", lp)
		p.Collateral = d.parse("collateral", coll)
		p.Volume = d.parse("volume", vol)
		p.FeeRate = d.parse("fee_rate", fee)
		if d.err != nil {
			return nil, fmt.Errorf("storage.LoadState: pool %s: %w", p.MarketID, d.err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *SQLStore) loadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, account, yes_shares, no_shares, yes_cost, no_cost, lp_shares, lp_cost
		FROM positions
		ORDER BY market_id, account
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadState: query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var yes, no, yesCost, noCost, lp, lpCost string
		if err := rows.Scan(&p.MarketID, &p.Account, &yes, &no, &yesCost, &noCost, &lp, &lpCost); err != nil {
			return nil, fmt.Errorf("storage.LoadState: scan position: %w", err)
		}
		var d decs
		p.Yes = d.parse("yes_shares", yes)
		p.No = d.parse("no_shares", no)
		p.YesCost = d.parse("yes_cost", yesCost)
		p.NoCost = d.parse("no_cost", noCost)
		p.LPShares = d.parse("lp_shares", lp)
		p.LPCost = d.parse("lp_cost", lpCost)
		if d.err != nil {
			return nil, fmt.Errorf("storage.LoadState: position %s/%s: %w", p.MarketID, p.Account, d.err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLStore) loadProposals(ctx context.Context) ([]domain.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, proposer, outcome, title, description, evidence, deposit,
		       submitted_at, dispute_deadline, status, challenger, counter_deposit,
		       disputed_at, resolved_at
		FROM proposals
		ORDER BY market_id, submitted_at
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadState: query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []domain.Proposal
	for rows.Next() {
		var (
			p                      domain.Proposal
			outcome, status        string
			deposit, counter       string
			submittedAt, deadline  string
			disputedAt, resolvedAt sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Proposer, &outcome, &p.Title, &p.Description, &p.Evidence, &deposit,
			&submittedAt, &deadline, &status, &p.Challenger, &counter,
			&disputedAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadState: scan proposal: %w", err)
		}
		var d decs
		p.Deposit = d.parse("deposit", deposit)
		p.CounterDeposit = d.parse("counter_deposit", counter)
		if d.err != nil {
			return nil, fmt.Errorf("storage.LoadState: proposal %s: %w", p.ID, d.err)
		}
		p.Outcome = domain.Side(outcome)
		p.Status = domain.ProposalStatus(status)
		if p.SubmittedAt, err = parseTime(submittedAt); err != nil {
			return nil, fmt.Errorf("storage.LoadState: proposal %s submitted_at: %w", p.ID, err)
		}
		if p.DisputeDeadline, err = parseTime(deadline); err != nil {
			return nil, fmt.Errorf("storage.LoadState: proposal %s dispute_deadline: %w", p.ID, err)
		}
		if p.DisputedAt, err = parseTimePtr(disputedAt); err != nil {
			return nil, fmt.Errorf("storage.LoadState: proposal %s disputed_at: %w", p.ID, err)
		}
		if p.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
			return nil, fmt.Errorf("storage.LoadState: proposal %s resolved_at: %w", p.ID, err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}
