package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alejandrodnm/quantmarket/internal/domain"
)

// SaveIntent persiste la intención. Repetirla con el mismo id no la duplica.
func (s *SQLStore) SaveIntent(ctx context.Context, in domain.SettlementIntent) error {
	deltas, err := json.Marshal(in.Deltas)
	if err != nil {
		return fmt.Errorf("storage.SaveIntent: encode deltas: %w", err)
	}
	status := in.Status
	if status == "" {
		status = domain.IntentPending
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO settlement_intents
			(id, market_id, kind, outcome, proposal_id, proposal_status, deltas, status, created_at, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`),
		in.ID,
		in.MarketID,
		string(in.Kind),
		string(in.Outcome),
		in.ProposalID,
		string(in.ProposalStatus),
		string(deltas),
		string(status),
		formatTime(in.CreatedAt),
		formatTimePtr(in.AppliedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveIntent: insert %s: %w", in.ID, err)
	}
	return nil
}

// PendingIntents devuelve las intenciones PENDING por orden de creación.
func (s *SQLStore) PendingIntents(ctx context.Context) ([]domain.SettlementIntent, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, market_id, kind, outcome, proposal_id, proposal_status, deltas, status, created_at, applied_at
		FROM settlement_intents
		WHERE status = ?
		ORDER BY created_at
	`), string(domain.IntentPending))
	if err != nil {
		return nil, fmt.Errorf("storage.PendingIntents: query: %w", err)
	}
	defer rows.Close()

	var intents []domain.SettlementIntent
	for rows.Next() {
		var (
			in                        domain.SettlementIntent
			kind, outcome, propStatus string
			deltas, status, createdAt string
			appliedAt                 sql.NullString
		)
		if err := rows.Scan(&in.ID, &in.MarketID, &kind, &outcome, &in.ProposalID, &propStatus,
			&deltas, &status, &createdAt, &appliedAt); err != nil {
			return nil, fmt.Errorf("storage.PendingIntents: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(deltas), &in.Deltas); err != nil {
			return nil, fmt.Errorf("storage.PendingIntents: decode deltas of %s: %w", in.ID, err)
		}
		in.Kind = domain.IntentKind(kind)
		in.Outcome = domain.Side(outcome)
		in.ProposalStatus = domain.ProposalStatus(propStatus)
		in.Status = domain.IntentStatus(status)
		if in.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("storage.PendingIntents: %s created_at: %w", in.ID, err)
		}
		if in.AppliedAt, err = parseTimePtr(appliedAt); err != nil {
			return nil, fmt.Errorf("storage.PendingIntents: %s applied_at: %w", in.ID, err)
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}
