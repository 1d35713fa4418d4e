package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// SubmitProposal registra una propuesta de resultado una vez pasado el fin
// del mercado. El depósito sale del saldo del proponente y queda en escrow.
func (r *Registry) SubmitProposal(ctx context.Context, id string, in domain.ProposalInput) (domain.Proposal, error) {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.Proposal{}, fmt.Errorf("%w: %s failed %q", domain.ErrInvalidAmount, verrs[0].Field(), verrs[0].Tag())
		}
		return domain.Proposal{}, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	if err := domain.ValidateAmount("deposit", in.Deposit); err != nil {
		return domain.Proposal{}, err
	}
	e, err := r.lookup(id)
	if err != nil {
		return domain.Proposal{}, err
	}

	var (
		next *snapshot
		prop domain.Proposal
	)
	err = e.write(func(cur *snapshot) error {
		m := cur.market
		now := r.now()
		switch {
		case m.Status.Final():
			return fmt.Errorf("%w: market %s is %s", domain.ErrMarketClosed, id, m.Status)
		case m.Status != domain.StatusActive:
			return fmt.Errorf("%w: market %s already has an open proposal", domain.ErrMarketNotResolvable, id)
		case !m.Ended(now):
			return fmt.Errorf("%w: market %s ends at %s", domain.ErrMarketNotResolvable, id, m.EndTime.Format("2006-01-02 15:04"))
		case in.Deposit.LessThan(m.MinDeposit):
			return fmt.Errorf("%w: deposit %s < minimum %s", domain.ErrDepositTooLow, in.Deposit, m.MinDeposit)
		}

		prop = domain.Proposal{
			ID:              uuid.New().String(),
			MarketID:        id,
			Proposer:        in.Proposer,
			Outcome:         in.Outcome,
			Title:           in.Title,
			Description:     in.Description,
			Evidence:        in.Evidence,
			Deposit:         in.Deposit,
			SubmittedAt:     now,
			DisputeDeadline: now.Add(r.cfg.DisputeWindow),
			Status:          domain.ProposalPending,
			CounterDeposit:  decimal.Zero,
		}
		next = cur.clone()
		if err := next.market.Transition(domain.StatusProposalPending); err != nil {
			return err
		}
		next.proposals = append(next.proposals, prop)
		return r.commit(ctx, e, next,
			[]domain.BalanceDelta{{Account: in.Proposer, Amount: in.Deposit.Neg()}},
			ports.Mutation{Proposals: []domain.Proposal{prop}},
		)
	})
	if err != nil {
		return domain.Proposal{}, err
	}

	slog.Info("engine: proposal submitted", "market", id, "proposal", prop.ID,
		"outcome", prop.Outcome, "deposit", prop.Deposit.String(),
		"deadline", prop.DisputeDeadline.Format("2006-01-02 15:04"))
	r.emit(ctx, domain.EventProposalSubmitted, next, nil)
	return prop, nil
}

// DisputeProposal impugna la propuesta pendiente dentro de la ventana. El
// contradepósito debe igualar al menos el depósito de la propuesta.
func (r *Registry) DisputeProposal(ctx context.Context, id, challenger string, counterDeposit decimal.Decimal) (domain.Proposal, error) {
	if challenger == "" {
		return domain.Proposal{}, fmt.Errorf("%w: empty challenger", domain.ErrInvalidAmount)
	}
	if err := domain.ValidateAmount("counter_deposit", counterDeposit); err != nil {
		return domain.Proposal{}, err
	}
	e, err := r.lookup(id)
	if err != nil {
		return domain.Proposal{}, err
	}

	var (
		next *snapshot
		prop domain.Proposal
	)
	err = e.write(func(cur *snapshot) error {
		m := cur.market
		now := r.now()
		if m.Status.Final() {
			return fmt.Errorf("%w: market %s is %s", domain.ErrMarketClosed, id, m.Status)
		}
		if m.Status != domain.StatusProposalPending {
			return fmt.Errorf("%w: market %s has no pending proposal", domain.ErrMarketNotResolvable, id)
		}
		idx := cur.openProposal()
		if idx < 0 {
			return fmt.Errorf("%w: market %s has no pending proposal", domain.ErrMarketNotResolvable, id)
		}
		prop = cur.proposals[idx]
		switch {
		case now.After(prop.DisputeDeadline):
			return fmt.Errorf("%w: dispute window closed at %s", domain.ErrWindowExpired, prop.DisputeDeadline.Format("2006-01-02 15:04"))
		case challenger == prop.Proposer:
			return fmt.Errorf("%w: proposer cannot dispute own proposal", domain.ErrUnauthorized)
		case counterDeposit.LessThan(prop.Deposit):
			return fmt.Errorf("%w: counter deposit %s < proposal deposit %s", domain.ErrDepositTooLow, counterDeposit, prop.Deposit)
		}

		prop.Status = domain.ProposalDisputed
		prop.Challenger = challenger
		prop.CounterDeposit = counterDeposit
		prop.DisputedAt = &now

		next = cur.clone()
		if err := next.market.Transition(domain.StatusDisputed); err != nil {
			return err
		}
		next.proposals[idx] = prop
		return r.commit(ctx, e, next,
			[]domain.BalanceDelta{{Account: challenger, Amount: counterDeposit.Neg()}},
			ports.Mutation{Proposals: []domain.Proposal{prop}},
		)
	})
	if err != nil {
		return domain.Proposal{}, err
	}

	slog.Info("engine: proposal disputed", "market", id, "proposal", prop.ID,
		"challenger", challenger, "counter_deposit", counterDeposit.String())
	r.emit(ctx, domain.EventProposalDisputed, next, nil)
	return prop, nil
}
