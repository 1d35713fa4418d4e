package engine

// settlement.go — cierre de mercados.
//
// Finalize, ResolveDispute y Cancel siguen el mismo camino:
//   1. se calcula una SettlementIntent (resultado + deltas de saldo),
//   2. se persiste como PENDING,
//   3. se aplica: estado del mercado, saldos y marca APPLIED en una transacción.
// Si el proceso cae entre 2 y 3, Recover reaplica la intención tal cual. Si
// falla 3 sin caer, la intención queda en entry.pending y el siguiente
// intento la reanuda en vez de recalcular nada.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// errSettled indica que no hay nada que liquidar (Finalize repetido).
var errSettled = errors.New("already settled")

type intentBuilder func(cur *snapshot) (domain.SettlementIntent, error)

// Finalize acepta la propuesta pendiente cuando la ventana de disputa ha
// pasado sin impugnación: devuelve el depósito y resuelve el mercado.
// Sobre un mercado ya resuelto no hace nada.
func (r *Registry) Finalize(ctx context.Context, id string) (domain.MarketView, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.MarketView{}, err
	}
	return r.settle(ctx, e, func(cur *snapshot) (domain.SettlementIntent, error) {
		m := cur.market
		switch m.Status {
		case domain.StatusResolved:
			return domain.SettlementIntent{}, errSettled
		case domain.StatusCancelled:
			return domain.SettlementIntent{}, fmt.Errorf("%w: market %s is cancelled", domain.ErrMarketClosed, id)
		case domain.StatusDisputed:
			return domain.SettlementIntent{}, fmt.Errorf("%w: market %s awaits dispute resolution", domain.ErrMarketNotResolvable, id)
		case domain.StatusActive:
			return domain.SettlementIntent{}, fmt.Errorf("%w: market %s has no proposal", domain.ErrMarketNotResolvable, id)
		}
		idx := cur.openProposal()
		if idx < 0 {
			return domain.SettlementIntent{}, fmt.Errorf("%w: market %s has no proposal", domain.ErrMarketNotResolvable, id)
		}
		prop := cur.proposals[idx]
		if !r.now().After(prop.DisputeDeadline) {
			return domain.SettlementIntent{}, fmt.Errorf("%w: dispute window open until %s", domain.ErrMarketNotResolvable,
				prop.DisputeDeadline.Format("2006-01-02 15:04"))
		}
		return r.newIntent(cur, domain.IntentFinalize, prop.Outcome, prop.ID, domain.ProposalAccepted,
			[]domain.BalanceDelta{{Account: prop.Proposer, Amount: prop.Deposit}}), nil
	})
}

// ResolveDispute aplica la decisión del resolver sobre una propuesta
// disputada. El perdedor pierde su depósito, repartido según ForfeitPolicy.
func (r *Registry) ResolveDispute(ctx context.Context, id, caller string, outcome domain.Side) (domain.MarketView, error) {
	if !outcome.Valid() {
		return domain.MarketView{}, fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidAmount, outcome)
	}
	e, err := r.lookup(id)
	if err != nil {
		return domain.MarketView{}, err
	}
	return r.settle(ctx, e, func(cur *snapshot) (domain.SettlementIntent, error) {
		m := cur.market
		if caller != m.Resolver {
			return domain.SettlementIntent{}, fmt.Errorf("%w: %s is not the resolver of %s", domain.ErrUnauthorized, caller, id)
		}
		if m.Status.Final() {
			return domain.SettlementIntent{}, fmt.Errorf("%w: market %s is %s", domain.ErrMarketClosed, id, m.Status)
		}
		idx := cur.openProposal()
		if m.Status != domain.StatusDisputed || idx < 0 {
			return domain.SettlementIntent{}, fmt.Errorf("%w: market %s is not disputed", domain.ErrMarketNotResolvable, id)
		}
		prop := cur.proposals[idx]

		winner, loser := prop.Proposer, prop.Challenger
		kept, forfeited := prop.Deposit, prop.CounterDeposit
		status := domain.ProposalAccepted
		if outcome != prop.Outcome {
			winner, loser = prop.Challenger, prop.Proposer
			kept, forfeited = prop.CounterDeposit, prop.Deposit
			status = domain.ProposalRejected
		}
		toWinner, toSink := r.cfg.Forfeit.Split(forfeited)
		deltas := []domain.BalanceDelta{{Account: winner, Amount: kept.Add(toWinner)}}
		if r.cfg.Forfeit.Sink != "" && toSink.IsPositive() {
			deltas = append(deltas, domain.BalanceDelta{Account: r.cfg.Forfeit.Sink, Amount: toSink})
		}
		slog.Debug("engine: dispute resolved", "market", id, "winner", winner, "loser", loser,
			"forfeited", forfeited.String(), "to_sink", toSink.String())
		return r.newIntent(cur, domain.IntentDisputeResolution, outcome, prop.ID, status, deltas), nil
	})
}

func (r *Registry) newIntent(cur *snapshot, kind domain.IntentKind, outcome domain.Side, proposalID string, status domain.ProposalStatus, deltas []domain.BalanceDelta) domain.SettlementIntent {
	return domain.SettlementIntent{
		ID:             uuid.New().String(),
		MarketID:       cur.market.ID,
		Kind:           kind,
		Outcome:        outcome,
		ProposalID:     proposalID,
		ProposalStatus: status,
		Deltas:         deltas,
		Status:         domain.IntentPending,
		CreatedAt:      r.now(),
	}
}

// cancelIntent devuelve el coste base de cada posición (pro rata si el
// colateral no alcanza), los depósitos en escrow, y reparte el resto del
// colateral entre los LPs.
func (r *Registry) cancelIntent(cur *snapshot) domain.SettlementIntent {
	accounts := make([]string, 0, len(cur.positions))
	for acct := range cur.positions {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)

	collateral := cur.pool.Collateral
	total := decimal.Zero
	for _, acct := range accounts {
		total = total.Add(cur.positions[acct].TradeCost())
	}

	var deltas []domain.BalanceDelta
	paid := decimal.Zero
	for _, acct := range accounts {
		refund := cur.positions[acct].TradeCost()
		if total.GreaterThan(collateral) {
			refund = domain.ProRata(refund, collateral, total)
		}
		if refund.IsPositive() {
			deltas = append(deltas, domain.BalanceDelta{Account: acct, Amount: refund})
			paid = paid.Add(refund)
		}
	}

	remaining := collateral.Sub(paid)
	if remaining.IsPositive() && cur.pool.LPShares.IsPositive() {
		for _, acct := range accounts {
			lp := cur.positions[acct].LPShares
			if !lp.IsPositive() {
				continue
			}
			share := domain.ProRata(remaining, lp, cur.pool.LPShares)
			if share.IsPositive() {
				deltas = append(deltas, domain.BalanceDelta{Account: acct, Amount: share})
			}
		}
	}

	var proposalID string
	if idx := cur.openProposal(); idx >= 0 {
		prop := cur.proposals[idx]
		proposalID = prop.ID
		deltas = append(deltas, domain.BalanceDelta{Account: prop.Proposer, Amount: prop.Deposit})
		if prop.Challenger != "" && prop.CounterDeposit.IsPositive() {
			deltas = append(deltas, domain.BalanceDelta{Account: prop.Challenger, Amount: prop.CounterDeposit})
		}
	}
	return r.newIntent(cur, domain.IntentCancel, "", proposalID, domain.ProposalRejected, deltas)
}

// settle persiste y aplica la intención que devuelve build, o reanuda la
// pendiente si la hay.
func (r *Registry) settle(ctx context.Context, e *entry, build intentBuilder) (domain.MarketView, error) {
	var (
		next   *snapshot
		intent domain.SettlementIntent
	)
	err := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		cur := e.current.Load()
		if e.pending != nil {
			intent = *e.pending
		} else {
			in, err := build(cur)
			if err != nil {
				return err
			}
			intent = in
			if err := r.store.SaveIntent(ctx, intent); err != nil {
				return fmt.Errorf("engine: save intent for %s: %w", intent.MarketID, err)
			}
			e.pending = &intent
		}

		n, err := r.applyIntent(ctx, e, cur, intent)
		if err != nil {
			return err
		}
		e.pending = nil
		next = n
		return nil
	}()
	if errors.Is(err, errSettled) {
		return e.current.Load().view(), nil
	}
	if err != nil {
		return domain.MarketView{}, err
	}

	typ := domain.EventMarketResolved
	if intent.Kind == domain.IntentCancel {
		typ = domain.EventMarketCancelled
	}
	slog.Info("engine: market settled", "market", next.market.ID, "kind", intent.Kind,
		"status", next.market.Status, "outcome", next.market.Outcome, "deltas", len(intent.Deltas))
	r.emit(ctx, typ, next, nil)
	applied := intent
	applied.Status = domain.IntentApplied
	r.archive(ctx, next, &applied)
	return next.view(), nil
}

// applyIntent deriva el nuevo estado solo a partir de la intención, para
// que reaplicarla tras un crash dé exactamente el mismo resultado.
func (r *Registry) applyIntent(ctx context.Context, e *entry, cur *snapshot, intent domain.SettlementIntent) (*snapshot, error) {
	at := intent.CreatedAt
	next := cur.clone()
	var cleared []domain.Position

	switch intent.Kind {
	case domain.IntentFinalize, domain.IntentDisputeResolution:
		if err := next.market.Transition(domain.StatusResolved); err != nil {
			return nil, err
		}
		next.market.Outcome = intent.Outcome
	case domain.IntentCancel:
		if err := next.market.Transition(domain.StatusCancelled); err != nil {
			return nil, err
		}
		for _, pos := range next.positions {
			cleared = append(cleared, pos.Clear())
		}
		next.positions = make(map[string]domain.Position)
		next.pool.YesReserve = decimal.Zero
		next.pool.NoReserve = decimal.Zero
		next.pool.LPShares = decimal.Zero
		next.pool.Collateral = decimal.Zero
	default:
		return nil, fmt.Errorf("engine: unknown intent kind %q", intent.Kind)
	}
	next.market.ResolvedAt = &at

	var props []domain.Proposal
	for i, p := range next.proposals {
		if !p.Status.Open() {
			continue
		}
		p.Status = domain.ProposalRejected
		if p.ID == intent.ProposalID {
			p.Status = intent.ProposalStatus
		}
		p.ResolvedAt = &at
		next.proposals[i] = p
		props = append(props, p)
	}

	err := r.commit(ctx, e, next, intent.Deltas, ports.Mutation{
		Positions: cleared,
		Proposals: props,
		IntentID:  intent.ID,
		AppliedAt: r.now(),
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Recover reaplica las intenciones que quedaron PENDING. Las que vuelvan a
// fallar siguen pendientes y bloquean su mercado hasta el siguiente intento.
func (r *Registry) Recover(ctx context.Context) error {
	intents, err := r.store.PendingIntents(ctx)
	if err != nil {
		return fmt.Errorf("engine.Recover: list intents: %w", err)
	}
	failed := 0
	for _, in := range intents {
		e, err := r.lookup(in.MarketID)
		if err != nil {
			slog.Error("engine: intent for unknown market", "intent", in.ID, "market", in.MarketID)
			failed++
			continue
		}
		intent := in
		e.mu.Lock()
		e.pending = &intent
		e.mu.Unlock()

		if _, err := r.settle(ctx, e, nil); err != nil {
			slog.Error("engine: recover failed", "intent", in.ID, "market", in.MarketID, "err", err)
			failed++
			continue
		}
		slog.Info("engine: intent recovered", "intent", in.ID, "market", in.MarketID, "kind", in.Kind)
	}
	if failed > 0 {
		return fmt.Errorf("engine.Recover: %d of %d intents still pending", failed, len(intents))
	}
	return nil
}

func (e *entry) hasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}
