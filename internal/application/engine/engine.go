package engine

// engine.go — registro de mercados.
//
// Cada mercado tiene un único escritor (entry.mu). Las lecturas no toman el
// mutex: leen el último snapshot publicado con atomic.Pointer, que nunca se
// modifica una vez publicado. Una operación construye el snapshot siguiente,
// lo persiste y solo entonces lo publica, así que un lector nunca ve un swap
// a medias.
//
// Orden de locks: entry.mu → ledger.Accounts. Nunca al revés.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/application/ledger"
	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
)

const DefaultDisputeWindow = 24 * time.Hour

var (
	DefaultFeeRate    = decimal.NewFromFloat(0.02)
	DefaultGraduation = domain.GraduationCriteria{
		LiquidityThreshold: decimal.NewFromInt(1_000_000),
		VolumeThreshold:    decimal.NewFromInt(500_000),
		AgeThreshold:       168 * time.Hour,
	}
)

// Config holds the engine-wide settings applied to new markets.
type Config struct {
	FeeRate       decimal.Decimal
	DisputeWindow time.Duration
	Forfeit       domain.ForfeitPolicy
	Graduation    domain.GraduationCriteria
	Clock         func() time.Time
}

// snapshot es el estado inmutable de un mercado en una versión.
type snapshot struct {
	market    domain.Market
	pool      domain.Pool
	positions map[string]domain.Position
	proposals []domain.Proposal
}

func (s *snapshot) clone() *snapshot {
	positions := make(map[string]domain.Position, len(s.positions))
	for acct, p := range s.positions {
		positions[acct] = p
	}
	proposals := make([]domain.Proposal, len(s.proposals))
	copy(proposals, s.proposals)
	return &snapshot{
		market:    s.market,
		pool:      s.pool,
		positions: positions,
		proposals: proposals,
	}
}

func (s *snapshot) position(account string) domain.Position {
	if p, ok := s.positions[account]; ok {
		return p
	}
	return domain.NewPosition(account, s.market.ID)
}

// openProposal devuelve el índice de la propuesta PENDING o DISPUTED, o -1.
func (s *snapshot) openProposal() int {
	for i := len(s.proposals) - 1; i >= 0; i-- {
		if s.proposals[i].Status.Open() {
			return i
		}
	}
	return -1
}

func (s *snapshot) view() domain.MarketView {
	proposals := make([]domain.Proposal, len(s.proposals))
	copy(proposals, s.proposals)
	return domain.MarketView{
		Market:    s.market,
		Pool:      s.pool,
		Prices:    s.pool.Prices(),
		Proposals: proposals,
	}
}

type entry struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	// pending es una liquidación persistida que aún no se aplicó. Mientras
	// exista, el mercado solo acepta reanudarla.
	pending *domain.SettlementIntent
}

// Registry orquesta mercados, pools, ledger y propuestas.
type Registry struct {
	cfg        Config
	store      ports.Store
	accounts   *ledger.Accounts
	publishers []ports.EventPublisher
	archiver   ports.Archiver

	mu         sync.RWMutex
	markets    map[string]*entry
	order      []string
	categories map[string][]string
}

// New crea un registro vacío. Llamar a Load para reconstruir el estado guardado.
func New(store ports.Store, cfg Config) *Registry {
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(domain.MaxFeeRate) {
		cfg.FeeRate = DefaultFeeRate
	}
	if cfg.DisputeWindow <= 0 {
		cfg.DisputeWindow = DefaultDisputeWindow
	}
	if cfg.Graduation == (domain.GraduationCriteria{}) {
		cfg.Graduation = DefaultGraduation
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Registry{
		cfg:        cfg,
		store:      store,
		accounts:   ledger.NewAccounts(nil),
		markets:    make(map[string]*entry),
		categories: make(map[string][]string),
	}
}

// AddPublisher registra un destino para los eventos de mercado.
func (r *Registry) AddPublisher(p ports.EventPublisher) {
	r.publishers = append(r.publishers, p)
}

// SetArchiver registra dónde se archivan los mercados cerrados.
func (r *Registry) SetArchiver(a ports.Archiver) {
	r.archiver = a
}

func (r *Registry) now() time.Time {
	return r.cfg.Clock().UTC()
}

// Load reconstruye el registro desde el store y reanuda las liquidaciones
// que quedaron pendientes.
func (r *Registry) Load(ctx context.Context) error {
	st, err := r.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("engine.Load: load state: %w", err)
	}

	pools := make(map[string]domain.Pool, len(st.Pools))
	for _, p := range st.Pools {
		pools[p.MarketID] = p
	}
	positions := make(map[string]map[string]domain.Position)
	for _, p := range st.Positions {
		if positions[p.MarketID] == nil {
			positions[p.MarketID] = make(map[string]domain.Position)
		}
		positions[p.MarketID][p.Account] = p
	}
	proposals := make(map[string][]domain.Proposal)
	for _, p := range st.Proposals {
		proposals[p.MarketID] = append(proposals[p.MarketID], p)
	}

	r.mu.Lock()
	r.accounts = ledger.NewAccounts(st.Balances)
	for _, m := range st.Markets {
		pool, ok := pools[m.ID]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("engine.Load: market %s has no pool", m.ID)
		}
		snap := &snapshot{
			market:    m,
			pool:      pool,
			positions: positions[m.ID],
			proposals: proposals[m.ID],
		}
		if snap.positions == nil {
			snap.positions = make(map[string]domain.Position)
		}
		e := &entry{}
		e.current.Store(snap)
		r.index(e)
	}
	r.mu.Unlock()

	slog.Info("engine: state loaded", "markets", len(st.Markets), "accounts", len(st.Balances))
	if err := r.Recover(ctx); err != nil {
		// el sweeper lo reintenta
		slog.Warn("engine: recovery incomplete", "err", err)
	}
	return nil
}

// index añade el mercado al registro. Requiere r.mu.
func (r *Registry) index(e *entry) {
	m := e.current.Load().market
	r.markets[m.ID] = e
	r.order = append(r.order, m.ID)
	r.categories[m.Category] = append(r.categories[m.Category], m.ID)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", domain.ErrNotFound, id)
	}
	return e, nil
}

// write ejecuta fn con el escritor del mercado tomado. Rechaza operaciones
// mientras haya una liquidación pendiente.
func (e *entry) write(fn func(cur *snapshot) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		return fmt.Errorf("%w: market %s", domain.ErrSettlementInProgress, e.pending.MarketID)
	}
	return fn(e.current.Load())
}

// commit persiste next junto con los deltas de saldo en una transacción y
// publica el snapshot. Requiere e.mu.
func (r *Registry) commit(ctx context.Context, e *entry, next *snapshot, deltas []domain.BalanceDelta, mut ports.Mutation) error {
	next.market.Version++
	market, pool := next.market, next.pool
	mut.Market = &market
	mut.Pool = &pool

	persist := func(balances map[string]decimal.Decimal) error {
		mut.Balances = balances
		if err := r.store.Commit(ctx, mut); err != nil {
			return fmt.Errorf("engine: persist market %s: %w", market.ID, err)
		}
		return nil
	}

	deltas = ledger.Merge(deltas)
	var err error
	if len(deltas) == 0 {
		err = persist(nil)
	} else {
		err = r.accounts.Commit(deltas, persist)
	}
	if err != nil {
		return err
	}
	e.current.Store(next)
	return nil
}

// emit difunde el evento. Los errores de publicación solo se registran.
func (r *Registry) emit(ctx context.Context, typ domain.EventType, snap *snapshot, trade *domain.Trade) {
	if len(r.publishers) == 0 {
		return
	}
	ev := domain.Event{
		Type:     typ,
		MarketID: snap.market.ID,
		Category: snap.market.Category,
		Status:   snap.market.Status,
		Prices:   snap.pool.Prices(),
		Version:  snap.market.Version,
		Trade:    trade,
		At:       r.now(),
	}
	for _, p := range r.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			slog.Warn("engine: publish failed", "market", ev.MarketID, "type", ev.Type, "err", err)
		}
	}
}

// archive guarda el mercado cerrado si hay archiver configurado.
func (r *Registry) archive(ctx context.Context, snap *snapshot, intent *domain.SettlementIntent) {
	if r.archiver == nil {
		return
	}
	v := snap.view()
	rec := domain.MarketRecord{
		Market:    v.Market,
		Pool:      v.Pool,
		Proposals: v.Proposals,
		Intent:    intent,
		Archived:  r.now(),
	}
	if err := r.archiver.Archive(ctx, rec); err != nil {
		slog.Warn("engine: archive failed", "market", snap.market.ID, "err", err)
	}
}
