package engine

// sweeper.go — finaliza en segundo plano los mercados cuya ventana de
// disputa ha vencido sin impugnación, y reintenta liquidaciones pendientes.
//
// Los mercados son independientes, así que se procesan con un worker pool:
// cada Finalize solo toma el escritor de su propio mercado.

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
)

const defaultSweepInterval = time.Minute

// SweeperConfig controla el ciclo del sweeper.
type SweeperConfig struct {
	Interval time.Duration
	Workers  int
	// Board imprime el tablero de mercados en cada ciclo.
	Board bool
}

// Sweeper ejecuta FinalizeDue periódicamente.
type Sweeper struct {
	reg      *Registry
	notifier ports.Notifier
	cfg      SweeperConfig
}

// NewSweeper crea el sweeper. notifier puede ser nil.
func NewSweeper(reg *Registry, notifier ports.Notifier, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Sweeper{reg: reg, notifier: notifier, cfg: cfg}
}

// Run bloquea hasta que se cancela ctx.
func (s *Sweeper) Run(ctx context.Context) error {
	slog.Info("sweeper starting", "interval", s.cfg.Interval, "workers", s.cfg.Workers)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Sweeper) runCycle(ctx context.Context) {
	start := time.Now()
	n := s.reg.FinalizeDue(ctx, s.cfg.Workers)
	if n > 0 {
		slog.Info("sweeper: markets finalized", "count", n, "elapsed", time.Since(start).Round(time.Millisecond))
	}
	if s.cfg.Board && s.notifier != nil {
		if err := s.notifier.NotifyMarkets(ctx, s.reg.Markets()); err != nil {
			slog.Warn("sweeper: notifier error", "err", err)
		}
	}
}

// FinalizeDue finaliza en paralelo los mercados listos y devuelve cuántos
// se resolvieron. Los fallos se registran y se reintentan en el próximo ciclo.
func (r *Registry) FinalizeDue(ctx context.Context, workers int) int {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	due := r.dueMarkets(r.now())
	if len(due) == 0 {
		return 0
	}

	workCh := make(chan string, len(due))
	for _, id := range due {
		workCh <- id
	}
	close(workCh)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for i := 0; i < min(workers, len(due)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range workCh {
				if ctx.Err() != nil {
					return
				}
				v, err := r.Finalize(ctx, id)
				if err != nil {
					slog.Warn("sweeper: finalize failed", "market", id, "err", err)
					continue
				}
				if v.Market.Status.Final() {
					mu.Lock()
					done++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return done
}

// dueMarkets devuelve los mercados con liquidación pendiente o con una
// propuesta cuya ventana ya venció.
func (r *Registry) dueMarkets(now time.Time) []string {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.order))
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	for _, id := range ids {
		entries[id] = r.markets[id]
	}
	r.mu.RUnlock()

	var due []string
	for _, id := range ids {
		e := entries[id]
		if e.hasPending() {
			due = append(due, id)
			continue
		}
		s := e.current.Load()
		if s.market.Status != domain.StatusProposalPending {
			continue
		}
		if idx := s.openProposal(); idx >= 0 && now.After(s.proposals[idx].DisputeDeadline) {
			due = append(due, id)
		}
	}
	return due
}
