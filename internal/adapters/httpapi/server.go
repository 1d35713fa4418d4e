package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
)

// Engine es lo que la API necesita del registry. Se declara aquí para que el
// adapter no dependa de la implementación concreta.
type Engine interface {
	CreateMarket(ctx context.Context, cfg domain.MarketConfig) (domain.MarketView, error)
	GetMarket(id string) (domain.MarketView, error)
	GetTokenPrices(id string) (domain.TokenPrices, error)
	GetGraduationProgress(id string) (domain.GraduationProgress, error)
	ListMarketsByCategory(category string) []string
	Markets() []domain.MarketView
	Quote(id string, action domain.TradeAction, side domain.Side, shares decimal.Decimal) (domain.Quote, error)

	Buy(ctx context.Context, id, account string, side domain.Side, shares, maxCost decimal.Decimal) (domain.Trade, error)
	Sell(ctx context.Context, id, account string, side domain.Side, shares, minProceeds decimal.Decimal) (domain.Trade, error)
	AddLiquidity(ctx context.Context, id, account string, amount decimal.Decimal) (domain.LiquidityChange, error)
	RemoveLiquidity(ctx context.Context, id, account string, shares decimal.Decimal) (domain.LiquidityChange, error)
	Merge(ctx context.Context, id, account string, amount decimal.Decimal) (domain.Position, error)
	Redeem(ctx context.Context, id, account string) (decimal.Decimal, error)
	Graduate(ctx context.Context, id string) (domain.MarketView, error)
	Cancel(ctx context.Context, id, caller string) (domain.MarketView, error)

	SubmitProposal(ctx context.Context, id string, in domain.ProposalInput) (domain.Proposal, error)
	DisputeProposal(ctx context.Context, id, challenger string, counterDeposit decimal.Decimal) (domain.Proposal, error)
	Finalize(ctx context.Context, id string) (domain.MarketView, error)
	ResolveDispute(ctx context.Context, id, caller string, outcome domain.Side) (domain.MarketView, error)

	Balance(account string) decimal.Decimal
	Deposit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)
	Withdraw(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)
	Position(id, account string) (domain.Position, error)
	Portfolio(account string) domain.Portfolio
	Trades(ctx context.Context, f ports.TradeFilter) ([]domain.Trade, error)
}

// Config del servidor HTTP.
type Config struct {
	Addr        string
	CORSOrigins []string
	// RatePerSec y Burst limitan peticiones por IP. RatePerSec <= 0 desactiva el límite.
	RatePerSec float64
	Burst      int
}

// Server expone el engine por HTTP y, si hay hub, el stream por websocket.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registra las rutas y monta la cadena de middleware.
// ws puede ser nil.
func NewServer(cfg Config, eng Engine, ws http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{eng: eng, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.health)

	// Mercados
	mux.HandleFunc("GET /api/markets", h.listMarkets)
	mux.HandleFunc("POST /api/markets", h.createMarket)
	mux.HandleFunc("GET /api/markets/{id}", h.getMarket)
	mux.HandleFunc("GET /api/markets/{id}/prices", h.getPrices)
	mux.HandleFunc("GET /api/markets/{id}/graduation", h.getGraduation)
	mux.HandleFunc("GET /api/markets/{id}/quote", h.quote)
	mux.HandleFunc("GET /api/markets/{id}/trades", h.marketTrades)
	mux.HandleFunc("GET /api/markets/{id}/positions/{account}", h.position)

	// Trading y liquidez
	mux.HandleFunc("POST /api/markets/{id}/buy", h.buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", h.sell)
	mux.HandleFunc("POST /api/markets/{id}/liquidity/add", h.addLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/liquidity/remove", h.removeLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/merge", h.merge)
	mux.HandleFunc("POST /api/markets/{id}/redeem", h.redeem)
	mux.HandleFunc("POST /api/markets/{id}/graduate", h.graduate)
	mux.HandleFunc("POST /api/markets/{id}/cancel", h.cancel)

	// Resolución
	mux.HandleFunc("POST /api/markets/{id}/proposals", h.submitProposal)
	mux.HandleFunc("POST /api/markets/{id}/dispute", h.dispute)
	mux.HandleFunc("POST /api/markets/{id}/finalize", h.finalize)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.resolve)

	// Cuentas
	mux.HandleFunc("GET /api/accounts/{account}/balance", h.balance)
	mux.HandleFunc("GET /api/accounts/{account}/portfolio", h.portfolio)
	mux.HandleFunc("GET /api/accounts/{account}/trades", h.accountTrades)
	mux.HandleFunc("POST /api/accounts/{account}/deposit", h.deposit)
	mux.HandleFunc("POST /api/accounts/{account}/withdraw", h.withdraw)

	if ws != nil {
		mux.Handle("GET /ws", ws)
	}

	var chain http.Handler = mux
	chain = RateLimit(cfg.RatePerSec, cfg.Burst)(chain)
	chain = Logging(logger)(chain)
	chain = CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: chain,
		logger:  logger,
	}
}

// Handler devuelve la cadena completa, útil para httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run escucha hasta que ctx se cancela y luego apaga con un margen de 10s.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("httpapi: listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpapi.Run: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("httpapi: shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi.Run: shutdown: %w", err)
	}
	return <-errCh
}
