package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// State es todo lo que el engine necesita para reconstruirse al arrancar.
type State struct {
	Markets   []domain.Market
	Pools     []domain.Pool
	Positions []domain.Position
	Proposals []domain.Proposal
	Balances  map[string]decimal.Decimal
}

// Mutation es el conjunto de cambios de una operación. Se escribe en una
// sola transacción: o todo o nada.
type Mutation struct {
	Market    *domain.Market
	Pool      *domain.Pool
	Positions []domain.Position
	Proposals []domain.Proposal
	// Balances son saldos absolutos, no deltas.
	Balances map[string]decimal.Decimal
	Trade    *domain.Trade
	// IntentID marca la intención como aplicada dentro de la misma transacción.
	IntentID  string
	AppliedAt time.Time
}

// TradeFilter acota la consulta de historial. Campos vacíos no filtran.
type TradeFilter struct {
	MarketID string
	Account  string
	Limit    int
}

// Store persiste mercados, pools, posiciones, propuestas y saldos.
type Store interface {
	// LoadState lee el estado completo. Se llama una vez al arrancar.
	LoadState(ctx context.Context) (State, error)

	// Commit aplica la mutación de forma atómica.
	Commit(ctx context.Context, m Mutation) error

	// SaveIntent persiste una intención de liquidación pendiente.
	SaveIntent(ctx context.Context, intent domain.SettlementIntent) error

	// PendingIntents devuelve las intenciones aún no aplicadas, por fecha.
	PendingIntents(ctx context.Context) ([]domain.SettlementIntent, error)

	// Trades devuelve el historial más reciente primero.
	Trades(ctx context.Context, f TradeFilter) ([]domain.Trade, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
