package ports

import (
	"context"

	"github.com/alejandrodnm/quantmarket/internal/domain"
)

// Notifier presenta el estado de los mercados al usuario.
type Notifier interface {
	// NotifyMarkets muestra el tablero de mercados.
	// En la implementación de consola, imprime una tabla formateada.
	NotifyMarkets(ctx context.Context, markets []domain.MarketView) error

	// NotifyPortfolio muestra las posiciones valoradas de una cuenta.
	NotifyPortfolio(ctx context.Context, p domain.Portfolio) error
}

// EventPublisher difunde cambios de precio y estado. Un fallo al publicar
// nunca deshace la operación que lo produjo.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Archiver guarda una copia inmutable de cada mercado cerrado.
type Archiver interface {
	Archive(ctx context.Context, rec domain.MarketRecord) error
}
