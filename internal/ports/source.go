package ports

import (
	"context"
	"errors"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
)

// ErrNoWinner indica que el venue todavía no reporta ganador para un
// mercado cerrado. No es un fallo: se reintenta en el siguiente ciclo.
var ErrNoWinner = errors.New("winner not yet reported")

// MarketSource es la fuente paginada de metadata de mercados del venue.
type MarketSource interface {
	// FetchMarketsPage devuelve una página de mercados empezando en offset.
	// Una página vacía indica fin del listado.
	FetchMarketsPage(ctx context.Context, offset, limit int) ([]domain.Market, error)

	// FetchWinner consulta el outcome ganador de un mercado cerrado.
	// Devuelve ErrNoWinner si aún no está disponible.
	FetchWinner(ctx context.Context, conditionID string) (domain.Resolution, error)

	// FetchPrice devuelve el precio actual de un token del venue.
	FetchPrice(ctx context.Context, tokenID string) (float64, error)
}

// TradeSource es la fuente paginada de historial de trades del venue.
type TradeSource interface {
	// FetchMarketBuys devuelve una página de BUY trades de un mercado.
	FetchMarketBuys(ctx context.Context, conditionID string, offset, limit int) ([]domain.Trade, error)

	// FetchWalletTrades devuelve los trades de una wallet en un lado,
	// posteriores a since (o sin límite si since es zero).
	FetchWalletTrades(ctx context.Context, wallet string, side domain.Side, since time.Time, limit int) ([]domain.Trade, error)
}
