package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

// FetchMarketsPage devuelve una página del listado de mercados de Gamma
// empezando en offset. Una respuesta vacía indica fin del listado.
func (c *Client) FetchMarketsPage(ctx context.Context, offset, limit int) ([]domain.Market, error) {
	url := fmt.Sprintf("%s/markets?offset=%d&limit=%d&order=id&ascending=true",
		c.gammaBase, offset, limit)

	var resp gammaMarketsResponse
	if err := c.get(ctx, c.gammaLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.FetchMarketsPage: %w", err)
	}

	now := time.Now().UTC()
	markets := make([]domain.Market, 0, len(resp))
	for _, gm := range resp {
		if gm.ConditionID == "" {
			continue
		}
		markets = append(markets, mapGammaMarket(gm, now))
	}

	slog.Debug("fetched markets page", "offset", offset, "count", len(markets))
	return markets, nil
}

// FetchWinner consulta el CLOB por el token ganador de un mercado cerrado.
// Devuelve ports.ErrNoWinner si el venue aún no reporta ganador.
func (c *Client) FetchWinner(ctx context.Context, conditionID string) (domain.Resolution, error) {
	url := fmt.Sprintf("%s/markets/%s", c.clobBase, conditionID)

	var resp clobMarketResponse
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return domain.Resolution{}, fmt.Errorf("polymarket.FetchWinner %s: %w", conditionID, err)
	}

	for i, tok := range resp.Tokens {
		if tok.Winner && i < 2 {
			idx := i
			return domain.Resolution{
				ConditionID:   conditionID,
				WinnerTokenID: tok.TokenID,
				WinnerIdx:     &idx,
				ResolvedAt:    time.Now().UTC(),
			}, nil
		}
	}
	return domain.Resolution{}, ports.ErrNoWinner
}

// FetchPrice devuelve el precio actual de compra de un token del CLOB.
func (c *Client) FetchPrice(ctx context.Context, tokenID string) (float64, error) {
	url := fmt.Sprintf("%s/price?token_id=%s&side=buy", c.clobBase, tokenID)

	var resp clobPriceResponse
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return 0, fmt.Errorf("polymarket.FetchPrice: %w", err)
	}

	price, err := resp.Price.Float64()
	if err != nil {
		return 0, fmt.Errorf("polymarket.FetchPrice: parse %q: %w", resp.Price, err)
	}
	return price, nil
}
