package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
)

// FetchMarketBuys obtiene una página de BUY trades de un mercado desde la
// Data API pública, empezando en offset.
func (c *Client) FetchMarketBuys(ctx context.Context, conditionID string, offset, limit int) ([]domain.Trade, error) {
	url := fmt.Sprintf("%s/trades?market=%s&side=BUY&limit=%d&offset=%d",
		c.dataBase, conditionID, limit, offset)

	var resp []dataTrade
	if err := c.get(ctx, c.dataLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.FetchMarketBuys: %w", err)
	}

	trades := mapDataTrades(resp)
	slog.Debug("fetched market buys page",
		"market", short(conditionID),
		"offset", offset,
		"count", len(trades),
	)
	return trades, nil
}

// FetchWalletTrades obtiene los trades de una wallet en un lado, posteriores
// a since (o sin filtro temporal si since es zero). Una sola página.
func (c *Client) FetchWalletTrades(ctx context.Context, wallet string, side domain.Side, since time.Time, limit int) ([]domain.Trade, error) {
	url := fmt.Sprintf("%s/trades?user=%s&side=%s&limit=%d", c.dataBase, wallet, side, limit)
	if !since.IsZero() {
		url += fmt.Sprintf("&after=%d", since.Unix())
	}

	var resp []dataTrade
	if err := c.get(ctx, c.dataLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("polymarket.FetchWalletTrades: %w", err)
	}

	trades := mapDataTrades(resp)
	slog.Debug("fetched wallet trades",
		"wallet", short(wallet),
		"side", side,
		"count", len(trades),
	)
	return trades, nil
}

// mapDataTrades mapea y descarta los trades sin campos esenciales.
func mapDataTrades(raw []dataTrade) []domain.Trade {
	trades := make([]domain.Trade, 0, len(raw))
	for _, rt := range raw {
		t := mapDataTrade(rt)
		if t.ConditionID == "" || t.Wallet == "" || t.Size <= 0 || t.Timestamp.IsZero() {
			continue
		}
		trades = append(trades, t)
	}
	return trades
}

// short acorta ids largos para los logs.
func short(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10] + "..."
}
