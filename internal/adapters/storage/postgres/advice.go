package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

// UpsertAdvice cachea el advice del mercado. Drivers y top wallets van como
// JSONB tipado (se validan al marshalear, no columnas dinámicas sueltas).
func (s *Store) UpsertAdvice(ctx context.Context, a domain.Advice) error {
	drivers, err := json.Marshal(a.Drivers)
	if err != nil {
		return fmt.Errorf("postgres.UpsertAdvice: marshal drivers: %w", err)
	}
	wallets, err := json.Marshal(a.TopWallets)
	if err != nil {
		return fmt.Errorf("postgres.UpsertAdvice: marshal wallets: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO market_advice
			(condition_id, market_price, model_prob, confidence, range_low, range_high,
			 trend, drivers, top_wallets, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (condition_id) DO UPDATE SET
			market_price = EXCLUDED.market_price,
			model_prob   = EXCLUDED.model_prob,
			confidence   = EXCLUDED.confidence,
			range_low    = EXCLUDED.range_low,
			range_high   = EXCLUDED.range_high,
			trend        = EXCLUDED.trend,
			drivers      = EXCLUDED.drivers,
			top_wallets  = EXCLUDED.top_wallets,
			computed_at  = EXCLUDED.computed_at`,
		a.ConditionID, a.MarketPrice, a.ModelProb, a.Confidence, a.RangeLow, a.RangeHigh,
		a.Trend, drivers, wallets, a.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres.UpsertAdvice: %w", err)
	}
	return nil
}

func (s *Store) GetAdvice(ctx context.Context, conditionID string) (domain.Advice, error) {
	var a domain.Advice
	var drivers, wallets []byte
	err := s.pool.QueryRow(ctx, `
		SELECT condition_id, market_price, model_prob, confidence, range_low, range_high,
		       trend, drivers, top_wallets, computed_at
		FROM market_advice
		WHERE condition_id = $1`, conditionID,
	).Scan(&a.ConditionID, &a.MarketPrice, &a.ModelProb, &a.Confidence, &a.RangeLow,
		&a.RangeHigh, &a.Trend, &drivers, &wallets, &a.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Advice{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.Advice{}, fmt.Errorf("postgres.GetAdvice: %w", err)
	}

	if err := json.Unmarshal(drivers, &a.Drivers); err != nil {
		return domain.Advice{}, fmt.Errorf("postgres.GetAdvice: drivers: %w", err)
	}
	if err := json.Unmarshal(wallets, &a.TopWallets); err != nil {
		return domain.Advice{}, fmt.Errorf("postgres.GetAdvice: wallets: %w", err)
	}
	return a, nil
}
