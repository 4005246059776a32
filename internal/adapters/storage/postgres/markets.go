package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

const marketColumns = `condition_id, question, slug, end_date, closed,
	outcome_0, outcome_1, token_id_0, token_id_1, price_0, price_1, updated_at`

// UpsertMarkets reemplaza los campos mutables de cada mercado
// (last-writer-wins); el condition_id no cambia nunca.
func (s *Store) UpsertMarkets(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(`
			INSERT INTO markets (`+marketColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (condition_id) DO UPDATE SET
				question   = EXCLUDED.question,
				slug       = EXCLUDED.slug,
				end_date   = EXCLUDED.end_date,
				closed     = EXCLUDED.closed,
				outcome_0  = EXCLUDED.outcome_0,
				outcome_1  = EXCLUDED.outcome_1,
				token_id_0 = EXCLUDED.token_id_0,
				token_id_1 = EXCLUDED.token_id_1,
				price_0    = EXCLUDED.price_0,
				price_1    = EXCLUDED.price_1,
				updated_at = EXCLUDED.updated_at`,
			m.ConditionID, m.Question, m.Slug, nullTime(m.EndDate), m.Closed,
			m.Outcomes[0], m.Outcomes[1], m.TokenIDs[0], m.TokenIDs[1],
			m.Prices[0], m.Prices[1], m.UpdatedAt,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres.UpsertMarkets: %w", err)
	}
	return nil
}

// EnsureMarkets crea filas placeholder sin pisar las existentes.
func (s *Store) EnsureMarkets(ctx context.Context, conditionIDs []string) error {
	if len(conditionIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, id := range conditionIDs {
		batch.Queue(`
			INSERT INTO markets (condition_id, updated_at)
			VALUES ($1, $2)
			ON CONFLICT (condition_id) DO NOTHING`,
			id, now,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres.EnsureMarkets: %w", err)
	}
	return nil
}

func (s *Store) GetMarket(ctx context.Context, conditionID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE condition_id = $1`,
		conditionID,
	)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres.GetMarket: %w", err)
	}
	return m, nil
}

func (s *Store) OpenMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+marketColumns+` FROM markets
		WHERE NOT closed AND question <> ''
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres.OpenMarkets: %w", err)
	}
	return collectMarkets(rows)
}

func (s *Store) ClosedWithoutResolution(ctx context.Context, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+marketColumns+` FROM markets m
		WHERE m.closed
		  AND NOT EXISTS (SELECT 1 FROM resolutions r WHERE r.condition_id = m.condition_id)
		ORDER BY m.end_date DESC NULLS LAST
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres.ClosedWithoutResolution: %w", err)
	}
	return collectMarkets(rows)
}

// SetTokenPrice actualiza el precio del token, esté en el lado que esté.
func (s *Store) SetTokenPrice(ctx context.Context, tokenID string, price float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET price_0 = $2 WHERE token_id_0 = $1`, tokenID, price)
	if err != nil {
		return fmt.Errorf("postgres.SetTokenPrice: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE markets SET price_1 = $2 WHERE token_id_1 = $1`, tokenID, price)
	if err != nil {
		return fmt.Errorf("postgres.SetTokenPrice: %w", err)
	}
	return nil
}

// UpsertResolution inserta la resolución una vez; re-upserts idempotentes.
func (s *Store) UpsertResolution(ctx context.Context, r domain.Resolution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resolutions (condition_id, winner_token_id, winner_idx, resolved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (condition_id) DO UPDATE SET
			winner_token_id = EXCLUDED.winner_token_id,
			winner_idx      = EXCLUDED.winner_idx`,
		r.ConditionID, r.WinnerTokenID, r.WinnerIdx, r.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres.UpsertResolution: %w", err)
	}
	return nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var endDate *time.Time
	err := row.Scan(&m.ConditionID, &m.Question, &m.Slug, &endDate, &m.Closed,
		&m.Outcomes[0], &m.Outcomes[1], &m.TokenIDs[0], &m.TokenIDs[1],
		&m.Prices[0], &m.Prices[1], &m.UpdatedAt)
	if err != nil {
		return domain.Market{}, err
	}
	if endDate != nil {
		m.EndDate = *endDate
	}
	return m, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
