package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polyadvisor/engine/internal/domain"
)

// InsertTrades inserta con ON CONFLICT DO NOTHING y devuelve exactamente el
// subconjunto insertado ahora: el ledger solo debe ver deltas nuevos.
func (s *Store) InsertTrades(ctx context.Context, trades []domain.Trade) ([]domain.Trade, error) {
	if len(trades) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(`
			INSERT INTO trades (id, tx_hash, wallet, condition_id, side, price, size, outcome_idx, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
			RETURNING id`,
			t.ID, t.TxHash, t.Wallet, t.ConditionID, string(t.Side),
			t.Price, t.Size, t.OutcomeIdx, t.Timestamp,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted []domain.Trade
	for _, t := range trades {
		var id string
		err := results.QueryRow().Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // duplicado, ya estaba
		}
		if err != nil {
			return nil, fmt.Errorf("postgres.InsertTrades: %w", err)
		}
		inserted = append(inserted, t)
	}
	return inserted, nil
}

// ResolvedBuys devuelve todos los BUY trades sobre mercados con ganador
// conocido. Es la entrada del recómputo completo del motor de estadísticas.
func (s *Store) ResolvedBuys(ctx context.Context) ([]domain.ResolvedBuy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.tx_hash, t.wallet, t.condition_id, t.side, t.price, t.size,
		       t.outcome_idx, t.ts, r.winner_idx, m.end_date
		FROM trades t
		JOIN resolutions r ON r.condition_id = t.condition_id
		JOIN markets m ON m.condition_id = t.condition_id
		WHERE t.side = 'BUY' AND r.winner_idx IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("postgres.ResolvedBuys: %w", err)
	}
	defer rows.Close()

	var out []domain.ResolvedBuy
	for rows.Next() {
		var rb domain.ResolvedBuy
		var side string
		var endDate *time.Time
		if err := rows.Scan(&rb.ID, &rb.TxHash, &rb.Wallet, &rb.ConditionID, &side,
			&rb.Price, &rb.Size, &rb.OutcomeIdx, &rb.Timestamp, &rb.WinnerIdx, &endDate); err != nil {
			return nil, fmt.Errorf("postgres.ResolvedBuys: scan: %w", err)
		}
		rb.Side = domain.Side(side)
		if endDate != nil {
			rb.EndDate = *endDate
		}
		out = append(out, rb)
	}
	return out, rows.Err()
}

func (s *Store) RecentByMarket(ctx context.Context, conditionID string, since time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tx_hash, wallet, condition_id, side, price, size, outcome_idx, ts
		FROM trades
		WHERE condition_id = $1 AND ts > $2
		ORDER BY ts`, conditionID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres.RecentByMarket: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.TxHash, &t.Wallet, &t.ConditionID, &side,
			&t.Price, &t.Size, &t.OutcomeIdx, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres.RecentByMarket: scan: %w", err)
		}
		t.Side = domain.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}
