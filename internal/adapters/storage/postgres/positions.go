package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
)

// ApplyDelta acumula aditivamente sobre (wallet, market, outcome). El
// GREATEST mantiene last_trade_at monótono aunque los deltas lleguen
// desordenados.
func (s *Store) ApplyDelta(ctx context.Context, wallet, conditionID string, outcomeIdx int, delta float64, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_positions (wallet, condition_id, outcome_idx, net_shares, last_trade_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet, condition_id, outcome_idx) DO UPDATE SET
			net_shares    = wallet_positions.net_shares + EXCLUDED.net_shares,
			last_trade_at = GREATEST(wallet_positions.last_trade_at, EXCLUDED.last_trade_at)`,
		wallet, conditionID, outcomeIdx, delta, ts,
	)
	if err != nil {
		return fmt.Errorf("postgres.ApplyDelta: %w", err)
	}
	return nil
}

// ClampResiduals fija a cero exacto el ruido de coma flotante.
func (s *Store) ClampResiduals(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE wallet_positions
		SET net_shares = 0
		WHERE net_shares <> 0 AND abs(net_shares) < 1e-9`)
	if err != nil {
		return fmt.Errorf("postgres.ClampResiduals: %w", err)
	}
	return nil
}

func (s *Store) ByMarket(ctx context.Context, conditionID string) ([]domain.WalletPosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet, condition_id, outcome_idx, net_shares, last_trade_at
		FROM wallet_positions
		WHERE condition_id = $1 AND net_shares <> 0
		ORDER BY wallet`, conditionID)
	if err != nil {
		return nil, fmt.Errorf("postgres.ByMarket: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletPosition
	for rows.Next() {
		var p domain.WalletPosition
		if err := rows.Scan(&p.Wallet, &p.ConditionID, &p.OutcomeIdx, &p.NetShares, &p.LastTradeAt); err != nil {
			return nil, fmt.Errorf("postgres.ByMarket: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TokensToRefresh devuelve los token ids con shares netas positivas entre
// las wallets dadas, para refrescar sus precios cotizados.
func (s *Store) TokensToRefresh(ctx context.Context, wallets []string, limit int) ([]string, error) {
	if len(wallets) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT CASE WHEN p.outcome_idx = 0 THEN m.token_id_0 ELSE m.token_id_1 END AS token_id
		FROM wallet_positions p
		JOIN markets m ON m.condition_id = p.condition_id
		WHERE p.wallet = ANY($1) AND p.net_shares > 0
		  AND CASE WHEN p.outcome_idx = 0 THEN m.token_id_0 ELSE m.token_id_1 END <> ''
		ORDER BY token_id
		LIMIT $2`, wallets, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres.TokensToRefresh: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("postgres.TokensToRefresh: scan: %w", err)
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}
