package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/polyadvisor/engine/internal/domain"
)

// ReplaceStats sustituye wallet_stats completo en una transacción: el motor
// recomputa todo cada ciclo, así que no hay mutación incremental que cuidar.
func (s *Store) ReplaceStats(ctx context.Context, stats []domain.WalletStats) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres.ReplaceStats: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM wallet_stats`); err != nil {
		return fmt.Errorf("postgres.ReplaceStats: delete: %w", err)
	}

	batch := &pgx.Batch{}
	for _, st := range stats {
		batch.Queue(`
			INSERT INTO wallet_stats (wallet, threshold, n, wins, expected_wins, variance, alpha_z)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			st.Wallet, st.Threshold, st.N, st.Wins, st.ExpectedWins, st.Variance, st.AlphaZ,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres.ReplaceStats: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres.ReplaceStats: commit: %w", err)
	}
	return nil
}

// ReplaceProfiles sustituye wallet_profiles completo en una transacción.
func (s *Store) ReplaceProfiles(ctx context.Context, profiles []domain.WalletProfile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres.ReplaceProfiles: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM wallet_profiles`); err != nil {
		return fmt.Errorf("postgres.ReplaceProfiles: delete: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range profiles {
		batch.Queue(`
			INSERT INTO wallet_profiles
				(wallet, alpha_z, sample_size, follow_score, is_followable,
				 hedge_rate, late_sniping_rate, last_trade_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.Wallet, p.AlphaZ, p.SampleSize, p.FollowScore, p.IsFollowable,
			p.HedgeRate, p.LateSnipingRate, p.LastTradeAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres.ReplaceProfiles: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres.ReplaceProfiles: commit: %w", err)
	}
	return nil
}

func (s *Store) FollowableWallets(ctx context.Context, limit int) ([]string, error) {
	return s.walletColumn(ctx, `
		SELECT wallet FROM wallet_profiles
		WHERE is_followable
		ORDER BY follow_score DESC
		LIMIT $1`, limit)
}

func (s *Store) PositiveAlphaZWallets(ctx context.Context, threshold float64, minN, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet FROM wallet_stats
		WHERE threshold = $1 AND alpha_z > 0 AND n >= $2
		ORDER BY alpha_z DESC
		LIMIT $3`, threshold, minN, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres.PositiveAlphaZWallets: %w", err)
	}
	return collectStrings(rows)
}

func (s *Store) PositiveScoreWallets(ctx context.Context, limit int) ([]string, error) {
	return s.walletColumn(ctx, `
		SELECT wallet FROM wallet_profiles
		WHERE follow_score > 0
		ORDER BY follow_score DESC
		LIMIT $1`, limit)
}

func (s *Store) ProfilesFor(ctx context.Context, wallets []string) (map[string]domain.WalletProfile, error) {
	if len(wallets) == 0 {
		return map[string]domain.WalletProfile{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT wallet, alpha_z, sample_size, follow_score, is_followable,
		       hedge_rate, late_sniping_rate, last_trade_at
		FROM wallet_profiles
		WHERE wallet = ANY($1)`, wallets)
	if err != nil {
		return nil, fmt.Errorf("postgres.ProfilesFor: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.WalletProfile)
	for rows.Next() {
		var p domain.WalletProfile
		if err := rows.Scan(&p.Wallet, &p.AlphaZ, &p.SampleSize, &p.FollowScore,
			&p.IsFollowable, &p.HedgeRate, &p.LateSnipingRate, &p.LastTradeAt); err != nil {
			return nil, fmt.Errorf("postgres.ProfilesFor: scan: %w", err)
		}
		out[p.Wallet] = p
	}
	return out, rows.Err()
}

// --- Watchlist ---

func (s *Store) AddToWatchlist(ctx context.Context, wallet string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watchlist (wallet) VALUES ($1)
		ON CONFLICT (wallet) DO NOTHING`, wallet)
	if err != nil {
		return fmt.Errorf("postgres.AddToWatchlist: %w", err)
	}
	return nil
}

func (s *Store) RemoveFromWatchlist(ctx context.Context, wallet string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE wallet = $1`, wallet)
	if err != nil {
		return fmt.Errorf("postgres.RemoveFromWatchlist: %w", err)
	}
	return nil
}

func (s *Store) Watchlist(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT wallet FROM watchlist ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres.Watchlist: %w", err)
	}
	return collectStrings(rows)
}

func (s *Store) walletColumn(ctx context.Context, query string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: wallet query: %w", err)
	}
	return collectStrings(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan string: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
