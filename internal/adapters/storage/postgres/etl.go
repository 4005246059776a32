package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polyadvisor/engine/internal/domain"
)

// --- etl_state: checkpoint store genérico key → string ---

func (s *Store) GetState(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM etl_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres.GetState %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO etl_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("postgres.SetState %s: %w", key, err)
	}
	return nil
}

// --- wallet_cursors: último timestamp visto por wallet ---

func (s *Store) WalletCursor(ctx context.Context, wallet string) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_ts FROM wallet_cursors WHERE wallet = $1`, wallet).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres.WalletCursor: %w", err)
	}
	return ts, nil
}

func (s *Store) SetWalletCursor(ctx context.Context, wallet string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_cursors (wallet, last_ts) VALUES ($1, $2)
		ON CONFLICT (wallet) DO UPDATE SET last_ts = GREATEST(wallet_cursors.last_ts, EXCLUDED.last_ts)`,
		wallet, ts)
	if err != nil {
		return fmt.Errorf("postgres.SetWalletCursor: %w", err)
	}
	return nil
}

// --- etl_runs: audit log append-only ---

func (s *Store) InsertRun(ctx context.Context, run domain.EtlRun) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO etl_runs (job, status, started_at, summary, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		run.Job, string(run.Status), run.StartedAt, run.Summary, run.Error,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres.InsertRun: %w", err)
	}
	return id, nil
}

func (s *Store) FinishRun(ctx context.Context, id int64, status domain.RunStatus, summary, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE etl_runs
		SET status = $2, finished_at = now(), summary = $3, error = $4
		WHERE id = $1`,
		id, string(status), summary, errMsg)
	if err != nil {
		return fmt.Errorf("postgres.FinishRun: %w", err)
	}
	return nil
}

func (s *Store) PruneRuns(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM etl_runs WHERE started_at < $1`, before)
	if err != nil {
		return fmt.Errorf("postgres.PruneRuns: %w", err)
	}
	return nil
}

// --- backfill_cursors ---

// CreateMissingCursors crea cursores a offset 0 para resoluciones sin
// cursor. Operación puramente local, sin llamadas externas.
func (s *Store) CreateMissingCursors(ctx context.Context, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO backfill_cursors (condition_id, updated_at)
		SELECT r.condition_id, now()
		FROM resolutions r
		LEFT JOIN backfill_cursors c ON c.condition_id = r.condition_id
		WHERE c.condition_id IS NULL
		LIMIT $1`, limit)
	if err != nil {
		return 0, fmt.Errorf("postgres.CreateMissingCursors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DueCursors(ctx context.Context, now time.Time, limit int) ([]domain.BackfillCursor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT condition_id, next_offset, done, fail_count, next_retry_at, last_error, updated_at
		FROM backfill_cursors
		WHERE NOT done AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY updated_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres.DueCursors: %w", err)
	}
	defer rows.Close()

	var out []domain.BackfillCursor
	for rows.Next() {
		var c domain.BackfillCursor
		if err := rows.Scan(&c.ConditionID, &c.NextOffset, &c.Done, &c.FailCount,
			&c.NextRetryAt, &c.LastError, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres.DueCursors: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AdvanceCursor(ctx context.Context, conditionID string, nextOffset int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE backfill_cursors
		SET next_offset = $2, fail_count = 0, next_retry_at = NULL, last_error = '', updated_at = now()
		WHERE condition_id = $1`, conditionID, nextOffset)
	if err != nil {
		return fmt.Errorf("postgres.AdvanceCursor: %w", err)
	}
	return nil
}

func (s *Store) MarkCursorDone(ctx context.Context, conditionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE backfill_cursors SET done = TRUE, updated_at = now()
		WHERE condition_id = $1`, conditionID)
	if err != nil {
		return fmt.Errorf("postgres.MarkCursorDone: %w", err)
	}
	return nil
}

func (s *Store) FailCursor(ctx context.Context, conditionID string, nextRetryAt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE backfill_cursors
		SET fail_count = fail_count + 1, next_retry_at = $2, last_error = $3, updated_at = now()
		WHERE condition_id = $1`, conditionID, nextRetryAt, lastError)
	if err != nil {
		return fmt.Errorf("postgres.FailCursor: %w", err)
	}
	return nil
}
