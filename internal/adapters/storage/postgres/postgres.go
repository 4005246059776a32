// Package postgres implementa ports.Storage sobre PostgreSQL con pgx.
// Todas las escrituras son upserts con cláusulas ON CONFLICT explícitas;
// la exclusión mutua entre jobs usa advisory locks de sesión, que se
// liberan solos si el proceso muere con el lock tomado.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyadvisor/engine/internal/ports"
)

// Store implementa ports.Storage. Se construye explícitamente al arrancar
// el proceso y se cierra en el shutdown; no hay estado global perezoso.
type Store struct {
	pool *pgxpool.Pool
}

var _ ports.Storage = (*Store)(nil)

// New abre el pool, verifica la conexión y aplica las migraciones.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: %w", err)
	}
	return s, nil
}

// Close cierra el pool de conexiones.
func (s *Store) Close() {
	s.pool.Close()
}

// TryLock intenta el advisory lock de sesión sin bloquear. El lock queda
// anclado a una conexión del pool que no se devuelve hasta el unlock.
func (s *Store) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("postgres.TryLock: acquire conn: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("postgres.TryLock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		// Background: el unlock debe ejecutarse aunque el ctx del job
		// ya esté cancelado.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return unlock, true, nil
}
