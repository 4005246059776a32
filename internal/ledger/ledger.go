// Package ledger deriva balances netos por (wallet, mercado, outcome) a
// partir de deltas de trades.
package ledger

import (
	"context"
	"fmt"

	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

// Ledger acumula deltas de trades en el PositionStore.
type Ledger struct {
	positions ports.PositionStore
}

// New crea un Ledger sobre el store dado.
func New(positions ports.PositionStore) *Ledger {
	return &Ledger{positions: positions}
}

// Apply acumula los deltas de los trades dados y devuelve cuántos aplicó.
//
// El caller debe pasar EXACTAMENTE los trades recién insertados en el trade
// store: re-aplicar un trade ya contado duplicaría su delta. La idempotencia
// del conjunto viene del insert content-addressed, no de aquí.
func (l *Ledger) Apply(ctx context.Context, trades []domain.Trade) (int, error) {
	applied := 0
	for _, t := range trades {
		if t.OutcomeIdx < 0 || t.OutcomeIdx > 1 || t.Size <= 0 {
			continue
		}
		if err := l.positions.ApplyDelta(ctx, t.Wallet, t.ConditionID, t.OutcomeIdx, t.Delta(), t.Timestamp); err != nil {
			return applied, fmt.Errorf("ledger.Apply %s: %w", t.ID, err)
		}
		applied++
	}

	if applied > 0 {
		if err := l.positions.ClampResiduals(ctx); err != nil {
			return applied, fmt.Errorf("ledger.Apply: clamp: %w", err)
		}
	}
	return applied, nil
}
