package advice

import (
	"log/slog"

	"github.com/polyadvisor/engine/internal/cron"
	"github.com/polyadvisor/engine/internal/domain"
)

// Batch recomputa el advice de los mercados abiertos más recientes, con
// check de presupuesto entre mercados. Es el handler del job
// compute-markets; el fallo de un mercado no aborta el batch.
func (m *Model) Batch(jc *cron.Context, limit int) (cron.Outcome, error) {
	markets, err := m.markets.OpenMarkets(jc, limit)
	if err != nil {
		return cron.Outcome{}, err
	}

	var batch domain.BatchSummary
	stoppedAt := ""
	for _, market := range markets {
		if jc.BudgetExceeded() {
			stoppedAt = "advice"
			break
		}
		if _, err := m.Compute(jc, market.ConditionID); err != nil {
			slog.Warn("advice compute failed",
				"market", market.ConditionID,
				"err", err,
			)
			batch.Add(domain.ItemResult{Key: market.ConditionID, Status: domain.ItemFailed, Reason: err.Error()})
			continue
		}
		batch.Add(domain.ItemResult{Key: market.ConditionID, Status: domain.ItemOK})
	}

	status := domain.RunSuccess
	if stoppedAt != "" {
		status = domain.RunPartial
	}
	return cron.Outcome{
		Status:    status,
		StoppedAt: stoppedAt,
		Summary: map[string]any{
			"markets": batch.Total(),
			"ok":      batch.OK,
			"failed":  batch.Failed,
		},
	}, nil
}
