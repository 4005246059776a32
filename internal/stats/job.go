package stats

import (
	"log/slog"
	"time"

	"github.com/polyadvisor/engine/internal/cron"
	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

// Job adapta el recómputo de estadísticas al contrato de handler de cron y
// persiste el checkpoint last_compute_at. El recómputo es una sola unidad:
// no hay corte parcial por presupuesto.
func (e *Engine) Job(etl ports.EtlStore) cron.Handler {
	return func(jc *cron.Context) (cron.Outcome, error) {
		sum, err := e.Recompute(jc)
		if err != nil {
			return cron.Outcome{}, err
		}
		if err := etl.SetState(jc, domain.StateLastComputeAt, e.now().Format(time.RFC3339)); err != nil {
			slog.Warn("persist compute checkpoint failed", "err", err)
		}
		return cron.Outcome{
			Status: domain.RunSuccess,
			Summary: map[string]any{
				"trades":    sum.Trades,
				"statsRows": sum.StatsRows,
				"profiles":  sum.Profiles,
			},
		}, nil
	}
}
