// Package ingest sincroniza mercados, resoluciones y trades desde el venue.
// Todo el progreso vive en cursores persistidos: una invocación cortada por
// presupuesto se retoma en la siguiente sin estado en memoria.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/polyadvisor/engine/internal/cron"
	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

// Config controla tamaños de página y de batch del pipeline.
type Config struct {
	MarketsPageSize    int
	TradesPageSize     int
	ResolutionBatch    int
	CursorPrepareBatch int
	CursorDrainBatch   int
}

// DefaultConfig devuelve los tamaños de producción.
func DefaultConfig() Config {
	return Config{
		MarketsPageSize:    250,
		TradesPageSize:     500,
		ResolutionBatch:    50,
		CursorPrepareBatch: 200,
		CursorDrainBatch:   20,
	}
}

// Pipeline ejecuta las cuatro etapas del job de sync en orden estricto:
// mercados → resoluciones → preparar backfill → drenar backfill. Las etapas
// posteriores dependen lógicamente de las anteriores.
type Pipeline struct {
	markets ports.MarketSource
	trades  ports.TradeSource
	store   ports.Storage
	cfg     Config
	now     func() time.Time
}

// NewPipeline crea un Pipeline con las dependencias inyectadas.
func NewPipeline(markets ports.MarketSource, trades ports.TradeSource, store ports.Storage, cfg Config) *Pipeline {
	return &Pipeline{
		markets: markets,
		trades:  trades,
		store:   store,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sync es el handler del job de ingesta. Chequea el presupuesto antes de
// cada unidad de trabajo; si corta, reporta partial con la etapa donde paró.
func (p *Pipeline) Sync(jc *cron.Context) (cron.Outcome, error) {
	summary := map[string]any{}
	stoppedAt := ""

	stages := []struct {
		name string
		run  func(jc *cron.Context, summary map[string]any) error
	}{
		{"markets", p.syncMarkets},
		{"resolutions", p.syncResolutions},
		{"prepare", p.prepareBackfill},
		{"backfill", p.drainBackfill},
	}

	for _, stage := range stages {
		if jc.BudgetExceeded() {
			stoppedAt = stage.name
			break
		}
		if err := stage.run(jc, summary); err != nil {
			return cron.Outcome{}, fmt.Errorf("ingest.Sync: %s: %w", stage.name, err)
		}
		if s, ok := summary["stoppedAt"]; ok {
			stoppedAt = s.(string)
			delete(summary, "stoppedAt")
			break
		}
	}

	if err := p.store.SetState(jc, domain.StateLastSyncAt, p.now().Format(time.RFC3339)); err != nil {
		slog.Warn("persist sync checkpoint failed", "err", err)
	}

	status := domain.RunSuccess
	if stoppedAt != "" {
		status = domain.RunPartial
	}
	return cron.Outcome{Status: status, Summary: summary, StoppedAt: stoppedAt}, nil
}

// syncMarkets trae UNA página del listado desde el offset persistido y lo
// avanza, o lo resetea a 0 si el listado se agotó (scan cíclico completo).
func (p *Pipeline) syncMarkets(jc *cron.Context, summary map[string]any) error {
	offset, err := p.stateInt(jc, domain.StateMarketsOffset, 0)
	if err != nil {
		return err
	}

	page, err := p.markets.FetchMarketsPage(jc, offset, p.cfg.MarketsPageSize)
	if err != nil {
		// Fallo de página: se loguea y se sigue con las demás etapas; el
		// offset no avanza y la página se reintenta el próximo ciclo.
		slog.Warn("markets page fetch failed", "offset", offset, "err", err)
		summary["marketsFailed"] = 1
		return nil
	}

	if len(page) == 0 {
		summary["markets"] = 0
		return p.store.SetState(jc, domain.StateMarketsOffset, "0")
	}

	if err := p.store.UpsertMarkets(jc, page); err != nil {
		return err
	}
	summary["markets"] = len(page)
	return p.store.SetState(jc, domain.StateMarketsOffset, strconv.Itoa(offset+p.cfg.MarketsPageSize))
}

// syncResolutions busca ganador para mercados cerrados sin resolución, los
// de cierre más reciente primero. Fallos individuales no abortan el batch.
func (p *Pipeline) syncResolutions(jc *cron.Context, summary map[string]any) error {
	markets, err := p.store.ClosedWithoutResolution(jc, p.cfg.ResolutionBatch)
	if err != nil {
		return err
	}

	var batch domain.BatchSummary
	for _, m := range markets {
		if jc.BudgetExceeded() {
			summary["stoppedAt"] = "resolutions"
			break
		}
		batch.Add(p.resolveOne(jc, m))
	}

	summary["resolutions"] = batch.OK
	if batch.Skipped > 0 {
		summary["resolutionsPending"] = batch.Skipped
	}
	if batch.Failed > 0 {
		summary["resolutionsFailed"] = batch.Failed
	}
	return nil
}

func (p *Pipeline) resolveOne(ctx context.Context, m domain.Market) domain.ItemResult {
	res, err := p.markets.FetchWinner(ctx, m.ConditionID)
	if errors.Is(err, ports.ErrNoWinner) {
		return domain.ItemResult{Key: m.ConditionID, Status: domain.ItemSkipped, Reason: "no winner yet"}
	}
	if err != nil {
		slog.Warn("winner fetch failed", "market", m.ConditionID, "err", err)
		return domain.ItemResult{Key: m.ConditionID, Status: domain.ItemFailed, Reason: err.Error()}
	}
	if err := p.store.UpsertResolution(ctx, res); err != nil {
		slog.Warn("resolution upsert failed", "market", m.ConditionID, "err", err)
		return domain.ItemResult{Key: m.ConditionID, Status: domain.ItemFailed, Reason: err.Error()}
	}
	return domain.ItemResult{Key: m.ConditionID, Status: domain.ItemOK}
}

// prepareBackfill crea cursores a offset 0 para resoluciones nuevas.
// Operación local al storage, sin llamadas al venue.
func (p *Pipeline) prepareBackfill(jc *cron.Context, summary map[string]any) error {
	created, err := p.store.CreateMissingCursors(jc, p.cfg.CursorPrepareBatch)
	if err != nil {
		return err
	}
	summary["cursorsCreated"] = created
	return nil
}

// drainBackfill avanza los cursores pendientes: una página de BUY trades
// por cursor. Página corta → done; fallo → cooldown lineal sin bloquear al
// resto de mercados.
func (p *Pipeline) drainBackfill(jc *cron.Context, summary map[string]any) error {
	cursors, err := p.store.DueCursors(jc, p.now(), p.cfg.CursorDrainBatch)
	if err != nil {
		return err
	}

	var batch domain.BatchSummary
	inserted := 0
	for _, c := range cursors {
		if jc.BudgetExceeded() {
			summary["stoppedAt"] = "backfill"
			break
		}
		n, res := p.drainOne(jc, c)
		inserted += n
		batch.Add(res)
	}

	summary["cursorsDrained"] = batch.OK
	summary["tradesBackfilled"] = inserted
	if batch.Failed > 0 {
		summary["cursorsFailed"] = batch.Failed
	}
	return nil
}

func (p *Pipeline) drainOne(ctx context.Context, c domain.BackfillCursor) (int, domain.ItemResult) {
	page, err := p.trades.FetchMarketBuys(ctx, c.ConditionID, c.NextOffset, p.cfg.TradesPageSize)
	if err != nil {
		slog.Warn("backfill page fetch failed",
			"market", c.ConditionID,
			"offset", c.NextOffset,
			"fail_count", c.FailCount+1,
			"err", err,
		)
		retryAt := p.now().Add(domain.RetryDelay(c.FailCount))
		if ferr := p.store.FailCursor(ctx, c.ConditionID, retryAt, err.Error()); ferr != nil {
			slog.Warn("cursor fail update failed", "market", c.ConditionID, "err", ferr)
		}
		return 0, domain.ItemResult{Key: c.ConditionID, Status: domain.ItemFailed, Reason: err.Error()}
	}

	insertedTrades, err := p.store.InsertTrades(ctx, page)
	if err != nil {
		return 0, domain.ItemResult{Key: c.ConditionID, Status: domain.ItemFailed, Reason: err.Error()}
	}

	if len(page) < p.cfg.TradesPageSize {
		if err := p.store.MarkCursorDone(ctx, c.ConditionID); err != nil {
			return len(insertedTrades), domain.ItemResult{Key: c.ConditionID, Status: domain.ItemFailed, Reason: err.Error()}
		}
	} else {
		if err := p.store.AdvanceCursor(ctx, c.ConditionID, c.NextOffset+p.cfg.TradesPageSize); err != nil {
			return len(insertedTrades), domain.ItemResult{Key: c.ConditionID, Status: domain.ItemFailed, Reason: err.Error()}
		}
	}
	return len(insertedTrades), domain.ItemResult{Key: c.ConditionID, Status: domain.ItemOK}
}

func (p *Pipeline) stateInt(ctx context.Context, key string, def int) (int, error) {
	raw, err := p.store.GetState(ctx, key, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("malformed state value, using default", "key", key, "value", raw)
		return def, nil
	}
	return v, nil
}
