package ingest

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/polyadvisor/engine/internal/cron"
	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ledger"
	"github.com/polyadvisor/engine/internal/ports"
)

// LiveConfig controla el refresco de wallets seguidas y precios.
type LiveConfig struct {
	// MaxTarget limita el universo de wallets candidatas por ciclo.
	MaxTarget int
	// MaxPerRun limita cuántas wallets se refrescan por invocación.
	MaxPerRun int
	// TradePageSize es el límite por lado al pedir trades de una wallet.
	TradePageSize int
	// PriceBatch limita los tokens cuyo precio se refresca por ciclo.
	PriceBatch int
}

// DefaultLiveConfig devuelve los límites de producción.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		MaxTarget:     400,
		MaxPerRun:     60,
		TradePageSize: 500,
		PriceBatch:    50,
	}
}

// Live refresca incrementalmente los trades de las wallets priorizadas y
// los precios de los tokens donde mantienen posición. Es el único camino
// que alimenta el ledger de posiciones.
type Live struct {
	markets ports.MarketSource
	trades  ports.TradeSource
	store   ports.Storage
	ledger  *ledger.Ledger
	cfg     LiveConfig
	now     func() time.Time
}

// NewLive crea el job de refresco con las dependencias inyectadas.
func NewLive(markets ports.MarketSource, trades ports.TradeSource, store ports.Storage, led *ledger.Ledger, cfg LiveConfig) *Live {
	return &Live{
		markets: markets,
		trades:  trades,
		store:   store,
		ledger:  led,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Refresh es el handler del job live-sync.
func (l *Live) Refresh(jc *cron.Context) (cron.Outcome, error) {
	wallets, err := l.selectWallets(jc)
	if err != nil {
		return cron.Outcome{}, err
	}
	if len(wallets) > l.cfg.MaxPerRun {
		wallets = wallets[:l.cfg.MaxPerRun]
	}

	var batch domain.BatchSummary
	inserted := 0
	stoppedAt := ""
	for _, w := range wallets {
		if jc.BudgetExceeded() {
			stoppedAt = "wallets"
			break
		}
		n, res := l.refreshWallet(jc, w)
		inserted += n
		batch.Add(res)
	}

	priced := 0
	if stoppedAt == "" {
		priced, err = l.refreshPrices(jc, wallets)
		if err != nil {
			slog.Warn("price refresh failed", "err", err)
		}
		if jc.BudgetExceeded() && priced < l.cfg.PriceBatch {
			stoppedAt = "prices"
		}
	}

	if err := l.store.SetState(jc, domain.StateLastLiveAt, l.now().Format(time.RFC3339)); err != nil {
		slog.Warn("persist live checkpoint failed", "err", err)
	}

	status := domain.RunSuccess
	if stoppedAt != "" {
		status = domain.RunPartial
	}
	summary := map[string]any{
		"wallets":        batch.OK,
		"tradesInserted": inserted,
		"pricesUpdated":  priced,
	}
	if batch.Failed > 0 {
		summary["walletsFailed"] = batch.Failed
	}
	return cron.Outcome{Status: status, Summary: summary, StoppedAt: stoppedAt}, nil
}

// selectWallets fusiona los rankings de candidatas en orden de prioridad.
// La primera aparición gana: una wallet followable no baja de rango por
// aparecer también en la watchlist.
func (l *Live) selectWallets(ctx context.Context) ([]string, error) {
	limit := l.cfg.MaxTarget
	sources := []func(context.Context) ([]string, error){
		func(ctx context.Context) ([]string, error) {
			return l.store.FollowableWallets(ctx, limit)
		},
		func(ctx context.Context) ([]string, error) {
			return l.store.PositiveAlphaZWallets(ctx, domain.Thresholds[len(domain.Thresholds)-1], 1, limit)
		},
		func(ctx context.Context) ([]string, error) {
			return l.store.PositiveScoreWallets(ctx, limit)
		},
	}
	for _, th := range domain.Thresholds {
		threshold := th
		sources = append(sources, func(ctx context.Context) ([]string, error) {
			return l.store.PositiveAlphaZWallets(ctx, threshold, domain.MinSampleSize, limit)
		})
	}
	sources = append(sources, l.store.Watchlist)

	seen := make(map[string]struct{}, limit)
	merged := make([]string, 0, limit)
	for _, src := range sources {
		if len(merged) >= limit {
			break
		}
		ws, err := src(ctx)
		if err != nil {
			return nil, err
		}
		for _, w := range ws {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			merged = append(merged, w)
			if len(merged) >= limit {
				break
			}
		}
	}
	return merged, nil
}

// refreshWallet trae BUY y SELL en paralelo desde el cursor de la wallet,
// deduplica, persiste y aplica al ledger solo lo insertado ahora.
func (l *Live) refreshWallet(ctx context.Context, wallet string) (int, domain.ItemResult) {
	since, err := l.store.WalletCursor(ctx, wallet)
	if err != nil {
		return 0, domain.ItemResult{Key: wallet, Status: domain.ItemFailed, Reason: err.Error()}
	}

	var (
		wg    sync.WaitGroup
		pages [2][]domain.Trade
		errs  [2]error
	)
	for i, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		wg.Add(1)
		go func(i int, side domain.Side) {
			defer wg.Done()
			pages[i], errs[i] = l.trades.FetchWalletTrades(ctx, wallet, side, since, l.cfg.TradePageSize)
		}(i, side)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			slog.Warn("wallet trades fetch failed", "wallet", wallet, "err", err)
			return 0, domain.ItemResult{Key: wallet, Status: domain.ItemFailed, Reason: err.Error()}
		}
	}

	fresh := dedupeAfter(append(pages[0], pages[1]...), since)
	if len(fresh) == 0 {
		return 0, domain.ItemResult{Key: wallet, Status: domain.ItemOK}
	}

	// Placeholders para mercados que todavía no pasaron por el sync de
	// metadata. Best-effort: un fallo aquí no descarta los trades.
	if err := l.store.EnsureMarkets(ctx, conditionIDs(fresh)); err != nil {
		slog.Warn("ensure markets failed", "wallet", wallet, "err", err)
	}

	inserted, err := l.store.InsertTrades(ctx, fresh)
	if err != nil {
		return 0, domain.ItemResult{Key: wallet, Status: domain.ItemFailed, Reason: err.Error()}
	}
	if _, err := l.ledger.Apply(ctx, inserted); err != nil {
		return len(inserted), domain.ItemResult{Key: wallet, Status: domain.ItemFailed, Reason: err.Error()}
	}

	maxTs := since
	for _, t := range fresh {
		if t.Timestamp.After(maxTs) {
			maxTs = t.Timestamp
		}
	}
	if err := l.store.SetWalletCursor(ctx, wallet, maxTs); err != nil {
		return len(inserted), domain.ItemResult{Key: wallet, Status: domain.ItemFailed, Reason: err.Error()}
	}
	return len(inserted), domain.ItemResult{Key: wallet, Status: domain.ItemOK}
}

// refreshPrices cotiza los tokens con posición neta positiva entre las
// wallets refrescadas. Cada token es best-effort.
func (l *Live) refreshPrices(jc *cron.Context, wallets []string) (int, error) {
	if len(wallets) == 0 {
		return 0, nil
	}
	tokens, err := l.store.TokensToRefresh(jc, wallets, l.cfg.PriceBatch)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, tok := range tokens {
		if jc.BudgetExceeded() {
			break
		}
		price, err := l.markets.FetchPrice(jc, tok)
		if err != nil {
			slog.Warn("price fetch failed", "token", short(tok), "err", err)
			continue
		}
		if err := l.store.SetTokenPrice(jc, tok, price); err != nil {
			slog.Warn("price update failed", "token", short(tok), "err", err)
			continue
		}
		updated++
	}
	return updated, nil
}

// dedupeAfter elimina duplicados por id y descarta los trades con
// timestamp no posterior a since, devolviendo orden cronológico.
func dedupeAfter(trades []domain.Trade, since time.Time) []domain.Trade {
	seen := make(map[string]struct{}, len(trades))
	out := make([]domain.Trade, 0, len(trades))
	for _, t := range trades {
		if !since.IsZero() && !t.Timestamp.After(since) {
			continue
		}
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func conditionIDs(trades []domain.Trade) []string {
	seen := make(map[string]struct{}, len(trades))
	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		if _, ok := seen[t.ConditionID]; ok {
			continue
		}
		seen[t.ConditionID] = struct{}{}
		ids = append(ids, t.ConditionID)
	}
	return ids
}

func short(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10] + "…"
}
