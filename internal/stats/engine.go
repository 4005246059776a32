// Package stats recomputa las estadísticas de fiabilidad por wallet. El
// recómputo es completo en cada ciclo: no hay mutación incremental, así que
// no se acumula staleness ni deriva.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

// Config controla la síntesis de perfiles.
type Config struct {
	HalfLifeDays float64       // vida media del decay de recencia del score
	LateWindow   time.Duration // ventana antes del cierre que cuenta como "late"
}

// DefaultConfig devuelve los parámetros de producción.
func DefaultConfig() Config {
	return Config{
		HalfLifeDays: 30,
		LateWindow:   24 * time.Hour,
	}
}

// Engine computa WalletStats por umbral y sintetiza WalletProfiles.
type Engine struct {
	trades ports.TradeStore
	stats  ports.StatsStore
	cfg    Config
	now    func() time.Time
}

// New crea un Engine con las dependencias inyectadas.
func New(trades ports.TradeStore, stats ports.StatsStore, cfg Config) *Engine {
	return &Engine{trades: trades, stats: stats, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Summary resume un recómputo.
type Summary struct {
	Trades    int `json:"trades"`
	StatsRows int `json:"statsRows"`
	Profiles  int `json:"profiles"`
}

// Recompute recalcula todo desde el historial de trades resueltos y
// sustituye las tablas de stats y perfiles.
func (e *Engine) Recompute(ctx context.Context) (Summary, error) {
	buys, err := e.trades.ResolvedBuys(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("stats.Recompute: %w", err)
	}

	var rows []domain.WalletStats
	byThreshold := make(map[float64]map[string]domain.WalletStats, len(domain.Thresholds))
	for _, threshold := range domain.Thresholds {
		agg := aggregate(buys, threshold)
		byThreshold[threshold] = agg
		for _, st := range agg {
			rows = append(rows, st)
		}
	}

	profiles := e.synthesize(buys, byThreshold)

	if err := e.stats.ReplaceStats(ctx, rows); err != nil {
		return Summary{}, fmt.Errorf("stats.Recompute: %w", err)
	}
	if err := e.stats.ReplaceProfiles(ctx, profiles); err != nil {
		return Summary{}, fmt.Errorf("stats.Recompute: %w", err)
	}

	slog.Info("stats recomputed",
		"trades", len(buys),
		"stats_rows", len(rows),
		"profiles", len(profiles),
	)
	return Summary{Trades: len(buys), StatsRows: len(rows), Profiles: len(profiles)}, nil
}

// aggregate agrupa por wallet los BUY trades resueltos con 0 < price ≤
// threshold y computa el z-score binomial de cada una.
func aggregate(buys []domain.ResolvedBuy, threshold float64) map[string]domain.WalletStats {
	out := make(map[string]domain.WalletStats)
	for _, b := range buys {
		if b.Price <= 0 || b.Price > threshold {
			continue
		}
		st := out[b.Wallet]
		st.Wallet = b.Wallet
		st.Threshold = threshold
		st.N++
		if b.Won() {
			st.Wins++
		}
		st.ExpectedWins += b.Price
		st.Variance += b.Price * (1 - b.Price)
		out[b.Wallet] = st
	}
	for w, st := range out {
		st.AlphaZ = domain.AlphaZ(st.Wins, st.ExpectedWins, st.Variance)
		out[w] = st
	}
	return out
}

// synthesize construye los perfiles usando el set del umbral más ancho para
// hedge/lateness/recencia, y el alpha-Z del umbral canónico (0.02) para el
// score y la puerta. Si la wallet no tiene fila canónica se usa la mejor
// disponible entre umbrales.
func (e *Engine) synthesize(buys []domain.ResolvedBuy, byThreshold map[float64]map[string]domain.WalletStats) []domain.WalletProfile {
	widest := domain.Thresholds[0]
	now := e.now()

	type walletAgg struct {
		trades     int
		late       int
		lastAt     time.Time
		outcomeSet map[string]map[int]bool // market → outcomes comprados
	}
	aggs := make(map[string]*walletAgg)

	for _, b := range buys {
		if b.Price <= 0 || b.Price > widest {
			continue
		}
		a, ok := aggs[b.Wallet]
		if !ok {
			a = &walletAgg{outcomeSet: make(map[string]map[int]bool)}
			aggs[b.Wallet] = a
		}
		a.trades++
		if !b.EndDate.IsZero() && b.Timestamp.After(b.EndDate.Add(-e.cfg.LateWindow)) {
			a.late++
		}
		if b.Timestamp.After(a.lastAt) {
			a.lastAt = b.Timestamp
		}
		set, ok := a.outcomeSet[b.ConditionID]
		if !ok {
			set = make(map[int]bool)
			a.outcomeSet[b.ConditionID] = set
		}
		set[b.OutcomeIdx] = true
	}

	profiles := make([]domain.WalletProfile, 0, len(aggs))
	for wallet, a := range aggs {
		hedged := 0
		for _, set := range a.outcomeSet {
			if len(set) >= 2 {
				hedged++
			}
		}
		hedgeRate := 0.0
		if len(a.outcomeSet) > 0 {
			hedgeRate = float64(hedged) / float64(len(a.outcomeSet))
		}
		lateRate := 0.0
		if a.trades > 0 {
			lateRate = float64(a.late) / float64(a.trades)
		}

		st, ok := byThreshold[domain.CanonicalThreshold][wallet]
		if !ok {
			st = bestAvailable(wallet, byThreshold)
		}

		days := now.Sub(a.lastAt).Hours() / 24
		if days < 0 {
			days = 0
		}

		profiles = append(profiles, domain.WalletProfile{
			Wallet:          wallet,
			AlphaZ:          st.AlphaZ,
			SampleSize:      st.N,
			FollowScore:     domain.FollowScore(st.N, st.AlphaZ, hedgeRate, lateRate, days, e.cfg.HalfLifeDays),
			IsFollowable:    domain.IsFollowable(st.N, st.AlphaZ, hedgeRate, lateRate),
			HedgeRate:       hedgeRate,
			LateSnipingRate: lateRate,
			LastTradeAt:     a.lastAt,
		})
	}
	return profiles
}

// bestAvailable devuelve la fila con mejor alpha-Z de la wallet entre todos
// los umbrales, o una fila vacía si no tiene ninguna.
func bestAvailable(wallet string, byThreshold map[float64]map[string]domain.WalletStats) domain.WalletStats {
	var best domain.WalletStats
	found := false
	for _, agg := range byThreshold {
		st, ok := agg[wallet]
		if !ok {
			continue
		}
		if !found || st.AlphaZ > best.AlphaZ {
			best = st
			found = true
		}
	}
	return best
}
