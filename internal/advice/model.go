// Package advice blenda el precio cotizado del venue con las señales de las
// wallets fiables (posiciones + flujo reciente) en una probabilidad por
// mercado, con confianza, rango y factores explicativos.
package advice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
	"github.com/polyadvisor/engine/internal/ports"
)

const epsilon = 1e-9

// Config controla el modelo.
type Config struct {
	KPos              float64       // peso del position pressure en log-odds
	KFlow             float64       // peso del flow pressure en log-odds
	FlowLookback      time.Duration // ventana de flujo reciente
	FlowHalfLifeHours float64       // vida media del decay del flujo
	DefaultConfidence float64       // confianza fija cuando no hay evidencia
	ConfidenceFloor   float64
	MaxTopWallets     int
	CacheTTL          time.Duration // frescura del advice cacheado on-demand
}

// DefaultConfig devuelve los parámetros de producción.
func DefaultConfig() Config {
	return Config{
		KPos:              0.9,
		KFlow:             0.6,
		FlowLookback:      48 * time.Hour,
		FlowHalfLifeHours: 12,
		DefaultConfidence: 10,
		ConfidenceFloor:   5,
		MaxTopWallets:     10,
		CacheTTL:          60 * time.Second,
	}
}

// Model computa el advice por mercado.
type Model struct {
	markets   ports.MarketStore
	positions ports.PositionStore
	trades    ports.TradeStore
	stats     ports.StatsStore
	advice    ports.AdviceStore
	cfg       Config
	now       func() time.Time
}

// New crea un Model con las dependencias inyectadas.
func New(markets ports.MarketStore, positions ports.PositionStore, trades ports.TradeStore,
	stats ports.StatsStore, advice ports.AdviceStore, cfg Config) *Model {
	return &Model{
		markets:   markets,
		positions: positions,
		trades:    trades,
		stats:     stats,
		advice:    advice,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Cached devuelve el advice cacheado si sigue fresco, o lo recomputa.
func (m *Model) Cached(ctx context.Context, conditionID string) (domain.Advice, error) {
	a, err := m.advice.GetAdvice(ctx, conditionID)
	if err == nil && m.now().Sub(a.ComputedAt) < m.cfg.CacheTTL {
		return a, nil
	}
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return domain.Advice{}, err
	}
	return m.Compute(ctx, conditionID)
}

// Compute ejecuta el pipeline completo para un mercado, cachea el resultado
// y deriva el trend contra el advice del ciclo anterior.
func (m *Model) Compute(ctx context.Context, conditionID string) (domain.Advice, error) {
	market, err := m.markets.GetMarket(ctx, conditionID)
	if err != nil {
		return domain.Advice{}, fmt.Errorf("advice.Compute: %w", err)
	}
	now := m.now()

	positions, err := m.positions.ByMarket(ctx, conditionID)
	if err != nil {
		return domain.Advice{}, fmt.Errorf("advice.Compute: positions: %w", err)
	}
	flows, err := m.trades.RecentByMarket(ctx, conditionID, now.Add(-m.cfg.FlowLookback))
	if err != nil {
		return domain.Advice{}, fmt.Errorf("advice.Compute: flow: %w", err)
	}

	weights, err := m.walletWeights(ctx, positions, flows)
	if err != nil {
		return domain.Advice{}, fmt.Errorf("advice.Compute: %w", err)
	}

	pMkt := market.YesPrice()
	pos := positionSignal(positions, weights)
	flow := m.flowSignal(flows, weights, now)

	// Blend en log-odds: el resultado es siempre una probabilidad válida y
	// sin señal (presiones → 0) el modelo se reduce al precio del mercado.
	pModel := sigmoid(logit(pMkt) + m.cfg.KPos*pos.pressure + m.cfg.KFlow*flow.pressure)

	agreement := hedgeAgreement(positions)
	confidence := m.confidence(pos, flow, agreement)

	delta := math.Max(0.02, (1-confidence/100)*0.15)

	a := domain.Advice{
		ConditionID: conditionID,
		MarketPrice: pMkt,
		ModelProb:   pModel,
		Confidence:  confidence,
		RangeLow:    clip01(pModel - delta),
		RangeHigh:   clip01(pModel + delta),
		Drivers:     drivers(pMkt, pos.pressure, flow.pressure, agreement, m.evidenceStrength(pos, flow)),
		TopWallets:  m.topWallets(positions, flows, weights),
		ComputedAt:  now,
	}

	if prev, err := m.advice.GetAdvice(ctx, conditionID); err == nil {
		trend := pModel - prev.ModelProb
		a.Trend = &trend
	}

	if err := m.advice.UpsertAdvice(ctx, a); err != nil {
		return domain.Advice{}, fmt.Errorf("advice.Compute: cache: %w", err)
	}
	return a, nil
}

// walletWeights computa el peso de cada wallet implicada. Toda wallet
// contribuye al menos un 1% por factor: nunca hay exclusión dura.
func (m *Model) walletWeights(ctx context.Context, positions []domain.WalletPosition, flows []domain.Trade) (map[string]float64, error) {
	seen := make(map[string]bool)
	var wallets []string
	for _, p := range positions {
		if !seen[p.Wallet] {
			seen[p.Wallet] = true
			wallets = append(wallets, p.Wallet)
		}
	}
	for _, t := range flows {
		if !seen[t.Wallet] {
			seen[t.Wallet] = true
			wallets = append(wallets, t.Wallet)
		}
	}

	profiles, err := m.stats.ProfilesFor(ctx, wallets)
	if err != nil {
		return nil, err
	}

	weights := make(map[string]float64, len(wallets))
	for _, w := range wallets {
		p := profiles[w] // zero value si no hay perfil
		weights[w] = clampRange(p.FollowScore/100, 0.01, 1) * clampRange((p.AlphaZ+1)/6, 0.01, 1)
	}
	return weights, nil
}

// signal es una presión direccional más su evidencia agregada.
type signal struct {
	pressure float64
	evidence float64 // Σ |contribución ponderada|
	wallets  map[string]bool
}

// positionSignal computa la presión de posiciones: shares netas ponderadas
// de YES contra NO, normalizada a [-1, 1].
func positionSignal(positions []domain.WalletPosition, weights map[string]float64) signal {
	var yes, no float64
	wallets := make(map[string]bool)
	for _, p := range positions {
		contrib := p.NetShares * weights[p.Wallet]
		if p.OutcomeIdx == 0 {
			yes += contrib
		} else {
			no += contrib
		}
		wallets[p.Wallet] = true
	}
	return signal{
		pressure: (yes - no) / (math.Abs(yes) + math.Abs(no) + epsilon),
		evidence: math.Abs(yes) + math.Abs(no),
		wallets:  wallets,
	}
}

// flowSignal computa la presión del flujo reciente: coste BUY/SELL con
// signo, ponderado por wallet y decaído exponencialmente por antigüedad.
func (m *Model) flowSignal(flows []domain.Trade, weights map[string]float64, now time.Time) signal {
	var yes, no float64
	wallets := make(map[string]bool)
	for _, t := range flows {
		hoursAgo := now.Sub(t.Timestamp).Hours()
		if hoursAgo < 0 {
			hoursAgo = 0
		}
		decay := math.Exp(-math.Ln2 * hoursAgo / m.cfg.FlowHalfLifeHours)
		contrib := t.Cost() * decay * weights[t.Wallet]
		if t.Side == domain.SideSell {
			contrib = -contrib
		}
		if t.OutcomeIdx == 0 {
			yes += contrib
		} else {
			no += contrib
		}
		wallets[t.Wallet] = true
	}
	return signal{
		pressure: (yes - no) / (math.Abs(yes) + math.Abs(no) + epsilon),
		evidence: math.Abs(yes) + math.Abs(no),
		wallets:  wallets,
	}
}

// hedgeAgreement mide cuánto acuerdo hay entre las wallets con posición:
// 1 − fracción de wallets que sostienen ambos outcomes a la vez.
func hedgeAgreement(positions []domain.WalletPosition) float64 {
	sides := make(map[string]map[int]bool)
	for _, p := range positions {
		if p.NetShares == 0 {
			continue
		}
		set, ok := sides[p.Wallet]
		if !ok {
			set = make(map[int]bool)
			sides[p.Wallet] = set
		}
		set[p.OutcomeIdx] = true
	}
	if len(sides) == 0 {
		return 1
	}
	both := 0
	for _, set := range sides {
		if len(set) >= 2 {
			both++
		}
	}
	frac := float64(both) / float64(len(sides))
	return 1 - math.Min(1, frac)
}

// Umbrales bajo los que la evidencia se considera despreciable.
const (
	minFlowEvidence  = 10.0 // USDC ponderados
	minShareEvidence = 10.0 // shares ponderadas
)

// confidence computa la confianza 0-100. Sin evidencia devuelve el default
// fijo; con evidencia, nunca baja del floor.
func (m *Model) confidence(pos, flow signal, agreement float64) float64 {
	if flow.evidence < minFlowEvidence && pos.evidence < minShareEvidence {
		return m.cfg.DefaultConfidence
	}

	es := m.evidenceStrength(pos, flow)
	diversity := math.Min(1, float64(len(union(pos.wallets, flow.wallets)))/8)

	conf := 100 * es * agreement * (0.5 + 0.5*diversity)
	if conf < m.cfg.ConfidenceFloor {
		conf = m.cfg.ConfidenceFloor
	}
	return math.Min(100, conf)
}

// evidenceStrength satura logarítmicamente con el flujo en dólares y el
// volumen de shares ponderados: doblar la evidencia suma cada vez menos.
func (m *Model) evidenceStrength(pos, flow signal) float64 {
	flowPart := saturate(flow.evidence, 5000)
	sharePart := saturate(pos.evidence, 20000)
	return clampRange((flowPart+sharePart)/2, 0, 1)
}

func saturate(x, scale float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(x)/math.Log1p(scale))
}

// drivers construye los factores explicativos, el baseline primero y el
// resto ordenado por magnitud.
func drivers(pMkt, posPressure, flowPressure, agreement, evidence float64) []domain.Driver {
	rest := []domain.Driver{
		{Name: "position pressure", Value: posPressure, Effect: pressureEffect(posPressure)},
		{Name: "flow pressure", Value: flowPressure, Effect: pressureEffect(flowPressure)},
		{Name: "agreement", Value: agreement, Effect: agreementEffect(agreement)},
		{Name: "evidence strength", Value: evidence, Effect: agreementEffect(evidence)},
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return math.Abs(rest[i].Value) > math.Abs(rest[j].Value)
	})
	return append([]domain.Driver{{Name: "baseline price", Value: pMkt, Effect: "neutral"}}, rest...)
}

func pressureEffect(p float64) string {
	switch {
	case p > 0.01:
		return "raises"
	case p < -0.01:
		return "lowers"
	default:
		return "neutral"
	}
}

func agreementEffect(a float64) string {
	switch {
	case a >= 0.75:
		return "raises"
	case a < 0.4:
		return "lowers"
	default:
		return "neutral"
	}
}

// topWallets devuelve hasta MaxTopWallets wallets ordenadas por
// |shares netas| × peso, con su lado dominante y su flujo reciente.
func (m *Model) topWallets(positions []domain.WalletPosition, flows []domain.Trade, weights map[string]float64) []domain.WalletStake {
	net := make(map[string]float64)
	for _, p := range positions {
		if p.OutcomeIdx == 0 {
			net[p.Wallet] += p.NetShares
		} else {
			net[p.Wallet] -= p.NetShares
		}
	}

	recent := make(map[string]float64)
	for _, t := range flows {
		cost := t.Cost()
		if t.Side == domain.SideSell {
			cost = -cost
		}
		recent[t.Wallet] += cost
	}

	stakes := make([]domain.WalletStake, 0, len(net))
	for wallet, shares := range net {
		if shares == 0 {
			continue
		}
		side := "YES"
		if shares < 0 {
			side = "NO"
		}
		stakes = append(stakes, domain.WalletStake{
			Wallet:     wallet,
			Side:       side,
			Weight:     weights[wallet],
			NetShares:  shares,
			RecentFlow: recent[wallet],
		})
	}
	sort.Slice(stakes, func(i, j int) bool {
		return math.Abs(stakes[i].NetShares)*stakes[i].Weight > math.Abs(stakes[j].NetShares)*stakes[j].Weight
	})
	if len(stakes) > m.cfg.MaxTopWallets {
		stakes = stakes[:m.cfg.MaxTopWallets]
	}
	return stakes
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampRange(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clip01(x float64) float64 {
	return clampRange(x, 0, 1)
}
