package domain

import (
	"math"
	"time"
)

// Thresholds son los umbrales de precio sobre los que se agregan las
// estadísticas por wallet. Un trade cuenta para un umbral si compró a
// precio ≤ umbral (longshots: cuanto más bajo, más señal tiene acertar).
var Thresholds = [3]float64{0.05, 0.02, 0.01}

// CanonicalThreshold es el umbral que alimenta el perfil de la wallet
// (FollowScore e IsFollowable). Ver DESIGN.md.
const CanonicalThreshold = 0.02

// WalletStats agrega los BUY trades de una wallet en mercados resueltos
// a precio ≤ Threshold. Se recomputa completo en cada ciclo.
type WalletStats struct {
	Wallet       string
	Threshold    float64
	N            int     // trades que califican
	Wins         int     // trades cuyo outcome coincidió con el ganador
	ExpectedWins float64 // Σ price
	Variance     float64 // Σ price·(1−price)
	AlphaZ       float64 // (Wins − ExpectedWins)/√Variance
}

// AlphaZ computa el z-score binomial de una wallet: cuántas desviaciones
// estándar por encima del azar está su tasa de aciertos. Devuelve 0 si la
// varianza es 0 (todos los precios en 0 o 1; no debería ocurrir con el
// filtro price > 0, pero se protege igualmente).
func AlphaZ(wins int, expectedWins, variance float64) float64 {
	if variance <= 0 {
		return 0
	}
	return (float64(wins) - expectedWins) / math.Sqrt(variance)
}

// ResolvedBuy es un BUY trade en un mercado ya resuelto, junto con el
// outcome ganador y el cierre del mercado. Es la unidad de entrada del
// motor de estadísticas.
type ResolvedBuy struct {
	Trade
	WinnerIdx int
	EndDate   time.Time
}

// Won devuelve true si el trade compró el outcome que resultó ganador.
func (r ResolvedBuy) Won() bool {
	return r.OutcomeIdx == r.WinnerIdx
}

// Parámetros del perfil de wallet.
const (
	// MinSampleSize es el mínimo de trades que califican para considerar
	// la señal de una wallet estadísticamente interesante.
	MinSampleSize = 30

	// MaxHedgeRate y MaxLateRate son las puertas duras de IsFollowable.
	MaxHedgeRate = 0.25
	MaxLateRate  = 0.60
)

// WalletProfile es el resumen escalar de fiabilidad de una wallet, derivado
// de WalletStats al umbral canónico más su historial de trades. Se
// recomputa completo en cada ciclo.
type WalletProfile struct {
	Wallet          string
	AlphaZ          float64
	SampleSize      int
	FollowScore     float64 // 0..100
	IsFollowable    bool
	HedgeRate       float64 // fracción de sus mercados donde compró ambos outcomes
	LateSnipingRate float64 // fracción de trades pegados al cierre del mercado
	LastTradeAt     time.Time
}

// FollowScore combina muestra, edge, hedging, lateness y recencia en un
// score continuo 0..100. Cada factor está en [0,1]; el score nunca sale
// del rango.
func FollowScore(n int, alphaZ, hedgeRate, lateRate float64, daysSinceLastTrade, halfLifeDays float64) float64 {
	sample := clamp01(float64(n) / 50)
	edge := clamp01((alphaZ + 1) / 6)
	recency := 1.0
	if halfLifeDays > 0 && daysSinceLastTrade > 0 {
		recency = math.Exp(-math.Ln2 * daysSinceLastTrade / halfLifeDays)
	}
	return 100 * sample * edge * (1 - hedgeRate) * (1 - 0.5*lateRate) * recency
}

// IsFollowable es la puerta dura, separada del score continuo: muestra
// suficiente, edge positivo, poco hedging y poco late sniping.
func IsFollowable(n int, alphaZ, hedgeRate, lateRate float64) bool {
	return n >= MinSampleSize && alphaZ > 0 && hedgeRate <= MaxHedgeRate && lateRate <= MaxLateRate
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
