package domain

import "time"

// Driver es un factor explicativo del advice, con su valor numérico y una
// etiqueta cualitativa de efecto ("raises" | "lowers" | "neutral").
type Driver struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Effect string  `json:"effect"`
}

// WalletStake resume la contribución de una wallet al advice de un mercado.
type WalletStake struct {
	Wallet     string  `json:"wallet"`
	Side       string  `json:"side"` // outcome que sostiene: "YES" | "NO"
	Weight     float64 `json:"weight"`
	NetShares  float64 `json:"netShares"`
	RecentFlow float64 `json:"recentFlow"` // USDC con signo en la ventana reciente
}

// Advice es la salida cacheada del modelo para un mercado: probabilidad
// blended, confianza, rango de incertidumbre y factores explicativos.
type Advice struct {
	ConditionID string        `json:"conditionId"`
	MarketPrice float64       `json:"marketPrice"` // precio YES cotizado por el venue
	ModelProb   float64       `json:"modelProb"`   // probabilidad YES del modelo
	Confidence  float64       `json:"confidence"`  // 0..100
	RangeLow    float64       `json:"rangeLow"`
	RangeHigh   float64       `json:"rangeHigh"`
	Trend       *float64      `json:"trend"` // ModelProb − ciclo anterior; nil en el primero
	Drivers     []Driver      `json:"drivers"`
	TopWallets  []WalletStake `json:"topWallets"`
	ComputedAt  time.Time     `json:"computedAt"`
}
