package domain

import "time"

// residualEpsilon es el umbral bajo el cual un balance se considera ruido de
// coma flotante y se fija a cero exacto.
const residualEpsilon = 1e-9

// WalletPosition es el balance neto de shares de una wallet en un outcome
// concreto de un mercado: Σ BUY.Size − Σ SELL.Size de los trades aplicados.
type WalletPosition struct {
	Wallet      string
	ConditionID string
	OutcomeIdx  int
	NetShares   float64
	LastTradeAt time.Time
}

// ClampResidual devuelve el balance con el ruido de coma flotante eliminado.
func ClampResidual(netShares float64) float64 {
	if netShares > -residualEpsilon && netShares < residualEpsilon {
		return 0
	}
	return netShares
}
