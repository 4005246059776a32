package domain

import "time"

// Market representa un mercado de predicción binario en Polymarket.
// El ConditionID es el identificador inmutable; los campos mutables se
// reemplazan completos en cada upsert de la ingesta.
type Market struct {
	ConditionID string
	Question    string
	Slug        string
	EndDate     time.Time
	Closed      bool
	Outcomes    [2]string  // nombres de los dos outcomes, orden fijo
	TokenIDs    [2]string  // token ids del venue, mismo orden que Outcomes
	Prices      [2]float64 // últimos precios cotizados
	UpdatedAt   time.Time
}

// YesPrice devuelve el precio cotizado del outcome 0 (YES) si es válido,
// o 0.5 como fallback neutro.
func (m Market) YesPrice() float64 {
	p := m.Prices[0]
	if p <= 0 || p >= 1 {
		return 0.5
	}
	return p
}

// Placeholder devuelve un mercado mínimo para mantener integridad referencial
// cuando un trade llega antes que la metadata del mercado.
func Placeholder(conditionID string, now time.Time) Market {
	return Market{ConditionID: conditionID, UpdatedAt: now}
}

// Resolution registra el outcome ganador de un mercado resuelto.
// Se escribe una sola vez; los re-upserts son idempotentes.
type Resolution struct {
	ConditionID   string
	WinnerTokenID string
	WinnerIdx     *int // 0 | 1, nil si el venue aún no lo reporta
	ResolvedAt    time.Time
}
