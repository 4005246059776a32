package polymarket

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/polyadvisor/engine/internal/domain"
)

// mapGammaMarket convierte el DTO de Gamma a domain.Market. Los campos mal
// formados se dejan en zero value: un mercado a medias sigue siendo útil
// para la ingesta y se completará en el siguiente ciclo.
func mapGammaMarket(gm gammaMarket, now time.Time) domain.Market {
	m := domain.Market{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		Closed:      gm.Closed,
		UpdatedAt:   now,
	}

	if gm.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDateISO); err == nil {
			m.EndDate = t
		} else if t, err := time.Parse("2006-01-02", gm.EndDateISO); err == nil {
			m.EndDate = t
		}
	}

	m.Outcomes = parsePair(gm.Outcomes)
	m.TokenIDs = parsePair(gm.ClobTokenIDs)

	prices := parsePair(gm.OutcomePrices)
	for i, s := range prices {
		if p, err := strconv.ParseFloat(s, 64); err == nil {
			m.Prices[i] = p
		}
	}
	return m
}

// parsePair decodifica un array JSON anidado en string ("[\"a\",\"b\"]") a
// un par fijo. Elementos de más se ignoran; de menos, quedan vacíos.
func parsePair(raw string) [2]string {
	var pair [2]string
	if raw == "" {
		return pair
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return pair
	}
	for i := 0; i < len(items) && i < 2; i++ {
		pair[i] = items[i]
	}
	return pair
}

// mapDataTrade convierte un trade de la Data API a domain.Trade con su ID
// content-addressed ya calculado.
func mapDataTrade(rt dataTrade) domain.Trade {
	price, _ := rt.Price.Float64()
	size, _ := rt.Size.Float64()
	outcomeIdx64, _ := rt.OutcomeIndex.Int64()

	t := domain.Trade{
		TxHash:      rt.TransactionHash,
		Wallet:      rt.ProxyWallet,
		ConditionID: rt.ConditionID,
		Side:        domain.Side(rt.Side),
		Price:       price,
		Size:        size,
		OutcomeIdx:  int(outcomeIdx64),
		Timestamp:   parseTradeTimestamp(rt.Timestamp),
	}
	return t.WithID()
}

// parseTradeTimestamp acepta segundos o milisegundos unix (la Data API ha
// cambiado de unidad entre versiones).
func parseTradeTimestamp(n json.Number) time.Time {
	v, err := n.Int64()
	if err != nil || v == 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
