package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket es la metadata de un mercado. Gamma devuelve los arrays de
// outcomes, token ids y precios como strings JSON anidados, y algunos
// números como strings; de ahí los json.Number y el doble parseo.
type gammaMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	EndDateISO    string `json:"endDateIso"`
	Closed        bool   `json:"closed"`
	Outcomes      string `json:"outcomes"`      // p.ej. `["Yes","No"]`
	ClobTokenIDs  string `json:"clobTokenIds"`  // p.ej. `["123...","456..."]`
	OutcomePrices string `json:"outcomePrices"` // p.ej. `["0.52","0.48"]`
}

// --- CLOB API ---

// clobMarketResponse es la respuesta de GET /markets/{condition_id}.
type clobMarketResponse struct {
	ConditionID string      `json:"condition_id"`
	Closed      bool        `json:"closed"`
	Tokens      []clobToken `json:"tokens"`
}

// clobToken representa un lado del mercado en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// clobPriceResponse es la respuesta de GET /price.
type clobPriceResponse struct {
	Price json.Number `json:"price"`
}

// --- Data API ---

// dataTrade es un trade de GET /trades de la Data API pública.
type dataTrade struct {
	TransactionHash string      `json:"transactionHash"`
	ProxyWallet     string      `json:"proxyWallet"`
	ConditionID     string      `json:"conditionId"`
	Side            string      `json:"side"`
	Price           json.Number `json:"price"`
	Size            json.Number `json:"size"`
	OutcomeIndex    json.Number `json:"outcomeIndex"`
	Timestamp       json.Number `json:"timestamp"`
}
