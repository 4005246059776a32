package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Side es el lado de un trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade es una ejecución individual reportada por el venue. Inmutable una vez
// insertado; el ID content-addressed garantiza at-most-once incluso si el
// upstream entrega el mismo trade varias veces.
type Trade struct {
	ID          string // hex(sha256(...)), ver TradeID
	TxHash      string
	Wallet      string
	ConditionID string
	Side        Side
	Price       float64 // en (0,1)
	Size        float64 // shares
	OutcomeIdx  int     // 0 | 1
	Timestamp   time.Time
}

// TradeID computa el id determinista de un trade a partir de su contenido.
// Fórmula: SHA256(txHash|conditionID|unixTs|wallet|side|price|size|outcomeIdx),
// hex de 64 caracteres.
func TradeID(txHash, conditionID string, ts time.Time, wallet string, side Side, price, size float64, outcomeIdx int) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%s|%.6f|%.6f|%d",
		txHash, conditionID, ts.Unix(), wallet, side, price, size, outcomeIdx)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// WithID devuelve una copia del trade con el ID content-addressed calculado.
func (t Trade) WithID() Trade {
	t.ID = TradeID(t.TxHash, t.ConditionID, t.Timestamp, t.Wallet, t.Side, t.Price, t.Size, t.OutcomeIdx)
	return t
}

// Delta devuelve el cambio de shares con signo: +Size para BUY, -Size para SELL.
func (t Trade) Delta() float64 {
	if t.Side == SideSell {
		return -t.Size
	}
	return t.Size
}

// Cost devuelve el coste en USDC del trade (precio × tamaño).
func (t Trade) Cost() float64 {
	return t.Price * t.Size
}
