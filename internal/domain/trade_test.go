package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleTrade() Trade {
	return Trade{
		TxHash:      "0xabc",
		Wallet:      "0xwallet1",
		ConditionID: "0xcond1",
		Side:        SideBuy,
		Price:       0.04,
		Size:        250,
		OutcomeIdx:  0,
		Timestamp:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTradeID_Deterministic(t *testing.T) {
	a := sampleTrade().WithID()
	b := sampleTrade().WithID()
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, a.ID, 64)
}

func TestTradeID_SensitiveToEveryField(t *testing.T) {
	base := sampleTrade().WithID()

	variants := []Trade{
		sampleTrade(), sampleTrade(), sampleTrade(), sampleTrade(),
		sampleTrade(), sampleTrade(), sampleTrade(), sampleTrade(),
	}
	variants[0].TxHash = "0xdef"
	variants[1].Wallet = "0xwallet2"
	variants[2].ConditionID = "0xcond2"
	variants[3].Side = SideSell
	variants[4].Price = 0.05
	variants[5].Size = 251
	variants[6].OutcomeIdx = 1
	variants[7].Timestamp = variants[7].Timestamp.Add(time.Second)

	for i, v := range variants {
		assert.NotEqual(t, base.ID, v.WithID().ID, "variant %d should change the id", i)
	}
}

func TestTradeID_SubSecondTimestampCollapses(t *testing.T) {
	// El id usa segundos unix: dos reportes del mismo trade con precisión
	// distinta (s vs ms) colapsan al mismo id.
	a := sampleTrade()
	b := sampleTrade()
	b.Timestamp = b.Timestamp.Add(300 * time.Millisecond)
	assert.Equal(t, a.WithID().ID, b.WithID().ID)
}

func TestDelta_Signed(t *testing.T) {
	buy := sampleTrade()
	assert.Equal(t, 250.0, buy.Delta())

	sell := sampleTrade()
	sell.Side = SideSell
	assert.Equal(t, -250.0, sell.Delta())
}

func TestCost(t *testing.T) {
	// 0.04 × 250 = $10
	assert.InDelta(t, 10.0, sampleTrade().Cost(), 0.001)
}
