package notify_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/polyadvisor/engine/internal/adapters/notify"
	"github.com/polyadvisor/engine/internal/domain"
)

func makeEntry(question string, marketPrice, modelProb, confidence float64) notify.AdviceEntry {
	return notify.AdviceEntry{
		Market: domain.Market{ConditionID: "0xtest", Question: question},
		Advice: domain.Advice{
			ConditionID: "0xtest",
			MarketPrice: marketPrice,
			ModelProb:   modelProb,
			Confidence:  confidence,
			RangeLow:    modelProb - 0.05,
			RangeHigh:   modelProb + 0.05,
			Drivers: []domain.Driver{
				{Name: "baseline price", Value: marketPrice, Effect: "neutral"},
				{Name: "position pressure", Value: 0.8, Effect: "raises"},
			},
			TopWallets: []domain.WalletStake{
				{Wallet: "0x1234567890abcdef", Side: "YES", Weight: 0.6, NetShares: 4000, RecentFlow: 250},
			},
			ComputedAt: time.Now().UTC(),
		},
	}
}

func TestPrintAdvice_Compact(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false, false)

	c.PrintAdvice([]notify.AdviceEntry{
		makeEntry("Will it rain tomorrow?", 0.30, 0.42, 55),
	})

	out := buf.String()
	assert.Contains(t, out, "1 mkts")
	assert.Contains(t, out, "mkt0.30")
	assert.Contains(t, out, "mdl0.42")
	assert.Contains(t, out, "RAISE")
}

func TestPrintAdvice_Table(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true, false)

	c.PrintAdvice([]notify.AdviceEntry{
		makeEntry("Will it rain tomorrow?", 0.30, 0.42, 55),
		makeEntry("Will BTC hit 100k?", 0.80, 0.78, 40),
	})

	out := buf.String()
	assert.Contains(t, out, "Will it rain tomorrow?")
	assert.Contains(t, out, "Will BTC hit 100k?")
	assert.Contains(t, out, "0.420")
	assert.Contains(t, out, "2 markets with advice")
}

func TestPrintAdvice_Details(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false, true)

	c.PrintAdvice([]notify.AdviceEntry{
		makeEntry("Will it rain tomorrow?", 0.30, 0.42, 55),
	})

	out := buf.String()
	assert.Contains(t, out, "DRIVERS")
	assert.Contains(t, out, "position pressure")
	assert.Contains(t, out, "TOP WALLETS")
	assert.Contains(t, out, "0x123456")
}

func TestPrintAdvice_Empty(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false, false)

	c.PrintAdvice(nil)
	assert.Contains(t, buf.String(), "no advice available")
}

func TestPrintAdvice_HoldOnLowConfidence(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false, false)

	// discrepancia grande pero confianza bajo 20 → HOLD
	c.PrintAdvice([]notify.AdviceEntry{
		makeEntry("Low conviction market", 0.30, 0.50, 10),
	})
	assert.Contains(t, buf.String(), "HOLD")
}
