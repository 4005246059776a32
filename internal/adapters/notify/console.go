// Package notify imprime los reportes de advice por consola.
package notify

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/polyadvisor/engine/internal/domain"
)

// Console escribe reportes legibles a un writer, stdout por defecto.
type Console struct {
	out     io.Writer
	table   bool
	details bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table, details bool) *Console {
	return &Console{out: os.Stdout, table: table, details: details}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table, details bool) *Console {
	return &Console{out: w, table: table, details: details}
}

// AdviceEntry empareja un advice con su mercado para el reporte.
type AdviceEntry struct {
	Market domain.Market
	Advice domain.Advice
}

// PrintAdvice imprime el reporte de mercados con su probabilidad modelada.
func (c *Console) PrintAdvice(entries []AdviceEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(c.out, "[%s] no advice available — run sync and compute first\n",
			time.Now().Format("15:04:05"))
		return
	}

	if c.table {
		c.printTable(entries)
	} else {
		c.printCompact(entries)
	}

	if c.details {
		c.printDetails(entries)
	}
}

// printCompact imprime lo esencial en pocas líneas.
func (c *Console) printCompact(entries []AdviceEntry) {
	now := time.Now().Format("15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d mkts", now, len(entries))

	shown := 0
	for _, e := range entries {
		if shown >= 4 {
			break
		}
		name := compactName(e.Market.Question, 25)
		fmt.Fprintf(&sb, " | %s mkt%.2f mdl%.2f c%.0f %s",
			name, e.Advice.MarketPrice, e.Advice.ModelProb,
			e.Advice.Confidence, edgeLabel(e.Advice))
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

// printTable imprime la tabla completa con rango y tendencia.
func (c *Console) printTable(entries []AdviceEntry) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "\n[%s] %d markets with advice\n", now, len(entries))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Mkt", "Model", "Range", "Conf", "Trend", "Edge")

	for i, e := range entries {
		a := e.Advice
		table.Append(
			fmt.Sprintf("%d", i+1),
			marketLabel(e.Market),
			fmt.Sprintf("%.3f", a.MarketPrice),
			fmt.Sprintf("%.3f", a.ModelProb),
			fmt.Sprintf("[%.2f, %.2f]", a.RangeLow, a.RangeHigh),
			fmt.Sprintf("%.0f", a.Confidence),
			trendLabel(a.Trend),
			edgeLabel(a),
		)
	}
	table.Render()

	fmt.Fprintln(c.out, "  Mkt = precio cotizado YES | Model = probabilidad mezclada con señal de wallets")
	fmt.Fprintln(c.out, "  Conf = 0-100 según evidencia y acuerdo | Edge: RAISE/LOWER si el modelo discrepa del precio")
}

// printDetails imprime los drivers y las wallets top de cada mercado.
func (c *Console) printDetails(entries []AdviceEntry) {
	top := entries
	if len(top) > 3 {
		top = entries[:3]
	}

	fmt.Fprintln(c.out, "=== DETAIL — signal breakdown ===")

	for i, e := range top {
		a := e.Advice
		slug := e.Market.Slug
		if slug == "" {
			slug = e.Market.ConditionID
		}

		fmt.Fprintf(c.out, "\n--- #%d: %s ---\n", i+1, marketLabel(e.Market))
		fmt.Fprintf(c.out, "  URL: https://polymarket.com/event/%s\n", slug)
		fmt.Fprintf(c.out, "  market %.4f → model %.4f  conf %.0f  range [%.4f, %.4f]\n",
			a.MarketPrice, a.ModelProb, a.Confidence, a.RangeLow, a.RangeHigh)

		fmt.Fprintf(c.out, "\n  DRIVERS:\n")
		for _, d := range a.Drivers {
			fmt.Fprintf(c.out, "     %-18s %+.4f  (%s)\n", d.Name, d.Value, d.Effect)
		}

		if len(a.TopWallets) > 0 {
			fmt.Fprintf(c.out, "\n  TOP WALLETS:\n")
			for _, ws := range a.TopWallets {
				fmt.Fprintf(c.out, "     %s  %-3s  w=%.2f  net=%.0f  flow=%+.0f\n",
					shortWallet(ws.Wallet), ws.Side, ws.Weight, ws.NetShares, ws.RecentFlow)
			}
		}
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

func edgeLabel(a domain.Advice) string {
	diff := a.ModelProb - a.MarketPrice
	switch {
	case math.Abs(diff) < 0.02 || a.Confidence < 20:
		return "HOLD"
	case diff > 0:
		return "RAISE"
	default:
		return "LOWER"
	}
}

func trendLabel(t *float64) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%+.3f", *t)
}

func marketLabel(m domain.Market) string {
	if m.Question != "" {
		return truncate(m.Question, 38)
	}
	if len(m.ConditionID) > 14 {
		return m.ConditionID[:12] + "..."
	}
	return m.ConditionID
}

func shortWallet(w string) string {
	if len(w) <= 12 {
		return w
	}
	return w[:8] + "…" + w[len(w)-4:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
