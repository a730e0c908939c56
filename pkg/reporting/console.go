package reporting

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tuborlabs/tyield/internal/oracle"
	"github.com/tuborlabs/tyield/internal/protocol"
)

// ConsoleReporter renders trades and protocol status as terminal tables.
type ConsoleReporter struct{}

// NewConsoleReporter creates a console reporter.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

// PrintTrades renders the trade list.
func (r *ConsoleReporter) PrintTrades(trades []protocol.Trade) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("TRADES")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"ID", "Pair", "Side", "Entry", "SL", "TP", "Size", "State", "PnL"})
	for _, tr := range trades {
		t.AppendRow(table.Row{
			shortID(tr.ID),
			tr.Pair,
			tr.Side,
			formatPrice(tr.EntryPrice),
			formatPrice(tr.StopLoss),
			formatPrice(tr.TakeProfit),
			tr.Size,
			tr.State,
			formatPnL(tr),
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 10, WidthMax: 10, Align: text.AlignLeft},
		{Number: 8, Align: text.AlignLeft},
		{Number: 9, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}

// PrintSummary renders aggregate trade statistics.
func (r *ConsoleReporter) PrintSummary(trades []protocol.Trade) {
	summary := Summarize(trades)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("SUMMARY")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Total Trades", summary.Total},
		{"Open", summary.Open},
		{"Closed Take-Profit", summary.ClosedTakeProfit},
		{"Closed Stop-Loss", summary.ClosedStopLoss},
		{"Cancelled", summary.Cancelled},
		{"Realized PnL", formatSigned(summary.RealizedPnL)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 15, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}

// PrintProtocolStatus renders the protocol config and breaker state.
func (r *ConsoleReporter) PrintProtocolStatus(cfg protocol.Config, tripped bool, cooldownUntil time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PROTOCOL STATUS")
	t.SetStyle(table.StyleRounded)

	breaker := "normal"
	if tripped {
		breaker = fmt.Sprintf("tripped until %s", cooldownUntil.Format(time.RFC3339))
	}
	t.AppendRows([]table.Row{
		{"Paused", cfg.Paused},
		{"Circuit Breaker", breaker},
		{"Yield Rate", fmt.Sprintf("%d bps", cfg.YieldRateBps)},
		{"Buy Tax", fmt.Sprintf("%d bps", cfg.BuyTaxBps)},
		{"Sell Tax", fmt.Sprintf("%d bps", cfg.SellTaxBps)},
		{"Signers", len(cfg.Signers)},
		{"Threshold", fmt.Sprintf("%d of %d", cfg.MinSignatures, len(cfg.Signers))},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatPrice(p uint64) string {
	return fmt.Sprintf("%.4f", oracle.FromFixed(p))
}

func formatPnL(tr protocol.Trade) string {
	if tr.State == protocol.TradeOpen {
		return "-"
	}
	return formatSigned(tr.RealizedPnL)
}

func formatSigned(v int64) string {
	if v > 0 {
		return fmt.Sprintf("+%d", v)
	}
	return fmt.Sprintf("%d", v)
}
