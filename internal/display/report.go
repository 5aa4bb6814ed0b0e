// Package display renders run results for the terminal.
package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dcapilot/internal/backtest"
	"dcapilot/internal/models"
	"dcapilot/internal/portfolio"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1).
			MarginBottom(1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(1, 2).
			Width(72)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(20)

	gainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	lossStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

// BacktestReport renders the summary box plus the trade tail.
func BacktestReport(symbol string, res *backtest.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Backtest %s", symbol)))
	b.WriteString("\n")

	var rows []string
	rows = append(rows, row("Cycles", fmt.Sprintf("%d", res.Cycles)))
	rows = append(rows, row("Initial value", fmt.Sprintf("$%.2f", res.InitialValue)))
	rows = append(rows, row("Final value", fmt.Sprintf("$%.2f", res.FinalValue)))
	rows = append(rows, row("Net profit", signed(res.NetProfit)))
	rows = append(rows, row("Secured profit", fmt.Sprintf("$%.2f", res.SecuredProfit)))
	rows = append(rows, row("Final cash", fmt.Sprintf("$%.2f", res.FinalCash)))
	rows = append(rows, row("Final BTC", fmt.Sprintf("%.8f", res.FinalBTC)))
	rows = append(rows, row("Max drawdown", fmt.Sprintf("%.2f%%", res.MaxDrawdownPct)))
	rows = append(rows, row("Trades", fmt.Sprintf("%d (%d actions)", countActions(res.Trades), len(res.Trades))))
	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n\n")

	tail := res.Trades
	if len(tail) > 12 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("last 12 of %d records", len(tail))))
		b.WriteString("\n")
		tail = tail[len(tail)-12:]
	}
	for _, t := range tail {
		b.WriteString(tradeLine(t))
		b.WriteString("\n")
	}
	return b.String()
}

// PortfolioStatus renders the current books for the status command.
func PortfolioStatus(symbol string, led *portfolio.Ledger, price float64) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Portfolio %s", symbol)))
	b.WriteString("\n")

	var rows []string
	rows = append(rows, row("Price", fmt.Sprintf("$%.2f", price)))
	rows = append(rows, row("Cash", fmt.Sprintf("$%.2f", led.Cash())))
	rows = append(rows, row("BTC", fmt.Sprintf("%.8f", led.BTC())))
	rows = append(rows, row("Tradable value", fmt.Sprintf("$%.2f", led.TotalValue(price))))
	rows = append(rows, row("Secured profit", fmt.Sprintf("$%.2f", led.SecuredProfit())))
	rows = append(rows, row("Profit threshold", fmt.Sprintf("$%.2f", led.ProfitThreshold())))
	rows = append(rows, row("Open lots", fmt.Sprintf("%d", len(led.OpenPositions()))))
	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	for _, p := range led.OpenPositions() {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  lot %.8f BTC @ $%.2f, stop $%.2f\n",
			p.Quantity, p.EntryPrice, p.StopPrice)))
	}
	return b.String()
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func signed(v float64) string {
	s := fmt.Sprintf("$%+.2f", v)
	if v >= 0 {
		return gainStyle.Render(s)
	}
	return lossStyle.Render(s)
}

func tradeLine(t models.TradeRecord) string {
	line := fmt.Sprintf("%s  %-6s $%-10.2f qty %-12.8f usd %-10.2f %s",
		t.Timestamp.UTC().Format("2006-01-02 15:04"), t.Type, t.Price, t.Quantity, t.USDAmount, t.Reason)
	switch t.Type {
	case models.ActionBuy:
		return gainStyle.Render("▲ ") + line
	case models.ActionSell:
		return lossStyle.Render("▼ ") + line
	case models.ActionProfit:
		return gainStyle.Render("★ ") + line
	}
	return dimStyle.Render("· " + line)
}

func countActions(trades []models.TradeRecord) int {
	n := 0
	for _, t := range trades {
		if t.Type != models.ActionHold {
			n++
		}
	}
	return n
}
