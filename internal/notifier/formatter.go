package notifier

import (
	"fmt"
	"strings"
	"time"

	"MarketScanner/internal/model"
)

// NoSignals is the body sent when a scan reports nothing.
const NoSignals = "No signals today."

// Subject returns "<prefix> – YYYY-MM-DD".
func Subject(prefix string, now time.Time) string {
	return fmt.Sprintf("%s – %s", prefix, now.Format(model.DateLayout))
}

// FormatTickers lists symbols one per line under a "Tickers:" heading.
func FormatTickers(symbols []string) string {
	if len(symbols) == 0 {
		return NoSignals
	}
	return "Tickers:\n" + strings.Join(symbols, "\n")
}

// FormatSummary renders the combined report of one scan.
func FormatSummary(res *model.ScanResult) string {
	var b strings.Builder
	if tickers := res.CrossoverTickers(); len(tickers) > 0 {
		b.WriteString("SMA Crossovers:\n" + strings.Join(tickers, "\n") + "\n\n")
	}
	if tickers := res.HighTickers(); len(tickers) > 0 {
		b.WriteString("New 52-week Highs:\n" + strings.Join(tickers, "\n"))
	}
	if b.Len() == 0 {
		return NoSignals
	}
	return b.String()
}

// FormatCrossoverLedger lists the open crossover rows.
func FormatCrossoverLedger(rows []model.CrossoverEvent) string {
	if len(rows) == 0 {
		return "Crossover ledger is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Crossover ledger (%d):\n", len(rows))
	for _, r := range rows {
		fmt.Fprintf(&b, "%s  %s  SMA20 %.2f / SMA50 %.2f / SMA200 %.2f\n",
			r.Ticker, r.CrossoverDate.Format(model.DateLayout), r.SMA20, r.SMA50, r.SMA200)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatHighsLedger lists the recorded highs.
func FormatHighsLedger(rows []model.HighEvent) string {
	if len(rows) == 0 {
		return "Highs ledger is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Highs ledger (%d):\n", len(rows))
	for _, r := range rows {
		fmt.Fprintf(&b, "%s  %s  %.2f  %s\n", r.Ticker, r.CompanyName, r.Close, r.HighDate.Format(model.DateLayout))
	}
	return strings.TrimRight(b.String(), "\n")
}
