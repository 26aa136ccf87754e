package model

import "time"

// SignalKind identifies which ledger a signal belongs to.
type SignalKind string

const (
	KindCrossover SignalKind = "crossover"
	KindHigh      SignalKind = "high"
)

// CrossoverEvent is an SMA20/SMA50 bullish crossover found inside the lookback window.
// An event with a zero CrossoverDate is a trend observation carrying only the latest SMAs.
type CrossoverEvent struct {
	Ticker        string
	SMA20         float64
	SMA50         float64
	SMA200        float64
	Close         float64
	CrossoverDate time.Time
	DetectedAt    time.Time
}

// IsObservation reports whether the event only describes the latest trend.
func (e CrossoverEvent) IsObservation() bool { return e.CrossoverDate.IsZero() }

// HighEvent is a close at or above the maximum close of the cached history.
type HighEvent struct {
	Ticker      string
	CompanyName string
	Close       float64
	HighDate    time.Time
}

// ScanResult is the outcome of one pass over the ticker universe.
// Crossovers and Highs contain only newly recorded events.
type ScanResult struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Universe   int
	Scanned    int
	Skipped    int
	Failed     int
	Crossovers []CrossoverEvent
	Highs      []HighEvent
	// EMA holds the latest EMA values per reported ticker, keyed by window.
	EMA map[string]map[int]float64
}

// CrossoverTickers returns the tickers of the reported crossovers in scan order.
func (r *ScanResult) CrossoverTickers() []string {
	out := make([]string, 0, len(r.Crossovers))
	for _, e := range r.Crossovers {
		out = append(out, e.Ticker)
	}
	return out
}

// HighTickers returns the tickers of the reported highs in scan order.
func (r *ScanResult) HighTickers() []string {
	out := make([]string, 0, len(r.Highs))
	for _, e := range r.Highs {
		out = append(out, e.Ticker)
	}
	return out
}

// Duration returns how long the scan took.
func (r *ScanResult) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
