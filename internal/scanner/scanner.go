// Package scanner runs the signal detectors over a ticker universe.
package scanner

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"MarketScanner/internal/calculator"
	"MarketScanner/internal/ledger"
	"MarketScanner/internal/metrics"
	"MarketScanner/internal/model"
	"MarketScanner/internal/strategy"
)

// DefaultMinMarketCap is the market-cap floor; only caps strictly above it are scanned.
const DefaultMinMarketCap = 5_000_000_000

// DefaultHighPeriod is the new-high lookback, matching the history download period.
const DefaultHighPeriod = "2y"

// MarketData supplies cached history and company metadata. Implementations never fail:
// unavailable data is an empty series, a zero cap or the ticker as name.
type MarketData interface {
	GetHistory(ctx context.Context, ticker string) model.PriceSeries
	GetMarketCap(ctx context.Context, ticker string) float64
	GetCompanyName(ctx context.Context, ticker string) string
}

// EMASource returns EMA arrays aligned with series, reusing any persisted state.
type EMASource interface {
	Update(ticker string, series model.PriceSeries) (map[int][]float64, error)
}

// Scanner processes tickers one at a time and records signals in the ledger.
type Scanner struct {
	Data         MarketData
	EMAs         EMASource // optional; EMAs are recomputed when nil
	Ledger       ledger.Ledger
	Params       strategy.Params
	MinMarketCap float64
	// HighPeriod bounds the new-high lookback, e.g. "2y". Empty uses the whole history.
	HighPeriod   string
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// New creates a Scanner with the default market-cap floor and crossover rules.
func New(data MarketData, emas EMASource, l ledger.Ledger, m *metrics.Metrics) *Scanner {
	return &Scanner{
		Data:         data,
		EMAs:         emas,
		Ledger:       l,
		Params:       strategy.DefaultParams(),
		MinMarketCap: DefaultMinMarketCap,
		HighPeriod:   DefaultHighPeriod,
		Metrics:      m,
		Now:          time.Now,
	}
}

func (s *Scanner) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Run scans tickers in order and returns the newly recorded signals. A failure on one ticker
// is logged and counted without affecting the others. Cancelling ctx stops the scan between
// tickers and returns the partial result.
func (s *Scanner) Run(ctx context.Context, tickers []string) *model.ScanResult {
	res := &model.ScanResult{
		StartedAt: s.now(),
		Universe:  len(tickers),
		EMA:       make(map[string]map[int]float64),
	}
	log.Printf("[INFO] scan started: %d tickers", len(tickers))

	for i, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			log.Printf("[WARN] scan interrupted after %d/%d tickers: %v", i, len(tickers), err)
			break
		}
		outcome := s.scanTicker(ctx, ticker, res)
		switch outcome {
		case metrics.OutcomeScanned:
			res.Scanned++
		case metrics.OutcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
		s.Metrics.IncTicker(outcome)
	}

	res.FinishedAt = s.now()
	if res.Universe > 0 && res.Skipped == res.Universe {
		log.Printf("[ERROR] every ticker was skipped; market caps are likely unavailable from the provider")
	}
	s.Metrics.AddSignals(string(model.KindCrossover), len(res.Crossovers))
	s.Metrics.AddSignals(string(model.KindHigh), len(res.Highs))
	s.Metrics.ObserveRun(res.Duration(), res.FinishedAt)
	log.Printf("[INFO] scan finished in %v: scanned=%d skipped=%d failed=%d crossovers=%d highs=%d",
		res.Duration().Round(time.Second), res.Scanned, res.Skipped, res.Failed, len(res.Crossovers), len(res.Highs))
	return res
}

func (s *Scanner) scanTicker(ctx context.Context, ticker string, res *model.ScanResult) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] %s: panic during scan: %v\n%s", ticker, r, debug.Stack())
			outcome = metrics.OutcomeFailed
		}
	}()

	mcap := s.Data.GetMarketCap(ctx, ticker)
	if mcap <= s.MinMarketCap {
		log.Printf("[INFO] %s: skipped, market cap %.0f not above %.0f", ticker, mcap, s.MinMarketCap)
		return metrics.OutcomeSkipped
	}

	series := s.Data.GetHistory(ctx, ticker)
	if series.Len() == 0 {
		log.Printf("[WARN] %s: no price history", ticker)
		return metrics.OutcomeFailed
	}

	ind := calculator.Compute(series, model.DefaultWindows, nil)
	ind.EMA = s.emas(ticker, series)
	now := s.now()
	reported := false
	ledgerFailed := false

	ev, found := strategy.DetectCrossover(ticker, series, ind, s.Params, now)
	if !found {
		ev, found = strategy.LatestTrend(ticker, series, ind, now)
	}
	if found {
		added, err := s.Ledger.RecordCrossover(ctx, ev)
		if err != nil {
			s.Metrics.IncLedgerError()
			log.Printf("[ERROR] %s: record crossover: %v", ticker, err)
			ledgerFailed = true
		} else if added {
			log.Printf("[INFO] %s: new crossover on %s (SMA20=%.2f SMA50=%.2f SMA200=%.2f)",
				ticker, ev.CrossoverDate.Format(model.DateLayout), ev.SMA20, ev.SMA50, ev.SMA200)
			res.Crossovers = append(res.Crossovers, ev)
			reported = true
		}
	}

	if hi, ok := strategy.DetectNewHigh(ticker, "", s.highWindow(series, now)); ok {
		hi.CompanyName = s.Data.GetCompanyName(ctx, ticker)
		added, err := s.Ledger.RecordHigh(ctx, hi)
		if err != nil {
			s.Metrics.IncLedgerError()
			log.Printf("[ERROR] %s: record high: %v", ticker, err)
			ledgerFailed = true
		} else if added {
			log.Printf("[INFO] %s: new high close %.2f on %s", ticker, hi.Close, hi.HighDate.Format(model.DateLayout))
			res.Highs = append(res.Highs, hi)
			reported = true
		}
	}

	if reported {
		latest := make(map[int]float64, len(ind.EMA))
		last := series.Len() - 1
		for w := range ind.EMA {
			if v, ok := ind.EMAAt(w, last); ok {
				latest[w] = v
			}
		}
		res.EMA[ticker] = latest
	}
	if ledgerFailed {
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeScanned
}

// highWindow limits the new-high comparison to the last HighPeriod of the series.
func (s *Scanner) highWindow(series model.PriceSeries, now time.Time) model.PriceSeries {
	if s.HighPeriod == "" {
		return series
	}
	from, err := model.PeriodStart(s.HighPeriod, now)
	if err != nil {
		log.Printf("[WARN] high period %q: %v, using full history", s.HighPeriod, err)
		return series
	}
	return series.Since(from)
}

// emas prefers the persisted EMA state and falls back to a full recompute.
func (s *Scanner) emas(ticker string, series model.PriceSeries) map[int][]float64 {
	if s.EMAs != nil {
		ema, err := s.EMAs.Update(ticker, series)
		if err != nil {
			log.Printf("[WARN] %s: EMA cache: %v", ticker, err)
		}
		if len(ema) > 0 {
			return ema
		}
	}
	out := make(map[int][]float64, len(model.DefaultWindows))
	for _, w := range model.DefaultWindows {
		out[w] = calculator.EMA(series.Closes(), w)
	}
	return out
}

// Summary renders the scan counters for logs and chat replies.
func Summary(res *model.ScanResult) string {
	return fmt.Sprintf("universe=%d scanned=%d skipped=%d failed=%d crossovers=%d highs=%d",
		res.Universe, res.Scanned, res.Skipped, res.Failed, len(res.Crossovers), len(res.Highs))
}
