package strategy

import (
	"time"

	"MarketScanner/internal/model"
)

// Default crossover gating.
const (
	DefaultLookbackDays   = 20
	DefaultMomentumMinPct = 5.0
	DefaultMomentumMaxPct = 10.0
)

// Params tunes the crossover detector.
type Params struct {
	LookbackDays   int
	MomentumMinPct float64
	MomentumMaxPct float64
}

// DefaultParams returns the canonical rule set: 20-day window, 5–10% momentum band.
func DefaultParams() Params {
	return Params{
		LookbackDays:   DefaultLookbackDays,
		MomentumMinPct: DefaultMomentumMinPct,
		MomentumMaxPct: DefaultMomentumMaxPct,
	}
}

func (p Params) withDefaults() Params {
	if p.LookbackDays <= 0 {
		p.LookbackDays = DefaultLookbackDays
	}
	if p.MomentumMinPct == 0 && p.MomentumMaxPct == 0 {
		p.MomentumMinPct = DefaultMomentumMinPct
		p.MomentumMaxPct = DefaultMomentumMaxPct
	}
	return p
}

// MomentumPct returns how far current sits above base, in percent.
func MomentumPct(current, base float64) float64 {
	return (current - base) * 100 / base
}

// DetectCrossover looks for an SMA20-over-SMA50 cross inside the last LookbackDays points.
// A day qualifies when SMA20 crosses strictly above SMA50 from at-or-below, SMA50 is above
// SMA200, and the latest close sits within the momentum band above that day's close.
// The earliest qualifying day is returned.
func DetectCrossover(ticker string, series model.PriceSeries, ind model.IndicatorSet, p Params, now time.Time) (model.CrossoverEvent, bool) {
	n := series.Len()
	if n < model.LongWindow {
		return model.CrossoverEvent{}, false
	}
	p = p.withDefaults()
	current := series.Last().Close

	start := n - p.LookbackDays
	if start < 1 {
		start = 1
	}
	for d := start; d < n; d++ {
		s20, ok20 := ind.SMAAt(model.ShortWindow, d)
		s50, ok50 := ind.SMAAt(model.MediumWindow, d)
		s200, ok200 := ind.SMAAt(model.LongWindow, d)
		p20, okp20 := ind.SMAAt(model.ShortWindow, d-1)
		p50, okp50 := ind.SMAAt(model.MediumWindow, d-1)
		if !ok20 || !ok50 || !ok200 || !okp20 || !okp50 {
			continue
		}

		if !(p20 <= p50 && s20 > s50) {
			continue
		}
		if s50 <= s200 {
			continue
		}
		crossClose := series.Points[d].Close
		if crossClose <= 0 {
			continue
		}
		momentum := MomentumPct(current, crossClose)
		if momentum < p.MomentumMinPct || momentum > p.MomentumMaxPct {
			continue
		}

		return model.CrossoverEvent{
			Ticker:        ticker,
			SMA20:         s20,
			SMA50:         s50,
			SMA200:        s200,
			Close:         crossClose,
			CrossoverDate: series.Points[d].Date,
			DetectedAt:    now,
		}, true
	}
	return model.CrossoverEvent{}, false
}

// LatestTrend reports the latest-day SMAs as an observation. Ledgers use it to expire
// crossovers whose trend has since reversed.
func LatestTrend(ticker string, series model.PriceSeries, ind model.IndicatorSet, now time.Time) (model.CrossoverEvent, bool) {
	last := series.Len() - 1
	s20, ok20 := ind.SMAAt(model.ShortWindow, last)
	s50, ok50 := ind.SMAAt(model.MediumWindow, last)
	if !ok20 || !ok50 {
		return model.CrossoverEvent{}, false
	}
	s200, _ := ind.SMAAt(model.LongWindow, last)
	return model.CrossoverEvent{
		Ticker:     ticker,
		SMA20:      s20,
		SMA50:      s50,
		SMA200:     s200,
		Close:      series.Last().Close,
		DetectedAt: now,
	}, true
}
