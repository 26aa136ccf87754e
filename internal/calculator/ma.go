package calculator

import (
	"math"

	"MarketScanner/internal/model"
)

// SMA computes the simple moving average of closes over a trailing window.
// The result is aligned with closes; indices before window-1 are NaN.
func SMA(closes []float64, window int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 {
		return out
	}
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= window {
			sum -= closes[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// Compute builds the indicator set for a series. EMA windows are computed from scratch;
// callers holding a cached EMA tail should use ResumeEMA instead.
func Compute(series model.PriceSeries, smaWindows, emaWindows []int) model.IndicatorSet {
	closes := series.Closes()
	set := model.IndicatorSet{
		SMA: make(map[int][]float64, len(smaWindows)),
		EMA: make(map[int][]float64, len(emaWindows)),
	}
	for _, w := range smaWindows {
		set.SMA[w] = SMA(closes, w)
	}
	for _, w := range emaWindows {
		set.EMA[w] = EMA(closes, w)
	}
	return set
}
