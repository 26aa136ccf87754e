package model

import "math"

// Moving-average windows used by the scanner.
const (
	ShortWindow  = 20
	MediumWindow = 50
	LongWindow   = 200
)

// DefaultWindows lists every window computed for SMA and EMA.
var DefaultWindows = []int{ShortWindow, MediumWindow, LongWindow}

// IndicatorSet holds moving averages aligned index-for-index with a PriceSeries.
// Undefined SMA values are NaN.
type IndicatorSet struct {
	SMA map[int][]float64
	EMA map[int][]float64
}

// SMAAt returns SMA(window) at index i and whether it is defined.
func (s IndicatorSet) SMAAt(window, i int) (float64, bool) {
	return valueAt(s.SMA[window], i)
}

// EMAAt returns EMA(window) at index i and whether it is defined.
func (s IndicatorSet) EMAAt(window, i int) (float64, bool) {
	return valueAt(s.EMA[window], i)
}

func valueAt(values []float64, i int) (float64, bool) {
	if i < 0 || i >= len(values) {
		return math.NaN(), false
	}
	v := values[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, false
	}
	return v, true
}
