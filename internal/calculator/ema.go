package calculator

// Alpha returns the EMA smoothing factor 2/(window+1).
func Alpha(window int) float64 {
	return 2.0 / float64(window+1)
}

// EMA computes the exponential moving average seeded from the first close.
func EMA(closes []float64, window int) []float64 {
	if len(closes) == 0 {
		return []float64{}
	}
	out := make([]float64, len(closes))
	out[0] = closes[0]
	if len(closes) > 1 {
		copy(out[1:], ResumeEMA(out[0], closes[1:], window))
	}
	return out
}

// ResumeEMA continues the EMA recurrence from prev over newly appended closes.
// The returned slice has one value per element of closes.
func ResumeEMA(prev float64, closes []float64, window int) []float64 {
	alpha := Alpha(window)
	out := make([]float64, len(closes))
	for i, c := range closes {
		prev = c*alpha + prev*(1-alpha)
		out[i] = prev
	}
	return out
}
