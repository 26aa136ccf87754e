package calculator

import (
	"errors"
	"math"
)

// MaxClose returns the highest close over the whole slice.
func MaxClose(closes []float64) (float64, error) {
	if len(closes) == 0 {
		return 0, errors.New("no closes provided")
	}
	high := math.Inf(-1)
	for _, c := range closes {
		if c > high {
			high = c
		}
	}
	return high, nil
}
