package collector

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketScanner/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// priceFrame builds a provider frame with one bar per calendar day from start.
func priceFrame(start time.Time, closes ...float64) *Frame {
	f := &Frame{Columns: yahooColumns}
	for i, c := range closes {
		f.Append(start.AddDate(0, 0, i), []float64{c, c, c, c, c, 1000})
	}
	return f
}

func TestNormalize_QualifiedColumns(t *testing.T) {
	for _, cols := range [][]string{
		{"Close_AAPL", "Volume_AAPL"},
		{"AAPL_Close", "AAPL_Volume"},
		{"Close AAPL", "Volume AAPL"},
		{"close.aapl", "volume.aapl"},
		{"Close", "Volume"},
	} {
		f := &Frame{Columns: cols}
		f.Append(day(2025, 3, 3), []float64{101, 5})
		series, err := Normalize("AAPL", f)
		require.NoError(t, err, "columns %v", cols)
		require.Equal(t, 1, series.Len())
		assert.Equal(t, 101.0, series.Points[0].Close)
		assert.Equal(t, 101.0, series.Points[0].AdjClose, "adj close falls back to close")
		assert.Equal(t, 5.0, series.Points[0].Volume)
	}
}

func TestNormalize_MissingClose(t *testing.T) {
	f := &Frame{Columns: []string{"Open", "Volume"}}
	f.Append(day(2025, 3, 3), []float64{1, 2})
	_, err := Normalize("AAPL", f)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestNormalize_CleansRows(t *testing.T) {
	f := &Frame{Columns: []string{"Close", "Volume"}}
	f.Append(time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC), []float64{11, 1})
	f.Append(day(2025, 3, 3), []float64{10, math.NaN()})
	f.Append(day(2025, 3, 5), []float64{math.NaN(), 1})
	f.Append(day(2025, 3, 6), []float64{math.Inf(1), 1})
	f.Append(day(2025, 3, 4), []float64{12, -3})

	series, err := Normalize("X", f)
	require.NoError(t, err)
	require.Equal(t, 2, series.Len())
	assert.Equal(t, day(2025, 3, 3), series.Points[0].Date)
	assert.Equal(t, 0.0, series.Points[0].Volume)
	assert.Equal(t, day(2025, 3, 4), series.Points[1].Date)
	assert.Equal(t, 12.0, series.Points[1].Close, "last duplicate wins")
	assert.Equal(t, 0.0, series.Points[1].Volume)
}

func TestNormalize_Empty(t *testing.T) {
	series, err := Normalize("X", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, series.Len())
	assert.Equal(t, "X", series.Symbol)
}

func TestMerge_FreshWins(t *testing.T) {
	cached := model.PriceSeries{Symbol: "X", Points: []model.PricePoint{
		{Date: day(2025, 1, 2), Close: 1},
		{Date: day(2025, 1, 3), Close: 2},
	}}
	fresh := model.PriceSeries{Symbol: "X", Points: []model.PricePoint{
		{Date: day(2025, 1, 3), Close: 20},
		{Date: day(2025, 1, 6), Close: 3},
	}}
	merged := Merge(cached, fresh)
	require.Equal(t, 3, merged.Len())
	assert.Equal(t, []float64{1, 20, 3}, merged.Closes())
	assert.Equal(t, day(2025, 1, 6), merged.LastDate())
}
