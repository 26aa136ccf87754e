package collector

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"MarketScanner/internal/model"
)

// ErrMissingColumn is returned when a provider table lacks a required price column.
var ErrMissingColumn = errors.New("missing price column")

// Frame is a provider-shaped table: one row per index date, one value per column.
// Missing cells are NaN.
type Frame struct {
	Columns []string
	Index   []time.Time
	Rows    [][]float64
}

// Append adds a row. The row length must match Columns.
func (f *Frame) Append(date time.Time, row []float64) {
	f.Index = append(f.Index, date)
	f.Rows = append(f.Rows, row)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

type field int

const (
	fieldUnknown field = iota
	fieldOpen
	fieldHigh
	fieldLow
	fieldClose
	fieldAdjClose
	fieldVolume
)

var canonicalFields = map[string]field{
	"open":      fieldOpen,
	"high":      fieldHigh,
	"low":       fieldLow,
	"close":     fieldClose,
	"adj close": fieldAdjClose,
	"adjclose":  fieldAdjClose,
	"adj_close": fieldAdjClose,
	"volume":    fieldVolume,
}

// columnField maps a provider column to a canonical field. Some providers qualify columns
// with the ticker ("Close_AAPL", "AAPL_Close", "Close AAPL", "Close.AAPL"); the qualifier is stripped.
func columnField(symbol, column string) field {
	name := strings.ToLower(strings.TrimSpace(column))
	if f, ok := canonicalFields[name]; ok {
		return f
	}
	sym := strings.ToLower(symbol)
	if sym != "" {
		for _, sep := range []string{"_", " ", "."} {
			if s, ok := strings.CutSuffix(name, sep+sym); ok {
				if f, ok := canonicalFields[strings.TrimSpace(s)]; ok {
					return f
				}
			}
			if s, ok := strings.CutPrefix(name, sym+sep); ok {
				if f, ok := canonicalFields[strings.TrimSpace(s)]; ok {
					return f
				}
			}
		}
	}
	return fieldUnknown
}

// Normalize converts a provider frame into a clean PriceSeries: canonical fields, finite closes,
// UTC calendar dates, strictly increasing with the last row winning on duplicate dates.
func Normalize(symbol string, f *Frame) (model.PriceSeries, error) {
	series := model.PriceSeries{Symbol: symbol}
	if f.Len() == 0 {
		return series, nil
	}

	idx := map[field]int{}
	for i, col := range f.Columns {
		fl := columnField(symbol, col)
		if fl == fieldUnknown {
			continue
		}
		if _, dup := idx[fl]; !dup {
			idx[fl] = i
		}
	}
	closeIdx, ok := idx[fieldClose]
	if !ok {
		return series, fmt.Errorf("%s: %w: close (columns %v)", symbol, ErrMissingColumn, f.Columns)
	}

	get := func(row []float64, fl field) float64 {
		i, ok := idx[fl]
		if !ok || i >= len(row) {
			return math.NaN()
		}
		return row[i]
	}

	byDate := make(map[time.Time]model.PricePoint, len(f.Rows))
	for r, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return series, fmt.Errorf("%s: row %d has %d values, want %d", symbol, r, len(row), len(f.Columns))
		}
		c := row[closeIdx]
		if math.IsNaN(c) || math.IsInf(c, 0) {
			continue
		}
		p := model.PricePoint{
			Date:     model.Day(f.Index[r]),
			Open:     get(row, fieldOpen),
			High:     get(row, fieldHigh),
			Low:      get(row, fieldLow),
			Close:    c,
			AdjClose: get(row, fieldAdjClose),
			Volume:   get(row, fieldVolume),
		}
		if math.IsNaN(p.AdjClose) {
			p.AdjClose = c
		}
		if math.IsNaN(p.Volume) || p.Volume < 0 {
			p.Volume = 0
		}
		byDate[p.Date] = p
	}

	series.Points = make([]model.PricePoint, 0, len(byDate))
	for _, p := range byDate {
		series.Points = append(series.Points, p)
	}
	sort.Slice(series.Points, func(i, j int) bool { return series.Points[i].Date.Before(series.Points[j].Date) })
	return series, nil
}

// Merge appends newer points to a cached series. On a date conflict the fresh point wins.
func Merge(cached, fresh model.PriceSeries) model.PriceSeries {
	byDate := make(map[time.Time]model.PricePoint, cached.Len()+fresh.Len())
	for _, p := range cached.Points {
		byDate[p.Date] = p
	}
	for _, p := range fresh.Points {
		byDate[p.Date] = p
	}
	out := model.PriceSeries{Symbol: cached.Symbol, Points: make([]model.PricePoint, 0, len(byDate))}
	if out.Symbol == "" {
		out.Symbol = fresh.Symbol
	}
	for _, p := range byDate {
		out.Points = append(out.Points, p)
	}
	sort.Slice(out.Points, func(i, j int) bool { return out.Points[i].Date.Before(out.Points[j].Date) })
	return out
}
