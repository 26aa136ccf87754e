package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the on-disk date format for every cached table and ledger.
const DateLayout = "2006-01-02"

// PricePoint represents a single daily bar.
type PricePoint struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   float64
}

// PriceSeries holds the daily history of one ticker, ordered by date with no duplicates.
type PriceSeries struct {
	Symbol string
	Points []PricePoint
}

// Len returns the number of points in the series.
func (s PriceSeries) Len() int { return len(s.Points) }

// Closes returns the close prices in series order.
func (s PriceSeries) Closes() []float64 {
	closes := make([]float64, len(s.Points))
	for i, p := range s.Points {
		closes[i] = p.Close
	}
	return closes
}

// Last returns the most recent point. It panics on an empty series.
func (s PriceSeries) Last() PricePoint { return s.Points[len(s.Points)-1] }

// LastDate returns the date of the most recent point, or the zero time.
func (s PriceSeries) LastDate() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Since returns the points dated on or after from.
func (s PriceSeries) Since(from time.Time) PriceSeries {
	i := sort.Search(len(s.Points), func(i int) bool { return !s.Points[i].Date.Before(from) })
	return PriceSeries{Symbol: s.Symbol, Points: s.Points[i:]}
}

// PeriodStart returns the first calendar day covered by a provider period such as "5d",
// "6mo", "2y" or "max" (the zero time), counted back from now.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	if p == "max" {
		return time.Time{}, nil
	}
	units := []struct {
		suffix        string
		years, months int
		days          int
	}{
		{"mo", 0, 1, 0},
		{"wk", 0, 0, 7},
		{"y", 1, 0, 0},
		{"d", 0, 0, 1},
	}
	for _, u := range units {
		num, ok := strings.CutSuffix(p, u.suffix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil || n <= 0 {
			return time.Time{}, fmt.Errorf("invalid period %q", period)
		}
		return Day(now).AddDate(-n*u.years, -n*u.months, -n*u.days), nil
	}
	return time.Time{}, fmt.Errorf("invalid period %q", period)
}
