package collector

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"MarketScanner/internal/calculator"
	"MarketScanner/internal/fsutil"
	"MarketScanner/internal/model"
)

const emaDir = "ema_data"

// EMAStore persists Close and EMA columns per ticker and extends them incrementally.
type EMAStore struct {
	dataDir string
	windows []int
}

// NewEMAStore creates a store writing under dataDir/ema_data.
func NewEMAStore(dataDir string, windows []int) *EMAStore {
	if len(windows) == 0 {
		windows = model.DefaultWindows
	}
	return &EMAStore{dataDir: dataDir, windows: windows}
}

// Path returns the EMA cache file for ticker.
func (s *EMAStore) Path(ticker string) string {
	return filepath.Join(s.dataDir, emaDir, ticker+"_ema.csv")
}

type emaTable struct {
	dates  []string
	closes []float64
	values map[int][]float64
}

// Update returns EMA arrays aligned with series. When the cached table is a consistent prefix
// of series, only the appended closes are folded in from the last cached EMA; otherwise every
// window is recomputed. The table is rewritten whenever it changed. A write failure is returned
// together with the computed values.
func (s *EMAStore) Update(ticker string, series model.PriceSeries) (map[int][]float64, error) {
	closes := series.Closes()
	out := make(map[int][]float64, len(s.windows))
	if len(closes) == 0 {
		return out, nil
	}

	path := s.Path(ticker)
	cached, err := s.load(path)
	if err == nil && s.consistent(cached, series) {
		n := len(cached.dates)
		for _, w := range s.windows {
			head := cached.values[w]
			vals := make([]float64, 0, len(closes))
			vals = append(vals, head...)
			vals = append(vals, calculator.ResumeEMA(head[n-1], closes[n:], w)...)
			out[w] = vals
		}
		if n == len(closes) {
			return out, nil
		}
	} else {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return s.recompute(path, series, closes, fmt.Errorf("%s: unreadable EMA cache rebuilt: %w", ticker, err))
		}
		return s.recompute(path, series, closes, nil)
	}
	return out, s.save(path, series, out)
}

func (s *EMAStore) recompute(path string, series model.PriceSeries, closes []float64, cause error) (map[int][]float64, error) {
	out := make(map[int][]float64, len(s.windows))
	for _, w := range s.windows {
		out[w] = calculator.EMA(closes, w)
	}
	if err := s.save(path, series, out); err != nil {
		return out, err
	}
	return out, cause
}

// consistent checks that the cached table starts and ends on the same dates and closes as series.
func (s *EMAStore) consistent(t *emaTable, series model.PriceSeries) bool {
	n := len(t.dates)
	if n == 0 || n > series.Len() {
		return false
	}
	for _, i := range []int{0, n - 1} {
		p := series.Points[i]
		if t.dates[i] != p.Date.Format(model.DateLayout) {
			return false
		}
		if math.Abs(t.closes[i]-p.Close) > 1e-9*math.Max(1, math.Abs(p.Close)) {
			return false
		}
	}
	for _, w := range s.windows {
		if len(t.values[w]) != n {
			return false
		}
	}
	return true
}

func (s *EMAStore) header() []string {
	h := []string{"Date", "Close"}
	for _, w := range s.windows {
		h = append(h, "EMA"+strconv.Itoa(w))
	}
	return h
}

func (s *EMAStore) load(path string) (*emaTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	frame, err := readFrame(f)
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(frame.Columns))
	for i, c := range frame.Columns {
		col[c] = i
	}
	closeIdx, ok := col["Close"]
	if !ok {
		return nil, fmt.Errorf("%w: Close", ErrMissingColumn)
	}

	t := &emaTable{values: make(map[int][]float64, len(s.windows))}
	for r, row := range frame.Rows {
		t.dates = append(t.dates, frame.Index[r].Format(model.DateLayout))
		t.closes = append(t.closes, row[closeIdx])
	}
	for _, w := range s.windows {
		i, ok := col["EMA"+strconv.Itoa(w)]
		if !ok {
			return nil, fmt.Errorf("%w: EMA%d", ErrMissingColumn, w)
		}
		vals := make([]float64, len(frame.Rows))
		for r, row := range frame.Rows {
			if math.IsNaN(row[i]) {
				return nil, fmt.Errorf("EMA%d missing on %s", w, t.dates[r])
			}
			vals[r] = row[i]
		}
		t.values[w] = vals
	}
	return t, nil
}

func (s *EMAStore) save(path string, series model.PriceSeries, values map[int][]float64) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.header()); err != nil {
		return err
	}
	for i, p := range series.Points {
		rec := []string{p.Date.Format(model.DateLayout), formatFloat(p.Close)}
		for _, win := range s.windows {
			rec = append(rec, formatFloat(values[win][i]))
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
