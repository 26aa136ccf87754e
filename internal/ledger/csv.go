package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"MarketScanner/internal/fsutil"
	"MarketScanner/internal/model"
)

var (
	crossoverHeader = []string{"Ticker", "SMA20", "SMA50", "SMA200", "CrossoverDate"}
	highsHeader     = []string{"Ticker", "Company", "Close", "HighDate"}
)

// CSVLedger stores each ledger as a flat CSV table. Every operation reads the whole table,
// modifies it in memory and rewrites it atomically.
type CSVLedger struct {
	crossoverPath string
	highsPath     string

	crossMu sync.Mutex
	highsMu sync.Mutex
}

func NewCSVLedger(crossoverPath, highsPath string) *CSVLedger {
	return &CSVLedger{crossoverPath: crossoverPath, highsPath: highsPath}
}

func (l *CSVLedger) RecordCrossover(_ context.Context, ev model.CrossoverEvent) (bool, error) {
	l.crossMu.Lock()
	defer l.crossMu.Unlock()

	rows, err := l.loadCrossovers()
	if err != nil {
		return false, err
	}
	idx := -1
	for i, row := range rows {
		if row.Ticker == ev.Ticker {
			idx = i
			break
		}
	}

	switch decideCrossover(idx >= 0, ev) {
	case actionRemove:
		rows = append(rows[:idx], rows[idx+1:]...)
		if err := l.saveCrossovers(rows); err != nil {
			return false, err
		}
		return false, nil
	case actionInsert:
		rows = append(rows, ev)
		if err := l.saveCrossovers(rows); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (l *CSVLedger) RecordHigh(_ context.Context, ev model.HighEvent) (bool, error) {
	l.highsMu.Lock()
	defer l.highsMu.Unlock()

	rows, err := l.loadHighs()
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row.Ticker == ev.Ticker {
			return false, nil
		}
	}
	if err := l.saveHighs(append(rows, ev)); err != nil {
		return false, err
	}
	return true, nil
}

func (l *CSVLedger) Contains(ctx context.Context, kind model.SignalKind, ticker string) (bool, error) {
	if kind == model.KindHigh {
		rows, err := l.Highs(ctx)
		if err != nil {
			return false, err
		}
		for _, r := range rows {
			if r.Ticker == ticker {
				return true, nil
			}
		}
		return false, nil
	}
	rows, err := l.Crossovers(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.Ticker == ticker {
			return true, nil
		}
	}
	return false, nil
}

func (l *CSVLedger) Crossovers(_ context.Context) ([]model.CrossoverEvent, error) {
	l.crossMu.Lock()
	defer l.crossMu.Unlock()
	return l.loadCrossovers()
}

func (l *CSVLedger) Highs(_ context.Context) ([]model.HighEvent, error) {
	l.highsMu.Lock()
	defer l.highsMu.Unlock()
	return l.loadHighs()
}

func (l *CSVLedger) Close() error { return nil }

func (l *CSVLedger) loadCrossovers() ([]model.CrossoverEvent, error) {
	records, err := readTable(l.crossoverPath, crossoverHeader)
	if err != nil {
		return nil, err
	}
	rows := make([]model.CrossoverEvent, 0, len(records))
	for i, rec := range records {
		ev := model.CrossoverEvent{Ticker: rec[0]}
		var perr error
		if ev.SMA20, perr = parseFloat(rec[1]); perr == nil {
			if ev.SMA50, perr = parseFloat(rec[2]); perr == nil {
				if ev.SMA200, perr = parseFloat(rec[3]); perr == nil {
					ev.CrossoverDate, perr = parseDate(rec[4])
				}
			}
		}
		if perr != nil {
			return nil, fmt.Errorf("%s row %d: %w", l.crossoverPath, i+2, perr)
		}
		rows = append(rows, ev)
	}
	return rows, nil
}

func (l *CSVLedger) saveCrossovers(rows []model.CrossoverEvent) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.Ticker,
			formatFloat(r.SMA20),
			formatFloat(r.SMA50),
			formatFloat(r.SMA200),
			formatDate(r.CrossoverDate),
		})
	}
	return writeTable(l.crossoverPath, crossoverHeader, records)
}

func (l *CSVLedger) loadHighs() ([]model.HighEvent, error) {
	records, err := readTable(l.highsPath, highsHeader)
	if err != nil {
		return nil, err
	}
	rows := make([]model.HighEvent, 0, len(records))
	for i, rec := range records {
		ev := model.HighEvent{Ticker: rec[0], CompanyName: rec[1]}
		var perr error
		if ev.Close, perr = parseFloat(rec[2]); perr == nil {
			ev.HighDate, perr = parseDate(rec[3])
		}
		if perr != nil {
			return nil, fmt.Errorf("%s row %d: %w", l.highsPath, i+2, perr)
		}
		rows = append(rows, ev)
	}
	return rows, nil
}

func (l *CSVLedger) saveHighs(rows []model.HighEvent) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.Ticker,
			r.CompanyName,
			formatFloat(r.Close),
			formatDate(r.HighDate),
		})
	}
	return writeTable(l.highsPath, highsHeader, records)
}

// readTable returns the data rows ordered as header. A missing file is an empty table.
func readTable(path string, header []string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	all, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	pos := make([]int, len(header))
	for i, name := range header {
		pos[i] = -1
		for j, got := range all[0] {
			if strings.EqualFold(strings.TrimSpace(got), name) {
				pos[i] = j
				break
			}
		}
		if pos[i] < 0 {
			return nil, fmt.Errorf("ledger %s: missing column %q", path, name)
		}
	}

	out := make([][]string, 0, len(all)-1)
	for _, rec := range all[1:] {
		row := make([]string, len(header))
		for i, p := range pos {
			row[i] = strings.TrimSpace(rec[p])
		}
		out = append(out, row)
	}
	return out, nil
}

func writeTable(path string, header []string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if len(s) > len(model.DateLayout) {
		s = s[:len(model.DateLayout)]
	}
	return time.Parse(model.DateLayout, s)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}
