package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketScanner/internal/ledger"
	"MarketScanner/internal/metrics"
	"MarketScanner/internal/model"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func build(closes []float64) model.PriceSeries {
	s := model.PriceSeries{}
	for i, c := range closes {
		s.Points = append(s.Points, model.PricePoint{Date: start.AddDate(0, 0, i), Close: c})
	}
	return s
}

// crossing returns 250 closes whose SMA20 crosses SMA50 on index 230 inside an uptrend,
// with the last close 7% above the crossover close.
func crossing() model.PriceSeries {
	closes := make([]float64, 250)
	for i := range closes {
		switch {
		case i < 180:
			closes[i] = 40
		case i < 230:
			closes[i] = 80
		default:
			closes[i] = 100
		}
	}
	closes[249] = 107
	return build(closes)
}

func rising() model.PriceSeries {
	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return build(closes)
}

func falling() model.PriceSeries {
	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 400 - float64(i)
	}
	return build(closes)
}

type fakeData struct {
	mu           sync.Mutex
	caps         map[string]float64
	series       map[string]model.PriceSeries
	names        map[string]string
	panics       map[string]bool
	historyCalls map[string]int
}

func newFakeData() *fakeData {
	return &fakeData{
		caps:         map[string]float64{},
		series:       map[string]model.PriceSeries{},
		names:        map[string]string{},
		panics:       map[string]bool{},
		historyCalls: map[string]int{},
	}
}

func (f *fakeData) add(ticker string, mcap float64, s model.PriceSeries) {
	f.caps[ticker] = mcap
	s.Symbol = ticker
	f.series[ticker] = s
}

func (f *fakeData) GetHistory(_ context.Context, ticker string) model.PriceSeries {
	f.mu.Lock()
	f.historyCalls[ticker]++
	f.mu.Unlock()
	if f.panics[ticker] {
		panic("provider returned a malformed frame")
	}
	return f.series[ticker]
}

func (f *fakeData) GetMarketCap(_ context.Context, ticker string) float64 { return f.caps[ticker] }

func (f *fakeData) GetCompanyName(_ context.Context, ticker string) string {
	if n, ok := f.names[ticker]; ok {
		return n
	}
	return ticker
}

type failingLedger struct {
	*ledger.MemoryLedger
	fail string
}

func (l *failingLedger) RecordCrossover(ctx context.Context, ev model.CrossoverEvent) (bool, error) {
	if ev.Ticker == l.fail {
		return false, errors.New("disk full")
	}
	return l.MemoryLedger.RecordCrossover(ctx, ev)
}

type fixedEMA map[int][]float64

func (f fixedEMA) Update(string, model.PriceSeries) (map[int][]float64, error) { return f, nil }

func newScanner(data MarketData, l ledger.Ledger) *Scanner {
	s := New(data, nil, l, nil)
	s.Now = func() time.Time { return time.Date(2024, 9, 7, 22, 30, 0, 0, time.UTC) }
	return s
}

func TestRun_IsolatesFailures(t *testing.T) {
	data := newFakeData()
	data.add("AAA", 6e9, crossing())
	data.add("BAD", 6e9, model.PriceSeries{})
	data.add("PANIC", 6e9, rising())
	data.panics["PANIC"] = true
	data.add("CCC", 6e9, rising())
	data.names["CCC"] = "Charlie Corp"

	res := newScanner(data, ledger.NewMemoryLedger()).Run(context.Background(), []string{"AAA", "BAD", "PANIC", "CCC"})

	assert.Equal(t, 4, res.Universe)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"AAA"}, res.CrossoverTickers())
	assert.Equal(t, []string{"AAA", "CCC"}, res.HighTickers())
	assert.Equal(t, "Charlie Corp", res.Highs[1].CompanyName)
	assert.True(t, res.Crossovers[0].CrossoverDate.Equal(start.AddDate(0, 0, 230)))
	assert.Contains(t, res.EMA, "CCC")
}

func TestRun_MarketCapFloor(t *testing.T) {
	data := newFakeData()
	data.add("SMALL", 4.9e9, rising())
	data.add("EDGE", 5e9, rising())
	data.add("OVER", 5_000_000_001, rising())
	data.add("NOCAP", 0, rising())

	res := newScanner(data, ledger.NewMemoryLedger()).Run(context.Background(), []string{"SMALL", "EDGE", "OVER", "NOCAP"})

	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, []string{"OVER"}, res.HighTickers())
	assert.Zero(t, data.historyCalls["SMALL"], "skipped tickers are not fetched")
	assert.Zero(t, data.historyCalls["EDGE"])
	assert.Zero(t, data.historyCalls["NOCAP"])
	assert.Equal(t, 1, data.historyCalls["OVER"])
}

func TestRun_ReportsOnlyNewSignals(t *testing.T) {
	data := newFakeData()
	data.add("AAA", 6e9, crossing())
	s := newScanner(data, ledger.NewMemoryLedger())

	first := s.Run(context.Background(), []string{"AAA"})
	assert.Equal(t, []string{"AAA"}, first.CrossoverTickers())
	assert.Equal(t, []string{"AAA"}, first.HighTickers())

	second := s.Run(context.Background(), []string{"AAA"})
	assert.Empty(t, second.Crossovers)
	assert.Empty(t, second.Highs)
	assert.Equal(t, 1, second.Scanned)
}

func TestRun_ExpiresReversedCrossover(t *testing.T) {
	ctx := context.Background()
	data := newFakeData()
	data.add("AAA", 6e9, crossing())
	l := ledger.NewMemoryLedger()
	s := newScanner(data, l)

	require.Len(t, s.Run(ctx, []string{"AAA"}).Crossovers, 1)

	data.add("AAA", 6e9, falling())
	res := s.Run(ctx, []string{"AAA"})
	assert.Empty(t, res.Crossovers)
	ok, err := l.Contains(ctx, model.KindCrossover, "AAA")
	require.NoError(t, err)
	assert.False(t, ok, "reversed trend expires the ledger row")

	data.add("AAA", 6e9, crossing())
	assert.Equal(t, []string{"AAA"}, s.Run(ctx, []string{"AAA"}).CrossoverTickers())
}

func TestRun_LedgerErrorFailsOnlyThatTicker(t *testing.T) {
	data := newFakeData()
	data.add("ERR", 6e9, crossing())
	data.add("OK", 6e9, crossing())
	m := metrics.New()
	s := newScanner(data, &failingLedger{MemoryLedger: ledger.NewMemoryLedger(), fail: "ERR"})
	s.Metrics = m

	res := s.Run(context.Background(), []string{"ERR", "OK"})
	assert.Equal(t, []string{"OK"}, res.CrossoverTickers())
	assert.Equal(t, []string{"ERR", "OK"}, res.HighTickers(), "a failed crossover write does not drop the high")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Scanned)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TickersTotal.WithLabelValues(metrics.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues(string(model.KindCrossover))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal))
}

func TestRun_NewHighUsesPeriodWindow(t *testing.T) {
	// a spike 300 days before the end, then a lower recent peak
	closes := make([]float64, 400)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.1
	}
	closes[99] = 500
	series := build(closes)
	data := newFakeData()
	data.add("AAA", 6e9, series)

	s := newScanner(data, ledger.NewMemoryLedger())
	s.Now = func() time.Time { return series.LastDate().Add(22 * time.Hour) }
	s.HighPeriod = ""
	assert.Empty(t, s.Run(context.Background(), []string{"AAA"}).Highs, "whole history includes the spike")

	s.HighPeriod = "6mo"
	assert.Equal(t, []string{"AAA"}, s.Run(context.Background(), []string{"AAA"}).HighTickers())
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	data := newFakeData()
	data.add("AAA", 6e9, rising())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newScanner(data, ledger.NewMemoryLedger()).Run(ctx, []string{"AAA"})
	assert.Zero(t, res.Scanned)
	assert.Zero(t, data.historyCalls["AAA"])
	assert.False(t, res.FinishedAt.IsZero())
}

func TestRun_UsesEMASource(t *testing.T) {
	data := newFakeData()
	data.add("CCC", 6e9, rising())
	emas := fixedEMA{}
	for _, w := range model.DefaultWindows {
		vals := make([]float64, 250)
		vals[249] = float64(w) * 10
		emas[w] = vals
	}
	s := newScanner(data, ledger.NewMemoryLedger())
	s.EMAs = emas

	res := s.Run(context.Background(), []string{"CCC"})
	require.Contains(t, res.EMA, "CCC")
	assert.Equal(t, 200.0, res.EMA["CCC"][model.ShortWindow])
	assert.Equal(t, 2000.0, res.EMA["CCC"][model.LongWindow])
}

func TestSummary(t *testing.T) {
	res := &model.ScanResult{Universe: 3, Scanned: 2, Skipped: 1}
	assert.Equal(t, "universe=3 scanned=2 skipped=1 failed=0 crossovers=0 highs=0", Summary(res))
}
