package collector

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"MarketScanner/internal/fsutil"
	"MarketScanner/internal/metrics"
	"MarketScanner/internal/model"
	"MarketScanner/internal/retry"
)

const historyDir = "historical_data"

var historyHeader = []string{"Date", "Open", "High", "Low", "Close", "Adj Close", "Volume"}

// CacheOptions configures a Cache.
type CacheOptions struct {
	DataDir  string
	Period   string // full-history lookback, e.g. "2y"
	Interval string // bar interval, e.g. "1d"
	Retry    retry.Policy
	// MinPause and MaxPause bound the jittered delay after each successful provider call.
	MinPause time.Duration
	MaxPause time.Duration
	Now      func() time.Time
	Metrics  *metrics.Metrics
}

// Cache keeps an append-only per-ticker copy of the provider history on disk
// so repeated runs only download the missing tail.
type Cache struct {
	fetcher Fetcher
	opts    CacheOptions

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	info  map[string]infoEntry
}

// infoEntry is a successful company lookup and the calendar day it was fetched.
type infoEntry struct {
	info CompanyInfo
	day  time.Time
}

// NewCache creates a Cache backed by fetcher.
func NewCache(fetcher Fetcher, opts CacheOptions) *Cache {
	if opts.Period == "" {
		opts.Period = "2y"
	}
	if opts.Interval == "" {
		opts.Interval = "1d"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPause < opts.MinPause {
		opts.MaxPause = opts.MinPause
	}
	onRetry := opts.Retry.OnRetry
	m := opts.Metrics
	opts.Retry.OnRetry = func(attempt int, err error, d time.Duration) {
		m.IncFetchRetry()
		if onRetry != nil {
			onRetry(attempt, err, d)
		}
		log.Printf("[WARN] provider call failed (attempt %d): %v, retrying in %v", attempt+1, err, d.Round(time.Millisecond))
	}
	return &Cache{
		fetcher: fetcher,
		opts:    opts,
		locks:   make(map[string]*sync.Mutex),
		info:    make(map[string]infoEntry),
	}
}

// Path returns the cache file for ticker.
func (c *Cache) Path(ticker string) string {
	return filepath.Join(c.opts.DataDir, historyDir, ticker+".csv")
}

func (c *Cache) lockFor(ticker string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[ticker]
	if !ok {
		l = &sync.Mutex{}
		c.locks[ticker] = l
	}
	return l
}

// GetHistory returns the cached history for ticker, refreshed with any missing days.
// It never fails: on provider errors it falls back to the stale cache, or an empty series.
func (c *Cache) GetHistory(ctx context.Context, ticker string) model.PriceSeries {
	l := c.lockFor(ticker)
	l.Lock()
	defer l.Unlock()

	path := c.Path(ticker)
	cached, err := loadHistory(path, ticker)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[WARN] %s: discarding unreadable cache %s: %v", ticker, path, err)
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Printf("[WARN] %s: remove cache: %v", ticker, rmErr)
		}
		cached = model.PriceSeries{Symbol: ticker}
	}

	if cached.Len() == 0 {
		fresh, err := c.fetchFull(ctx, ticker)
		if err != nil {
			log.Printf("[ERROR] %s: fetch history: %v", ticker, err)
			return model.PriceSeries{Symbol: ticker}
		}
		if fresh.Len() > 0 {
			c.save(path, fresh)
		}
		return fresh
	}

	today := model.Day(c.opts.Now())
	last := cached.LastDate()
	if !today.After(last) {
		return cached
	}

	delta, err := c.fetchRange(ctx, ticker, last.AddDate(0, 0, 1), today.AddDate(0, 0, 1))
	if err != nil {
		log.Printf("[WARN] %s: fetch delta since %s failed, using stale cache: %v", ticker, last.Format(model.DateLayout), err)
		return cached
	}
	if delta.Len() == 0 {
		return cached
	}
	merged := Merge(cached, delta)
	c.save(path, merged)
	return merged
}

func (c *Cache) fetchFull(ctx context.Context, ticker string) (model.PriceSeries, error) {
	var frame *Frame
	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		var err error
		frame, err = c.fetcher.FetchHistory(ctx, ticker, c.opts.Period, c.opts.Interval)
		return err
	})
	if err != nil {
		return model.PriceSeries{}, err
	}
	c.pause(ctx)
	return Normalize(ticker, frame)
}

func (c *Cache) fetchRange(ctx context.Context, ticker string, start, end time.Time) (model.PriceSeries, error) {
	var frame *Frame
	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		var err error
		frame, err = c.fetcher.FetchHistoryRange(ctx, ticker, start, end, c.opts.Interval)
		return err
	})
	if err != nil {
		return model.PriceSeries{}, err
	}
	c.pause(ctx)
	return Normalize(ticker, frame)
}

func (c *Cache) save(path string, series model.PriceSeries) {
	if err := saveHistory(path, series); err != nil {
		log.Printf("[ERROR] %s: write cache: %v", series.Symbol, err)
	}
}

// GetMarketCap returns the provider market capitalization, or 0 when unavailable.
func (c *Cache) GetMarketCap(ctx context.Context, ticker string) float64 {
	return c.companyInfo(ctx, ticker).MarketCap
}

// GetCompanyName returns the provider short name, falling back to the ticker.
func (c *Cache) GetCompanyName(ctx context.Context, ticker string) string {
	if name := c.companyInfo(ctx, ticker).Name; name != "" {
		return name
	}
	return ticker
}

// companyInfo is fetched at most once per ticker per calendar day. Failures are not kept,
// so the next call asks the provider again.
func (c *Cache) companyInfo(ctx context.Context, ticker string) CompanyInfo {
	today := model.Day(c.opts.Now())
	c.mu.Lock()
	e, ok := c.info[ticker]
	c.mu.Unlock()
	if ok && e.day.Equal(today) {
		return e.info
	}

	var info CompanyInfo
	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		var err error
		info, err = c.fetcher.FetchInfo(ctx, ticker)
		return err
	})
	if err != nil {
		log.Printf("[WARN] %s: company info unavailable: %v", ticker, err)
		return CompanyInfo{}
	}
	c.pause(ctx)

	c.mu.Lock()
	c.info[ticker] = infoEntry{info: info, day: today}
	c.mu.Unlock()
	return info
}

// pause spaces out provider requests with a random delay in [MinPause, MaxPause].
func (c *Cache) pause(ctx context.Context) {
	d := c.opts.MinPause
	if spread := c.opts.MaxPause - c.opts.MinPause; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread)))
	}
	if d <= 0 {
		return
	}
	sleep := c.opts.Retry.Sleep
	if sleep == nil {
		sleep = retry.SleepContext
	}
	_ = sleep(ctx, d)
}

func loadHistory(path, ticker string) (model.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.PriceSeries{Symbol: ticker}, err
	}
	defer f.Close()

	frame, err := readFrame(f)
	if err != nil {
		return model.PriceSeries{Symbol: ticker}, err
	}
	return Normalize(ticker, frame)
}

// readFrame parses a dated CSV table whose first column is the date index.
func readFrame(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header has %d columns", len(header))
	}

	frame := &Frame{Columns: header[1:]}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("line %d: %d fields, want %d", line, len(rec), len(header))
		}
		date, err := parseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]float64, len(rec)-1)
		for i, cell := range rec[1:] {
			row[i], err = parseCell(cell)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[i+1], err)
			}
		}
		frame.Append(date, row)
	}
	return frame, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(model.DateLayout) {
		s = s[:len(model.DateLayout)]
	}
	return time.Parse(model.DateLayout, s)
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func saveHistory(path string, series model.PriceSeries) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(historyHeader); err != nil {
		return err
	}
	for _, p := range series.Points {
		rec := []string{
			p.Date.Format(model.DateLayout),
			formatFloat(p.Open),
			formatFloat(p.High),
			formatFloat(p.Low),
			formatFloat(p.Close),
			formatFloat(p.AdjClose),
			formatFloat(p.Volume),
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
