package collector

import (
	"context"
	"errors"
	"time"
)

// ErrNoData is returned when a provider answers without any rows for a symbol.
var ErrNoData = errors.New("no data returned")

// CompanyInfo is the subset of provider metadata the scanner needs.
type CompanyInfo struct {
	MarketCap float64
	Name      string
}

// Fetcher defines the interface for the external market-data provider.
type Fetcher interface {
	// FetchHistory returns the full history for a relative period such as "2y".
	FetchHistory(ctx context.Context, symbol, period, interval string) (*Frame, error)
	// FetchHistoryRange returns rows dated in [start, end).
	FetchHistoryRange(ctx context.Context, symbol string, start, end time.Time, interval string) (*Frame, error)
	FetchInfo(ctx context.Context, symbol string) (CompanyInfo, error)
	Name() string
}
