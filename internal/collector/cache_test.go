package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketScanner/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestCache(t *testing.T, fetcher Fetcher, now *time.Time) *Cache {
	t.Helper()
	return NewCache(fetcher, CacheOptions{
		DataDir: t.TempDir(),
		Retry:   retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Sleep: noSleep},
		Now:     func() time.Time { return *now },
	})
}

func TestCache_FullThenDelta(t *testing.T) {
	m := NewMockFetcher()
	m.SetFrame("AAA", priceFrame(day(2025, 1, 1), 10, 11, 12, 13, 14))
	now := time.Date(2025, 1, 5, 21, 0, 0, 0, time.UTC)
	c := newTestCache(t, m, &now)
	ctx := context.Background()

	series := c.GetHistory(ctx, "AAA")
	require.Equal(t, 5, series.Len())
	hist, ranged, _ := m.Calls("AAA")
	assert.Equal(t, 1, hist)
	assert.Equal(t, 0, ranged)

	data, err := os.ReadFile(c.Path("AAA"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Date,Open,High,Low,Close,Adj Close,Volume", lines[0])
	assert.Equal(t, "2025-01-01,10,10,10,10,10,1000", lines[1])

	// same day: served from disk
	series = c.GetHistory(ctx, "AAA")
	assert.Equal(t, 5, series.Len())
	hist, ranged, _ = m.Calls("AAA")
	assert.Equal(t, 1, hist)
	assert.Equal(t, 0, ranged)

	m.SetFrame("AAA", priceFrame(day(2025, 1, 1), 10, 11, 12, 13, 14, 15, 16, 17))
	now = time.Date(2025, 1, 8, 21, 0, 0, 0, time.UTC)
	series = c.GetHistory(ctx, "AAA")
	require.Equal(t, 8, series.Len())
	assert.Equal(t, 17.0, series.Last().Close)
	hist, ranged, _ = m.Calls("AAA")
	assert.Equal(t, 1, hist, "no full refetch once cached")
	assert.Equal(t, 1, ranged)

	reloaded, err := loadHistory(c.Path("AAA"), "AAA")
	require.NoError(t, err)
	assert.Equal(t, series.Closes(), reloaded.Closes())
}

func TestCache_CorruptFileRebuilt(t *testing.T) {
	m := NewMockFetcher()
	m.SetFrame("BAD", priceFrame(day(2025, 1, 1), 5, 6, 7))
	now := day(2025, 1, 3)
	c := newTestCache(t, m, &now)

	require.NoError(t, os.MkdirAll(filepath.Dir(c.Path("BAD")), 0o755))
	require.NoError(t, os.WriteFile(c.Path("BAD"), []byte("not,a\nvalid\n"), 0o644))

	series := c.GetHistory(context.Background(), "BAD")
	require.Equal(t, 3, series.Len())
	hist, _, _ := m.Calls("BAD")
	assert.Equal(t, 1, hist)

	reloaded, err := loadHistory(c.Path("BAD"), "BAD")
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Len())
}

func TestCache_StaleFallback(t *testing.T) {
	m := NewMockFetcher()
	m.SetFrame("OLD", priceFrame(day(2025, 1, 1), 1, 2, 3))
	now := day(2025, 1, 3)
	c := newTestCache(t, m, &now)
	ctx := context.Background()

	require.Equal(t, 3, c.GetHistory(ctx, "OLD").Len())

	m.Errs["OLD"] = errors.New("connection reset")
	now = day(2025, 1, 10)
	series := c.GetHistory(ctx, "OLD")
	assert.Equal(t, 3, series.Len(), "stale cache is served")
	_, ranged, _ := m.Calls("OLD")
	assert.Equal(t, 2, ranged, "delta fetch retried up to the attempt limit")
}

func TestCache_EmptyOnFailureWithoutCache(t *testing.T) {
	m := NewMockFetcher()
	m.Errs["GONE"] = retry.Permanent(errors.New("delisted"))
	now := day(2025, 1, 3)
	c := newTestCache(t, m, &now)

	series := c.GetHistory(context.Background(), "GONE")
	assert.Equal(t, 0, series.Len())
	hist, _, _ := m.Calls("GONE")
	assert.Equal(t, 1, hist, "permanent errors are not retried")
	_, err := os.Stat(c.Path("GONE"))
	assert.True(t, os.IsNotExist(err))
}

func TestCache_CompanyInfoCachedForTheDay(t *testing.T) {
	m := NewMockFetcher()
	m.Infos["AAA"] = CompanyInfo{MarketCap: 6e9, Name: "Alpha Corp"}
	now := day(2025, 1, 3)
	c := newTestCache(t, m, &now)
	ctx := context.Background()

	assert.Equal(t, 6e9, c.GetMarketCap(ctx, "AAA"))
	assert.Equal(t, "Alpha Corp", c.GetCompanyName(ctx, "AAA"))
	_, _, info := m.Calls("AAA")
	assert.Equal(t, 1, info, "same-day lookups are served from memory")

	m.mu.Lock()
	m.Infos["AAA"] = CompanyInfo{MarketCap: 7e9, Name: "Alpha Corp"}
	m.mu.Unlock()
	now = day(2025, 1, 4)
	assert.Equal(t, 7e9, c.GetMarketCap(ctx, "AAA"), "next day refreshes the cap")
	_, _, info = m.Calls("AAA")
	assert.Equal(t, 2, info)
}

func TestCache_CompanyInfoFailureNotKept(t *testing.T) {
	m := NewMockFetcher()
	m.Errs["AAA"] = retry.Permanent(errors.New("unauthorized"))
	now := day(2025, 1, 3)
	c := newTestCache(t, m, &now)
	ctx := context.Background()

	assert.Zero(t, c.GetMarketCap(ctx, "AAA"))
	assert.Equal(t, "AAA", c.GetCompanyName(ctx, "AAA"), "name falls back to the ticker")
	_, _, info := m.Calls("AAA")
	assert.Equal(t, 2, info, "a failed lookup is asked again")

	m.mu.Lock()
	delete(m.Errs, "AAA")
	m.Infos["AAA"] = CompanyInfo{MarketCap: 9e9, Name: "Alpha Corp"}
	m.mu.Unlock()
	now = day(2025, 1, 4)
	assert.Equal(t, 9e9, c.GetMarketCap(ctx, "AAA"))
	_, _, info = m.Calls("AAA")
	assert.Equal(t, 3, info)
}
