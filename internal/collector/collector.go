package collector

import (
	"context"
	"sync"
	"time"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	mu sync.Mutex

	Frames map[string]*Frame
	Infos  map[string]CompanyInfo
	// Errs makes every call for a symbol fail with the given error.
	Errs map[string]error

	HistoryCalls map[string]int
	RangeCalls   map[string]int
	InfoCalls    map[string]int
}

// NewMockFetcher creates an empty MockFetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		Frames:       make(map[string]*Frame),
		Infos:        make(map[string]CompanyInfo),
		Errs:         make(map[string]error),
		HistoryCalls: make(map[string]int),
		RangeCalls:   make(map[string]int),
		InfoCalls:    make(map[string]int),
	}
}

func (m *MockFetcher) Name() string { return "mock" }

// SetFrame replaces the history served for symbol.
func (m *MockFetcher) SetFrame(symbol string, f *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames[symbol] = f
}

// Calls returns how many history, range and info calls symbol received.
func (m *MockFetcher) Calls(symbol string) (history, ranged, info int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HistoryCalls[symbol], m.RangeCalls[symbol], m.InfoCalls[symbol]
}

func (m *MockFetcher) FetchHistory(_ context.Context, symbol, _, _ string) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls[symbol]++
	if err := m.Errs[symbol]; err != nil {
		return nil, err
	}
	f, ok := m.Frames[symbol]
	if !ok {
		return &Frame{Columns: yahooColumns}, nil
	}
	return f, nil
}

func (m *MockFetcher) FetchHistoryRange(_ context.Context, symbol string, start, end time.Time, _ string) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RangeCalls[symbol]++
	if err := m.Errs[symbol]; err != nil {
		return nil, err
	}
	src, ok := m.Frames[symbol]
	out := &Frame{Columns: yahooColumns}
	if !ok {
		return out, nil
	}
	out.Columns = src.Columns
	for i, d := range src.Index {
		if !d.Before(start) && d.Before(end) {
			out.Append(d, src.Rows[i])
		}
	}
	return out, nil
}

func (m *MockFetcher) FetchInfo(_ context.Context, symbol string) (CompanyInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls[symbol]++
	if err := m.Errs[symbol]; err != nil {
		return CompanyInfo{}, err
	}
	info, ok := m.Infos[symbol]
	if !ok {
		return CompanyInfo{}, ErrNoData
	}
	return info, nil
}
