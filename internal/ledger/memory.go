package ledger

import (
	"context"
	"sync"

	"MarketScanner/internal/model"
)

// MemoryLedger keeps rows in process memory. Used for dry runs and tests.
type MemoryLedger struct {
	mu         sync.Mutex
	crossovers []model.CrossoverEvent
	highs      []model.HighEvent
}

func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{} }

func (m *MemoryLedger) RecordCrossover(_ context.Context, ev model.CrossoverEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, row := range m.crossovers {
		if row.Ticker == ev.Ticker {
			idx = i
			break
		}
	}
	switch decideCrossover(idx >= 0, ev) {
	case actionRemove:
		m.crossovers = append(m.crossovers[:idx], m.crossovers[idx+1:]...)
	case actionInsert:
		m.crossovers = append(m.crossovers, ev)
		return true, nil
	}
	return false, nil
}

func (m *MemoryLedger) RecordHigh(_ context.Context, ev model.HighEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.highs {
		if row.Ticker == ev.Ticker {
			return false, nil
		}
	}
	m.highs = append(m.highs, ev)
	return true, nil
}

func (m *MemoryLedger) Contains(_ context.Context, kind model.SignalKind, ticker string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == model.KindHigh {
		for _, row := range m.highs {
			if row.Ticker == ticker {
				return true, nil
			}
		}
		return false, nil
	}
	for _, row := range m.crossovers {
		if row.Ticker == ticker {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryLedger) Crossovers(_ context.Context) ([]model.CrossoverEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CrossoverEvent(nil), m.crossovers...), nil
}

func (m *MemoryLedger) Highs(_ context.Context) ([]model.HighEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.HighEvent(nil), m.highs...), nil
}

func (m *MemoryLedger) Close() error { return nil }
