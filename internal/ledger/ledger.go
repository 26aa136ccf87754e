// Package ledger records reported signals so each ticker is alerted at most once.
package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"MarketScanner/internal/model"
)

// Backend names accepted by Open.
const (
	BackendCSV    = "csv"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Ledger is a durable at-most-once record of crossovers and highs keyed by ticker.
type Ledger interface {
	// RecordCrossover inserts a qualifying crossover for an absent ticker and expires a present
	// one whose SMA20 has dropped below SMA50. It reports whether a new row was inserted.
	RecordCrossover(ctx context.Context, ev model.CrossoverEvent) (bool, error)
	// RecordHigh inserts the ticker if absent. Rows are never evicted.
	RecordHigh(ctx context.Context, ev model.HighEvent) (bool, error)
	Contains(ctx context.Context, kind model.SignalKind, ticker string) (bool, error)
	Crossovers(ctx context.Context) ([]model.CrossoverEvent, error)
	Highs(ctx context.Context) ([]model.HighEvent, error)
	Close() error
}

type action int

const (
	actionNone action = iota
	actionInsert
	actionRemove
)

// decideCrossover applies the crossover ledger rule given whether ticker already has a row.
func decideCrossover(present bool, ev model.CrossoverEvent) action {
	switch {
	case present && ev.SMA20 < ev.SMA50:
		return actionRemove
	case present:
		return actionNone
	case ev.IsObservation() || ev.SMA20 < ev.SMA50:
		return actionNone
	default:
		return actionInsert
	}
}

// Options selects and configures a backend.
type Options struct {
	Backend       string
	DataDir       string
	CrossoverFile string // default ledger.csv
	HighsFile     string // default highs_ledger.csv
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Namespace     string
}

// Open creates the configured backend.
func Open(ctx context.Context, opts Options) (Ledger, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendCSV:
		cross := opts.CrossoverFile
		if cross == "" {
			cross = "ledger.csv"
		}
		highs := opts.HighsFile
		if highs == "" {
			highs = "highs_ledger.csv"
		}
		return NewCSVLedger(resolve(opts.DataDir, cross), resolve(opts.DataDir, highs)), nil
	case BackendMemory:
		return NewMemoryLedger(), nil
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = "scanner.db"
		}
		return NewSQLiteLedger(resolve(opts.DataDir, path))
	case BackendRedis:
		return DialRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.Namespace)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", opts.Backend)
	}
}

func resolve(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
