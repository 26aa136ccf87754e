package recorder

import (
	"time"

	"MarketScanner/internal/model"
)

// Delivery records one notification attempt.
type Delivery struct {
	Channel string // notifier name
	Subject string
	Err     error
}

// RunSummary is a stored scan run.
type RunSummary struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Universe   int
	Scanned    int
	Skipped    int
	Failed     int
	Crossovers int
	Highs      int
}

// Recorder persists scan history for analysis.
type Recorder interface {
	RecordScan(res *model.ScanResult) (int64, error)
	RecordDelivery(runID int64, d Delivery) error
	Close() error
}
