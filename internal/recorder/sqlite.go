package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"MarketScanner/internal/model"
)

// SQLiteRecorder persists scan runs and their signals to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			universe    INTEGER,
			scanned     INTEGER,
			skipped     INTEGER,
			failed      INTEGER,
			crossovers  INTEGER,
			highs       INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON scan_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS scan_signals (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      INTEGER NOT NULL REFERENCES scan_runs(id),
			kind        TEXT NOT NULL,
			ticker      TEXT NOT NULL,
			signal_date TEXT,
			close       REAL,
			sma20       REAL,
			sma50       REAL,
			sma200      REAL,
			ema20       REAL,
			ema50       REAL,
			ema200      REAL,
			company     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_ticker ON scan_signals(ticker)`,

		`CREATE TABLE IF NOT EXISTS deliveries (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id    INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			channel   TEXT,
			subject   TEXT,
			error     TEXT
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordScan stores the run counters and every reported signal in one transaction.
func (r *SQLiteRecorder) RecordScan(res *model.ScanResult) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	out, err := tx.Exec(`INSERT INTO scan_runs
		(started_at, finished_at, universe, scanned, skipped, failed, crossovers, highs)
		VALUES (?,?,?,?,?,?,?,?)`,
		res.StartedAt.Unix(), res.FinishedAt.Unix(),
		res.Universe, res.Scanned, res.Skipped, res.Failed,
		len(res.Crossovers), len(res.Highs),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := out.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO scan_signals
		(run_id, kind, ticker, signal_date, close, sma20, sma50, sma200, ema20, ema50, ema200, company)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range res.Crossovers {
		ema := emaFor(res, e.Ticker)
		if _, err := stmt.Exec(runID, string(model.KindCrossover), e.Ticker,
			e.CrossoverDate.Format(model.DateLayout), e.Close, e.SMA20, e.SMA50, e.SMA200,
			ema[0], ema[1], ema[2], nil); err != nil {
			return 0, fmt.Errorf("insert crossover %s: %w", e.Ticker, err)
		}
	}
	for _, e := range res.Highs {
		ema := emaFor(res, e.Ticker)
		if _, err := stmt.Exec(runID, string(model.KindHigh), e.Ticker,
			e.HighDate.Format(model.DateLayout), e.Close, nil, nil, nil,
			ema[0], ema[1], ema[2], e.CompanyName); err != nil {
			return 0, fmt.Errorf("insert high %s: %w", e.Ticker, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// emaFor returns the EMA20/50/200 of ticker as nullable values.
func emaFor(res *model.ScanResult, ticker string) [3]any {
	var out [3]any
	vals := res.EMA[ticker]
	for i, w := range []int{model.ShortWindow, model.MediumWindow, model.LongWindow} {
		if v, ok := vals[w]; ok {
			out[i] = v
		}
	}
	return out
}

func (r *SQLiteRecorder) RecordDelivery(runID int64, d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errText any
	if d.Err != nil {
		errText = d.Err.Error()
	}
	_, err := r.db.Exec(`INSERT INTO deliveries (run_id, timestamp, channel, subject, error)
		VALUES (?,?,?,?,?)`,
		runID, r.now().Unix(), d.Channel, d.Subject, errText,
	)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (r *SQLiteRecorder) RecentRuns(limit int) ([]RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT id, started_at, finished_at, universe, scanned, skipped, failed, crossovers, highs
		FROM scan_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var started, finished int64
		if err := rows.Scan(&s.ID, &started, &finished, &s.Universe, &s.Scanned,
			&s.Skipped, &s.Failed, &s.Crossovers, &s.Highs); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(started, 0)
		s.FinishedAt = time.Unix(finished, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
