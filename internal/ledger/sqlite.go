package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"MarketScanner/internal/model"
)

// SQLiteLedger keeps both ledgers in SQLite tables keyed by ticker.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) the database and runs migrations.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes read-modify-write cycles.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Printf("[INFO] sqlite ledger opened: %s", dbPath)
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS crossover_ledger (
			ticker         TEXT PRIMARY KEY,
			sma20          REAL,
			sma50          REAL,
			sma200         REAL,
			close          REAL,
			crossover_date TEXT,
			detected_at    INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS highs_ledger (
			ticker    TEXT PRIMARY KEY,
			company   TEXT,
			close     REAL,
			high_date TEXT
		)`,
	}
	for _, s := range stmts {
		if _, err := l.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (l *SQLiteLedger) RecordCrossover(ctx context.Context, ev model.CrossoverEvent) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM crossover_ledger WHERE ticker = ?`, ev.Ticker).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup crossover: %w", err)
	}
	present := err == nil

	inserted := false
	switch decideCrossover(present, ev) {
	case actionNone:
		return false, nil
	case actionRemove:
		if _, err := tx.ExecContext(ctx, `DELETE FROM crossover_ledger WHERE ticker = ?`, ev.Ticker); err != nil {
			return false, fmt.Errorf("expire crossover: %w", err)
		}
	case actionInsert:
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO crossover_ledger
			(ticker, sma20, sma50, sma200, close, crossover_date, detected_at)
			VALUES (?,?,?,?,?,?,?)`,
			ev.Ticker, ev.SMA20, ev.SMA50, ev.SMA200, ev.Close,
			formatDate(ev.CrossoverDate), ev.DetectedAt.Unix(),
		)
		if err != nil {
			return false, fmt.Errorf("insert crossover: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted = n == 1
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return inserted, nil
}

func (l *SQLiteLedger) RecordHigh(ctx context.Context, ev model.HighEvent) (bool, error) {
	res, err := l.db.ExecContext(ctx, `INSERT OR IGNORE INTO highs_ledger
		(ticker, company, close, high_date) VALUES (?,?,?,?)`,
		ev.Ticker, ev.CompanyName, ev.Close, formatDate(ev.HighDate),
	)
	if err != nil {
		return false, fmt.Errorf("insert high: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *SQLiteLedger) Contains(ctx context.Context, kind model.SignalKind, ticker string) (bool, error) {
	table := "crossover_ledger"
	if kind == model.KindHigh {
		table = "highs_ledger"
	}
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE ticker = ?`, ticker).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *SQLiteLedger) Crossovers(ctx context.Context) ([]model.CrossoverEvent, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT ticker, sma20, sma50, sma200, close, crossover_date, detected_at
		FROM crossover_ledger ORDER BY crossover_date, ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CrossoverEvent
	for rows.Next() {
		var (
			ev       model.CrossoverEvent
			date     string
			detected int64
		)
		if err := rows.Scan(&ev.Ticker, &ev.SMA20, &ev.SMA50, &ev.SMA200, &ev.Close, &date, &detected); err != nil {
			return nil, err
		}
		if ev.CrossoverDate, err = parseDate(date); err != nil {
			return nil, err
		}
		ev.DetectedAt = time.Unix(detected, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Highs(ctx context.Context) ([]model.HighEvent, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT ticker, company, close, high_date
		FROM highs_ledger ORDER BY high_date, ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HighEvent
	for rows.Next() {
		var (
			ev   model.HighEvent
			date string
		)
		if err := rows.Scan(&ev.Ticker, &ev.CompanyName, &ev.Close, &date); err != nil {
			return nil, err
		}
		if ev.HighDate, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	log.Println("[INFO] closing sqlite ledger")
	return l.db.Close()
}
