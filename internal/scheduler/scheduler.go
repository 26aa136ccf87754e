package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"MarketScanner/internal/ledger"
	"MarketScanner/internal/metrics"
	"MarketScanner/internal/model"
	"MarketScanner/internal/notifier"
	"MarketScanner/internal/recorder"
	"MarketScanner/internal/scanner"
	"MarketScanner/internal/state"

	"github.com/robfig/cron/v3"
)

// Subject prefixes for separate notifications.
const (
	CrossoverSubject = "SMA Crossover Alert"
	HighsSubject     = "New Highs Alert"
)

// ErrScanRunning is returned when a scan is requested while another is in progress.
var ErrScanRunning = errors.New("scan already running")

// UniverseFunc returns the tickers to scan.
type UniverseFunc func(ctx context.Context) ([]string, error)

// Scheduler runs scans on a cron schedule and dispatches the reports.
type Scheduler struct {
	Cron          *cron.Cron
	Universe      UniverseFunc
	Scanner       *scanner.Scanner
	Ledger        ledger.Ledger
	Notifier      notifier.Notifier
	Recorder      recorder.Recorder
	State         *state.Store
	Health        *metrics.Health
	SubjectPrefix string
	Separate      bool
	Out           io.Writer
	Now           func() time.Time
	Ctx           context.Context

	running sync.Mutex
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, universe UniverseFunc, sc *scanner.Scanner, l ledger.Ledger,
	n notifier.Notifier, rec recorder.Recorder, st *state.Store) *Scheduler {
	return &Scheduler{
		Cron:          cron.New(cron.WithSeconds()),
		Universe:      universe,
		Scanner:       sc,
		Ledger:        l,
		Notifier:      n,
		Recorder:      rec,
		State:         st,
		SubjectPrefix: "Market Summary",
		Out:           os.Stdout,
		Now:           time.Now,
		Ctx:           ctx,
	}
}

// Register adds the scan task to the cron schedule.
func (s *Scheduler) Register(scanCron string) error {
	if _, err := s.Cron.AddFunc(scanCron, s.scanTask); err != nil {
		return fmt.Errorf("register scan task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

func (s *Scheduler) scanTask() {
	if _, err := s.RunScan(s.Ctx); err != nil {
		log.Printf("[ERROR] scheduled scan: %v", err)
	}
}

// RunScan loads the universe, scans it and reports the newly recorded signals.
// The returned error covers universe loading and delivery; per-ticker failures are only counted.
func (s *Scheduler) RunScan(ctx context.Context) (*model.ScanResult, error) {
	if !s.running.TryLock() {
		return nil, ErrScanRunning
	}
	defer s.running.Unlock()
	return s.runScan(ctx)
}

// runScan performs one scan. The caller holds s.running.
func (s *Scheduler) runScan(ctx context.Context) (*model.ScanResult, error) {
	log.Println("[INFO] running scan task")
	tickers, err := s.Universe(ctx)
	if err != nil {
		err = fmt.Errorf("load universe: %w", err)
		s.Health.SetRun(s.Now(), err)
		return nil, err
	}

	res := s.Scanner.Run(ctx, tickers)
	s.printLists(res)

	runID, recErr := s.Recorder.RecordScan(res)
	if recErr != nil {
		log.Printf("[ERROR] record scan: %v", recErr)
	}

	sendErr := s.dispatch(ctx, runID, res)
	if sendErr != nil {
		log.Printf("[ERROR] send notification: %v", sendErr)
	}

	if s.State != nil {
		if err := s.State.Set(state.FromResult(res, sendErr)); err != nil {
			log.Printf("[ERROR] save run state: %v", err)
		}
	}
	s.Health.SetRun(res.FinishedAt, sendErr)
	log.Printf("[INFO] scan task done: %d crossovers, %d highs", len(res.Crossovers), len(res.Highs))
	return res, sendErr
}

func (s *Scheduler) printLists(res *model.ScanResult) {
	if s.Out == nil {
		return
	}
	fmt.Fprintf(s.Out, "SMA Crossovers: %v\n", res.CrossoverTickers())
	fmt.Fprintf(s.Out, "New 52-week Highs: %v\n", res.HighTickers())
}

// dispatch sends either one combined summary or one message per signal kind.
func (s *Scheduler) dispatch(ctx context.Context, runID int64, res *model.ScanResult) error {
	now := s.Now()
	if !s.Separate {
		return s.send(ctx, runID, notifier.Subject(s.SubjectPrefix, now), notifier.FormatSummary(res))
	}
	return errors.Join(
		s.send(ctx, runID, notifier.Subject(CrossoverSubject, now), notifier.FormatTickers(res.CrossoverTickers())),
		s.send(ctx, runID, notifier.Subject(HighsSubject, now), notifier.FormatTickers(res.HighTickers())),
	)
}

func (s *Scheduler) send(ctx context.Context, runID int64, subject, body string) error {
	err := s.Notifier.Send(ctx, subject, body)
	if recErr := s.Recorder.RecordDelivery(runID, recorder.Delivery{
		Channel: s.Notifier.Name(),
		Subject: subject,
		Err:     err,
	}); recErr != nil {
		log.Printf("[ERROR] record delivery: %v", recErr)
	}
	return err
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	cmd := ""
	if fields := strings.Fields(command); len(fields) > 0 {
		cmd = strings.ToLower(fields[0])
	}
	switch cmd {
	case "/scan":
		if !s.running.TryLock() {
			return "A scan is already running."
		}
		go func() {
			defer s.running.Unlock()
			if _, err := s.runScan(s.Ctx); err != nil {
				log.Printf("[ERROR] manual scan: %v", err)
			}
		}()
		return "Scan started."
	case "/crossovers":
		rows, err := s.Ledger.Crossovers(ctx)
		if err != nil {
			return fmt.Sprintf("Failed to read crossover ledger: %v", err)
		}
		return notifier.FormatCrossoverLedger(rows)
	case "/highs":
		rows, err := s.Ledger.Highs(ctx)
		if err != nil {
			return fmt.Sprintf("Failed to read highs ledger: %v", err)
		}
		return notifier.FormatHighsLedger(rows)
	case "/last":
		return s.formatLast()
	default:
		return "Available commands:\n/scan - run a scan now\n/crossovers - list the crossover ledger\n/highs - list the highs ledger\n/last - show the last scan"
	}
}

func (s *Scheduler) formatLast() string {
	if s.State == nil {
		return "No scan has run yet."
	}
	st := s.State.Get()
	if st.LastScanAt.IsZero() {
		return "No scan has run yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last scan: %s (%s)\n", st.LastScanAt.Format("2006-01-02 15:04"), st.Duration)
	fmt.Fprintf(&b, "Universe %d, scanned %d, skipped %d, failed %d\n", st.Universe, st.Scanned, st.Skipped, st.Failed)
	fmt.Fprintf(&b, "Crossovers: %s\n", listOrNone(st.Crossovers))
	fmt.Fprintf(&b, "Highs: %s", listOrNone(st.Highs))
	if st.LastError != "" {
		fmt.Fprintf(&b, "\nError: %s", st.LastError)
	}
	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
