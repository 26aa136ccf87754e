package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"MarketScanner/internal/collector"
	"MarketScanner/internal/config"
	"MarketScanner/internal/ledger"
	"MarketScanner/internal/metrics"
	"MarketScanner/internal/notifier"
	"MarketScanner/internal/recorder"
	"MarketScanner/internal/retry"
	"MarketScanner/internal/scanner"
	"MarketScanner/internal/scheduler"
	"MarketScanner/internal/state"
	"MarketScanner/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfgPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[WARN] load .env: %v", err)
	}
	log.Println("[INFO] MarketScanner starting...")

	// Load config
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		*cfgPath = v
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	health := metrics.NewHealth()

	// Market data
	fetchRetry := retry.Policy{
		MaxAttempts: cfg.MarketData.MaxAttempts,
		BaseDelay:   cfg.MarketData.BaseDelay,
		Jitter:      retry.DefaultJitter,
	}
	fetcher := collector.NewYahooFetcher(cfg.MarketData.BaseURL, cfg.Proxy)
	log.Printf("[INFO] data source: %s", fetcher.Name())
	cache := collector.NewCache(fetcher, collector.CacheOptions{
		DataDir:  cfg.DataDir,
		Period:   cfg.MarketData.Period,
		Interval: cfg.MarketData.Interval,
		Retry:    fetchRetry,
		MinPause: cfg.MarketData.MinPause,
		MaxPause: cfg.MarketData.MaxPause,
		Metrics:  m,
	})
	emas := collector.NewEMAStore(cfg.DataDir, nil)

	// Ledger
	l, err := ledger.Open(ctx, ledger.Options{
		Backend:       cfg.Ledger.Backend,
		DataDir:       cfg.DataDir,
		CrossoverFile: cfg.Ledger.CrossoverFile,
		HighsFile:     cfg.Ledger.HighsFile,
		SQLitePath:    cfg.Ledger.SQLitePath,
		RedisAddr:     cfg.Ledger.RedisAddr,
		RedisPassword: cfg.Ledger.RedisPassword,
		RedisDB:       cfg.Ledger.RedisDB,
		Namespace:     cfg.Ledger.Namespace,
	})
	if err != nil {
		log.Fatalf("[FATAL] open ledger: %v", err)
	}
	defer l.Close()
	log.Printf("[INFO] ledger backend: %s", cfg.Ledger.Backend)

	sc := scanner.New(cache, emas, l, m)
	sc.MinMarketCap = cfg.Scan.MinMarketCap
	sc.HighPeriod = cfg.MarketData.Period
	sc.Params = strategy.Params{
		LookbackDays:   cfg.Scan.LookbackDays,
		MomentumMinPct: cfg.Scan.MomentumMinPct,
		MomentumMaxPct: cfg.Scan.MomentumMaxPct,
	}

	// Notifiers
	var notifiers notifier.Multi
	var tn *notifier.TelegramNotifier
	if cfg.UsesEmail() {
		en := notifier.NewEmailNotifier(cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.Sender, cfg.Email.Receiver, cfg.Email.Password)
		notifiers = append(notifiers, en)
	}
	if cfg.UsesTelegram() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		notifiers = append(notifiers, tn)
	}
	var out notifier.Notifier = notifiers
	switch len(notifiers) {
	case 0:
		out = notifier.LogNotifier{}
	case 1:
		out = notifiers[0]
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	st, err := state.NewStore(cfg.StateFile)
	if err != nil {
		log.Fatalf("[FATAL] load run state: %v", err)
	}

	universe := collector.UniverseSource{
		URL:     cfg.Universe.URL,
		File:    cfg.Universe.File,
		Symbols: cfg.Universe.Symbols,
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	loadUniverse := func(ctx context.Context) ([]string, error) {
		return collector.LoadUniverse(ctx, httpClient, universe, fetchRetry)
	}

	sched := scheduler.NewScheduler(ctx, loadUniverse, sc, l, out, rec, st)
	sched.Health = health
	sched.SubjectPrefix = cfg.Notify.SubjectPrefix
	sched.Separate = cfg.Notify.Separate

	if *once {
		if _, err := sched.RunScan(ctx); err != nil {
			log.Fatalf("[FATAL] scan: %v", err)
		}
		return
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, m, health)
		srv.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.Printf("[WARN] metrics server shutdown: %v", err)
			}
		}()
	}

	if err := sched.Register(cfg.Schedule.ScanCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	}

	// Optional: run immediately on start
	if cfg.RunOnStart {
		log.Println("[INFO] RUN_ON_START enabled, executing scan now")
		go func() {
			if _, err := sched.RunScan(ctx); err != nil {
				log.Printf("[ERROR] startup scan: %v", err)
			}
		}()
	}

	log.Println("[INFO] MarketScanner is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Println("[INFO] shutdown signal received, stopping...")
}
