package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ticker outcomes recorded under scanner_tickers_total.
const (
	OutcomeScanned = "scanned"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds the scanner's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal     prometheus.Counter
	TickersTotal  *prometheus.CounterVec // labels: outcome
	SignalsTotal  *prometheus.CounterVec // labels: kind
	FetchRetries  prometheus.Counter
	RunDuration   prometheus.Histogram
	LedgerErrors  prometheus.Counter
	LastRunUnixTS prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_runs_total",
			Help: "Completed scan runs",
		}),
		TickersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_tickers_total",
			Help: "Tickers processed by outcome",
		}, []string{"outcome"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_signals_total",
			Help: "Newly recorded signals by kind",
		}, []string{"kind"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_fetch_retries_total",
			Help: "Provider calls retried after a transient failure",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_run_duration_seconds",
			Help:    "Wall time of a full scan",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}),
		LedgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_ledger_errors_total",
			Help: "Ledger reads or writes that failed",
		}),
		LastRunUnixTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_last_run_timestamp_seconds",
			Help: "Unix time the last scan finished",
		}),
	}
	m.registry.MustRegister(
		m.RunsTotal,
		m.TickersTotal,
		m.SignalsTotal,
		m.FetchRetries,
		m.RunDuration,
		m.LedgerErrors,
		m.LastRunUnixTS,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncFetchRetry() {
	if m == nil {
		return
	}
	m.FetchRetries.Inc()
}

func (m *Metrics) IncTicker(outcome string) {
	if m == nil {
		return
	}
	m.TickersTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddSignals(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SignalsTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncLedgerError() {
	if m == nil {
		return
	}
	m.LedgerErrors.Inc()
}

// ObserveRun records a finished scan.
func (m *Metrics) ObserveRun(d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.Inc()
	m.RunDuration.Observe(d.Seconds())
	m.LastRunUnixTS.Set(float64(finished.Unix()))
}

// Health reports the last scan seen by the process.
type Health struct {
	mu        sync.RWMutex
	startedAt time.Time
	lastRun   time.Time
	lastErr   string
}

// NewHealth returns a Health starting now.
func NewHealth() *Health {
	return &Health{startedAt: time.Now()}
}

// SetRun records the outcome of a scan.
func (h *Health) SetRun(at time.Time, err error) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastRun = at
	h.lastErr = ""
	if err != nil {
		h.lastErr = err.Error()
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		LastRun   string `json:"last_run,omitempty"`
		LastError string `json:"last_error,omitempty"`
	}{
		Status:    "healthy",
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		LastError: h.lastErr,
	}
	if !h.lastRun.IsZero() {
		status.LastRun = h.lastRun.Format(time.RFC3339)
	}
	code := http.StatusOK
	if h.lastErr != "" {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *Health) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[INFO] metrics server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[ERROR] metrics server: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
