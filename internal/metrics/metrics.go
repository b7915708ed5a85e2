// Package metrics exposes Prometheus metrics and a health endpoint for the
// trading engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	SignalsTotal    prometheus.Counter
	EntriesTotal    *prometheus.CounterVec // labels: side (CE|PE)
	ExitsTotal      *prometheus.CounterVec // labels: reason (reversal|tsl|panic|manual)
	OrdersTotal     *prometheus.CounterVec // labels: status
	GatewayFailures prometheus.Counter
	StaleDecisions  prometheus.Counter
	PanicsTotal     prometheus.Counter

	RealizedPnL     prometheus.Gauge // paise
	OpenPositions   prometheus.Gauge
	BreakerTripped  prometheus.Gauge // 0/1
	AutoTradeOn     prometheus.Gauge // 0/1
	PaperModeOn     prometheus.Gauge // 0/1
	DecisionLatency prometheus.Histogram
	SnapshotLag     prometheus.Gauge // seconds since last dashboard publish
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Total strength signals evaluated",
		}),
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_entries_total",
			Help: "Automatic entries committed (by side)",
		}, []string{"side"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Exits committed (by reason)",
		}, []string{"reason"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders by terminal status",
		}, []string{"status"}),
		GatewayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_gateway_failures_total",
			Help: "Order gateway placement/cancel failures",
		}),
		StaleDecisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_stale_decisions_total",
			Help: "Decisions discarded because engine state changed mid-flight",
		}),
		PanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_panic_exits_total",
			Help: "Panic exit-all commands processed",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_realized_pnl_paise",
			Help: "Total realized P&L in paise",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Number of open positions",
		}),
		BreakerTripped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_circuit_breaker_tripped",
			Help: "Daily circuit breaker state (0=armed, 1=tripped)",
		}),
		AutoTradeOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_auto_trade_enabled",
			Help: "Auto-trade flag (0/1)",
		}),
		PaperModeOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_paper_mode",
			Help: "Paper trading flag (0/1)",
		}),
		DecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_decision_latency_seconds",
			Help:    "Signal-to-commit latency of the decision path",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		SnapshotLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_snapshot_lag_seconds",
			Help: "Age of the last dashboard snapshot publish",
		}),
	}

	prometheus.MustRegister(
		m.SignalsTotal,
		m.EntriesTotal,
		m.ExitsTotal,
		m.OrdersTotal,
		m.GatewayFailures,
		m.StaleDecisions,
		m.PanicsTotal,
		m.RealizedPnL,
		m.OpenPositions,
		m.BreakerTripped,
		m.AutoTradeOn,
		m.PaperModeOn,
		m.DecisionLatency,
		m.SnapshotLag,
	)
	return m
}

// HealthStatus represents the process health, served at /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastSignalTime time.Time `json:"last_signal_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSignalTime(t time.Time) {
	h.mu.Lock()
	h.LastSignalTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.SetRedisConnected(rdb.Ping(probeCtx).Err() == nil)
				}
				if db != nil {
					h.SetSQLiteOK(db.PingContext(probeCtx) == nil)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.SQLiteOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	signalAge := ""
	if !h.LastSignalTime.IsZero() {
		signalAge = time.Since(h.LastSignalTime).Round(time.Millisecond).String()
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":          status,
		"uptime":          time.Since(h.StartedAt).Round(time.Second).String(),
		"feed_connected":  h.FeedConnected,
		"signal_age":      signalAge,
		"redis_connected": h.RedisConnected,
		"sqlite_ok":       h.SQLiteOK,
	})
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
