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

// Metrics holds all Prometheus metrics of the chart service.
type Metrics struct {
	// Ingestion
	IngestEvents *prometheus.CounterVec // labels: result
	BarStoreLen  prometheus.Gauge

	// Session lifecycle
	SessionResets     prometheus.Counter
	BootstrapDur      prometheus.Histogram
	BootstrapFailures prometheus.Counter
	BootstrapFallback prometheus.Counter

	// Indicator engine
	IndicatorComputeDur *prometheus.HistogramVec // labels: mode=full|incremental

	// Sync group
	SyncPropagations prometheus.Counter
	SyncDriftRepairs prometheus.Counter
	SyncDrift        prometheus.Histogram

	// Overlay surface
	OverlayRedraws   prometheus.Counter
	OverlayRedrawDur prometheus.Histogram

	// Live stream
	StreamConnects    prometheus.Counter
	StreamDisconnects prometheus.Counter
	StreamConnected   prometheus.Gauge

	// Persistence and settings
	ClosedBarsPersisted   prometheus.Counter
	SQLiteFlushErrors     prometheus.Counter
	SettingsBreakerState  prometheus.Gauge // 0=closed, 1=open, 2=half-open
	SettingsBreakerTrips  prometheus.Counter
	SymbolMetaRefreshes   *prometheus.CounterVec // labels: result
	GatewayClients        prometheus.Gauge
	GatewayBroadcasts     *prometheus.CounterVec // labels: channel
	GatewayDroppedFrames  prometheus.Counter
	GatewayHTTPRequestDur *prometheus.HistogramVec // labels: route
	GatewayDeliveryDur    *prometheus.HistogramVec // labels: channel
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	fastBuckets := []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}
	m := &Metrics{
		IngestEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_ingest_events_total",
			Help: "Stream events by ingestion result",
		}, []string{"result"}),
		BarStoreLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_bar_store_len",
			Help: "Bars currently held in the bar store",
		}),

		SessionResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_session_resets_total",
			Help: "Symbol/interval/market switches",
		}),
		BootstrapDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_bootstrap_duration_seconds",
			Help:    "History bootstrap fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		BootstrapFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_bootstrap_failures_total",
			Help: "History bootstraps that failed",
		}),
		BootstrapFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_bootstrap_fallback_total",
			Help: "Bootstraps served from local storage after an exchange failure",
		}),

		IndicatorComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartd_indicator_compute_duration_seconds",
			Help:    "Indicator computation latency",
			Buckets: fastBuckets,
		}, []string{"mode"}),

		SyncPropagations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_sync_propagations_total",
			Help: "Visible range copies between panes",
		}),
		SyncDriftRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_sync_drift_repairs_total",
			Help: "Reconcile ticks that found diverged panes",
		}),
		SyncDrift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_sync_drift_bars",
			Help:    "Range divergence found by reconcile, in bars",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 50},
		}),

		OverlayRedraws: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_overlay_redraws_total",
			Help: "Band fill redraws",
		}),
		OverlayRedrawDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_overlay_redraw_duration_seconds",
			Help:    "Band fill redraw latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		StreamConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_stream_connects_total",
			Help: "Live stream connections opened",
		}),
		StreamDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_stream_disconnects_total",
			Help: "Live stream connections closed",
		}),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_stream_connected",
			Help: "Live stream connection state (0=down, 1=up)",
		}),

		ClosedBarsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_closed_bars_persisted_total",
			Help: "Final bars committed to SQLite",
		}),
		SQLiteFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_sqlite_flush_errors_total",
			Help: "SQLite batch commits that failed",
		}),
		SettingsBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_settings_circuit_breaker_state",
			Help: "Redis settings circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		SettingsBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_settings_circuit_breaker_trips_total",
			Help: "Times the settings circuit breaker tripped open",
		}),
		SymbolMetaRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_symbol_meta_refreshes_total",
			Help: "Symbol metadata fetches by result",
		}, []string{"result"}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_gateway_clients",
			Help: "Connected WebSocket clients",
		}),
		GatewayBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_gateway_broadcasts_total",
			Help: "Envelopes broadcast by channel",
		}, []string{"channel"}),
		GatewayDroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_gateway_dropped_frames_total",
			Help: "Frames dropped for slow WebSocket clients",
		}),
		GatewayHTTPRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartd_gateway_http_request_duration_seconds",
			Help:    "HTTP API latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		GatewayDeliveryDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartd_gateway_delivery_seconds",
			Help:    "Time from broadcast to WebSocket write by channel",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.IngestEvents,
		m.BarStoreLen,
		m.SessionResets,
		m.BootstrapDur,
		m.BootstrapFailures,
		m.BootstrapFallback,
		m.IndicatorComputeDur,
		m.SyncPropagations,
		m.SyncDriftRepairs,
		m.SyncDrift,
		m.OverlayRedraws,
		m.OverlayRedrawDur,
		m.StreamConnects,
		m.StreamDisconnects,
		m.StreamConnected,
		m.ClosedBarsPersisted,
		m.SQLiteFlushErrors,
		m.SettingsBreakerState,
		m.SettingsBreakerTrips,
		m.SymbolMetaRefreshes,
		m.GatewayClients,
		m.GatewayBroadcasts,
		m.GatewayDroppedFrames,
		m.GatewayHTTPRequestDur,
		m.GatewayDeliveryDur,
	)
	return m
}

// Pinger is a dependency that can be probed for liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext implements Pinger.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool      `json:"stream_connected"`
	LastEventTime   time.Time `json:"last_event_time"`
	BootstrapOK     bool      `json:"bootstrap_ok"`
	Session         string    `json:"session"`
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetBootstrap(session string, ok bool) {
	h.mu.Lock()
	h.Session = session
	h.BootstrapOK = ok
	h.mu.Unlock()
}

// Check probes a dependency and returns whether it answered and its latency.
func check(ctx context.Context, p Pinger) (bool, float64) {
	start := time.Now()
	err := p.PingContext(ctx)
	return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, p Pinger) {
	ok, ms := check(ctx, p)
	h.mu.Lock()
	h.RedisConnected, h.RedisLatencyMs, h.LastCheckAt = ok, ms, time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings SQLite and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, p Pinger) {
	ok, ms := check(ctx, p)
	h.mu.Lock()
	h.SQLiteOK, h.SQLiteLatencyMs, h.LastCheckAt = ok, ms, time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil pingers are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redis, sqlite Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if redis != nil {
					h.CheckRedis(probeCtx, redis)
				}
				if sqlite != nil {
					h.CheckSQLite(probeCtx, sqlite)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. Redis and SQLite are optional:
// only the live stream and the bootstrap decide the overall status.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.StreamConnected || !h.BootstrapOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.StreamConnected && !h.BootstrapOK {
		overallStatus = "unhealthy"
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Session         string  `json:"session"`
		StreamConnected bool    `json:"stream_connected"`
		BootstrapOK     bool    `json:"bootstrap_ok"`
		EventAge        string  `json:"event_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Session:         h.Session,
		StreamConnected: h.StreamConnected,
		BootstrapOK:     h.BootstrapOK,
		EventAge:        eventAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server over gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
