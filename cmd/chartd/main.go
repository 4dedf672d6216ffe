// Command chartd runs one live candlestick chart: it bootstraps history from
// Binance, follows the kline stream, keeps indicators and the price/volume
// panes current, and serves them over HTTP and WebSocket.
//
// Redis (indicator settings) and SQLite (closed bars, offline history) are
// optional; leave REDIS_ADDR or SQLITE_PATH empty to run without them.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"chartterm/config"
	"chartterm/internal/feed/binance"
	"chartterm/internal/gateway"
	"chartterm/internal/logger"
	"chartterm/internal/metrics"
	"chartterm/internal/model"
	"chartterm/internal/notification"
	"chartterm/internal/store/redis"
	"chartterm/internal/store/sqlite"
	"chartterm/internal/symbolcache"
	"chartterm/internal/terminal"
)

func main() {
	cfg := config.Load()
	log := logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", "symbol", cfg.Symbol, "interval", cfg.Interval, "market", cfg.Market)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("chartd stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	alerts := newAlerts(cfg, log)
	defer alerts.Wait()

	rest := binance.NewClient(cfg.BinanceRESTURL, cfg.BinanceFuturesRESTURL, 10*time.Second, log)
	stream := binance.NewStream(binance.StreamConfig{
		SpotURL:    cfg.BinanceWSURL,
		FuturesURL: cfg.BinanceFuturesWSURL,
	}, log)
	stream.OnOpen = func(string) {
		m.StreamConnects.Inc()
		m.StreamConnected.Set(1)
		health.SetStreamConnected(true)
	}
	stream.OnClose = func(error) {
		m.StreamDisconnects.Inc()
		m.StreamConnected.Set(0)
		health.SetStreamConnected(false)
	}

	meta := symbolcache.New(rest, cfg.SymbolMetaTTL)
	meta.OnRefresh = func(symbol string, err error) {
		result := "ok"
		if err != nil {
			result = "error"
			log.Warn("symbol metadata refresh failed", "symbol", symbol, "error", err)
		}
		m.SymbolMetaRefreshes.WithLabelValues(result).Inc()
	}

	hub := gateway.NewHub(m, log)
	opts := terminal.Options{
		Symbol:            cfg.Symbol,
		Interval:          cfg.Interval,
		Market:            model.Market(cfg.Market),
		MaxBars:           cfg.MaxBars,
		HistoryLimit:      cfg.HistoryLimit,
		FrameInterval:     cfg.FrameInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		SyncTolerance:     cfg.SyncTolerance,
		PaneWidth:         cfg.PaneWidth,
		PaneHeight:        cfg.PaneHeight,
		VolumePaneHeight:  cfg.VolumePaneHeight,
		PixelRatio:        cfg.PixelRatio,
		History:           rest,
		Stream:            stream,
		Meta:              meta,
		Publisher:         hub,
		Metrics:           m,
		Health:            health,
		Logger:            log,
	}

	var redisPing, sqlitePing metrics.Pinger

	if cfg.RedisAddr != "" {
		settings, err := redis.New(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, log)
		if err != nil {
			log.Warn("redis unavailable, indicator settings will not persist", "error", err)
		} else {
			defer settings.Close()
			wireBreaker(settings.Breaker(), m, alerts)
			opts.Settings = settings
			redisPing = metrics.PingFunc(settings.Ping)
		}
	}

	var writer *sqlite.Writer
	if cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return err
		}
		w, err := sqlite.New(sqlite.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Warn("sqlite unavailable, closed bars will not persist", "error", err)
		} else {
			defer w.Close()
			w.OnFlush = func(n int, err error) {
				if err != nil {
					m.SQLiteFlushErrors.Inc()
					alerts.Notify(notification.Alert{
						Level:   notification.AlertWarning,
						Title:   "closed bar flush failed",
						Message: err.Error(),
					})
					return
				}
				m.ClosedBarsPersisted.Add(float64(n))
			}
			writer = w
			sqlitePing = w.DB()

			reader, err := sqlite.NewReader(cfg.SQLitePath)
			if err != nil {
				log.Warn("sqlite history fallback disabled", "error", err)
			} else {
				defer reader.Close()
				opts.Fallback = reader
			}
		}
	}

	closed := make(chan model.ClosedBar, 1024)
	if writer != nil {
		opts.ClosedBars = closed
	}

	term, err := terminal.New(opts)
	if err != nil {
		return err
	}
	term.OnBootstrapError = func(s model.Session, err error) {
		log.Error("session has no history", "session", s.Token, "symbol", s.Symbol, "error", err)
		alerts.Notify(notification.Alert{
			Level:   notification.AlertWarning,
			Title:   "bootstrap failed: " + s.Symbol + " " + s.Interval,
			Message: err.Error(),
		})
	}

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, term, m, log)
	api := gateway.NewServer(cfg.HTTPAddr, mux, log)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)

	health.StartLivenessChecker(ctx, redisPing, sqlitePing, 10*time.Second)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return term.Run(ctx) })
	g.Go(func() error { return api.Run(ctx) })
	g.Go(func() error { return metricsSrv.Run(ctx) })
	g.Go(func() error {
		hub.StartStatsBroadcast(ctx, time.Now(), 2*time.Second)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SymbolMetaTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := meta.Prune(); n > 0 {
					log.Debug("symbol metadata pruned", "entries", n)
				}
			}
		}
	})
	if writer != nil {
		g.Go(func() error {
			writer.Run(ctx, closed)
			return nil
		})
	}
	return g.Wait()
}

// newAlerts builds the alert dispatcher from the configured backends,
// falling back to the log.
func newAlerts(cfg *config.Config, log *slog.Logger) *notification.Dispatcher {
	var backends notification.Multi
	if cfg.AlertWebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	var n notification.Notifier = notification.NewLogNotifier(log)
	if len(backends) > 0 {
		n = backends
	}
	return notification.NewDispatcher(n, cfg.AlertCooldown, log)
}

func wireBreaker(cb *redis.CircuitBreaker, m *metrics.Metrics, alerts *notification.Dispatcher) {
	logTransition := cb.OnStateChange
	cb.OnStateChange = func(from, to redis.State) {
		if logTransition != nil {
			logTransition(from, to)
		}
		m.SettingsBreakerState.Set(float64(to))
		if to == redis.StateOpen {
			m.SettingsBreakerTrips.Inc()
			alerts.Notify(notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "settings store unavailable",
				Message: "redis circuit breaker opened; indicator settings are not being saved",
			})
		}
	}
}
