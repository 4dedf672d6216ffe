package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// HTTP
	HTTPAddr    string
	MetricsAddr string

	// Initial session
	Symbol       string
	Interval     string
	Market       string
	MaxBars      int
	HistoryLimit int

	// Event loop
	FrameInterval     time.Duration
	ReconcileInterval time.Duration
	SyncTolerance     float64

	// Exchange endpoints (empty = public Binance endpoints)
	BinanceRESTURL        string
	BinanceFuturesRESTURL string
	BinanceWSURL          string
	BinanceFuturesWSURL   string

	// Infrastructure (empty = disabled)
	RedisAddr     string
	RedisPassword string
	SQLitePath    string

	// Alerts (empty = log only)
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
	AlertCooldown    time.Duration

	SymbolMetaTTL time.Duration
	LogLevel      string

	// Pane geometry in CSS pixels
	PaneWidth        float64
	PaneHeight       float64
	VolumePaneHeight float64
	PixelRatio       float64
}

// Load reads an optional .env file, then environment variables with
// defaults. Variables already set in the environment win over .env.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}
	return &Config{
		HTTPAddr:    getEnv("CHART_HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		Symbol:       strings.ToUpper(getEnv("CHART_SYMBOL", "BTCUSDT")),
		Interval:     getEnv("CHART_INTERVAL", "1m"),
		Market:       getEnv("CHART_MARKET", "spot"),
		MaxBars:      getEnvInt("CHART_MAX_BARS", 500),
		HistoryLimit: getEnvInt("CHART_HISTORY_LIMIT", 500),

		FrameInterval:     time.Duration(getEnvInt("CHART_FRAME_MS", 16)) * time.Millisecond,
		ReconcileInterval: time.Duration(getEnvInt("CHART_RECONCILE_MS", 1000)) * time.Millisecond,
		SyncTolerance:     getEnvFloat("CHART_SYNC_TOLERANCE", 0.01),

		BinanceRESTURL:        getEnv("BINANCE_REST_URL", ""),
		BinanceFuturesRESTURL: getEnv("BINANCE_FUTURES_REST_URL", ""),
		BinanceWSURL:          getEnv("BINANCE_WS_URL", ""),
		BinanceFuturesWSURL:   getEnv("BINANCE_FUTURES_WS_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertCooldown:    time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,

		SymbolMetaTTL: time.Duration(getEnvInt("SYMBOL_META_TTL_SEC", 3600)) * time.Second,
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		PaneWidth:        getEnvFloat("PANE_WIDTH", 1200),
		PaneHeight:       getEnvFloat("PANE_HEIGHT", 480),
		VolumePaneHeight: getEnvFloat("VOLUME_PANE_HEIGHT", 140),
		PixelRatio:       getEnvFloat("PIXEL_RATIO", 1),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}
