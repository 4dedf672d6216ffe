// Command klineserver is an offline stand-in for the Binance kline API. It
// serves random-walk klines on the REST (/api/v3/klines, /fapi/v1/klines,
// exchangeInfo) and WebSocket (/ws/<symbol>@kline_<interval>) paths chartd
// uses, so the chart runs without network access:
//
//	BINANCE_REST_URL=http://localhost:9001 BINANCE_WS_URL=ws://localhost:9001 chartd
//
// Config (env vars):
//
//	KLINE_SERVER_ADDR  listen address (default ":9001")
//	KLINE_TICK_MS      update interval in milliseconds (default "250")
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"chartterm/internal/logger"
)

// hub tracks series and the connections streaming them.
type hub struct {
	mu      sync.RWMutex
	series  map[string]*series
	clients map[string]map[chan []byte]struct{}
	now     func() time.Time
	log     *slog.Logger
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		series:  make(map[string]*series),
		clients: make(map[string]map[chan []byte]struct{}),
		now:     time.Now,
		log:     log,
	}
}

func seriesKey(symbol, interval string) string {
	return strings.ToUpper(symbol) + "@" + interval
}

// get returns the series for symbol and interval, creating it on first use.
func (h *hub) get(symbol, interval string) (*series, error) {
	step, err := parseInterval(interval)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)
	key := seriesKey(symbol, interval)

	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.series[key]; ok {
		return s, nil
	}
	s := newSeries(symbol, interval, step, h.now(), time.Now().UnixNano())
	h.series[key] = s
	h.log.Info("series created", "symbol", symbol, "interval", interval)
	return s, nil
}

func (h *hub) register(key string) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	if h.clients[key] == nil {
		h.clients[key] = make(map[chan []byte]struct{})
	}
	h.clients[key][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(key string, ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[key][ch]; ok {
		delete(h.clients[key], ch)
		close(ch)
	}
	h.mu.Unlock()
}

// tick advances every series and pushes the events to its subscribers.
func (h *hub) tick() {
	now := h.now()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for key, s := range h.series {
		for _, ev := range s.advance(now) {
			b, err := json.Marshal(s.encode(ev, now))
			if err != nil {
				continue
			}
			for ch := range h.clients[key] {
				select {
				case ch <- b:
				default: // slow client, drop update
				}
			}
		}
	}
}

func (h *hub) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// parseStream splits "btcusdt@kline_1m".
func parseStream(name string) (symbol, interval string, ok bool) {
	symbol, rest, found := strings.Cut(name, "@kline_")
	if !found || symbol == "" || rest == "" {
		return "", "", false
	}
	return strings.ToUpper(symbol), rest, true
}

func (h *hub) wsHandler(w http.ResponseWriter, r *http.Request) {
	symbol, interval, ok := parseStream(r.PathValue("stream"))
	if !ok {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}
	if _, err := h.get(symbol, interval); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}
	key := seriesKey(symbol, interval)
	h.log.Info("client connected", "remote", r.RemoteAddr, "stream", key)

	ch := h.register(key)
	defer func() {
		h.unregister(key, ch)
		conn.Close()
		h.log.Info("client disconnected", "remote", r.RemoteAddr, "stream", key)
	}()

	// Drain reads so close frames and pings are handled.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister(key, ch)
				return
			}
		}
	}()

	for msg := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *hub) klinesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("symbol") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": -1102, "msg": "Mandatory parameter 'symbol' was not sent."})
		return
	}
	s, err := h.get(q.Get("symbol"), q.Get("interval"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": -1120, "msg": "Invalid interval."})
		return
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = 500
	}
	bars := s.history(limit)
	rows := make([][]any, len(bars))
	for i, k := range bars {
		rows[i] = s.restRow(k)
	}
	writeJSON(w, http.StatusOK, rows)
}

func exchangeInfoHandler(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		symbol = "BTCUSDT"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": []map[string]any{{
			"symbol": symbol,
			"status": "TRADING",
			"filters": []map[string]string{
				{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
				{"filterType": "LOT_SIZE", "stepSize": "0.00001000"},
			},
		}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newMux(h *hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{stream}", h.wsHandler)
	mux.HandleFunc("GET /api/v3/klines", h.klinesHandler)
	mux.HandleFunc("GET /fapi/v1/klines", h.klinesHandler)
	mux.HandleFunc("GET /api/v3/exchangeInfo", exchangeInfoHandler)
	mux.HandleFunc("GET /fapi/v1/exchangeInfo", exchangeInfoHandler)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "klineserver"})
	})
	return mux
}

func main() {
	log := logger.Init("klineserver", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	addr := envOrDefault("KLINE_SERVER_ADDR", ":9001")
	tickMs := envIntOrDefault("KLINE_TICK_MS", 250)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub(log)
	go h.run(ctx, time.Duration(tickMs)*time.Millisecond)

	srv := &http.Server{Addr: addr, Handler: newMux(h), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", addr, "tick_ms", tickMs)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
