package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"chartterm/internal/indicator"
	"chartterm/internal/metrics"
	"chartterm/internal/model"
	"chartterm/internal/pane"
	"chartterm/internal/terminal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// requestTimeout bounds how long a handler waits on the terminal loop.
const requestTimeout = 5 * time.Second

// Chart is the terminal surface the HTTP API drives.
type Chart interface {
	Snapshot(ctx context.Context) (terminal.Snapshot, error)
	ResetSession(ctx context.Context, symbol, interval string, market model.Market) (model.Session, error)
	Ingest(ctx context.Context, ev model.KlineEvent) (string, error)
	IndicatorConfigs(ctx context.Context) ([]indicator.Named, error)
	IndicatorConfig(ctx context.Context, id string) (indicator.Config, error)
	SetIndicatorConfig(ctx context.Context, id string, cfg indicator.Config) error
	SetVisibleRange(ctx context.Context, paneName string, r pane.LogicalRange) error
	Pan(ctx context.Context, paneName string, delta float64) error
	Zoom(ctx context.Context, paneName string, factor, anchorX float64) error
	Resize(ctx context.Context, width, mainHeight, volumeHeight, scale float64) error
	OverlayPNG(ctx context.Context) ([]byte, error)
	ExportBars(ctx context.Context, w io.Writer) error
	ExportIndicators(ctx context.Context, w io.Writer) error
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

type api struct {
	chart   Chart
	hub     *Hub
	metrics *metrics.Metrics
	log     *slog.Logger
	start   time.Time
}

// RegisterRoutes registers the HTTP API and the WebSocket endpoint on mux.
// m may be nil.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, chart Chart, m *metrics.Metrics, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{chart: chart, hub: hub, metrics: m, log: logger.With("component", "gateway"), start: time.Now()}

	handle := func(pattern, route string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, a.instrument(route, h))
	}

	mux.HandleFunc("GET /ws", a.serveWS)
	mux.HandleFunc("OPTIONS /api/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})

	handle("GET /api/v1/snapshot", "snapshot", a.snapshot)
	handle("POST /api/v1/session", "session", a.session)
	handle("POST /api/v1/ingest", "ingest", a.ingest)
	handle("GET /api/v1/indicators", "indicators", a.listIndicators)
	handle("GET /api/v1/indicators/{id}", "indicator", a.getIndicator)
	handle("PUT /api/v1/indicators/{id}", "indicator_put", a.putIndicator)
	handle("POST /api/v1/panes/{pane}/range", "range", a.setRange)
	handle("POST /api/v1/panes/{pane}/pan", "pan", a.pan)
	handle("POST /api/v1/panes/{pane}/zoom", "zoom", a.zoom)
	handle("POST /api/v1/resize", "resize", a.resize)
	handle("GET /api/v1/overlay.png", "overlay", a.overlay)
	handle("GET /api/v1/export.parquet", "export", a.export)
	handle("GET /api/v1/missed", "missed", a.missed)
	handle("GET /api/v1/latest", "latest", a.latest)
	handle("GET /health", "health", a.health)
}

func (a *api) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		SetCORS(w)
		h(w, r)
		if a.metrics != nil {
			a.metrics.GatewayHTTPRequestDur.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

func (a *api) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("ws upgrade failed", "error", err)
		return
	}
	a.hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeChartError maps a terminal error to a status. Anything unrecognised
// is reported as a bad request since the loop only fails on input.
func writeChartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, terminal.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, indicator.ErrUnknownIndicator):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (a *api) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

func (a *api) snapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	snap, err := a.chart.Snapshot(ctx)
	if err != nil {
		writeChartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	s, err := a.chart.ResetSession(ctx, req.Symbol, req.Interval, req.Market)
	if err != nil {
		writeChartError(w, err)
		return
	}
	a.log.Info("session switched", "symbol", s.Symbol, "interval", s.Interval, "market", string(s.Market), "session", s.Token)
	writeJSON(w, http.StatusAccepted, s)
}

// ingest feeds one kline event from an external source into the current
// session. Numeric fields may be JSON numbers or decimal strings; events
// the terminal drops are still a 200 with the drop reason as result.
func (a *api) ingest(w http.ResponseWriter, r *http.Request) {
	var raw model.RawKlineEvent
	if !decode(w, r, &raw) {
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	result, err := a.chart.Ingest(ctx, raw.Event())
	if err != nil {
		writeChartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{Result: result})
}

func (a *api) listIndicators(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	cfgs, err := a.chart.IndicatorConfigs(ctx)
	if err != nil {
		writeChartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (a *api) getIndicator(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	id := r.PathValue("id")
	cfg, err := a.chart.IndicatorConfig(ctx, id)
	if err != nil {
		writeChartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indicator.Named{ID: id, Config: cfg})
}

func (a *api) putIndicator(w http.ResponseWriter, r *http.Request) {
	var cfg indicator.Config
	if !decode(w, r, &cfg) {
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	id := r.PathValue("id")
	if err := a.chart.SetIndicatorConfig(ctx, id, cfg); err != nil {
		writeChartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indicator.Named{ID: id, Config: cfg})
}

func (a *api) setRange(w http.ResponseWriter, r *http.Request) {
	var req RangeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.From == nil || req.To == nil {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	if err := a.chart.SetVisibleRange(ctx, r.PathValue("pane"), pane.LogicalRange{From: *req.From, To: *req.To}); err != nil {
		writeChartError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) pan(w http.ResponseWriter, r *http.Request) {
	var req PanRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	if err := a.chart.Pan(ctx, r.PathValue("pane"), req.Delta); err != nil {
		writeChartError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) zoom(w http.ResponseWriter, r *http.Request) {
	var req ZoomRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	if err := a.chart.Zoom(ctx, r.PathValue("pane"), req.Factor, req.AnchorX); err != nil {
		writeChartError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) resize(w http.ResponseWriter, r *http.Request) {
	req := ResizeRequest{PixelRatio: 1}
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	if err := a.chart.Resize(ctx, req.Width, req.MainHeight, req.VolumeHeight, req.PixelRatio); err != nil {
		writeChartError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) overlay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	img, err := a.chart.OverlayPNG(ctx)
	if err != nil {
		writeChartError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(img)
}

func (a *api) export(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()

	write := a.chart.ExportBars
	name := "bars.parquet"
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "bars":
	case "indicators":
		write, name = a.chart.ExportIndicators, "indicators.parquet"
	default:
		writeError(w, http.StatusBadRequest, "unknown export kind "+strconv.Quote(kind))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := write(ctx, w); err != nil {
		a.log.Error("export failed", "kind", name, "error", err)
		writeChartError(w, err)
	}
}

func (a *api) missed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if err1 != nil || err2 != nil || from > to {
		writeError(w, http.StatusBadRequest, "from and to must be integers with from <= to")
		return
	}

	resp := MissedResponse{
		Channel:    channel,
		From:       from,
		To:         to,
		CurrentSeq: a.hub.GetChannelSeq(channel),
		Envelopes:  []json.RawMessage{},
	}
	if oldest, ok := a.hub.ReplayOldest(channel); ok {
		resp.Oldest = oldest
	}
	for _, env := range a.hub.GetReplayRange(channel, from, to) {
		resp.Envelopes = append(resp.Envelopes, env)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) latest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.GetLatestAll())
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": a.hub.ClientCount(),
		"uptime_sec": int64(time.Since(a.start).Seconds()),
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	})
}
