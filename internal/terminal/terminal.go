// Package terminal owns one live chart: the bar store, indicator engine,
// ingestion adapter, price and volume panes, their sync group and the band
// overlay. All state is mutated on a single event-loop goroutine; network
// results, user commands and timers reach it as posted closures.
package terminal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wcharczuk/go-chart/v2/drawing"

	"chartterm/internal/barstore"
	"chartterm/internal/indicator"
	"chartterm/internal/ingest"
	"chartterm/internal/metrics"
	"chartterm/internal/model"
	"chartterm/internal/overlay"
	"chartterm/internal/pane"
	"chartterm/internal/syncgroup"
)

// Pane names.
const (
	PaneMain   = "main"
	PaneVolume = "volume"
)

// BandIndicator is the indicator whose upper and lower lines are filled.
const BandIndicator = "boll"

// ErrStopped is returned by calls made after the event loop exited.
var ErrStopped = errors.New("terminal: event loop stopped")

// HistoryFetcher returns bootstrap bars oldest to newest.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, symbol, interval string, market model.Market, limit int) ([]model.Kline, error)
}

// Streamer delivers live events until ctx is cancelled.
type Streamer interface {
	Run(ctx context.Context, symbol, interval string, market model.Market, handle func(model.KlineEvent)) error
}

// SettingsStore loads and persists indicator configs.
type SettingsStore interface {
	Load(ctx context.Context) (map[string]indicator.Config, error)
	Save(ctx context.Context, id string, cfg indicator.Config) error
}

// MetaLookup resolves symbol metadata.
type MetaLookup interface {
	Lookup(ctx context.Context, symbol string, market model.Market) (model.SymbolMeta, error)
}

// Publisher pushes encoded updates to clients.
type Publisher interface {
	Publish(channel string, data []byte)
}

// Options configures a Terminal. History and Stream are required.
type Options struct {
	Symbol   string
	Interval string
	Market   model.Market

	MaxBars      int
	HistoryLimit int

	FrameInterval     time.Duration
	ReconcileInterval time.Duration
	SyncTolerance     float64

	PaneWidth        float64
	PaneHeight       float64
	VolumePaneHeight float64
	PixelRatio       float64

	History  HistoryFetcher
	Fallback HistoryFetcher // local history used when History fails (optional)
	Stream   Streamer
	Settings SettingsStore // optional
	Meta     MetaLookup    // optional

	Publisher  Publisher              // optional
	ClosedBars chan<- model.ClosedBar // final bars for persistence (optional)

	Metrics *metrics.Metrics      // optional
	Health  *metrics.HealthStatus // optional
	Logger  *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Market == "" {
		o.Market = model.MarketSpot
	}
	if o.MaxBars <= 0 {
		o.MaxBars = barstore.DefaultCapacity
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = o.MaxBars
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 16 * time.Millisecond
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = time.Second
	}
	if o.SyncTolerance <= 0 {
		o.SyncTolerance = syncgroup.DefaultTolerance
	}
	if o.PaneWidth <= 0 {
		o.PaneWidth = 1200
	}
	if o.PaneHeight <= 0 {
		o.PaneHeight = 480
	}
	if o.VolumePaneHeight <= 0 {
		o.VolumePaneHeight = 140
	}
	if o.PixelRatio <= 0 {
		o.PixelRatio = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Terminal is one chart instance.
type Terminal struct {
	opts Options
	log  *slog.Logger

	store   *barstore.Store
	engine  *indicator.Engine
	adapter *ingest.Adapter
	main    *pane.Pane
	volume  *pane.Pane
	sync    *syncgroup.Group
	canvas  *overlay.Raster
	overlay *overlay.Surface

	session      model.Session
	meta         model.SymbolMeta
	bootstrapped bool
	cancelFetch  context.CancelFunc
	cancelStream context.CancelFunc

	ctx    context.Context
	events chan func()
	done   chan struct{}

	// OnBootstrapError is called when a session could not load history (optional).
	OnBootstrapError func(s model.Session, err error)
}

// New builds a terminal. Nothing runs until Run.
func New(opts Options) (*Terminal, error) {
	opts.applyDefaults()
	if opts.History == nil || opts.Stream == nil {
		return nil, errors.New("terminal: history fetcher and stream are required")
	}

	t := &Terminal{
		opts:   opts,
		log:    opts.Logger.With("component", "terminal"),
		events: make(chan func(), 1024),
		done:   make(chan struct{}),
	}

	t.store = barstore.New(opts.MaxBars)
	t.engine = indicator.NewEngine(t.store.Closes(), t.store.VolumeValues(), opts.Logger)
	for _, d := range indicator.Defaults() {
		if err := t.engine.SetConfig(d.ID, d.Config); err != nil {
			return nil, err
		}
	}
	t.adapter = ingest.New(t.store, t.engine, opts.Logger)
	t.adapter.OnClosed = t.onClosed

	t.main = pane.New(PaneMain, opts.PaneWidth, opts.PaneHeight)
	t.volume = pane.New(PaneVolume, opts.PaneWidth, opts.VolumePaneHeight)
	t.sync = syncgroup.New(t.main, t.volume, opts.Logger)
	t.main.Subscribe(t.onRangeChanged)

	canvas, err := overlay.NewRaster(opts.PaneWidth, opts.PaneHeight, opts.PixelRatio)
	if err != nil {
		return nil, err
	}
	t.canvas = canvas
	t.overlay = overlay.New(t.main, overlay.IndicatorBand{Engine: t.engine, ID: BandIndicator}, canvas, t.bandColor(), opts.Logger)

	t.wireMetrics()
	return t, nil
}

func (t *Terminal) wireMetrics() {
	m := t.opts.Metrics
	if m == nil {
		return
	}
	t.adapter.OnResult = func(r ingest.Result) {
		m.IngestEvents.WithLabelValues(r.String()).Inc()
	}
	t.engine.OnCompute = func(_ string, full bool, d time.Duration) {
		mode := "incremental"
		if full {
			mode = "full"
		}
		m.IndicatorComputeDur.WithLabelValues(mode).Observe(d.Seconds())
	}
	t.sync.OnSync = func(string, string, pane.LogicalRange) { m.SyncPropagations.Inc() }
	t.sync.OnDrift = func(delta float64) {
		m.SyncDriftRepairs.Inc()
		m.SyncDrift.Observe(delta)
	}
	t.overlay.OnRedraw = func(_ int, d time.Duration) {
		m.OverlayRedraws.Inc()
		m.OverlayRedrawDur.Observe(d.Seconds())
	}
}

func (t *Terminal) bandColor() drawing.Color {
	cfg, err := t.engine.Config(BandIndicator)
	if err != nil {
		return drawing.Color{R: 38, G: 166, B: 154, A: overlay.DefaultFillAlpha}
	}
	return overlay.ParseColor(cfg.Color, overlay.DefaultFillAlpha, drawing.Color{R: 38, G: 166, B: 154, A: overlay.DefaultFillAlpha})
}

// Run loads settings, opens the initial session and processes events until
// ctx is cancelled.
func (t *Terminal) Run(ctx context.Context) error {
	t.ctx = ctx
	defer close(t.done)

	t.loadSettings(ctx)
	if t.opts.Symbol != "" {
		if _, err := t.resetSession(t.opts.Symbol, t.opts.Interval, t.opts.Market); err != nil {
			t.log.Error("initial session failed", "error", err)
		}
	}

	frame := time.NewTicker(t.opts.FrameInterval)
	defer frame.Stop()
	reconcile := time.NewTicker(t.opts.ReconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			t.stopSession()
			t.sync.Close()
			return ctx.Err()
		case fn := <-t.events:
			fn()
		case <-frame.C:
			t.overlay.Flush()
		case <-reconcile.C:
			t.sync.Reconcile(t.opts.SyncTolerance)
		}
	}
}

// post queues fn on the event loop. It gives up when the loop has exited.
func (t *Terminal) post(fn func()) bool {
	select {
	case t.events <- fn:
		return true
	case <-t.done:
		return false
	}
}

// call runs fn on the event loop and waits for it.
func (t *Terminal) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	queued := t.post(func() {
		defer close(finished)
		fn()
	})
	if !queued {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Terminal) loadSettings(ctx context.Context) {
	if t.opts.Settings == nil {
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	saved, err := t.opts.Settings.Load(loadCtx)
	if err != nil {
		t.log.Warn("indicator settings unavailable, using defaults", "error", err)
		return
	}
	for id, cfg := range saved {
		if err := t.engine.SetConfig(id, cfg); err != nil {
			t.log.Warn("ignoring saved indicator config", "id", id, "error", err)
		}
	}
	t.overlay.SetFill(t.bandColor())
	t.log.Info("indicator settings loaded", "count", len(saved))
}

func (t *Terminal) onClosed(k model.Kline) {
	if t.opts.ClosedBars == nil {
		return
	}
	bar := model.ClosedBar{Symbol: t.session.Symbol, Interval: t.session.Interval, Market: t.session.Market, Kline: k}
	select {
	case t.opts.ClosedBars <- bar:
	default:
		t.log.Warn("closed bar channel full, dropping", "time", k.Time)
	}
}
