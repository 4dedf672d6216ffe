package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"chartterm/internal/indicator"
	"chartterm/internal/model"
	"chartterm/internal/pane"
	"chartterm/internal/store/parquet"
)

// Publish channels.
const (
	ChannelBar          = "bar"
	ChannelIndicators   = "indicators"
	ChannelRange        = "range"
	ChannelSession      = "session"
	ChannelSessionError = "session_error"
)

const candleSeries = "candles"

const volumeSeries = "volume"

// Snapshot is a consistent copy of the chart state.
type Snapshot struct {
	Session      model.Session               `json:"session"`
	Meta         model.SymbolMeta            `json:"meta"`
	Bootstrapped bool                        `json:"bootstrapped"`
	Bars         []model.Bar                 `json:"bars"`
	Volumes      []model.VolumeBar           `json:"volumes"`
	Indicators   map[string]indicator.Series `json:"indicators"`
	Configs      []indicator.Named           `json:"configs"`
	Ranges       map[string]RangeInfo        `json:"ranges"`
	OverlayPath  int                         `json:"overlay_points"`
}

// RangeInfo is a pane's visible range in logical and time units.
type RangeInfo struct {
	Pane     string  `json:"pane"`
	From     float64 `json:"from"`
	To       float64 `json:"to"`
	FromTime int64   `json:"from_time,omitempty"`
	ToTime   int64   `json:"to_time,omitempty"`
}

type barMessage struct {
	Session uint64            `json:"session"`
	Kind    string            `json:"kind"`
	Bar     *model.Bar        `json:"bar,omitempty"`
	Volume  *model.VolumeBar  `json:"volume,omitempty"`
	Bars    []model.Bar       `json:"bars,omitempty"`
	Volumes []model.VolumeBar `json:"volumes,omitempty"`
}

type indicatorMessage struct {
	Session uint64                      `json:"session"`
	Partial bool                        `json:"partial"`
	Series  map[string]indicator.Series `json:"series"`
}

type sessionMessage struct {
	Session model.Session    `json:"session"`
	Meta    model.SymbolMeta `json:"meta"`
}

type sessionErrorMessage struct {
	Session model.Session `json:"session"`
	Error   string        `json:"error"`
}

// refreshPanes pushes store and indicator data into both panes.
func (t *Terminal) refreshPanes() {
	bars := t.store.Bars()
	vols := t.store.Volumes()

	candles := make([]pane.Candle, len(bars))
	for i, b := range bars {
		candles[i] = pane.Candle{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
	}
	hist := make([]pane.Point, len(vols))
	for i, v := range vols {
		hist[i] = pane.Point{Time: v.Time, Value: v.Value}
	}
	t.sync.Update(func() {
		t.main.SetCandles(candleSeries, candles)
		t.volume.SetHistogram(volumeSeries, hist)
		t.refreshIndicatorSeries()
	})
	t.overlay.ScheduleRedraw()
}

func (t *Terminal) refreshIndicatorSeries() {
	for _, n := range t.engine.Configs() {
		target := t.main
		if n.Config.Kind == indicator.KindVolumeMA {
			target = t.volume
		}
		if n.Config.Kind == indicator.KindMACD {
			// Exposed through snapshots and pushes only.
			continue
		}
		s, ok := t.engine.Series(n.ID)
		for _, line := range []indicator.Line{indicator.LineMain, indicator.LineUpper, indicator.LineLower} {
			id := seriesID(n.ID, line)
			pts, has := s[line]
			if !ok || !has {
				target.RemoveSeries(id)
				continue
			}
			target.SetSeriesData(id, toPanePoints(pts))
		}
	}
}

func seriesID(id string, line indicator.Line) string {
	if line == indicator.LineMain {
		return id
	}
	return id + "." + string(line)
}

func toPanePoints(pts []indicator.Point) []pane.Point {
	out := make([]pane.Point, len(pts))
	for i, p := range pts {
		out[i] = pane.Point{Time: p.Time, Value: p.Value}
	}
	return out
}

func (t *Terminal) onRangeChanged(pane.LogicalRange) {
	t.overlay.ScheduleRedraw()
	t.publish(ChannelRange, t.rangeInfo(t.main))
}

func (t *Terminal) rangeInfo(p *pane.Pane) RangeInfo {
	info := RangeInfo{Pane: p.Name()}
	if r, ok := p.VisibleRange(); ok {
		info.From, info.To = r.From, r.To
	}
	if from, to, ok := p.VisibleTimeRange(); ok {
		info.FromTime, info.ToTime = from, to
	}
	return info
}

func (t *Terminal) publish(channel string, v any) {
	if t.opts.Publisher == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.log.Error("encode update", "channel", channel, "error", err)
		return
	}
	t.opts.Publisher.Publish(channel, data)
}

func (t *Terminal) publishSession() {
	t.publish(ChannelSession, sessionMessage{Session: t.session, Meta: t.meta})
}

func (t *Terminal) publishSessionError(err error) {
	t.publish(ChannelSessionError, sessionErrorMessage{Session: t.session, Error: err.Error()})
}

func (t *Terminal) publishBars() {
	t.publish(ChannelBar, barMessage{
		Session: t.session.Token,
		Kind:    "reset",
		Bars:    t.store.Bars(),
		Volumes: t.store.Volumes(),
	})
}

func (t *Terminal) publishLastBar(kind string) {
	n := t.store.Len()
	if n == 0 {
		return
	}
	b, v := t.store.At(n-1), t.store.VolumeAt(n-1)
	t.publish(ChannelBar, barMessage{Session: t.session.Token, Kind: kind, Bar: &b, Volume: &v})
}

// publishIndicators sends every visible series, or only the newest point
// of each line when partial is set.
func (t *Terminal) publishIndicators(partial bool) {
	snap := t.engine.Snapshot()
	if partial {
		for id, s := range snap {
			for line, pts := range s {
				if len(pts) > 0 {
					s[line] = pts[len(pts)-1:]
				}
			}
			snap[id] = s
		}
	}
	t.publish(ChannelIndicators, indicatorMessage{Session: t.session.Token, Partial: partial, Series: snap})
}

func (t *Terminal) paneByName(name string) (*pane.Pane, error) {
	switch name {
	case PaneMain:
		return t.main, nil
	case PaneVolume:
		return t.volume, nil
	default:
		return nil, fmt.Errorf("terminal: unknown pane %q", name)
	}
}

// Snapshot returns a copy of the chart state.
func (t *Terminal) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := t.call(ctx, func() {
		s = Snapshot{
			Session:      t.session,
			Meta:         t.meta,
			Bootstrapped: t.bootstrapped,
			Bars:         t.store.Bars(),
			Volumes:      t.store.Volumes(),
			Indicators:   t.engine.Snapshot(),
			Configs:      t.engine.Configs(),
			Ranges: map[string]RangeInfo{
				PaneMain:   t.rangeInfo(t.main),
				PaneVolume: t.rangeInfo(t.volume),
			},
			OverlayPath: len(t.overlay.Path()),
		}
	})
	return s, err
}

// IndicatorConfigs returns every indicator config in registration order.
func (t *Terminal) IndicatorConfigs(ctx context.Context) ([]indicator.Named, error) {
	var out []indicator.Named
	err := t.call(ctx, func() { out = t.engine.Configs() })
	return out, err
}

// IndicatorConfig returns one indicator config.
func (t *Terminal) IndicatorConfig(ctx context.Context, id string) (indicator.Config, error) {
	var (
		cfg indicator.Config
		err error
	)
	if callErr := t.call(ctx, func() { cfg, err = t.engine.Config(id) }); callErr != nil {
		return indicator.Config{}, callErr
	}
	return cfg, err
}

// SetIndicatorConfig adds or changes an indicator and persists it in the
// background.
func (t *Terminal) SetIndicatorConfig(ctx context.Context, id string, cfg indicator.Config) error {
	var err error
	if callErr := t.call(ctx, func() {
		if err = t.engine.SetConfig(id, cfg); err != nil {
			return
		}
		if id == BandIndicator {
			t.overlay.SetFill(t.bandColor())
		}
		t.refreshPanes()
		t.publishIndicators(false)
		t.saveSetting(id, cfg)
	}); callErr != nil {
		return callErr
	}
	return err
}

func (t *Terminal) saveSetting(id string, cfg indicator.Config) {
	if t.opts.Settings == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(t.ctx, 3*time.Second)
		defer cancel()
		if err := t.opts.Settings.Save(ctx, id, cfg); err != nil {
			t.log.Warn("indicator setting not persisted", "id", id, "error", err)
		}
	}()
}

// SetVisibleRange sets a pane's visible range; the other pane follows.
func (t *Terminal) SetVisibleRange(ctx context.Context, paneName string, r pane.LogicalRange) error {
	return t.onPane(ctx, paneName, func(p *pane.Pane) error { return p.SetVisibleRange(r) })
}

// Pan scrolls a pane by delta bars.
func (t *Terminal) Pan(ctx context.Context, paneName string, delta float64) error {
	return t.onPane(ctx, paneName, func(p *pane.Pane) error { return p.Pan(delta) })
}

// Zoom scales a pane's visible span around anchorX.
func (t *Terminal) Zoom(ctx context.Context, paneName string, factor, anchorX float64) error {
	return t.onPane(ctx, paneName, func(p *pane.Pane) error { return p.Zoom(factor, anchorX) })
}

func (t *Terminal) onPane(ctx context.Context, name string, fn func(*pane.Pane) error) error {
	var err error
	if callErr := t.call(ctx, func() {
		var p *pane.Pane
		if p, err = t.paneByName(name); err == nil {
			err = fn(p)
		}
	}); callErr != nil {
		return callErr
	}
	return err
}

// Resize changes the shared pane width, both heights and the overlay pixel
// ratio.
func (t *Terminal) Resize(ctx context.Context, width, mainHeight, volumeHeight, scale float64) error {
	if width <= 0 || mainHeight <= 0 || volumeHeight <= 0 || scale <= 0 {
		return fmt.Errorf("terminal: invalid size %gx%g/%g@%g", width, mainHeight, volumeHeight, scale)
	}
	var err error
	if callErr := t.call(ctx, func() {
		t.sync.Resize(width, mainHeight, volumeHeight)
		err = t.overlay.Resize(width, mainHeight, scale)
	}); callErr != nil {
		return callErr
	}
	return err
}

// OverlayPNG flushes any pending redraw and encodes the band overlay.
func (t *Terminal) OverlayPNG(ctx context.Context) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)
	if callErr := t.call(ctx, func() {
		t.overlay.Flush()
		err = t.canvas.WritePNG(&buf)
	}); callErr != nil {
		return nil, callErr
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportBars writes the current bars as parquet.
func (t *Terminal) ExportBars(ctx context.Context, w io.Writer) error {
	var (
		s    model.Session
		bars []model.Bar
		vols []model.VolumeBar
	)
	if err := t.call(ctx, func() {
		s, bars, vols = t.session, t.store.Bars(), t.store.Volumes()
	}); err != nil {
		return err
	}
	return parquet.WriteBars(w, s.Symbol, s.Interval, bars, vols)
}

// ExportIndicators writes every visible indicator series as parquet.
func (t *Terminal) ExportIndicators(ctx context.Context, w io.Writer) error {
	var snap map[string]indicator.Series
	if err := t.call(ctx, func() { snap = t.engine.Snapshot() }); err != nil {
		return err
	}
	return parquet.WriteIndicators(w, snap)
}
