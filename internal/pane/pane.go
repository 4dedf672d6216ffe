// Package pane models one chart plotting surface without a renderer.
//
// A Pane owns a horizontal time scale built from the times of its series and
// a visible logical range over that scale: logical index i is the i-th
// distinct time. From the visible range, the pane size and the data inside
// the range it derives time↔x and price↔y transforms. The price scale
// auto-fits the data visible in the range.
//
// A Pane is not safe for concurrent use.
package pane

import (
	"errors"
	"math"
	"sort"
)

// DefaultVisibleBars is the number of bars shown before any range is set.
const DefaultVisibleBars = 100

// ErrInvalidRange is returned for a range that is empty, inverted or not finite.
var ErrInvalidRange = errors.New("pane: invalid visible range")

// LogicalRange is a visible range in bar-index units. Fractional values are
// allowed; From < To always holds for a valid range.
type LogicalRange struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Valid reports whether r is finite and non-empty.
func (r LogicalRange) Valid() bool {
	return !math.IsNaN(r.From) && !math.IsNaN(r.To) && !math.IsInf(r.From, 0) && !math.IsInf(r.To, 0) && r.From < r.To
}

// Span returns To - From.
func (r LogicalRange) Span() float64 { return r.To - r.From }

// Point is one value of a line or histogram series.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Candle is one value of a candlestick series.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// seriesData stores the price extent of each point for autoscaling.
type seriesData struct {
	times []int64
	lo    []float64
	hi    []float64
}

// Pane is one plotting surface with its own coordinate transforms.
type Pane struct {
	name   string
	width  float64
	height float64

	series map[string]*seriesData
	order  []string
	times  []int64 // time scale: sorted distinct times of all series

	visible  LogicalRange
	hasRange bool

	scaleDirty bool
	scaleMin   float64
	scaleMax   float64
	scaleOK    bool

	listeners map[int]func(LogicalRange)
	nextID    int
}

// New creates an empty pane of the given size in CSS pixels.
func New(name string, width, height float64) *Pane {
	return &Pane{
		name:       name,
		width:      width,
		height:     height,
		series:     make(map[string]*seriesData),
		listeners:  make(map[int]func(LogicalRange)),
		scaleDirty: true,
	}
}

// Name returns the pane name.
func (p *Pane) Name() string { return p.name }

// Width returns the plotting width.
func (p *Pane) Width() float64 { return p.width }

// Height returns the plotting height.
func (p *Pane) Height() float64 { return p.height }

// Bars returns the number of distinct times on the time scale.
func (p *Pane) Bars() int { return len(p.times) }

// Subscribe registers fn to be called after every visible range change.
// The returned func removes the subscription.
func (p *Pane) Subscribe(fn func(LogicalRange)) (unsubscribe func()) {
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() { delete(p.listeners, id) }
}

// SetSeriesData replaces a line series.
func (p *Pane) SetSeriesData(id string, pts []Point) {
	sd := &seriesData{
		times: make([]int64, len(pts)),
		lo:    make([]float64, len(pts)),
		hi:    make([]float64, len(pts)),
	}
	for i, pt := range pts {
		sd.times[i], sd.lo[i], sd.hi[i] = pt.Time, pt.Value, pt.Value
	}
	p.setSeries(id, sd)
}

// SetHistogram replaces a histogram series. Bars grow from zero, so zero is
// always inside the series extent.
func (p *Pane) SetHistogram(id string, pts []Point) {
	sd := &seriesData{
		times: make([]int64, len(pts)),
		lo:    make([]float64, len(pts)),
		hi:    make([]float64, len(pts)),
	}
	for i, pt := range pts {
		sd.times[i] = pt.Time
		sd.lo[i], sd.hi[i] = math.Min(0, pt.Value), math.Max(0, pt.Value)
	}
	p.setSeries(id, sd)
}

// SetCandles replaces a candlestick series.
func (p *Pane) SetCandles(id string, candles []Candle) {
	sd := &seriesData{
		times: make([]int64, len(candles)),
		lo:    make([]float64, len(candles)),
		hi:    make([]float64, len(candles)),
	}
	for i, c := range candles {
		sd.times[i], sd.lo[i], sd.hi[i] = c.Time, c.Low, c.High
	}
	p.setSeries(id, sd)
}

// RemoveSeries drops a series. Unknown ids are ignored.
func (p *Pane) RemoveSeries(id string) {
	if _, ok := p.series[id]; !ok {
		return
	}
	delete(p.series, id)
	for i, sid := range p.order {
		if sid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.dataChanged()
}

// Clear removes every series and forgets the visible range.
func (p *Pane) Clear() {
	p.series = make(map[string]*seriesData)
	p.order = nil
	p.times = nil
	p.hasRange = false
	p.scaleDirty = true
}

func (p *Pane) setSeries(id string, sd *seriesData) {
	if _, ok := p.series[id]; !ok {
		p.order = append(p.order, id)
	}
	p.series[id] = sd
	p.dataChanged()
}

// dataChanged rebuilds the time scale and moves the view the way a live
// chart does: the first data fits the default window, and a view pinned to
// the newest bar follows new bars.
func (p *Pane) dataChanged() {
	oldN := len(p.times)
	p.times = p.rebuildTimes()
	p.scaleDirty = true
	n := len(p.times)

	switch {
	case n == 0:
		return
	case !p.hasRange:
		from := math.Max(0, float64(n-DefaultVisibleBars))
		p.update(LogicalRange{From: from - 0.5, To: float64(n-1) + 0.5})
	case n > oldN && oldN > 0 && p.visible.To >= float64(oldN-1):
		d := float64(n - oldN)
		p.update(LogicalRange{From: p.visible.From + d, To: p.visible.To + d})
	}
}

func (p *Pane) rebuildTimes() []int64 {
	total := 0
	for _, sd := range p.series {
		total += len(sd.times)
	}
	all := make([]int64, 0, total)
	for _, id := range p.order {
		all = append(all, p.series[id].times...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	out := all[:0]
	for i, t := range all {
		if i == 0 || t != all[i-1] {
			out = append(out, t)
		}
	}
	return out
}

// VisibleRange returns the current visible logical range. The second
// result is false until the pane has data or an explicit range.
func (p *Pane) VisibleRange() (LogicalRange, bool) {
	return p.visible, p.hasRange
}

// SetVisibleRange sets the visible logical range.
func (p *Pane) SetVisibleRange(r LogicalRange) error {
	if !r.Valid() {
		return ErrInvalidRange
	}
	p.update(r)
	return nil
}

// VisibleTimeRange returns the times at the edges of the visible range,
// clamped to the data.
func (p *Pane) VisibleTimeRange() (from, to int64, ok bool) {
	n := len(p.times)
	if n == 0 || !p.hasRange {
		return 0, 0, false
	}
	lo := clampIndex(int(math.Ceil(p.visible.From)), n)
	hi := clampIndex(int(math.Floor(p.visible.To)), n)
	if lo > hi {
		return 0, 0, false
	}
	return p.times[lo], p.times[hi], true
}

// update stores r and notifies listeners if it differs from the current range.
func (p *Pane) update(r LogicalRange) {
	if p.hasRange && r == p.visible {
		return
	}
	p.visible = r
	p.hasRange = true
	p.scaleDirty = true
	for _, fn := range p.snapshotListeners() {
		fn(r)
	}
}

// snapshotListeners copies the listener set so callbacks may unsubscribe.
func (p *Pane) snapshotListeners() []func(LogicalRange) {
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(LogicalRange), 0, len(ids))
	for _, id := range ids {
		out = append(out, p.listeners[id])
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}
