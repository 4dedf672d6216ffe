package pane

import (
	"math"
	"sort"
)

// priceMargin is the fraction of the price span left empty above and below the data.
const priceMargin = 0.1

// TimeToX converts a bar time to an x coordinate. Returns false when the time
// is not on the time scale or there is no visible range.
func (p *Pane) TimeToX(t int64) (float64, bool) {
	idx, ok := p.indexOf(t)
	if !ok || !p.hasRange {
		return 0, false
	}
	return p.logicalToX(float64(idx)), true
}

// XToTime converts an x coordinate to the time of the nearest bar. Returns
// false when x falls outside the data.
func (p *Pane) XToTime(x float64) (int64, bool) {
	if !p.hasRange || p.width <= 0 {
		return 0, false
	}
	logical := p.visible.From + x*p.visible.Span()/p.width
	idx := int(math.Round(logical))
	if idx < 0 || idx >= len(p.times) {
		return 0, false
	}
	return p.times[idx], true
}

// PriceToY converts a price to a y coordinate (0 at the top). Returns false
// when no data is visible to scale against.
func (p *Pane) PriceToY(price float64) (float64, bool) {
	lo, hi, ok := p.priceScale()
	if !ok {
		return 0, false
	}
	return p.height * (hi - price) / (hi - lo), true
}

// YToPrice converts a y coordinate to a price.
func (p *Pane) YToPrice(y float64) (float64, bool) {
	lo, hi, ok := p.priceScale()
	if !ok || p.height <= 0 {
		return 0, false
	}
	return hi - y*(hi-lo)/p.height, true
}

func (p *Pane) logicalToX(logical float64) float64 {
	return (logical - p.visible.From) * p.width / p.visible.Span()
}

func (p *Pane) indexOf(t int64) (int, bool) {
	i := sort.Search(len(p.times), func(i int) bool { return p.times[i] >= t })
	if i < len(p.times) && p.times[i] == t {
		return i, true
	}
	return 0, false
}

// priceScale returns the autoscaled price bounds for the visible range,
// recomputing them after any data or range change.
func (p *Pane) priceScale() (lo, hi float64, ok bool) {
	if !p.scaleDirty {
		return p.scaleMin, p.scaleMax, p.scaleOK
	}
	p.scaleDirty = false
	p.scaleOK = false
	from, to, visible := p.VisibleTimeRange()
	if !visible {
		return 0, 0, false
	}

	lo, hi = math.Inf(1), math.Inf(-1)
	for _, sd := range p.series {
		start := sort.Search(len(sd.times), func(i int) bool { return sd.times[i] >= from })
		for i := start; i < len(sd.times) && sd.times[i] <= to; i++ {
			lo = math.Min(lo, sd.lo[i])
			hi = math.Max(hi, sd.hi[i])
		}
	}
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return 0, 0, false
	}

	span := hi - lo
	if span == 0 {
		span = math.Max(math.Abs(hi)*0.01, 1)
	}
	p.scaleMin = lo - span*priceMargin
	p.scaleMax = hi + span*priceMargin
	p.scaleOK = true
	return p.scaleMin, p.scaleMax, true
}
