package pane

import "math"

// minVisibleBars bounds zoom-in.
const minVisibleBars = 2

// Pan shifts the visible range by delta bars (positive moves toward newer bars).
func (p *Pane) Pan(delta float64) error {
	if !p.hasRange {
		return ErrInvalidRange
	}
	return p.SetVisibleRange(LogicalRange{From: p.visible.From + delta, To: p.visible.To + delta})
}

// Zoom scales the visible span by factor (< 1 zooms in) around the bar
// under anchorX, which keeps its screen position.
func (p *Pane) Zoom(factor, anchorX float64) error {
	if !p.hasRange || factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) || p.width <= 0 {
		return ErrInvalidRange
	}
	span := math.Max(p.visible.Span()*factor, minVisibleBars)
	frac := math.Min(math.Max(anchorX/p.width, 0), 1)
	anchor := p.visible.From + frac*p.visible.Span()
	return p.SetVisibleRange(LogicalRange{From: anchor - frac*span, To: anchor + (1-frac)*span})
}

// Resize changes the pane size. Bar spacing and the right edge are kept, so
// a width change widens or narrows the visible range from the left.
func (p *Pane) Resize(width, height float64) {
	if width <= 0 || height <= 0 {
		return
	}
	oldWidth := p.width
	p.width, p.height = width, height
	p.scaleDirty = true
	if !p.hasRange || oldWidth <= 0 || width == oldWidth {
		return
	}
	spacing := oldWidth / p.visible.Span()
	p.update(LogicalRange{From: p.visible.To - width/spacing, To: p.visible.To})
}
