// Package overlay fills the area between two indicator lines on a pixel
// buffer laid over a pane.
//
// The Surface only needs a coordinate Transform and a Canvas, so any pane
// implementation that maps time and price to pixels can drive it. Redraws
// are frame-debounced: ScheduleRedraw marks the surface dirty and the owner
// calls Flush once per frame.
package overlay

import (
	"log/slog"
	"math"
	"time"

	"github.com/wcharczuk/go-chart/v2/drawing"

	"chartterm/internal/indicator"
)

// DefaultFillAlpha is the opacity of the band fill.
const DefaultFillAlpha = 38

// Transform maps data coordinates to pixels of the plotting area.
type Transform interface {
	TimeToX(t int64) (float64, bool)
	PriceToY(price float64) (float64, bool)
	Width() float64
	Height() float64
}

// BandSource supplies the two band lines. ok is false when the owning
// indicator is hidden or not computed.
type BandSource interface {
	Band() (upper, lower []indicator.Point, ok bool)
}

// Vec is a point in CSS pixels.
type Vec struct {
	X, Y float64
}

// Canvas is the pixel buffer the surface draws on.
type Canvas interface {
	// Resize reallocates the buffer for a plotting area of width x height
	// CSS pixels at the given device pixel ratio.
	Resize(width, height, scale float64) error
	Clear() error
	FillPolygon(pts []Vec, fill drawing.Color) error
}

// Surface is a frame-debounced band-fill renderer.
// Designed for single-goroutine usage, no locks needed.
type Surface struct {
	transform Transform
	band      BandSource
	canvas    Canvas
	fill      drawing.Color
	log       *slog.Logger

	dirty   bool
	drawn   bool
	path    []Vec
	redraws int

	// OnRedraw is called after each redraw with the polygon size (optional).
	OnRedraw func(points int, d time.Duration)
}

// New creates a surface. It starts dirty so the first Flush paints.
func New(t Transform, band BandSource, canvas Canvas, fill drawing.Color, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{
		transform: t,
		band:      band,
		canvas:    canvas,
		fill:      fill,
		log:       logger.With("component", "overlay"),
		dirty:     true,
	}
}

// ScheduleRedraw requests a redraw at the next Flush. Calls within one
// frame collapse into a single redraw.
func (s *Surface) ScheduleRedraw() { s.dirty = true }

// Pending reports whether a redraw is scheduled.
func (s *Surface) Pending() bool { return s.dirty }

// Flush performs the scheduled redraw, if any. Reports whether it drew.
func (s *Surface) Flush() bool {
	if !s.dirty {
		return false
	}
	s.dirty = false
	s.redraw()
	return true
}

// Resize reallocates the pixel buffer and schedules a redraw.
func (s *Surface) Resize(width, height, scale float64) error {
	if err := s.canvas.Resize(width, height, scale); err != nil {
		return err
	}
	s.drawn = false
	s.ScheduleRedraw()
	return nil
}

// SetFill changes the fill color and schedules a redraw.
func (s *Surface) SetFill(c drawing.Color) {
	if c == s.fill {
		return
	}
	s.fill = c
	s.ScheduleRedraw()
}

// Path returns a copy of the last drawn polygon.
func (s *Surface) Path() []Vec {
	out := make([]Vec, len(s.path))
	copy(out, s.path)
	return out
}

// Redraws returns how many redraws ran.
func (s *Surface) Redraws() int { return s.redraws }

func (s *Surface) redraw() {
	upper, lower, ok := s.band.Band()
	if !ok {
		// Hidden or not computed: leave nothing stale on screen.
		if s.drawn {
			s.clear()
		}
		return
	}

	start := time.Now()
	s.redraws++
	s.path = BandPolygon(s.transform, upper, lower)
	s.clear()
	if len(s.path) >= 3 {
		if err := s.canvas.FillPolygon(s.path, s.fill); err != nil {
			s.log.Warn("band fill failed", "error", err)
			return
		}
		s.drawn = true
	}
	if s.OnRedraw != nil {
		s.OnRedraw(len(s.path), time.Since(start))
	}
}

func (s *Surface) clear() {
	if err := s.canvas.Clear(); err != nil {
		s.log.Warn("overlay clear failed", "error", err)
	}
	s.drawn = false
}

// BandPolygon walks upper left to right and lower right to left, converting
// each point to pixels. Points the transform cannot place are skipped.
func BandPolygon(t Transform, upper, lower []indicator.Point) []Vec {
	path := make([]Vec, 0, len(upper)+len(lower))
	add := func(p indicator.Point) {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return
		}
		x, ok := t.TimeToX(p.Time)
		if !ok {
			return
		}
		y, ok := t.PriceToY(p.Value)
		if !ok {
			return
		}
		path = append(path, Vec{X: x, Y: y})
	}
	for _, p := range upper {
		add(p)
	}
	for i := len(lower) - 1; i >= 0; i-- {
		add(lower[i])
	}
	return path
}
