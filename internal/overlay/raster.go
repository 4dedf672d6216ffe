package overlay

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Raster is a Canvas backed by a go-chart PNG renderer. The backing buffer
// holds width*scale by height*scale device pixels; drawing coordinates are
// CSS pixels and are scaled on the way in.
type Raster struct {
	r      chart.Renderer
	width  float64
	height float64
	scale  float64
}

// NewRaster allocates a raster canvas.
func NewRaster(width, height, scale float64) (*Raster, error) {
	c := &Raster{}
	if err := c.Resize(width, height, scale); err != nil {
		return nil, err
	}
	return c, nil
}

// Resize implements Canvas.
func (c *Raster) Resize(width, height, scale float64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("overlay: invalid canvas size %vx%v", width, height)
	}
	if scale <= 0 {
		scale = 1
	}
	c.width, c.height, c.scale = width, height, scale
	return c.Clear()
}

// Clear implements Canvas by starting a fresh transparent buffer.
func (c *Raster) Clear() error {
	r, err := chart.PNG(c.DeviceWidth(), c.DeviceHeight())
	if err != nil {
		return fmt.Errorf("overlay: allocate buffer: %w", err)
	}
	r.SetDPI(chart.DefaultDPI * c.scale)
	c.r = r
	return nil
}

// FillPolygon implements Canvas.
func (c *Raster) FillPolygon(pts []Vec, fill drawing.Color) error {
	if len(pts) < 3 {
		return nil
	}
	c.r.SetFillColor(fill)
	c.r.SetStrokeColor(drawing.ColorTransparent)
	c.r.SetStrokeWidth(0)
	c.r.MoveTo(c.device(pts[0].X), c.device(pts[0].Y))
	for _, p := range pts[1:] {
		c.r.LineTo(c.device(p.X), c.device(p.Y))
	}
	c.r.Close()
	c.r.Fill()
	return nil
}

// WritePNG encodes the buffer.
func (c *Raster) WritePNG(w io.Writer) error {
	return c.r.Save(w)
}

// DeviceWidth returns the buffer width in device pixels.
func (c *Raster) DeviceWidth() int { return int(math.Ceil(c.width * c.scale)) }

// DeviceHeight returns the buffer height in device pixels.
func (c *Raster) DeviceHeight() int { return int(math.Ceil(c.height * c.scale)) }

func (c *Raster) device(v float64) int { return int(math.Round(v * c.scale)) }

// ParseColor parses "#rrggbb" and applies alpha. Empty or malformed input
// yields the fallback.
func ParseColor(hex string, alpha uint8, fallback drawing.Color) drawing.Color {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return fallback
	}
	for _, r := range hex {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return fallback
		}
	}
	return drawing.ColorFromHex(hex).WithAlpha(alpha)
}
