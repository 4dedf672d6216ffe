package overlay

import "chartterm/internal/indicator"

// IndicatorBand reads the upper and lower lines of one engine indicator.
type IndicatorBand struct {
	Engine *indicator.Engine
	ID     string
}

// Band implements BandSource.
func (b IndicatorBand) Band() (upper, lower []indicator.Point, ok bool) {
	s, ok := b.Engine.Series(b.ID)
	if !ok {
		return nil, nil, false
	}
	upper, lower = s[indicator.LineUpper], s[indicator.LineLower]
	if len(upper) == 0 || len(lower) == 0 {
		return nil, nil, false
	}
	return upper, lower, true
}
