package indicator

import (
	"errors"
	"fmt"
)

// Kind selects the indicator algorithm.
type Kind string

const (
	KindSMA       Kind = "SMA"
	KindEMA       Kind = "EMA"
	KindBollinger Kind = "BOLL"
	KindVolumeMA  Kind = "VOL_MA"
	KindMACD      Kind = "MACD"
)

// ErrUnknownIndicator is returned for an indicator id the engine does not hold.
var ErrUnknownIndicator = errors.New("unknown indicator")

// Config is the user-facing settings of one indicator.
type Config struct {
	Kind    Kind    `json:"kind"`
	Visible bool    `json:"visible"`
	Period  int     `json:"period"`
	StdDev  float64 `json:"stdDev,omitempty"`
	Fast    int     `json:"fast,omitempty"`
	Slow    int     `json:"slow,omitempty"`
	Signal  int     `json:"signal,omitempty"`
	Color   string  `json:"color,omitempty"`
}

// Named pairs an indicator id with its config.
type Named struct {
	ID     string `json:"id"`
	Config Config `json:"config"`
}

// Defaults returns the indicator set a fresh chart starts with.
func Defaults() []Named {
	return []Named{
		{ID: "ma7", Config: Config{Kind: KindSMA, Visible: true, Period: 7, Color: "#f0b90b"}},
		{ID: "ma25", Config: Config{Kind: KindSMA, Visible: true, Period: 25, Color: "#eb40b5"}},
		{ID: "ma99", Config: Config{Kind: KindSMA, Visible: false, Period: 99, Color: "#b385f8"}},
		{ID: "ema", Config: Config{Kind: KindEMA, Visible: false, Period: 21, Color: "#2962ff"}},
		{ID: "boll", Config: Config{Kind: KindBollinger, Visible: false, Period: 20, StdDev: 2, Color: "#26a69a"}},
		{ID: "vol_ma", Config: Config{Kind: KindVolumeMA, Visible: true, Period: 20, Color: "#ff9800"}},
		{ID: "macd", Config: Config{Kind: KindMACD, Visible: false, Fast: 12, Slow: 26, Signal: 9, Color: "#2196f3"}},
	}
}

// Validate checks a config for errors.
func (c Config) Validate() error {
	switch c.Kind {
	case KindSMA, KindEMA, KindVolumeMA:
		if c.Period <= 0 {
			return fmt.Errorf("invalid period=%d for %s: must be positive", c.Period, c.Kind)
		}
	case KindBollinger:
		if c.Period <= 0 {
			return fmt.Errorf("invalid period=%d for %s: must be positive", c.Period, c.Kind)
		}
		if c.StdDev <= 0 {
			return fmt.Errorf("invalid stdDev=%v for %s: must be positive", c.StdDev, c.Kind)
		}
	case KindMACD:
		if c.Fast <= 0 || c.Signal <= 0 {
			return fmt.Errorf("invalid MACD params fast=%d signal=%d: must be positive", c.Fast, c.Signal)
		}
		if c.Slow <= c.Fast {
			return fmt.Errorf("invalid MACD params fast=%d slow=%d: slow must exceed fast", c.Fast, c.Slow)
		}
	default:
		return fmt.Errorf("unknown indicator type %q", c.Kind)
	}
	return nil
}

// sameComputation reports whether a and b produce identical outputs, i.e.
// they differ at most in visibility and color.
func sameComputation(a, b Config) bool {
	return a.Kind == b.Kind && a.Period == b.Period && a.StdDev == b.StdDev &&
		a.Fast == b.Fast && a.Slow == b.Slow && a.Signal == b.Signal
}

// start is the source index of the first main-line point.
func (c Config) start() int {
	if c.Kind == KindMACD {
		return c.Slow - 1
	}
	return c.Period - 1
}
