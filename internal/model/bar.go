package model

// ColorTag marks a volume bar as rising or falling with its paired price bar.
type ColorTag string

const (
	ColorUp   ColorTag = "up"
	ColorDown ColorTag = "down"
)

// Bar is one OHLC candle keyed by its open time in Unix seconds.
type Bar struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Tag returns the volume color for this bar: up iff close >= open.
func (b Bar) Tag() ColorTag {
	if b.Close >= b.Open {
		return ColorUp
	}
	return ColorDown
}

// VolumeBar is the volume histogram entry paired with the Bar of the same Time.
type VolumeBar struct {
	Time  int64    `json:"time"`
	Value float64  `json:"value"`
	Color ColorTag `json:"color"`
}

// Kline is one fully parsed historical or live bar with its volume.
type Kline struct {
	Bar
	Volume float64 `json:"volume"`
}

// Split returns the price bar and its paired volume bar.
func (k Kline) Split() (Bar, VolumeBar) {
	return k.Bar, VolumeBar{Time: k.Time, Value: k.Volume, Color: k.Bar.Tag()}
}
