package model

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// KlineEvent is an inbound stream update for the bar that opened at Time.
// IsFinal is set once the exchange reports the bar as closed.
type KlineEvent struct {
	Time    int64   `json:"time"`
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"`
	Volume  float64 `json:"volume"`
	IsFinal bool    `json:"isFinal"`
}

// Finite reports whether every numeric field is a finite number.
func (e KlineEvent) Finite() bool {
	for _, v := range [...]float64{e.Open, e.High, e.Low, e.Close, e.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Kline converts the event into the stored bar + volume shape.
func (e KlineEvent) Kline() Kline {
	return Kline{
		Bar:    Bar{Time: e.Time, Open: e.Open, High: e.High, Low: e.Low, Close: e.Close},
		Volume: e.Volume,
	}
}

// RawKlineEvent is the transport-agnostic wire form of a KlineEvent. Numeric
// fields may arrive as JSON numbers or decimal strings.
type RawKlineEvent struct {
	Time    int64           `json:"time"`
	Open    json.RawMessage `json:"open"`
	High    json.RawMessage `json:"high"`
	Low     json.RawMessage `json:"low"`
	Close   json.RawMessage `json:"close"`
	Volume  json.RawMessage `json:"volume"`
	IsFinal bool            `json:"isFinal"`
}

// Event parses the numeric fields. Missing or unparsable fields become NaN so
// the ingestion adapter can classify the event as malformed.
func (r RawKlineEvent) Event() KlineEvent {
	return KlineEvent{
		Time:    r.Time,
		Open:    parseRaw(r.Open),
		High:    parseRaw(r.High),
		Low:     parseRaw(r.Low),
		Close:   parseRaw(r.Close),
		Volume:  parseRaw(r.Volume),
		IsFinal: r.IsFinal,
	}
}

func parseRaw(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return math.NaN()
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return math.NaN()
	}
	return ParseNumber(v)
}

// ParseNumber converts a decoded JSON value (string or number) to float64.
// Returns NaN for anything that is not a finite decimal.
func ParseNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case json.Number:
		return ParseDecimal(string(t))
	case string:
		return ParseDecimal(t)
	default:
		return math.NaN()
	}
}

// ParseDecimal parses an exchange decimal string such as "64123.45000000".
func ParseDecimal(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN()
	}
	return d.InexactFloat64()
}

// ParseInt64 parses a string or number into an int64 timestamp. Returns
// false when the value is not integral.
func ParseInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
