// Package indicator derives technical indicator series from a bar store.
//
// The SMA, EMA, Bollinger, VolumeMA and MACD functions are pure transforms
// over a Source. Engine owns the derived series for a set of configured
// indicators and keeps them current as bars are appended or updated.
//
// Every derived line is suffix-aligned to its source: entry i of a line with
// warm-up offset start corresponds to source index start+i, so a line always
// holds max(0, len(source)-start) points.
package indicator

import (
	"math"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept on averaged outputs.
const Precision = 8

// Source is a read-only indexed series of timestamped values.
type Source interface {
	Len() int
	Time(i int) int64
	Value(i int) float64
}

// Values is a slice-backed Source.
type Values struct {
	Times []int64
	Vals  []float64
}

func (v Values) Len() int            { return len(v.Vals) }
func (v Values) Time(i int) int64    { return v.Times[i] }
func (v Values) Value(i int) float64 { return v.Vals[i] }

// Point is one derived value aligned to a bar time.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Line names one output of an indicator.
type Line string

const (
	LineMain      Line = "main"
	LineUpper     Line = "upper"
	LineLower     Line = "lower"
	LineSignal    Line = "signal"
	LineHistogram Line = "histogram"
)

// Series holds the derived lines of one indicator.
type Series map[Line][]Point

// Clone returns a deep copy.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	for k, pts := range s {
		cp := make([]Point, len(pts))
		copy(cp, pts)
		out[k] = cp
	}
	return out
}

// Len returns the length of the main line.
func (s Series) Len() int { return len(s[LineMain]) }

// round8 rounds v to Precision fractional digits.
func round8(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(Precision).InexactFloat64()
}

// derivedLen is the aligned output length for a source of n values.
func derivedLen(n, start int) int {
	if n-start < 0 {
		return 0
	}
	return n - start
}

// mean returns the average of src over [i-period+1, i].
func mean(src Source, i, period int) float64 {
	sum := 0.0
	for j := i - period + 1; j <= i; j++ {
		sum += src.Value(j)
	}
	return sum / float64(period)
}
