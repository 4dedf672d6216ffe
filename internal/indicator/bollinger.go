package indicator

import "math"

// Bollinger returns the upper, middle and lower bands of src. The middle
// band is SMA(period); the half-width is k times the population standard
// deviation of the window.
func Bollinger(src Source, period int, k float64) (upper, middle, lower []Point) {
	if period <= 0 {
		return nil, nil, nil
	}
	n := src.Len()
	size := derivedLen(n, period-1)
	upper = make([]Point, 0, size)
	middle = make([]Point, 0, size)
	lower = make([]Point, 0, size)
	for i := period - 1; i < n; i++ {
		u, m, l := bollingerAt(src, i, period, k)
		upper = append(upper, u)
		middle = append(middle, m)
		lower = append(lower, l)
	}
	return upper, middle, lower
}

func bollingerAt(src Source, i, period int, k float64) (upper, middle, lower Point) {
	avg := mean(src, i, period)
	variance := 0.0
	for j := i - period + 1; j <= i; j++ {
		d := src.Value(j) - avg
		variance += d * d
	}
	band := k * math.Sqrt(variance/float64(period))
	ts := src.Time(i)
	return Point{Time: ts, Value: round8(avg + band)},
		Point{Time: ts, Value: round8(avg)},
		Point{Time: ts, Value: round8(avg - band)}
}
