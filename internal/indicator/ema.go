package indicator

// EMA returns the exponential moving average of src over period. The first
// value is the plain average of the first period values; each later value is
// (x - prev) * 2/(period+1) + prev.
func EMA(src Source, period int) []Point {
	if period <= 0 {
		return nil
	}
	n := src.Len()
	out := make([]Point, 0, derivedLen(n, period-1))
	for i := period - 1; i < n; i++ {
		if i == period-1 {
			out = append(out, Point{Time: src.Time(i), Value: mean(src, i, period)})
			continue
		}
		out = append(out, Point{Time: src.Time(i), Value: emaStep(src.Value(i), out[len(out)-1].Value, period)})
	}
	return out
}

// emaStep advances an EMA by one value. O(1).
func emaStep(x, prev float64, period int) float64 {
	k := 2.0 / float64(period+1)
	return (x-prev)*k + prev
}

// emaValues is EMA over a plain slice, aligned at index period-1.
func emaValues(vals []float64, period int) []float64 {
	if period <= 0 || len(vals) < period {
		return nil
	}
	out := make([]float64, 0, len(vals)-period+1)
	sum := 0.0
	for _, v := range vals[:period] {
		sum += v
	}
	out = append(out, sum/float64(period))
	for _, v := range vals[period:] {
		out = append(out, emaStep(v, out[len(out)-1], period))
	}
	return out
}
