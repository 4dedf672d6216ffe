package indicator

// MACD returns the MACD line (EMA(fast) - EMA(slow)), its signal line
// (EMA(signal) of the MACD line) and the histogram (macd - signal).
//
// The MACD line is aligned at source index slow-1; signal and histogram at
// slow-1 + signal-1.
func MACD(src Source, fast, slow, signal int) (macd, sig, hist []Point) {
	n := src.Len()
	if fast <= 0 || slow <= fast || signal <= 0 || n < slow {
		return nil, nil, nil
	}
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = src.Value(i)
	}
	fastEMA := emaValues(closes, fast)
	slowEMA := emaValues(closes, slow)

	line := make([]float64, 0, n-slow+1)
	macd = make([]Point, 0, n-slow+1)
	for i := slow - 1; i < n; i++ {
		v := fastEMA[i-(fast-1)] - slowEMA[i-(slow-1)]
		line = append(line, v)
		macd = append(macd, Point{Time: src.Time(i), Value: round8(v)})
	}

	sigVals := emaValues(line, signal)
	sig = make([]Point, 0, len(sigVals))
	hist = make([]Point, 0, len(sigVals))
	offset := slow - 1 + signal - 1
	for j, s := range sigVals {
		ts := src.Time(offset + j)
		sig = append(sig, Point{Time: ts, Value: round8(s)})
		hist = append(hist, Point{Time: ts, Value: round8(line[signal-1+j] - s)})
	}
	return macd, sig, hist
}
