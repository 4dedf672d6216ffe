package indicator

// SMA returns the simple moving average of src over period. Values are
// rounded to Precision digits. An empty slice is returned when src holds
// fewer than period values.
func SMA(src Source, period int) []Point {
	if period <= 0 {
		return nil
	}
	n := src.Len()
	out := make([]Point, 0, derivedLen(n, period-1))
	for i := period - 1; i < n; i++ {
		out = append(out, smaAt(src, i, period))
	}
	return out
}

// VolumeMA is SMA applied to volume values. src must be a volume view.
func VolumeMA(volumes Source, period int) []Point {
	return SMA(volumes, period)
}

func smaAt(src Source, i, period int) Point {
	return Point{Time: src.Time(i), Value: round8(mean(src, i, period))}
}
