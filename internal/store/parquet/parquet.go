// Package parquet exports chart data as Parquet files.
package parquet

import (
	"fmt"
	"io"
	"sort"

	"github.com/parquet-go/parquet-go"

	"chartterm/internal/indicator"
	"chartterm/internal/model"
)

// BarRow is one exported bar.
type BarRow struct {
	Symbol   string  `parquet:"symbol,dict"`
	Interval string  `parquet:"interval,dict"`
	Time     int64   `parquet:"time"`
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	Volume   float64 `parquet:"volume"`
	Color    string  `parquet:"color,dict"`
}

// PointRow is one exported indicator value.
type PointRow struct {
	Indicator string  `parquet:"indicator,dict"`
	Line      string  `parquet:"line,dict"`
	Time      int64   `parquet:"time"`
	Value     float64 `parquet:"value"`
}

// WriteBars writes bars and their volumes, which must be index-aligned.
func WriteBars(w io.Writer, symbol, interval string, bars []model.Bar, vols []model.VolumeBar) error {
	if len(bars) != len(vols) {
		return fmt.Errorf("parquet: %d bars but %d volumes", len(bars), len(vols))
	}
	rows := make([]BarRow, len(bars))
	for i, b := range bars {
		rows[i] = BarRow{
			Symbol:   symbol,
			Interval: interval,
			Time:     b.Time,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   vols[i].Value,
			Color:    string(vols[i].Color),
		}
	}
	if err := parquet.Write(w, rows); err != nil {
		return fmt.Errorf("parquet: write bars: %w", err)
	}
	return nil
}

// WriteIndicators writes every line of every series, ordered by indicator
// id, line name and time.
func WriteIndicators(w io.Writer, series map[string]indicator.Series) error {
	ids := make([]string, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []PointRow
	for _, id := range ids {
		lines := make([]string, 0, len(series[id]))
		for l := range series[id] {
			lines = append(lines, string(l))
		}
		sort.Strings(lines)
		for _, l := range lines {
			for _, p := range series[id][indicator.Line(l)] {
				rows = append(rows, PointRow{Indicator: id, Line: l, Time: p.Time, Value: p.Value})
			}
		}
	}
	if err := parquet.Write(w, rows); err != nil {
		return fmt.Errorf("parquet: write indicators: %w", err)
	}
	return nil
}
