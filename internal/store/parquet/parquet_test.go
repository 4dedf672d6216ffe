package parquet

import (
	"bytes"
	"testing"

	"github.com/parquet-go/parquet-go"

	"chartterm/internal/indicator"
	"chartterm/internal/model"
)

func TestWriteBars_ReadBack(t *testing.T) {
	bars := []model.Bar{
		{Time: 60, Open: 100, High: 102, Low: 99, Close: 101},
		{Time: 120, Open: 101, High: 101, Low: 97, Close: 98},
	}
	vols := []model.VolumeBar{
		{Time: 60, Value: 5, Color: model.ColorUp},
		{Time: 120, Value: 7.5, Color: model.ColorDown},
	}
	var buf bytes.Buffer
	if err := WriteBars(&buf, "BTCUSDT", "1m", bars, vols); err != nil {
		t.Fatal(err)
	}

	rows, err := parquet.Read[BarRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	want := BarRow{Symbol: "BTCUSDT", Interval: "1m", Time: 120, Open: 101, High: 101, Low: 97, Close: 98, Volume: 7.5, Color: "down"}
	if rows[1] != want {
		t.Errorf("row[1] = %+v, want %+v", rows[1], want)
	}
}

func TestWriteBars_Misaligned(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBars(&buf, "X", "1m", []model.Bar{{Time: 1}}, nil); err == nil {
		t.Error("expected an error for misaligned input")
	}
}

func TestWriteIndicators_Ordered(t *testing.T) {
	series := map[string]indicator.Series{
		"ma7": {indicator.LineMain: {{Time: 420, Value: 100}, {Time: 480, Value: 101}}},
		"boll": {
			indicator.LineUpper: {{Time: 1200, Value: 110}},
			indicator.LineLower: {{Time: 1200, Value: 90}},
		},
	}
	var buf bytes.Buffer
	if err := WriteIndicators(&buf, series); err != nil {
		t.Fatal(err)
	}
	rows, err := parquet.Read[PointRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Indicator != "boll" || rows[0].Line != "lower" || rows[3].Indicator != "ma7" || rows[3].Time != 480 {
		t.Errorf("rows = %+v", rows)
	}
}
