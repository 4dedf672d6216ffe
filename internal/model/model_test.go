package model

import (
	"encoding/json"
	"math"
	"testing"
)

func TestBarTag(t *testing.T) {
	if (Bar{Open: 10, Close: 10}).Tag() != ColorUp {
		t.Fatal("unchanged bar should be up")
	}
	if (Bar{Open: 10, Close: 9.99}).Tag() != ColorDown {
		t.Fatal("falling bar should be down")
	}
}

func TestKlineSplit(t *testing.T) {
	b, v := Kline{Bar: Bar{Time: 60, Open: 2, High: 3, Low: 1, Close: 1.5}, Volume: 7}.Split()
	if b.Time != 60 || v.Time != 60 || v.Value != 7 || v.Color != ColorDown {
		t.Fatalf("split = %+v %+v", b, v)
	}
}

func TestRawKlineEvent_MixedEncodings(t *testing.T) {
	var raw RawKlineEvent
	data := `{"time":120,"open":"100.5","high":101,"low":"99.25000000","close":100,"volume":"0","isFinal":true}`
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		t.Fatal(err)
	}
	ev := raw.Event()
	if !ev.Finite() || ev.Open != 100.5 || ev.Low != 99.25 || !ev.IsFinal {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRawKlineEvent_BadFieldsAreNaN(t *testing.T) {
	ev := RawKlineEvent{Time: 1, Open: []byte(`"abc"`), High: []byte(`null`)}.Event()
	if !math.IsNaN(ev.Open) || !math.IsNaN(ev.High) || !math.IsNaN(ev.Volume) {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Finite() {
		t.Fatal("event with NaN fields reported finite")
	}
}

func TestParseInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{float64(1700000000000), 1700000000000, true},
		{1.5, 0, false},
		{"42", 42, true},
		{"4.2", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseInt64(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseInt64(%v) = %d, %v", tt.in, got, ok)
		}
	}
}

func TestSessionKey(t *testing.T) {
	s := Session{Symbol: "ETHUSDT", Interval: "5m", Market: MarketFutures}
	if got := s.Key(); got != "futures:ETHUSDT:5m" {
		t.Fatalf("key = %q", got)
	}
}
