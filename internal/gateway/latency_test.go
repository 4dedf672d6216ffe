package gateway

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"chartterm/internal/metrics"
)

func ms(v float64) time.Duration { return time.Duration(v * float64(time.Millisecond)) }

func TestDeliveryLatency_Empty(t *testing.T) {
	l := NewDeliveryLatency(16, nil)
	if got := l.Summary(""); got != (LatencySummary{}) {
		t.Errorf("empty summary = %+v", got)
	}
	if got := l.Summary("bar"); got.Count != 0 {
		t.Errorf("unknown channel summary = %+v", got)
	}
}

func TestDeliveryLatency_NearestRank(t *testing.T) {
	l := NewDeliveryLatency(1000, nil)
	for i := 100; i >= 1; i-- {
		l.Observe("bar", ms(float64(i)))
	}

	got := l.Summary("bar")
	want := LatencySummary{Count: 100, P50: 50, P95: 95, P99: 99, Max: 100}
	if got != want {
		t.Errorf("summary = %+v, want %+v", got, want)
	}
}

func TestDeliveryLatency_WindowKeepsRecent(t *testing.T) {
	l := NewDeliveryLatency(10, nil)
	for i := 1; i <= 25; i++ {
		l.Observe("bar", ms(float64(i)))
	}
	got := l.Summary("bar")
	if got.Count != 10 || got.Max != 25 || got.P50 != 20 {
		t.Errorf("summary after wraparound = %+v, want 10 samples 16..25", got)
	}
}

func TestDeliveryLatency_PerChannelAndMerged(t *testing.T) {
	l := NewDeliveryLatency(10, nil)
	l.Observe("bar", ms(1))
	l.Observe("bar", ms(3))
	l.Observe("indicators", ms(40))
	l.Observe("bar", -time.Second)

	byChan := l.Channels()
	if len(byChan) != 2 || byChan["bar"].Count != 2 || byChan["indicators"].Max != 40 {
		t.Fatalf("channels = %+v", byChan)
	}
	all := l.Summary("")
	if all.Count != 3 || all.Max != 40 || all.P50 != 3 {
		t.Fatalf("merged = %+v", all)
	}
}

func TestDeliveryLatency_ObservesHistogram(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	l := NewDeliveryLatency(10, m)
	l.Observe("bar", ms(2))
	l.Observe("range", ms(5))

	if n := testutil.CollectAndCount(m.GatewayDeliveryDur); n != 2 {
		t.Fatalf("delivery histogram series = %d, want 2", n)
	}
}
