package ingest

import (
	"math"
	"testing"

	"chartterm/internal/barstore"
	"chartterm/internal/indicator"
	"chartterm/internal/model"
)

func event(ts int64, open, closeV float64) model.KlineEvent {
	return model.KlineEvent{Time: ts, Open: open, High: math.Max(open, closeV), Low: math.Min(open, closeV), Close: closeV, Volume: 1}
}

func history(n int, closeV float64) []model.Kline {
	out := make([]model.Kline, n)
	for i := range out {
		out[i] = model.Kline{
			Bar:    model.Bar{Time: int64(i+1) * 60, Open: closeV, High: closeV, Low: closeV, Close: closeV},
			Volume: 1,
		}
	}
	return out
}

func newAdapter(t *testing.T, capacity int) (*barstore.Store, *indicator.Engine, *Adapter) {
	t.Helper()
	store := barstore.New(capacity)
	eng := indicator.NewEngine(store.Closes(), store.VolumeValues(), nil)
	if err := eng.SetConfig("ma7", indicator.Config{Kind: indicator.KindSMA, Visible: true, Period: 7}); err != nil {
		t.Fatal(err)
	}
	return store, eng, New(store, eng, nil)
}

func TestIngest_UpdateVsAppend(t *testing.T) {
	store, _, a := newAdapter(t, 500)
	tok := a.Begin()
	a.Bootstrap(tok, history(30, 100))
	lastTime := int64(30 * 60)

	// Same time: update in place
	if r := a.Ingest(tok, event(lastTime, 100, 105)); r != Updated {
		t.Fatalf("same-time ingest = %s, want updated", r)
	}
	if store.Len() != 30 {
		t.Fatalf("len = %d, want 30", store.Len())
	}
	last, _ := store.Last()
	if last.Close != 105 {
		t.Errorf("last close = %v, want 105", last.Close)
	}
	if store.VolumeAt(29).Color != model.ColorUp {
		t.Errorf("last volume color = %s, want up", store.VolumeAt(29).Color)
	}

	// Later time: append
	if r := a.Ingest(tok, event(lastTime+180, 105, 104)); r != Appended {
		t.Fatalf("later ingest = %s, want appended", r)
	}
	if store.Len() != 31 {
		t.Fatalf("len = %d, want 31", store.Len())
	}

	// Earlier time, including between two stored bars: no-op
	before := store.Bars()
	for _, ts := range []int64{lastTime, lastTime + 60, 60} {
		if r := a.Ingest(tok, event(ts, 1, 1)); r != DroppedOutOfOrder {
			t.Errorf("ingest at %d = %s, want out_of_order", ts, r)
		}
	}
	after := store.Bars()
	if len(before) != len(after) || before[len(before)-1] != after[len(after)-1] {
		t.Error("out-of-order ingest must not modify the store")
	}
}

func TestIngest_DropsMalformed(t *testing.T) {
	store, _, a := newAdapter(t, 500)
	tok := a.Begin()
	a.Bootstrap(tok, history(3, 100))

	bad := []model.KlineEvent{
		{Time: 240, Open: math.NaN(), High: 1, Low: 1, Close: 1, Volume: 1},
		{Time: 240, Open: 1, High: math.Inf(1), Low: 1, Close: 1, Volume: 1},
		model.RawKlineEvent{Time: 240, Open: []byte(`"1.5"`), High: []byte(`"x"`)}.Event(),
	}
	for i, ev := range bad {
		if r := a.Ingest(tok, ev); r != DroppedMalformed {
			t.Errorf("event %d: result %s, want malformed", i, r)
		}
	}
	if store.Len() != 3 {
		t.Errorf("len = %d, want 3", store.Len())
	}
}

func TestIngest_BoundedGrowthAndMonotonicTime(t *testing.T) {
	store, eng, a := newAdapter(t, 50)
	tok := a.Begin()
	a.Bootstrap(tok, history(45, 100))

	ts := int64(45 * 60)
	for i := 0; i < 200; i++ {
		if i%3 == 0 {
			ts += 60
		}
		a.Ingest(tok, event(ts, 100, 100+float64(i%11)))
		if store.Len() > store.Cap() {
			t.Fatalf("step %d: len %d exceeds cap %d", i, store.Len(), store.Cap())
		}
	}
	bars := store.Bars()
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Time >= bars[i].Time {
			t.Fatalf("times not strictly increasing at %d: %d >= %d", i, bars[i-1].Time, bars[i].Time)
		}
	}
	s, _ := eng.Series("ma7")
	if s.Len() != store.Len()-6 {
		t.Errorf("len(SMA(7)) = %d, want %d", s.Len(), store.Len()-6)
	}
}

func TestIngest_StaleSessionDiscarded(t *testing.T) {
	store, _, a := newAdapter(t, 500)
	oldTok := a.Begin()

	// Symbol switch while the old bootstrap is still in flight
	newTok := a.Begin()
	if a.Bootstrap(oldTok, history(30, 100)) {
		t.Fatal("stale bootstrap must be rejected")
	}
	if store.Len() != 0 {
		t.Fatalf("stale bootstrap wrote %d bars", store.Len())
	}
	if r := a.Ingest(oldTok, event(60, 1, 1)); r != DroppedStale {
		t.Errorf("stale event result = %s, want stale", r)
	}

	if !a.Bootstrap(newTok, history(10, 50)) {
		t.Fatal("current bootstrap rejected")
	}
	if store.Len() != 10 {
		t.Errorf("len = %d, want 10", store.Len())
	}
}

func TestIngest_BeginClearsStore(t *testing.T) {
	store, eng, a := newAdapter(t, 500)
	tok := a.Begin()
	a.Bootstrap(tok, history(30, 100))
	a.Begin()
	if store.Len() != 0 {
		t.Fatalf("len after Begin = %d, want 0", store.Len())
	}
	s, ok := eng.Series("ma7")
	if !ok || s.Len() != 0 {
		t.Errorf("indicator after reset: ok=%v len=%d, want empty", ok, s.Len())
	}
}

func TestIngest_OnClosedOnlyForFinal(t *testing.T) {
	_, _, a := newAdapter(t, 500)
	var closed []int64
	a.OnClosed = func(k model.Kline) { closed = append(closed, k.Time) }
	tok := a.Begin()

	a.Ingest(tok, event(60, 1, 2))
	ev := event(60, 1, 3)
	ev.IsFinal = true
	a.Ingest(tok, ev)
	a.Ingest(tok, event(120, 3, 3))

	if len(closed) != 1 || closed[0] != 60 {
		t.Errorf("closed = %v, want [60]", closed)
	}
}
