package indicator

import (
	"testing"
	"time"

	"chartterm/internal/barstore"
	"chartterm/internal/model"
)

func storeBar(ts int64, closeV, vol float64) (model.Bar, model.VolumeBar) {
	return model.Kline{
		Bar:    model.Bar{Time: ts, Open: closeV, High: closeV, Low: closeV, Close: closeV},
		Volume: vol,
	}.Split()
}

func newTestEngine(t *testing.T, capacity, bars int) (*barstore.Store, *Engine) {
	t.Helper()
	store := barstore.New(capacity)
	for i := 0; i < bars; i++ {
		store.Append(storeBar(int64(i+1)*60, 100+float64(i%5), float64(10+i)))
	}
	return store, NewEngine(store.Closes(), store.VolumeValues(), nil)
}

func assertSeriesEqual(t *testing.T, label string, got, want Series) {
	t.Helper()
	for line, pts := range want {
		g := got[line]
		if len(g) != len(pts) {
			t.Fatalf("%s/%s: len %d, want %d", label, line, len(g), len(pts))
		}
		for i := range pts {
			if g[i].Time != pts[i].Time {
				t.Fatalf("%s/%s[%d]: time %d, want %d", label, line, i, g[i].Time, pts[i].Time)
			}
			assertClose(t, label+"/"+string(line), g[i].Value, pts[i].Value, 1e-8)
		}
	}
}

func TestEngine_IncrementalMatchesFull(t *testing.T) {
	store, eng := newTestEngine(t, 100, 30)
	cfgs := []Named{
		{ID: "sma", Config: Config{Kind: KindSMA, Visible: true, Period: 7}},
		{ID: "ema", Config: Config{Kind: KindEMA, Visible: true, Period: 7}},
		{ID: "boll", Config: Config{Kind: KindBollinger, Visible: true, Period: 20, StdDev: 2}},
		{ID: "vol", Config: Config{Kind: KindVolumeMA, Visible: true, Period: 5}},
	}
	for _, c := range cfgs {
		if err := eng.SetConfig(c.ID, c.Config); err != nil {
			t.Fatalf("SetConfig(%s): %v", c.ID, err)
		}
	}

	// Tick-by-tick updates of a forming bar, then append
	for i := 0; i < 10; i++ {
		ts := int64(31+i) * 60
		store.Append(storeBar(ts, 101, 5))
		eng.Apply(Change{Kind: MutationAppend})
		store.ReplaceLast(storeBar(ts, 103.5+float64(i), 7))
		eng.Apply(Change{Kind: MutationUpdateLast})
	}

	for _, c := range cfgs {
		got, ok := eng.Series(c.ID)
		if !ok {
			t.Fatalf("%s: series not ready", c.ID)
		}
		src := Source(store.Closes())
		if c.Config.Kind == KindVolumeMA {
			src = store.VolumeValues()
		}
		assertSeriesEqual(t, c.ID, got, Compute(c.Config, src))
	}
}

func TestEngine_AppendWithEviction(t *testing.T) {
	store, eng := newTestEngine(t, 30, 30)
	if err := eng.SetConfig("sma", Config{Kind: KindSMA, Visible: true, Period: 7}); err != nil {
		t.Fatal(err)
	}
	if err := eng.SetConfig("boll", Config{Kind: KindBollinger, Visible: true, Period: 20, StdDev: 2}); err != nil {
		t.Fatal(err)
	}
	if err := eng.SetConfig("ema", Config{Kind: KindEMA, Visible: true, Period: 9}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		evicted := store.Append(storeBar(int64(31+i)*60, 90+float64(i), 1))
		eng.Apply(Change{Kind: MutationAppend, Evicted: evicted})

		sma, _ := eng.Series("sma")
		if sma.Len() != store.Len()-7+1 {
			t.Fatalf("append %d: len(SMA) = %d, want %d", i, sma.Len(), store.Len()-6)
		}
		assertSeriesEqual(t, "sma", sma, Compute(Config{Kind: KindSMA, Period: 7}, store.Closes()))
		boll, _ := eng.Series("boll")
		assertSeriesEqual(t, "boll", boll, Compute(Config{Kind: KindBollinger, Period: 20, StdDev: 2}, store.Closes()))
		ema, _ := eng.Series("ema")
		assertSeriesEqual(t, "ema", ema, Compute(Config{Kind: KindEMA, Period: 9}, store.Closes()))
	}
}

func TestEngine_EMASeedFollowsEvictedStore(t *testing.T) {
	store, eng := newTestEngine(t, 10, 0)
	if err := eng.SetConfig("ema", Config{Kind: KindEMA, Visible: true, Period: 3}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 15; i++ {
		evicted := store.Append(storeBar(int64(i+1)*60, 100+float64(i)+float64(i%4), 1))
		eng.Apply(Change{Kind: MutationAppend, Evicted: evicted})
	}
	if store.Len() != 10 {
		t.Fatalf("store len = %d, want 10", store.Len())
	}

	ema, _ := eng.Series("ema")
	assertSeriesEqual(t, "ema", ema, Compute(Config{Kind: KindEMA, Period: 3}, store.Closes()))

	seed := (store.At(0).Close + store.At(1).Close + store.At(2).Close) / 3
	assertClose(t, "ema seed", ema[LineMain][0].Value, seed, 1e-8)
	if ema[LineMain][0].Time != store.At(2).Time {
		t.Fatalf("ema[0].Time = %d, want %d", ema[LineMain][0].Time, store.At(2).Time)
	}
}

func TestEngine_PeriodChangeRecomputesInFull(t *testing.T) {
	_, eng := newTestEngine(t, 100, 30)
	if err := eng.SetConfig("ma", Config{Kind: KindSMA, Visible: true, Period: 7}); err != nil {
		t.Fatal(err)
	}
	s, _ := eng.Series("ma")
	if s.Len() != 24 {
		t.Fatalf("len(SMA(7)) = %d, want 24", s.Len())
	}

	if err := eng.SetConfig("ma", Config{Kind: KindSMA, Visible: true, Period: 25}); err != nil {
		t.Fatal(err)
	}
	s, _ = eng.Series("ma")
	if s.Len() != 6 {
		t.Fatalf("len(SMA(25)) = %d, want 6", s.Len())
	}
}

func TestEngine_HiddenIndicatorRecomputesOnEnable(t *testing.T) {
	store, eng := newTestEngine(t, 100, 30)
	cfg := Config{Kind: KindEMA, Visible: true, Period: 9}
	if err := eng.SetConfig("ema", cfg); err != nil {
		t.Fatal(err)
	}

	cfg.Visible = false
	if err := eng.SetConfig("ema", cfg); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		store.Append(storeBar(int64(31+i)*60, 120, 1))
		eng.Apply(Change{Kind: MutationAppend})
	}
	if _, ok := eng.Series("ema"); ok {
		t.Fatal("hidden indicator should not expose a series")
	}
	if eng.Ready("ema") {
		t.Fatal("hidden indicator should not be ready")
	}

	cfg.Visible = true
	if err := eng.SetConfig("ema", cfg); err != nil {
		t.Fatal(err)
	}
	got, ok := eng.Series("ema")
	if !ok {
		t.Fatal("re-enabled indicator should be computed immediately")
	}
	assertSeriesEqual(t, "ema", got, Compute(cfg, store.Closes()))
}

func TestEngine_InsufficientHistory(t *testing.T) {
	_, eng := newTestEngine(t, 100, 5)
	if err := eng.SetConfig("ma", Config{Kind: KindSMA, Visible: true, Period: 99}); err != nil {
		t.Fatal(err)
	}
	s, ok := eng.Series("ma")
	if !ok {
		t.Fatal("indicator with too little history is still computed")
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestEngine_ColorChangeKeepsOutput(t *testing.T) {
	_, eng := newTestEngine(t, 100, 30)
	full := 0
	eng.OnCompute = func(_ string, isFull bool, _ time.Duration) {
		if isFull {
			full++
		}
	}
	cfg := Config{Kind: KindSMA, Visible: true, Period: 7, Color: "#fff"}
	eng.SetConfig("ma", cfg)
	cfg.Color = "#000"
	eng.SetConfig("ma", cfg)
	if full != 1 {
		t.Errorf("full recomputes = %d, want 1", full)
	}
}

func TestEngine_ValidateRejectsBadConfig(t *testing.T) {
	_, eng := newTestEngine(t, 10, 0)
	bad := []Config{
		{Kind: KindSMA, Period: 0},
		{Kind: KindBollinger, Period: 20, StdDev: 0},
		{Kind: KindMACD, Fast: 26, Slow: 12, Signal: 9},
		{Kind: "RSI", Period: 14},
	}
	for _, c := range bad {
		if err := eng.SetConfig("x", c); err == nil {
			t.Errorf("SetConfig(%+v) should fail", c)
		}
	}
	if _, err := eng.Config("x"); err != ErrUnknownIndicator {
		t.Errorf("Config(x) err = %v, want ErrUnknownIndicator", err)
	}
}

func TestDefaults_AreValid(t *testing.T) {
	for _, d := range Defaults() {
		if err := d.Config.Validate(); err != nil {
			t.Errorf("default %s invalid: %v", d.ID, err)
		}
	}
}
