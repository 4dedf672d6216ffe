package syncgroup

import (
	"testing"

	"chartterm/internal/pane"
)

func newPanes(n int) (*pane.Pane, *pane.Pane) {
	a := pane.New("main", 1000, 400)
	b := pane.New("volume", 1000, 120)
	pts := make([]pane.Point, n)
	for i := range pts {
		pts[i] = pane.Point{Time: int64(60 * (i + 1)), Value: float64(100 + i)}
	}
	a.SetSeriesData("close", pts)
	b.SetHistogram("vol", pts)
	return a, b
}

func TestPropagate_BothDirections(t *testing.T) {
	a, b := newPanes(200)
	g := New(a, b, nil)
	defer g.Close()

	r := pane.LogicalRange{From: 20, To: 80}
	if err := a.SetVisibleRange(r); err != nil {
		t.Fatal(err)
	}
	if got, _ := b.VisibleRange(); got != r {
		t.Errorf("follower range = %v, want %v", got, r)
	}

	r2 := pane.LogicalRange{From: 5, To: 40}
	_ = b.SetVisibleRange(r2)
	if got, _ := a.VisibleRange(); got != r2 {
		t.Errorf("main range = %v, want %v", got, r2)
	}
}

func TestPropagate_NoEcho(t *testing.T) {
	a, b := newPanes(200)
	g := New(a, b, nil)
	defer g.Close()

	syncs := 0
	g.OnSync = func(string, string, pane.LogicalRange) { syncs++ }
	var aNotes int
	a.Subscribe(func(pane.LogicalRange) { aNotes++ })

	_ = a.SetVisibleRange(pane.LogicalRange{From: 10, To: 60})
	if syncs != 1 {
		t.Errorf("syncs = %d, want 1", syncs)
	}
	if aNotes != 1 {
		t.Errorf("main pane notified %d times, want 1 (no echo)", aNotes)
	}
	if g.Syncing() {
		t.Error("guard still held after propagation")
	}
}

func TestSync_Idempotent(t *testing.T) {
	a, b := newPanes(200)
	g := New(a, b, nil)
	defer g.Close()

	syncs := 0
	g.OnSync = func(string, string, pane.LogicalRange) { syncs++ }
	r := pane.LogicalRange{From: 30, To: 90}
	_ = a.SetVisibleRange(r)
	_ = a.SetVisibleRange(r)
	g.Resync()
	g.Resync()

	if syncs != 1 {
		t.Errorf("syncs = %d, want 1", syncs)
	}
}

func TestGuard_ReleasedAfterPanic(t *testing.T) {
	a, b := newPanes(50)
	g := New(a, b, nil)
	defer g.Close()

	g.OnSync = func(string, string, pane.LogicalRange) { panic("boom") }
	func() {
		defer func() { _ = recover() }()
		_ = a.SetVisibleRange(pane.LogicalRange{From: 1, To: 20})
	}()
	if g.Syncing() {
		t.Fatal("guard stuck after panic")
	}

	g.OnSync = nil
	r := pane.LogicalRange{From: 2, To: 30}
	_ = a.SetVisibleRange(r)
	if got, _ := b.VisibleRange(); got != r {
		t.Errorf("sync did not recover: %v", got)
	}
}

func TestReconcile_RepairsDrift(t *testing.T) {
	a, b := newPanes(200)
	g := New(a, b, nil)
	defer g.Close()

	r := pane.LogicalRange{From: 50, To: 150}
	_ = a.SetVisibleRange(r)

	// Simulate a lost notification: change b while the guard is held.
	g.syncing = true
	_ = b.SetVisibleRange(pane.LogicalRange{From: 50.5, To: 150.5})
	g.syncing = false

	var drift float64
	g.OnDrift = func(d float64) { drift = d }
	if !g.Reconcile(DefaultTolerance) {
		t.Fatal("expected a repair")
	}
	if drift != 0.5 {
		t.Errorf("drift = %v, want 0.5", drift)
	}
	if got, _ := b.VisibleRange(); got != r {
		t.Errorf("follower after reconcile = %v, want %v", got, r)
	}
	if g.Reconcile(DefaultTolerance) {
		t.Error("second reconcile should be a no-op")
	}
}

func TestReconcile_WithinTolerance(t *testing.T) {
	a, b := newPanes(200)
	g := New(a, b, nil)
	defer g.Close()

	g.syncing = true
	_ = b.SetVisibleRange(pane.LogicalRange{From: 99.505, To: 199.5})
	g.syncing = false
	if ra, _ := a.VisibleRange(); ra.To != 199.5 {
		t.Fatalf("unexpected main range %v", ra)
	}
	if g.Reconcile(DefaultTolerance) {
		t.Error("drift within tolerance should not be repaired")
	}
}

func TestResize_ForcesResync(t *testing.T) {
	a, b := newPanes(300)
	g := New(a, b, nil)
	defer g.Close()

	_ = b.SetVisibleRange(pane.LogicalRange{From: 100, To: 200})
	g.Resize(500, 300, 100)

	ra, _ := a.VisibleRange()
	rb, _ := b.VisibleRange()
	if ra != rb {
		t.Errorf("ranges differ after resize: %v vs %v", ra, rb)
	}
	if ra.To != 200 || ra.From != 150 {
		t.Errorf("main range after resize = %v, want {150 200}", ra)
	}
	if b.Height() != 100 || a.Height() != 300 {
		t.Errorf("heights = %v/%v", a.Height(), b.Height())
	}
}

func TestUpdate_AppendFollowsRightEdgeOnce(t *testing.T) {
	a, b := newPanes(200)
	g := New(a, b, nil)
	defer g.Close()

	pts := make([]pane.Point, 200, 205)
	for i := range pts {
		pts[i] = pane.Point{Time: int64(60 * (i + 1)), Value: float64(100 + i)}
	}
	for n := 201; n <= 205; n++ {
		pts = append(pts, pane.Point{Time: int64(60 * n), Value: float64(100 + n)})
		g.Update(func() {
			a.SetSeriesData("close", pts)
			b.SetHistogram("vol", pts)
		})
		want := pane.LogicalRange{From: float64(n-100) - 0.5, To: float64(n-1) + 0.5}
		ra, _ := a.VisibleRange()
		rb, _ := b.VisibleRange()
		if ra != want || rb != want {
			t.Fatalf("n=%d: main=%v volume=%v, want %v", n, ra, rb, want)
		}
	}
	if g.Syncing() {
		t.Error("guard still held after Update")
	}
}

func TestUpdate_ScrolledBackViewStays(t *testing.T) {
	a, b := newPanes(200)
	g := New(a, b, nil)
	defer g.Close()

	r := pane.LogicalRange{From: 10, To: 50}
	_ = a.SetVisibleRange(r)

	pts := make([]pane.Point, 201)
	for i := range pts {
		pts[i] = pane.Point{Time: int64(60 * (i + 1)), Value: 1}
	}
	g.Update(func() {
		a.SetSeriesData("close", pts)
		b.SetHistogram("vol", pts)
	})
	if ra, _ := a.VisibleRange(); ra != r {
		t.Fatalf("main = %v, want %v", ra, r)
	}
	if rb, _ := b.VisibleRange(); rb != r {
		t.Fatalf("volume = %v, want %v", rb, r)
	}
}
