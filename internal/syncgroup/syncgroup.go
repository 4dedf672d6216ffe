// Package syncgroup keeps the visible ranges of two panes identical.
//
// Whichever pane the user moves becomes the leader and its logical range is
// copied to the other. A re-entrancy flag stops the copy from echoing back,
// and a periodic Reconcile repairs drift that a missed notification leaves
// behind. Designed for single-goroutine usage, no locks needed.
package syncgroup

import (
	"log/slog"
	"math"

	"chartterm/internal/pane"
)

// DefaultTolerance is the drift, in bars, that Reconcile tolerates.
const DefaultTolerance = 0.01

// Group couples two panes.
type Group struct {
	a, b    *pane.Pane
	unsubs  []func()
	syncing bool
	leader  *pane.Pane
	log     *slog.Logger

	// OnSync is called after a range was copied from one pane to the other.
	OnSync func(from, to string, r pane.LogicalRange)
	// OnDrift is called when Reconcile found and repaired divergence.
	OnDrift func(delta float64)
}

// New subscribes to both panes and aligns b to a.
func New(a, b *pane.Pane, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Group{a: a, b: b, leader: a, log: logger.With("component", "syncgroup")}
	g.unsubs = append(g.unsubs,
		a.Subscribe(func(r pane.LogicalRange) { g.onRangeChanged(a, r) }),
		b.Subscribe(func(r pane.LogicalRange) { g.onRangeChanged(b, r) }),
	)
	g.Resync()
	return g
}

// Close removes the pane subscriptions.
func (g *Group) Close() {
	for _, unsub := range g.unsubs {
		unsub()
	}
	g.unsubs = nil
}

// Syncing reports whether a propagation is in progress.
func (g *Group) Syncing() bool { return g.syncing }

func (g *Group) onRangeChanged(src *pane.Pane, r pane.LogicalRange) {
	if g.syncing {
		return
	}
	g.leader = src
	g.propagate(src, g.other(src), r)
}

// propagate copies r to dst under the guard. The guard is released even if
// a listener panics.
func (g *Group) propagate(src, dst *pane.Pane, r pane.LogicalRange) {
	g.syncing = true
	defer func() { g.syncing = false }()

	if cur, ok := dst.VisibleRange(); ok && cur == r {
		return
	}
	if err := dst.SetVisibleRange(r); err != nil {
		g.log.Warn("range propagation rejected", "from", src.Name(), "to", dst.Name(), "error", err)
		return
	}
	if g.OnSync != nil {
		g.OnSync(src.Name(), dst.Name(), r)
	}
}

func (g *Group) other(p *pane.Pane) *pane.Pane {
	if p == g.a {
		return g.b
	}
	return g.a
}

// Resync copies the leader's range to the follower unconditionally.
func (g *Group) Resync() {
	r, ok := g.leader.VisibleRange()
	if !ok {
		return
	}
	g.propagate(g.leader, g.other(g.leader), r)
}

// Reconcile compares both ranges and copies the leader's range over the
// follower when either edge differs by more than tol bars. Reports whether
// a repair happened.
func (g *Group) Reconcile(tol float64) bool {
	ra, okA := g.a.VisibleRange()
	rb, okB := g.b.VisibleRange()
	if !okA || !okB {
		if okA != okB {
			g.Resync()
			return true
		}
		return false
	}
	delta := math.Max(math.Abs(ra.From-rb.From), math.Abs(ra.To-rb.To))
	if delta <= tol {
		return false
	}
	g.log.Debug("range drift repaired", "delta", delta, "leader", g.leader.Name())
	if g.OnDrift != nil {
		g.OnDrift(delta)
	}
	g.Resync()
	return true
}

// Resize resizes both panes to a common width and their own heights, then
// forces the follower to the main pane's range. Intermediate notifications
// from the two resizes are suppressed.
func (g *Group) Resize(width, heightA, heightB float64) {
	g.Update(func() {
		g.a.Resize(width, heightA)
		g.b.Resize(width, heightB)
	})
}

// Update runs fn with propagation suspended, then forces the follower to
// the main pane's range. Data changes that move both panes (a new bar
// shifting a view pinned to the right edge) go through Update so each pane
// moves once instead of echoing its shift into the other.
func (g *Group) Update(fn func()) {
	func() {
		g.syncing = true
		defer func() { g.syncing = false }()
		fn()
	}()
	g.leader = g.a
	g.Resync()
}
