package indicator

import (
	"log/slog"
	"time"
)

// Mutation describes how the bar store changed since the last Apply.
type Mutation int

const (
	// MutationReset means more than the newest bar changed (bootstrap, reset).
	MutationReset Mutation = iota
	// MutationUpdateLast means only the newest bar was replaced in place.
	MutationUpdateLast
	// MutationAppend means one new bar was appended, possibly evicting from the front.
	MutationAppend
)

func (m Mutation) String() string {
	switch m {
	case MutationReset:
		return "reset"
	case MutationUpdateLast:
		return "update"
	case MutationAppend:
		return "append"
	default:
		return "unknown"
	}
}

// Change is one bar store mutation reported to the engine.
type Change struct {
	Kind    Mutation
	Evicted int // bars dropped from the front by an append
}

// entry holds the config and derived output of one indicator.
type entry struct {
	id       string
	cfg      Config
	out      Series
	computed bool // out reflects the current store contents
}

// Engine computes and caches derived series for the configured indicators.
// Designed for single-goroutine usage, no locks needed.
//
// Hidden indicators are not kept current: they are marked stale on every
// change and recomputed in full when made visible again.
type Engine struct {
	closes  Source
	volumes Source
	order   []string
	entries map[string]*entry
	log     *slog.Logger

	// OnCompute is called after each indicator computation (optional).
	// full is false for the incremental path.
	OnCompute func(id string, full bool, d time.Duration)
}

// NewEngine creates an engine reading closes and volumes from the store views.
func NewEngine(closes, volumes Source, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		closes:  closes,
		volumes: volumes,
		entries: make(map[string]*entry),
		log:     logger.With(slog.String("component", "indicator")),
	}
}

// SetConfig adds or updates an indicator. A change to any computation
// parameter discards the old output; a visible indicator without current
// output is recomputed in full before SetConfig returns.
func (e *Engine) SetConfig(id string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ent, ok := e.entries[id]
	if !ok {
		ent = &entry{id: id}
		e.entries[id] = ent
		e.order = append(e.order, id)
	} else if !sameComputation(ent.cfg, cfg) {
		ent.out = nil
		ent.computed = false
	}
	ent.cfg = cfg
	if cfg.Visible && !ent.computed {
		e.full(ent)
	}
	return nil
}

// Config returns the config of an indicator.
func (e *Engine) Config(id string) (Config, error) {
	ent, ok := e.entries[id]
	if !ok {
		return Config{}, ErrUnknownIndicator
	}
	return ent.cfg, nil
}

// Configs returns all indicator configs in registration order.
func (e *Engine) Configs() []Named {
	out := make([]Named, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, Named{ID: id, Config: e.entries[id].cfg})
	}
	return out
}

// Apply brings visible indicators up to date with a store mutation.
// Update and append mutations take the incremental path when the cached
// output is consistent with the store; anything else falls back to a full
// recompute. EMA also recomputes in full when the append evicted bars.
func (e *Engine) Apply(ch Change) {
	for _, id := range e.order {
		ent := e.entries[id]
		if !ent.cfg.Visible {
			ent.computed = false
			continue
		}
		if !ent.computed || ch.Kind == MutationReset || ent.cfg.Kind == KindMACD {
			e.full(ent)
			continue
		}
		if ch.Kind == MutationAppend && ch.Evicted > 0 && ent.cfg.Kind == KindEMA {
			// The EMA seed is the SMA of the first period bars in the store,
			// so dropping front bars changes every value.
			e.full(ent)
			continue
		}
		start := time.Now()
		var ok bool
		switch ch.Kind {
		case MutationUpdateLast:
			ok = e.updateLast(ent)
		case MutationAppend:
			ok = e.appendNext(ent, ch.Evicted)
		}
		if !ok {
			e.log.Debug("incremental update inconsistent, recomputing",
				slog.String("indicator", id), slog.String("mutation", ch.Kind.String()))
			e.full(ent)
			continue
		}
		if e.OnCompute != nil {
			e.OnCompute(id, false, time.Since(start))
		}
	}
}

// Recompute rebuilds every visible indicator from scratch.
func (e *Engine) Recompute() {
	e.Apply(Change{Kind: MutationReset})
}

// Series returns a copy of an indicator's output. The second result is false
// when the indicator is unknown, hidden, or not computed.
func (e *Engine) Series(id string) (Series, bool) {
	ent, ok := e.entries[id]
	if !ok || !ent.cfg.Visible || !ent.computed {
		return nil, false
	}
	return ent.out.Clone(), true
}

// Snapshot returns copies of all visible, computed outputs keyed by id.
func (e *Engine) Snapshot() map[string]Series {
	out := make(map[string]Series, len(e.entries))
	for _, id := range e.order {
		if s, ok := e.Series(id); ok {
			out[id] = s
		}
	}
	return out
}

// Ready reports whether an indicator is visible and computed.
func (e *Engine) Ready(id string) bool {
	ent, ok := e.entries[id]
	return ok && ent.cfg.Visible && ent.computed
}

func (e *Engine) source(cfg Config) Source {
	if cfg.Kind == KindVolumeMA {
		return e.volumes
	}
	return e.closes
}

// full recomputes an indicator over the whole store. O(n·period).
func (e *Engine) full(ent *entry) {
	start := time.Now()
	ent.out = Compute(ent.cfg, e.source(ent.cfg))
	ent.computed = true
	if e.OnCompute != nil {
		e.OnCompute(ent.id, true, time.Since(start))
	}
}

// Compute runs the indicator described by cfg over src.
func Compute(cfg Config, src Source) Series {
	switch cfg.Kind {
	case KindSMA, KindVolumeMA:
		return Series{LineMain: SMA(src, cfg.Period)}
	case KindEMA:
		return Series{LineMain: EMA(src, cfg.Period)}
	case KindBollinger:
		u, m, l := Bollinger(src, cfg.Period, cfg.StdDev)
		return Series{LineMain: m, LineUpper: u, LineLower: l}
	case KindMACD:
		m, s, h := MACD(src, cfg.Fast, cfg.Slow, cfg.Signal)
		return Series{LineMain: m, LineSignal: s, LineHistogram: h}
	default:
		return Series{}
	}
}

// updateLast recomputes only the newest derived point. O(period), O(1) for EMA.
func (e *Engine) updateLast(ent *entry) bool {
	src := e.source(ent.cfg)
	n := src.Len()
	want := derivedLen(n, ent.cfg.start())
	main := ent.out[LineMain]
	if len(main) != want {
		return false
	}
	if want == 0 {
		return true
	}
	var prev float64
	if want > 1 {
		prev = main[want-2].Value
	}
	e.setPoint(ent, src, n-1, want-1, prev)
	return true
}

// appendNext trims evicted points from the front and appends one new
// derived point for the newest bar.
func (e *Engine) appendNext(ent *entry, evicted int) bool {
	for line, pts := range ent.out {
		if evicted >= len(pts) {
			ent.out[line] = pts[:0]
			continue
		}
		ent.out[line] = pts[evicted:]
	}
	src := e.source(ent.cfg)
	n := src.Len()
	want := derivedLen(n, ent.cfg.start())
	main := ent.out[LineMain]
	if want == 0 {
		return len(main) == 0
	}
	if len(main) != want-1 {
		return false
	}
	var prev float64
	if len(main) > 0 {
		prev = main[len(main)-1].Value
	}
	for _, line := range linesOf(ent.cfg.Kind) {
		ent.out[line] = append(ent.out[line], Point{})
	}
	e.setPoint(ent, src, n-1, want-1, prev)
	return true
}

// setPoint writes the derived value(s) for source index i at output slot k.
// prev is the previous main-line value, used by EMA.
func (e *Engine) setPoint(ent *entry, src Source, i, k int, prev float64) {
	cfg := ent.cfg
	switch cfg.Kind {
	case KindSMA, KindVolumeMA:
		ent.out[LineMain][k] = smaAt(src, i, cfg.Period)
	case KindEMA:
		v := mean(src, i, cfg.Period)
		if k > 0 {
			v = emaStep(src.Value(i), prev, cfg.Period)
		}
		ent.out[LineMain][k] = Point{Time: src.Time(i), Value: v}
	case KindBollinger:
		u, m, l := bollingerAt(src, i, cfg.Period, cfg.StdDev)
		ent.out[LineUpper][k] = u
		ent.out[LineMain][k] = m
		ent.out[LineLower][k] = l
	}
}

func linesOf(kind Kind) []Line {
	switch kind {
	case KindBollinger:
		return []Line{LineMain, LineUpper, LineLower}
	case KindMACD:
		return []Line{LineMain, LineSignal, LineHistogram}
	default:
		return []Line{LineMain}
	}
}
