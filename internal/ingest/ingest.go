// Package ingest turns bootstrap history and live kline events into bar
// store mutations and keeps the indicator engine in step with them.
//
// Every session (symbol/interval/market subscription) owns a monotonically
// increasing token. Bootstrap results and stream events carry the token of
// the session that requested them; anything tagged with a superseded token
// is discarded.
package ingest

import (
	"log/slog"

	"chartterm/internal/barstore"
	"chartterm/internal/indicator"
	"chartterm/internal/model"
)

// Result classifies the outcome of one Ingest call.
type Result int

const (
	Updated Result = iota
	Appended
	DroppedMalformed
	DroppedOutOfOrder
	DroppedStale
)

func (r Result) String() string {
	switch r {
	case Updated:
		return "updated"
	case Appended:
		return "appended"
	case DroppedMalformed:
		return "malformed"
	case DroppedOutOfOrder:
		return "out_of_order"
	case DroppedStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Applied reports whether the event mutated the store.
func (r Result) Applied() bool { return r == Updated || r == Appended }

// Adapter is the sole writer of a bar store. Designed for single-goroutine
// usage, no locks needed.
type Adapter struct {
	store  *barstore.Store
	engine *indicator.Engine
	token  uint64
	log    *slog.Logger

	// OnResult is called after every Ingest (optional, for metrics).
	OnResult func(r Result)

	// OnClosed is called when an event with IsFinal set has been applied.
	OnClosed func(k model.Kline)
}

// New creates an adapter over store that feeds engine.
func New(store *barstore.Store, engine *indicator.Engine, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		store:  store,
		engine: engine,
		log:    logger.With(slog.String("component", "ingest")),
	}
}

// Token returns the current session token.
func (a *Adapter) Token() uint64 { return a.token }

// Begin starts a new session: the store is cleared, derived series are
// recomputed over the empty store, and the new token is returned.
func (a *Adapter) Begin() uint64 {
	a.token++
	a.store.Reset()
	a.engine.Recompute()
	return a.token
}

// Bootstrap replaces the store contents with history for session token and
// fully recomputes the indicators. Returns false (and changes nothing) when
// token is stale.
func (a *Adapter) Bootstrap(token uint64, history []model.Kline) bool {
	if token != a.token {
		a.log.Debug("discarding stale bootstrap", slog.Uint64("token", token), slog.Uint64("current", a.token))
		return false
	}
	n := a.store.Set(history)
	a.engine.Recompute()
	a.log.Info("bootstrap applied", slog.Uint64("token", token), slog.Int("bars", n), slog.Int("received", len(history)))
	return true
}

// Ingest applies one live event for session token. An event for the newest
// bar's time replaces it; a newer time appends; anything older is dropped.
// IsFinal does not affect the decision.
func (a *Adapter) Ingest(token uint64, ev model.KlineEvent) Result {
	r := a.ingest(token, ev)
	if a.OnResult != nil {
		a.OnResult(r)
	}
	return r
}

func (a *Adapter) ingest(token uint64, ev model.KlineEvent) Result {
	if token != a.token {
		return DroppedStale
	}
	if !ev.Finite() {
		a.log.Debug("dropping malformed event", slog.Int64("time", ev.Time))
		return DroppedMalformed
	}

	bar, vol := ev.Kline().Split()
	last, ok := a.store.Last()

	var r Result
	switch {
	case ok && ev.Time == last.Time:
		a.store.ReplaceLast(bar, vol)
		a.engine.Apply(indicator.Change{Kind: indicator.MutationUpdateLast})
		r = Updated
	case !ok || ev.Time > last.Time:
		evicted := a.store.Append(bar, vol)
		a.engine.Apply(indicator.Change{Kind: indicator.MutationAppend, Evicted: evicted})
		r = Appended
	default:
		a.log.Warn("dropping out-of-order event",
			slog.Int64("time", ev.Time), slog.Int64("last", last.Time), slog.Uint64("token", token))
		return DroppedOutOfOrder
	}

	if ev.IsFinal && a.OnClosed != nil {
		a.OnClosed(ev.Kline())
	}
	return r
}
