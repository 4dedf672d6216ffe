package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chartterm/internal/logger"
	"chartterm/internal/model"
)

// ResetSession switches the chart to a new symbol, interval or market. The
// store is cleared at once; history and the live stream arrive later on
// the event loop. Results of the previous session are discarded.
func (t *Terminal) ResetSession(ctx context.Context, symbol, interval string, market model.Market) (model.Session, error) {
	var (
		s   model.Session
		err error
	)
	if callErr := t.call(ctx, func() { s, err = t.resetSession(symbol, interval, market) }); callErr != nil {
		return model.Session{}, callErr
	}
	return s, err
}

// Session returns the current session.
func (t *Terminal) Session(ctx context.Context) (model.Session, error) {
	var s model.Session
	err := t.call(ctx, func() { s = t.session })
	return s, err
}

func (t *Terminal) resetSession(symbol, interval string, market model.Market) (model.Session, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	interval = strings.TrimSpace(interval)
	if symbol == "" || interval == "" {
		return model.Session{}, fmt.Errorf("terminal: symbol and interval are required")
	}
	if market == "" {
		market = model.MarketSpot
	}
	if market != model.MarketSpot && market != model.MarketFutures {
		return model.Session{}, fmt.Errorf("terminal: unknown market %q", market)
	}

	t.stopSession()
	token := t.adapter.Begin()
	t.session = model.Session{
		Token:    token,
		Symbol:   symbol,
		Interval: interval,
		Market:   market,
		TraceID:  logger.NewTraceID(),
	}
	t.meta = model.SymbolMeta{}
	t.bootstrapped = false
	t.main.Clear()
	t.volume.Clear()
	t.overlay.ScheduleRedraw()

	if m := t.opts.Metrics; m != nil {
		m.SessionResets.Inc()
		m.BarStoreLen.Set(0)
	}
	if h := t.opts.Health; h != nil {
		h.SetBootstrap(t.session.Key(), false)
	}
	t.sessionLog().Info("session started", "symbol", symbol, "interval", interval, "market", string(market))
	t.publishSession()

	fetchCtx, cancel := context.WithCancel(logger.WithTraceID(t.ctx, t.session.TraceID))
	t.cancelFetch = cancel
	go t.fetchHistory(fetchCtx, t.session)
	if t.opts.Meta != nil {
		go t.fetchMeta(fetchCtx, t.session)
	}
	return t.session, nil
}

// stopSession cancels the outstanding fetch and closes the live stream.
func (t *Terminal) stopSession() {
	if t.cancelFetch != nil {
		t.cancelFetch()
		t.cancelFetch = nil
	}
	if t.cancelStream != nil {
		t.cancelStream()
		t.cancelStream = nil
	}
}

// fetchHistory runs off the loop. A failed exchange fetch falls back to
// local history; the exchange error is still reported.
func (t *Terminal) fetchHistory(ctx context.Context, s model.Session) {
	start := time.Now()
	bars, err := t.opts.History.FetchHistory(ctx, s.Symbol, s.Interval, s.Market, t.opts.HistoryLimit)
	if m := t.opts.Metrics; m != nil {
		m.BootstrapDur.Observe(time.Since(start).Seconds())
	}

	fallback := false
	if err != nil && ctx.Err() == nil && t.opts.Fallback != nil {
		local, ferr := t.opts.Fallback.FetchHistory(ctx, s.Symbol, s.Interval, s.Market, t.opts.HistoryLimit)
		if ferr == nil && len(local) > 0 {
			bars, fallback = local, true
		}
	}
	if ctx.Err() != nil {
		return
	}
	t.post(func() { t.completeBootstrap(s.Token, bars, err, fallback) })
}

func (t *Terminal) completeBootstrap(token uint64, bars []model.Kline, fetchErr error, fallback bool) {
	if token != t.adapter.Token() {
		t.log.Debug("discarding stale bootstrap", "token", token, "current", t.adapter.Token())
		return
	}
	log := t.sessionLog()

	if fetchErr != nil {
		log.Error("history bootstrap failed", "error", fetchErr, "fallback", fallback)
		if m := t.opts.Metrics; m != nil {
			m.BootstrapFailures.Inc()
		}
		if t.OnBootstrapError != nil {
			t.OnBootstrapError(t.session, fetchErr)
		}
		t.publishSessionError(fetchErr)
	}
	if fetchErr == nil || fallback {
		if fallback {
			if m := t.opts.Metrics; m != nil {
				m.BootstrapFallback.Inc()
			}
		}
		if t.adapter.Bootstrap(token, bars) {
			log.Info("history loaded", "bars", t.store.Len(), "fallback", fallback)
		}
	}

	t.bootstrapped = fetchErr == nil || fallback
	if h := t.opts.Health; h != nil {
		h.SetBootstrap(t.session.Key(), t.bootstrapped)
	}
	t.refreshPanes()
	t.publishBars()
	t.publishIndicators(false)
	t.startStream(token)
}

// startStream connects the live stream for the current session.
func (t *Terminal) startStream(token uint64) {
	if t.cancelStream != nil {
		t.cancelStream()
	}
	ctx, cancel := context.WithCancel(logger.WithTraceID(t.ctx, t.session.TraceID))
	t.cancelStream = cancel
	s := t.session

	go func() {
		err := t.opts.Stream.Run(ctx, s.Symbol, s.Interval, s.Market, func(ev model.KlineEvent) {
			t.post(func() { t.ingest(token, ev) })
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.log.Error("live stream stopped", append(logger.LogWithTrace(ctx), "session", token, "error", err)...)
		}
	}()
}

func (t *Terminal) fetchMeta(ctx context.Context, s model.Session) {
	meta, err := t.opts.Meta.Lookup(ctx, s.Symbol, s.Market)
	if err != nil {
		if ctx.Err() == nil {
			t.log.Warn("symbol metadata unavailable", append(logger.LogWithTrace(ctx), "symbol", s.Symbol, "error", err)...)
		}
		return
	}
	t.post(func() {
		if s.Token != t.adapter.Token() {
			return
		}
		t.meta = meta
		t.publishSession()
	})
}

// Ingest applies one event to the current session. It reports how the
// event was classified.
func (t *Terminal) Ingest(ctx context.Context, ev model.KlineEvent) (string, error) {
	var result string
	err := t.call(ctx, func() { result = t.ingest(t.adapter.Token(), ev) })
	return result, err
}

func (t *Terminal) ingest(token uint64, ev model.KlineEvent) string {
	r := t.adapter.Ingest(token, ev)
	if !r.Applied() {
		return r.String()
	}
	if m := t.opts.Metrics; m != nil {
		m.BarStoreLen.Set(float64(t.store.Len()))
	}
	if h := t.opts.Health; h != nil {
		h.SetLastEventTime(time.Now())
	}
	t.refreshPanes()
	t.publishLastBar(r.String())
	t.publishIndicators(true)
	return r.String()
}

func (t *Terminal) sessionLog() *slog.Logger {
	return logger.ForSession(t.log, t.session.Token, t.session.TraceID)
}
