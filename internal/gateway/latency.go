package gateway

import (
	"sort"
	"sync"
	"time"

	"chartterm/internal/metrics"
)

// DefaultLatencyWindow is how many recent deliveries each channel keeps.
const DefaultLatencyWindow = 2048

// LatencySummary describes recent delivery latency in milliseconds.
type LatencySummary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// DeliveryLatency measures how long frames wait between Broadcast and the
// socket write. Each channel keeps its own window of recent samples for the
// stats channel; every sample also lands on the delivery histogram when
// metrics are wired. Safe for concurrent use by the write pumps.
type DeliveryLatency struct {
	mu      sync.Mutex
	window  int
	windows map[string]*latencyWindow
	metrics *metrics.Metrics
}

// latencyWindow is a fixed ring of the last len(samples) observations.
type latencyWindow struct {
	samples []time.Duration
	next    int
	full    bool
}

func (w *latencyWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next, w.full = 0, true
	}
}

func (w *latencyWindow) values() []time.Duration {
	if w.full {
		return w.samples
	}
	return w.samples[:w.next]
}

// NewDeliveryLatency creates a tracker. m may be nil.
func NewDeliveryLatency(window int, m *metrics.Metrics) *DeliveryLatency {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &DeliveryLatency{window: window, windows: make(map[string]*latencyWindow), metrics: m}
}

// Observe records one delivery on channel. Negative durations (clock
// steps) are ignored.
func (l *DeliveryLatency) Observe(channel string, d time.Duration) {
	if d < 0 {
		return
	}
	l.mu.Lock()
	w, ok := l.windows[channel]
	if !ok {
		w = &latencyWindow{samples: make([]time.Duration, l.window)}
		l.windows[channel] = w
	}
	w.add(d)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.GatewayDeliveryDur.WithLabelValues(channel).Observe(d.Seconds())
	}
}

// Summary returns the recent latency of one channel, or of all channels
// together when channel is empty.
func (l *DeliveryLatency) Summary(channel string) LatencySummary {
	l.mu.Lock()
	var samples []time.Duration
	if channel == "" {
		for _, w := range l.windows {
			samples = append(samples, w.values()...)
		}
	} else if w, ok := l.windows[channel]; ok {
		samples = append(samples, w.values()...)
	}
	l.mu.Unlock()
	return summarize(samples)
}

// Channels returns a summary per channel that has seen deliveries.
func (l *DeliveryLatency) Channels() map[string]LatencySummary {
	l.mu.Lock()
	names := make([]string, 0, len(l.windows))
	for name := range l.windows {
		names = append(names, name)
	}
	l.mu.Unlock()

	out := make(map[string]LatencySummary, len(names))
	for _, name := range names {
		out[name] = l.Summary(name)
	}
	return out
}

// summarize sorts samples in place and reads nearest-rank percentiles.
func summarize(samples []time.Duration) LatencySummary {
	n := len(samples)
	if n == 0 {
		return LatencySummary{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	rank := func(p float64) float64 {
		i := int(p*float64(n)+0.999999) - 1
		if i < 0 {
			i = 0
		}
		if i >= n {
			i = n - 1
		}
		return toMillis(samples[i])
	}
	return LatencySummary{
		Count: n,
		P50:   rank(0.50),
		P95:   rank(0.95),
		P99:   rank(0.99),
		Max:   toMillis(samples[n-1]),
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
