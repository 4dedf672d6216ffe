// Package notification delivers operational alerts (sessions without
// history, settings store outages, persistence failures) to external
// channels such as a webhook or a Telegram chat.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log. Used when no backend is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger.With("component", "notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.log.Log(context.Background(), level, alert.Title, "message", alert.Message)
	return nil
}

// Multi sends every alert to all of its notifiers.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends alerts in the background so callers on hot paths never
// wait on a remote API. Alerts with the same title are suppressed for
// Cooldown after one is sent.
type Dispatcher struct {
	n        Notifier
	cooldown time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
	wg   sync.WaitGroup
}

func NewDispatcher(n Notifier, cooldown time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		n:        n,
		cooldown: cooldown,
		timeout:  15 * time.Second,
		log:      logger.With("component", "notify"),
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify queues alert for delivery. It reports false if the alert was
// suppressed by the cooldown.
func (d *Dispatcher) Notify(alert Alert) bool {
	d.mu.Lock()
	now := d.now()
	if t, ok := d.last[alert.Title]; ok && now.Sub(t) < d.cooldown {
		d.mu.Unlock()
		return false
	}
	d.last[alert.Title] = now
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.n.Send(ctx, alert); err != nil {
			d.log.Warn("alert delivery failed", "title", alert.Title, "error", err)
		}
	}()
	return true
}

// Wait blocks until every queued alert has been delivered or has failed.
func (d *Dispatcher) Wait() { d.wg.Wait() }
