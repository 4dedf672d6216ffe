package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDispatcher_Cooldown(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, time.Minute, quiet())
	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }

	if !d.Notify(Alert{Level: AlertWarning, Title: "bootstrap failed"}) {
		t.Fatal("first alert suppressed")
	}
	if d.Notify(Alert{Level: AlertWarning, Title: "bootstrap failed"}) {
		t.Fatal("repeat alert inside cooldown was sent")
	}
	if !d.Notify(Alert{Level: AlertCritical, Title: "settings store down"}) {
		t.Fatal("different title suppressed")
	}
	now = now.Add(2 * time.Minute)
	if !d.Notify(Alert{Level: AlertWarning, Title: "bootstrap failed"}) {
		t.Fatal("alert after cooldown suppressed")
	}
	d.Wait()
	if got := rec.count(); got != 3 {
		t.Fatalf("delivered %d alerts, want 3", got)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("down")}
	err := Multi{bad, ok}.Send(context.Background(), Alert{Title: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if ok.count() != 1 {
		t.Fatal("healthy notifier skipped after a failure")
	}
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["title"] != "stream down" {
			t.Errorf("body = %v, %v", body, err)
		}
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(srv.URL)
	if err := w.Send(context.Background(), Alert{Level: AlertWarning, Title: "stream down"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestWebhook_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestTelegram_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42")
	n.baseURL = srv.URL
	if err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "BTCUSDT 1m", Message: "no history"}); err != nil {
		t.Fatal(err)
	}
	if got["chat_id"] != "42" || got["parse_mode"] != "MarkdownV2" {
		t.Fatalf("payload = %v", got)
	}
	if want := "🚨 *BTCUSDT 1m*\n\nno history"; got["text"] != want {
		t.Fatalf("text = %q, want %q", got["text"], want)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a.b_c(1)"); got != `a\.b\_c\(1\)` {
		t.Fatalf("got %q", got)
	}
}
