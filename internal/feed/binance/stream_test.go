package binance

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chartterm/internal/model"
)

const klineMsg = `{"e":"kline","E":1700000061000,"s":"BTCUSDT","k":{"t":1700000040000,"T":1700000099999,"s":"BTCUSDT","i":"1m","o":"100.00","c":"105.00","h":"106.00","l":"99.00","v":"3.5","x":false}}`

func TestParseKlineMessage(t *testing.T) {
	ev, ok := ParseKlineMessage([]byte(klineMsg))
	if !ok {
		t.Fatal("expected a kline")
	}
	if ev.Time != 1700000040 || ev.Open != 100 || ev.Close != 105 || ev.High != 106 || ev.Low != 99 || ev.Volume != 3.5 || ev.IsFinal {
		t.Errorf("event = %+v", ev)
	}

	combined := `{"stream":"btcusdt@kline_1m","data":` + klineMsg + `}`
	if ev2, ok := ParseKlineMessage([]byte(combined)); !ok || ev2 != ev {
		t.Errorf("combined stream = %+v,%v", ev2, ok)
	}

	if _, ok := ParseKlineMessage([]byte(`{"e":"trade","p":"1"}`)); ok {
		t.Error("trade message parsed as kline")
	}
	if _, ok := ParseKlineMessage([]byte(`not json`)); ok {
		t.Error("garbage parsed as kline")
	}
}

func TestParseKlineMessage_BadNumberIsNaN(t *testing.T) {
	msg := strings.Replace(klineMsg, `"c":"105.00"`, `"c":"abc"`, 1)
	ev, ok := ParseKlineMessage([]byte(msg))
	if !ok {
		t.Fatal("expected a kline")
	}
	if !math.IsNaN(ev.Close) || ev.Finite() {
		t.Errorf("close = %v, want NaN", ev.Close)
	}
}

func TestParseKlineMessage_FullPayload(t *testing.T) {
	// Exchange payloads carry upper-case twins of several keys.
	full := `{"e":"kline","E":1700000061000,"s":"BTCUSDT","k":{"t":1700000040000,"T":1700000099999,` +
		`"s":"BTCUSDT","i":"1m","f":100,"L":200,"o":"100.00","c":"105.00","h":"106.00","l":"99.00",` +
		`"v":"3.5","n":100,"x":true,"q":"360.0","V":"1.25","Q":"130.0","B":"0"}}`
	ev, ok := ParseKlineMessage([]byte(full))
	if !ok {
		t.Fatal("expected a kline")
	}
	if ev.Time != 1700000040 || ev.Low != 99 || ev.Volume != 3.5 || !ev.IsFinal {
		t.Errorf("event = %+v", ev)
	}
}

func TestStreamURL(t *testing.T) {
	s := NewStream(StreamConfig{}, nil)
	if got := s.URL("BTCUSDT", "1m", model.MarketSpot); got != "wss://stream.binance.com:9443/ws/btcusdt@kline_1m" {
		t.Errorf("spot url = %q", got)
	}
	if got := s.URL("ETHUSDT", "5m", model.MarketFutures); got != "wss://fstream.binance.com/ws/ethusdt@kline_5m" {
		t.Errorf("futures url = %q", got)
	}
}

func TestStreamRun_DeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(klineMsg))
		final := strings.Replace(klineMsg, `"x":false`, `"x":true`, 1)
		conn.WriteMessage(websocket.TextMessage, []byte(final))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewStream(StreamConfig{SpotURL: wsURL}, nil)
	opened := 0
	s.OnOpen = func(string) { opened++ }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []model.KlineEvent
	err := s.Run(ctx, "BTCUSDT", "1m", model.MarketSpot, func(ev model.KlineEvent) {
		events = append(events, ev)
		if len(events) == 2 {
			cancel()
		}
	})
	if err != context.Canceled {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if got := <-paths; got != "/ws/btcusdt@kline_1m" {
		t.Errorf("path = %q", got)
	}
	if opened != 1 {
		t.Errorf("opened = %d", opened)
	}
	if len(events) != 2 || events[0].IsFinal || !events[1].IsFinal {
		t.Errorf("events = %+v", events)
	}
}

func TestStreamRun_CancelWhileDialing(t *testing.T) {
	s := NewStream(StreamConfig{SpotURL: "ws://127.0.0.1:1", InitialBackoff: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Run(ctx, "BTCUSDT", "1m", model.MarketSpot, func(model.KlineEvent) {})
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
