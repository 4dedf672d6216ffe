package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"chartterm/internal/model"
)

const (
	DefaultSpotWSURL    = "wss://stream.binance.com:9443"
	DefaultFuturesWSURL = "wss://fstream.binance.com"
)

// StreamConfig configures the kline stream connector.
type StreamConfig struct {
	SpotURL        string
	FuturesURL     string
	ReadTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *StreamConfig) applyDefaults() {
	if c.SpotURL == "" {
		c.SpotURL = DefaultSpotWSURL
	}
	if c.FuturesURL == "" {
		c.FuturesURL = DefaultFuturesWSURL
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Stream connects to the kline WebSocket stream of one symbol and
// reconnects with exponential backoff until its context is cancelled.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer
	log    *slog.Logger

	// OnOpen is called after every successful connect (optional).
	OnOpen func(url string)
	// OnClose is called when a connection ends (optional).
	OnClose func(err error)
}

// NewStream creates a stream connector.
func NewStream(cfg StreamConfig, logger *slog.Logger) *Stream {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    logger.With("component", "binance-ws"),
	}
}

// URL returns the raw stream URL, e.g. wss://.../ws/btcusdt@kline_1m.
func (s *Stream) URL(symbol, interval string, market model.Market) string {
	base := s.cfg.SpotURL
	if market == model.MarketFutures {
		base = s.cfg.FuturesURL
	}
	return strings.TrimRight(base, "/") + "/ws/" + strings.ToLower(symbol) + "@kline_" + interval
}

// Run delivers kline events to handle until ctx is cancelled. handle runs
// on the reader goroutine and must not block for long. Run returns
// ctx.Err() on cancellation.
func (s *Stream) Run(ctx context.Context, symbol, interval string, market model.Market, handle func(model.KlineEvent)) error {
	url := s.URL(symbol, interval, market)
	for {
		conn, err := s.connect(ctx, url)
		if err != nil {
			return err
		}
		s.log.Info("ws: connected", "url", url)
		if s.OnOpen != nil {
			s.OnOpen(url)
		}

		err = s.read(ctx, conn, handle)
		if s.OnClose != nil {
			s.OnClose(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("ws: read error, reconnecting", "url", url, "error", err)
	}
}

func (s *Stream) connect(ctx context.Context, url string) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	op := func() error {
		c, _, err := s.dialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("ws: dial failed", "url", url, "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("binance: connect %s: %w", url, err)
	}
	return conn, nil
}

// read pumps messages until the connection fails or ctx is cancelled.
func (s *Stream) read(ctx context.Context, conn *websocket.Conn, handle func(model.KlineEvent)) error {
	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			closeConn()
		case <-done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		ev, ok := ParseKlineMessage(data)
		if !ok {
			continue
		}
		handle(ev)
	}
}

// klineMessage is the "kline" stream payload. Binance keys differ only by
// case ("t"/"T", "l"/"L", "v"/"V"), and encoding/json falls back to
// case-insensitive matching, so every upper-case key gets its own field.
type klineMessage struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	K         struct {
		Start        json.Number `json:"t"`
		CloseTime    json.Number `json:"T"`
		Open         any         `json:"o"`
		High         any         `json:"h"`
		Low          any         `json:"l"`
		LastTradeID  any         `json:"L"`
		Close        any         `json:"c"`
		Volume       any         `json:"v"`
		TakerBuyBase any         `json:"V"`
		Final        bool        `json:"x"`
	} `json:"k"`
}

var errNotKline = errors.New("not a kline message")

// ParseKlineMessage decodes a raw or combined-stream kline message. Numeric
// fields that fail to parse become NaN; ok is false for other message types.
func ParseKlineMessage(data []byte) (model.KlineEvent, bool) {
	ev, err := parseKline(data)
	return ev, err == nil
}

func parseKline(data []byte) (model.KlineEvent, error) {
	var wrapper struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Stream != "" && len(wrapper.Data) > 0 {
		data = wrapper.Data
	}

	var msg klineMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.KlineEvent{}, err
	}
	if msg.Event != "kline" {
		return model.KlineEvent{}, errNotKline
	}
	startMs, err := msg.K.Start.Int64()
	if err != nil {
		return model.KlineEvent{}, fmt.Errorf("kline start time: %w", err)
	}
	return model.KlineEvent{
		Time:    startMs / 1000,
		Open:    model.ParseNumber(msg.K.Open),
		High:    model.ParseNumber(msg.K.High),
		Low:     model.ParseNumber(msg.K.Low),
		Close:   model.ParseNumber(msg.K.Close),
		Volume:  model.ParseNumber(msg.K.Volume),
		IsFinal: msg.K.Final,
	}, nil
}
