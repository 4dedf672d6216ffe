package main

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"chartterm/internal/model"
)

// historyBars is how many closed bars a series keeps.
const historyBars = 1000

// parseInterval maps a Binance interval such as "1m", "4h" or "1w" to its length.
func parseInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return time.Duration(n) * unit, nil
}

// series is a random-walk kline series for one symbol and interval.
type series struct {
	mu       sync.Mutex
	symbol   string
	interval string
	step     int64 // seconds
	rng      *rand.Rand
	closed   []model.Kline
	cur      model.Kline
}

func newSeries(symbol, interval string, step time.Duration, now time.Time, seed int64) *series {
	s := &series{
		symbol:   symbol,
		interval: interval,
		step:     int64(step / time.Second),
		rng:      rand.New(rand.NewSource(seed)),
	}
	start := s.align(now.Unix())
	price := startPrice(symbol)
	for t := start - int64(historyBars)*s.step; t < start; t += s.step {
		k := s.open(t, price)
		for i := 0; i < 8; i++ {
			s.walk(&k)
		}
		s.closed = append(s.closed, k)
		price = k.Close
	}
	s.cur = s.open(start, price)
	return s
}

func startPrice(symbol string) float64 {
	switch {
	case strings.HasPrefix(symbol, "BTC"):
		return 64000
	case strings.HasPrefix(symbol, "ETH"):
		return 3200
	default:
		return 100
	}
}

func (s *series) align(t int64) int64 { return t - t%s.step }

func (s *series) open(t int64, price float64) model.Kline {
	return model.Kline{Bar: model.Bar{Time: t, Open: price, High: price, Low: price, Close: price}}
}

// walk moves the close by up to ±0.1% and adds some volume.
func (s *series) walk(k *model.Kline) {
	pct := (s.rng.Float64()*0.2 - 0.1) / 100
	k.Close = math.Max(k.Close*(1+pct), 0.01)
	k.High = math.Max(k.High, k.Close)
	k.Low = math.Min(k.Low, k.Close)
	k.Volume += s.rng.Float64() * 2
}

// advance moves the series to now. It returns the final event of every bar
// that closed and one update of the open bar.
func (s *series) advance(now time.Time) []model.KlineEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.KlineEvent
	start := s.align(now.Unix())
	for s.cur.Time < start {
		out = append(out, event(s.cur, true))
		s.closed = append(s.closed, s.cur)
		if len(s.closed) > historyBars {
			s.closed = s.closed[len(s.closed)-historyBars:]
		}
		s.cur = s.open(s.cur.Time+s.step, s.cur.Close)
	}
	s.walk(&s.cur)
	return append(out, event(s.cur, false))
}

// history returns up to limit bars ending with the open bar.
func (s *series) history(limit int) []model.Kline {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(append([]model.Kline(nil), s.closed...), s.cur)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

func event(k model.Kline, final bool) model.KlineEvent {
	return model.KlineEvent{
		Time: k.Time, Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
		Volume: k.Volume, IsFinal: final,
	}
}

// wsKline is the Binance kline stream payload.
type wsKline struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	K         struct {
		Start    int64  `json:"t"`
		End      int64  `json:"T"`
		Symbol   string `json:"s"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		Close    string `json:"c"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

func (s *series) encode(ev model.KlineEvent, now time.Time) wsKline {
	var m wsKline
	m.Event = "kline"
	m.EventTime = now.UnixMilli()
	m.Symbol = s.symbol
	m.K.Start = ev.Time * 1000
	m.K.End = (ev.Time+s.step)*1000 - 1
	m.K.Symbol = s.symbol
	m.K.Interval = s.interval
	m.K.Open = price(ev.Open)
	m.K.Close = price(ev.Close)
	m.K.High = price(ev.High)
	m.K.Low = price(ev.Low)
	m.K.Volume = decimal.NewFromFloat(ev.Volume).StringFixed(8)
	m.K.Final = ev.IsFinal
	return m
}

// restRow is one row of the /klines response.
func (s *series) restRow(k model.Kline) []any {
	return []any{
		k.Time * 1000,
		price(k.Open), price(k.High), price(k.Low), price(k.Close),
		decimal.NewFromFloat(k.Volume).StringFixed(8),
		(k.Time+s.step)*1000 - 1,
	}
}

func price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
