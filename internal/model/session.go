package model

// Market selects which exchange venue a session streams from.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// Session identifies one symbol/interval/market subscription. Token increases
// monotonically across resets; results tagged with an older token are stale.
type Session struct {
	Token    uint64 `json:"token"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Market   Market `json:"market"`
	TraceID  string `json:"trace_id"`
}

// Key returns "market:symbol:interval".
func (s *Session) Key() string {
	return string(s.Market) + ":" + s.Symbol + ":" + s.Interval
}

// SymbolMeta is exchange metadata used for price display.
type SymbolMeta struct {
	Symbol         string  `json:"symbol"`
	PricePrecision int     `json:"price_precision"`
	QtyPrecision   int     `json:"qty_precision"`
	TickSize       float64 `json:"tick_size"`
}

// ClosedBar is a final bar tagged with the session it belongs to.
type ClosedBar struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Market   Market `json:"market"`
	Kline
}
