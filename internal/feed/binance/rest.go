// Package binance talks to the Binance spot and USD-M futures public APIs:
// REST klines for the history bootstrap, exchangeInfo for symbol metadata,
// and the kline WebSocket stream for live updates.
package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chartterm/internal/model"
)

const (
	DefaultSpotRESTURL    = "https://api.binance.com"
	DefaultFuturesRESTURL = "https://fapi.binance.com"

	// MaxHistoryLimit is the largest page the klines endpoint serves.
	MaxHistoryLimit = 1000
)

// ErrUnknownSymbol is returned when exchangeInfo does not list the symbol.
var ErrUnknownSymbol = errors.New("binance: unknown symbol")

// Client is a REST client for public market data.
type Client struct {
	httpClient *http.Client
	spotURL    string
	futuresURL string
	log        *slog.Logger
}

// NewClient creates a client. Empty URLs fall back to the public endpoints.
func NewClient(spotURL, futuresURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if spotURL == "" {
		spotURL = DefaultSpotRESTURL
	}
	if futuresURL == "" {
		futuresURL = DefaultFuturesRESTURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		spotURL:    strings.TrimRight(spotURL, "/"),
		futuresURL: strings.TrimRight(futuresURL, "/"),
		log:        logger.With("component", "binance-rest"),
	}
}

func (c *Client) endpoint(market model.Market, name string) string {
	if market == model.MarketFutures {
		return c.futuresURL + "/fapi/v1/" + name
	}
	return c.spotURL + "/api/v3/" + name
}

// get performs a GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("API error %d (status %d): %s", apiErr.Code, resp.StatusCode, apiErr.Msg)
		}
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// FetchHistory returns up to limit bars oldest to newest. Bar times are the
// kline open times in unix seconds. Rows that cannot be parsed are skipped.
func (c *Client) FetchHistory(ctx context.Context, symbol, interval string, market model.Market, limit int) ([]model.Kline, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, c.endpoint(market, "klines"), params)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, interval, err)
	}

	var rows [][]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("binance: failed to parse klines response: %w", err)
	}

	out := make([]model.Kline, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		k, ok := parseKlineRow(row)
		if !ok {
			skipped++
			continue
		}
		out = append(out, k)
	}
	if skipped > 0 {
		c.log.Warn("skipped malformed kline rows", "symbol", symbol, "interval", interval, "skipped", skipped)
	}
	return out, nil
}

// parseKlineRow converts [openTime, open, high, low, close, volume, ...].
func parseKlineRow(row []any) (model.Kline, bool) {
	if len(row) < 6 {
		return model.Kline{}, false
	}
	openMs, ok := parseMillis(row[0])
	if !ok {
		return model.Kline{}, false
	}
	ev := model.KlineEvent{
		Time:   openMs / 1000,
		Open:   model.ParseNumber(row[1]),
		High:   model.ParseNumber(row[2]),
		Low:    model.ParseNumber(row[3]),
		Close:  model.ParseNumber(row[4]),
		Volume: model.ParseNumber(row[5]),
	}
	if !ev.Finite() {
		return model.Kline{}, false
	}
	return ev.Kline(), true
}

func parseMillis(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		ms, err := n.Int64()
		return ms, err == nil
	}
	return model.ParseInt64(v)
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		Status            string `json:"status"`
		PricePrecision    *int   `json:"pricePrecision"`
		QuantityPrecision *int   `json:"quantityPrecision"`
		Filters           []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// FetchSymbolMeta returns price display metadata for one symbol. Spot
// exchangeInfo carries no precision fields, so precision is derived from
// the price filter tick size.
func (c *Client) FetchSymbolMeta(ctx context.Context, symbol string, market model.Market) (model.SymbolMeta, error) {
	symbol = strings.ToUpper(symbol)
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.get(ctx, c.endpoint(market, "exchangeInfo"), params)
	if err != nil {
		return model.SymbolMeta{}, fmt.Errorf("binance: exchangeInfo %s: %w", symbol, err)
	}

	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return model.SymbolMeta{}, fmt.Errorf("binance: failed to parse exchangeInfo: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		meta := model.SymbolMeta{Symbol: s.Symbol}
		var stepSize string
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				meta.TickSize = model.ParseDecimal(f.TickSize)
				meta.PricePrecision = decimalPlaces(f.TickSize)
			case "LOT_SIZE":
				stepSize = f.StepSize
			}
		}
		meta.QtyPrecision = decimalPlaces(stepSize)
		if s.PricePrecision != nil && meta.TickSize == 0 {
			meta.PricePrecision = *s.PricePrecision
		}
		if s.QuantityPrecision != nil && stepSize == "" {
			meta.QtyPrecision = *s.QuantityPrecision
		}
		return meta, nil
	}
	return model.SymbolMeta{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// decimalPlaces returns the significant fractional digits of "0.01000000" (2).
func decimalPlaces(s string) int {
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(strings.TrimRight(s[i+1:], "0"))
}
