package symbolcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"chartterm/internal/model"
)

type fakeFetcher struct {
	calls int
	err   error
}

func (f *fakeFetcher) FetchSymbolMeta(_ context.Context, symbol string, _ model.Market) (model.SymbolMeta, error) {
	f.calls++
	if f.err != nil {
		return model.SymbolMeta{}, f.err
	}
	return model.SymbolMeta{Symbol: symbol, PricePrecision: 2, TickSize: 0.01}, nil
}

func TestLookup_CachesUntilExpiry(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := c.Lookup(ctx, "BTCUSDT", model.MarketSpot); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Lookup(ctx, "btcusdt", model.MarketSpot); err != nil {
		t.Fatal(err)
	}
	if f.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("BTCUSDT", model.MarketSpot); ok {
		t.Error("entry should be expired at TTL")
	}
	if _, err := c.Lookup(ctx, "BTCUSDT", model.MarketSpot); err != nil {
		t.Fatal(err)
	}
	if f.calls != 2 {
		t.Errorf("fetch calls = %d, want 2", f.calls)
	}
}

func TestLookup_MarketsAreSeparate(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, time.Minute)
	ctx := context.Background()
	c.Lookup(ctx, "BTCUSDT", model.MarketSpot)
	c.Lookup(ctx, "BTCUSDT", model.MarketFutures)
	if f.calls != 2 || c.Len() != 2 {
		t.Errorf("calls=%d len=%d", f.calls, c.Len())
	}
}

func TestRefresh_ErrorKeepsNothing(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeFetcher{err: boom}
	c := New(f, time.Minute)
	var reported error
	c.OnRefresh = func(_ string, err error) { reported = err }

	if _, err := c.Lookup(context.Background(), "BTCUSDT", model.MarketSpot); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if reported != boom || c.Len() != 0 {
		t.Errorf("reported=%v len=%d", reported, c.Len())
	}
}

func TestPrune(t *testing.T) {
	c := New(&fakeFetcher{}, time.Minute)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	c.Refresh(ctx, "A", model.MarketSpot)
	now = now.Add(30 * time.Second)
	c.Refresh(ctx, "B", model.MarketSpot)
	now = now.Add(45 * time.Second)

	if n := c.Prune(); n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if _, ok := c.Get("B", model.MarketSpot); !ok {
		t.Error("fresh entry pruned")
	}
}
