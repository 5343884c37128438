package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBarAggregator(t *testing.T) {
	agg := NewBarAggregator(time.Minute, 10, nil)
	ts := time.Unix(0, 0).UTC()
	if closed := agg.OnTrade(px("100"), 1, ts); closed != nil {
		t.Fatalf("should not close on first trade")
	}
	agg.OnTrade(px("102"), 2, ts.Add(10*time.Second))
	agg.OnTrade(px("99"), 3, ts.Add(20*time.Second))
	closed := agg.OnTrade(px("101"), 1, ts.Add(70*time.Second))
	if closed == nil {
		t.Fatalf("expected bar close")
	}
	if !closed.Open.Equal(px("100")) || !closed.High.Equal(px("102")) || !closed.Low.Equal(px("99")) || !closed.Close.Equal(px("99")) {
		t.Fatalf("unexpected bar %+v", closed)
	}
	if closed.Volume != 6 || closed.Trades != 3 || !closed.Start.Equal(ts) {
		t.Fatalf("unexpected volume %+v", closed)
	}
	bars := agg.Bars()
	if len(bars) != 2 || !bars[1].Open.Equal(px("101")) || !bars[1].Start.Equal(ts.Add(time.Minute)) {
		t.Fatalf("unexpected bars %+v", bars)
	}
}

func TestBarAggregatorKeep(t *testing.T) {
	agg := NewBarAggregator(time.Second, 2, nil)
	ts := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		agg.OnTrade(decimal.NewFromInt(int64(100+i)), 1, ts.Add(time.Duration(i)*time.Second))
	}
	bars := agg.Bars()
	if len(bars) != 3 {
		t.Fatalf("expected 2 closed + current, got %d", len(bars))
	}
	if !bars[0].Open.Equal(px("102")) {
		t.Fatalf("oldest bars not evicted: %+v", bars[0])
	}
}

func TestBarAggregatorCountsOneSidePerMatch(t *testing.T) {
	now := time.Date(2008, 3, 3, 8, 0, 30, 0, time.UTC)
	agg := NewBarAggregator(time.Minute, 10, func() time.Time { return now })
	book := newBook()
	book.Subscribe("bars", agg)

	if err := book.Add(order("s", "o1", event.SideSell, 5, 101)); err != nil {
		t.Fatalf("add offer: %v", err)
	}
	if err := book.Add(order("b", "b1", event.SideBuy, 3, 102)); err != nil {
		t.Fatalf("add bid: %v", err)
	}
	bars := agg.Bars()
	if len(bars) != 1 {
		t.Fatalf("expected one bar, got %d", len(bars))
	}
	if bars[0].Volume != 3 || bars[0].Trades != 1 || !bars[0].Close.Equal(px("101")) {
		t.Fatalf("unexpected bar %+v", bars[0])
	}
	if !bars[0].Start.Equal(now.Truncate(time.Minute)) {
		t.Fatalf("bar start %v", bars[0].Start)
	}
}
