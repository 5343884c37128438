package market

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-sim/event"
)

type recorder struct {
	mu     sync.Mutex
	events []event.MarketEvent
}

func (r *recorder) OnBookEvent(_ Tx, ev event.MarketEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind()
	}
	return out
}

type countingMetrics struct {
	nopMetrics
	mu       sync.Mutex
	misses   map[string]int
	failures map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{misses: map[string]int{}, failures: map[string]int{}}
}

func (m *countingMetrics) IncLookupMiss(op string) {
	m.mu.Lock()
	m.misses[op]++
	m.mu.Unlock()
}

func (m *countingMetrics) IncSubscriberFailure(s string) {
	m.mu.Lock()
	m.failures[s]++
	m.mu.Unlock()
}

func newBook() *OrderBook {
	fixed := time.Date(2008, 3, 3, 8, 0, 0, 0, time.UTC)
	return NewOrderBook(Options{Symbol: "VOD.L", Now: func() time.Time { return fixed }})
}

func order(client, id string, side event.Side, qty, px int64) event.MarketEvent {
	ev, err := event.NewOrder(event.Header{
		ClientOrderID: id,
		ClientID:      client,
		Symbol:        "VOD.L",
		Side:          side,
		OrderType:     event.OrderTypeLimit,
		OrderPrice:    decimal.NewFromInt(px),
		OrderQty:      qty,
	})
	if err != nil {
		panic(err)
	}
	return ev
}

func TestPartialThenFullFill(t *testing.T) {
	b := newBook()
	rec := &recorder{}
	b.Subscribe("rec", rec)

	require.NoError(t, b.Add(order("s", "o1", event.SideSell, 10, 101)))
	require.NoError(t, b.Add(order("b", "b1", event.SideBuy, 4, 101)))

	rest, ok := b.Lookup(event.SideSell, event.Key{ClientID: "s", ClientOrderID: "o1"})
	require.True(t, ok)
	assert.Equal(t, int64(6), rest.Base().RemainingQty)

	trades := b.Trades(0)
	require.Len(t, trades, 2)
	assert.Equal(t, event.KindFill, trades[0].Kind(), "aggressor fully traded")
	pf, ok := trades[1].(*event.PartialFill)
	require.True(t, ok)
	assert.Equal(t, int64(4), pf.ExecQty)
	assert.Equal(t, int64(6), pf.RemainingQty)

	require.NoError(t, b.Add(order("b", "b2", event.SideBuy, 6, 102)))
	trades = b.Trades(2)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, event.KindFill, tr.Kind())
		assert.True(t, tr.Exec().ExecPrice.Equal(decimal.NewFromInt(101)), tr.Exec().ExecPrice.String())
		assert.Equal(t, int64(6), tr.Exec().ExecQty)
	}
	_, ok = b.Lookup(event.SideSell, event.Key{ClientID: "s", ClientOrderID: "o1"})
	assert.False(t, ok)
	assert.True(t, b.LowestOfferPrice().Equal(NoPrice))
	assert.True(t, b.HighestBidPrice().Equal(NoPrice))

	assert.Equal(t, []event.Kind{
		event.KindOffer,
		event.KindBid, event.KindFill, event.KindPartialFill,
		event.KindBid, event.KindFill, event.KindFill,
	}, rec.kinds())
}

func TestCancelRecomputesBest(t *testing.T) {
	b := newBook()
	rec := &recorder{}
	b.Subscribe("rec", rec)
	require.NoError(t, b.Add(order("c", "b1", event.SideBuy, 5, 99)))
	require.NoError(t, b.Add(order("c", "b2", event.SideBuy, 5, 98)))

	assert.True(t, b.Delete(order("c", "b1", event.SideBuy, 5, 99)))
	assert.True(t, b.HighestBidPrice().Equal(decimal.NewFromInt(98)))

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, event.ActionDelete, last.Base().Action)
	assert.Equal(t, "b1", last.Base().ClientOrderID)
}

func TestDeleteMissStillPublishes(t *testing.T) {
	m := newCountingMetrics()
	b := NewOrderBook(Options{Symbol: "VOD.L", Metrics: m})
	rec := &recorder{}
	b.Subscribe("rec", rec)

	require.NoError(t, b.Add(order("c", "b1", event.SideBuy, 5, 99)))
	assert.True(t, b.Delete(order("c", "b1", event.SideBuy, 5, 99)))
	before := b.Snapshot()
	assert.False(t, b.Delete(order("c", "b1", event.SideBuy, 5, 99)))
	after := b.Snapshot()

	assert.Equal(t, before.Bids, after.Bids)
	assert.Len(t, rec.events, 3)
	assert.Equal(t, 1, m.misses["DELETE"])
}

func TestFillForUnknownOrderIgnored(t *testing.T) {
	m := newCountingMetrics()
	b := NewOrderBook(Options{Symbol: "VOD.L", Metrics: m})
	rec := &recorder{}
	b.Subscribe("rec", rec)

	h := event.Header{ClientOrderID: "ghost", ClientID: "c", Side: event.SideBuy, OrderQty: 5, CumQty: 5}
	require.NoError(t, b.Add(event.NewFill(h, event.Execution{ExecQty: 5, ExecPrice: decimal.NewFromInt(1)})))

	assert.Empty(t, rec.events)
	assert.Empty(t, b.Trades(0))
	assert.Equal(t, 1, m.misses["FILL"])
}

func TestReplayPartialFillReducesRestingOrder(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Add(order("srv", "7", event.SideSell, 10, 101)))

	h := event.Header{ClientOrderID: "7", ClientID: "srv", Side: event.SideSell, OrderQty: 3}
	require.NoError(t, b.Add(event.NewPartialFill(h, event.Execution{ExecQty: 3, ExecPrice: decimal.NewFromInt(101)})))
	rest, ok := b.Lookup(event.SideSell, event.Key{ClientID: "srv", ClientOrderID: "7"})
	require.True(t, ok)
	assert.Equal(t, int64(7), rest.Base().RemainingQty)

	tape := b.Trades(0)
	require.Len(t, tape, 1)
	assert.Equal(t, int64(10), tape[0].Base().OrderQty)
	assert.Equal(t, int64(7), tape[0].Base().RemainingQty)

	require.NoError(t, b.Add(event.NewFill(h, event.Execution{ExecQty: 3})))
	_, ok = b.Lookup(event.SideSell, event.Key{ClientID: "srv", ClientOrderID: "7"})
	assert.False(t, ok)
	assert.Equal(t, int64(7), b.Trades(1)[0].Exec().ExecQty)
}

func TestReplayedCrossingOrdersTradeAtRestingPrice(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Add(order("srv", "1", event.SideBuy, 5, 100)))
	require.NoError(t, b.Add(order("srv", "2", event.SideSell, 5, 99)))

	tape := b.Trades(0)
	require.Len(t, tape, 2)
	for _, tr := range tape {
		assert.Equal(t, event.KindFill, tr.Kind())
		assert.True(t, tr.Exec().ExecPrice.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, int64(5), tr.Exec().ExecQty)
	}
	s := b.Snapshot()
	assert.Empty(t, s.Bids)
	assert.Empty(t, s.Offers)
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	m := newCountingMetrics()
	b := NewOrderBook(Options{Symbol: "VOD.L", Metrics: m})
	b.Subscribe("broken", SinkFunc(func(Tx, event.MarketEvent) { panic("boom") }))
	rec := &recorder{}
	b.Subscribe("rec", rec)

	require.NoError(t, b.Add(order("c", "b1", event.SideBuy, 5, 99)))
	assert.Len(t, rec.events, 1)
	assert.Equal(t, 1, m.failures["broken"])
	assert.True(t, b.HighestBidPrice().Equal(decimal.NewFromInt(99)))
}

func TestUnsubscribe(t *testing.T) {
	b := newBook()
	rec := &recorder{}
	cancel := b.Subscribe("rec", rec)
	require.NoError(t, b.Add(order("c", "b1", event.SideBuy, 5, 99)))
	cancel()
	require.NoError(t, b.Add(order("c", "b2", event.SideBuy, 5, 99)))
	assert.Len(t, rec.events, 1)
}

func TestNestedMutationRunsAfterCurrentEvent(t *testing.T) {
	b := newBook()
	rec := &recorder{}
	b.Subscribe("auto-cancel", SinkFunc(func(tx Tx, ev event.MarketEvent) {
		if ev.Kind() == event.KindBid && ev.Base().Action == event.ActionAdd && ev.Base().ClientOrderID == "tmp" {
			assert.True(t, tx.HighestBidPrice().Equal(decimal.NewFromInt(99)))
			_, ok := tx.Lookup(event.SideBuy, ev.Base().Key())
			assert.True(t, ok)
			tx.Delete(ev)
		}
	}))
	b.Subscribe("rec", rec)

	require.NoError(t, b.Add(order("c", "tmp", event.SideBuy, 5, 99)))
	require.Len(t, rec.events, 2)
	assert.Equal(t, event.ActionAdd, rec.events[0].Base().Action)
	assert.Equal(t, event.ActionDelete, rec.events[1].Base().Action)
	assert.True(t, b.HighestBidPrice().Equal(NoPrice))
}

func TestRejectsInvalidInput(t *testing.T) {
	b := newBook()
	assert.ErrorIs(t, b.Add(order("c", "z", event.SideBuy, 0, 99)), event.ErrInvalid)

	wrong := order("c", "w", event.SideBuy, 1, 99)
	wrong.Base().Symbol = "BARC.L"
	assert.ErrorIs(t, b.Add(wrong), ErrWrongSymbol)

	require.NoError(t, b.Add(order("c", "d", event.SideBuy, 1, 99)))
	assert.ErrorIs(t, b.Add(order("c", "d", event.SideBuy, 1, 98)), ErrDuplicateOrder)
	// 不同客户端可复用同一 ID
	assert.NoError(t, b.Add(order("other", "d", event.SideBuy, 1, 98)))
}

func TestMarketOrderPriority(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Add(order("c", "l1", event.SideBuy, 5, 99)))
	mkt := event.NewBid(event.Header{ClientOrderID: "m1", ClientID: "c", OrderType: event.OrderTypeMarket, OrderQty: 5})
	require.NoError(t, b.Add(mkt))

	s := b.Snapshot()
	require.Len(t, s.Bids, 2)
	assert.Equal(t, "m1", s.Bids[0].Base().ClientOrderID)
	assert.True(t, s.BestBid.Equal(decimal.NewFromInt(99)), "best bid excludes market orders")

	require.NoError(t, b.Add(order("s", "o1", event.SideSell, 3, 101)))
	tape := b.Trades(0)
	require.Len(t, tape, 2)
	assert.Equal(t, "m1", tape[0].Exec().ContraOrderID)
	assert.True(t, tape[0].Exec().ExecPrice.Equal(decimal.NewFromInt(101)))
}

func TestConcurrentAggressorsNeverOverAllocate(t *testing.T) {
	const sessions, perSession, restingQty = 8, 20, 50
	b := newBook()
	require.NoError(t, b.Add(order("mm", "big", event.SideSell, restingQty, 100)))

	var wg sync.WaitGroup
	for s := 0; s < sessions; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			client := fmt.Sprintf("c%d", s)
			for i := 0; i < perSession; i++ {
				_ = b.Add(order(client, fmt.Sprintf("%d", i), event.SideBuy, 1, 100))
			}
		}(s)
	}
	wg.Wait()

	var execAggr, execResting int64
	for _, tr := range b.Trades(0) {
		if tr.Base().ClientID == "mm" {
			execResting += tr.Exec().ExecQty
		} else {
			execAggr += tr.Exec().ExecQty
		}
	}
	assert.Equal(t, int64(restingQty), execResting)
	assert.Equal(t, execResting, execAggr)

	s := b.Snapshot()
	assert.Empty(t, s.Offers)
	assert.Equal(t, int64(sessions*perSession-restingQty), s.BidVolume)
}

func TestPublisherDropsWhenFull(t *testing.T) {
	b := newBook()
	p := NewPublisher()
	ch := p.Subscribe(1)
	b.Subscribe("feed", p)

	require.NoError(t, b.Add(order("c", "b1", event.SideBuy, 5, 99)))
	require.NoError(t, b.Add(order("c", "b2", event.SideBuy, 5, 98)))

	got := <-ch
	assert.Equal(t, "b1", got.Base().ClientOrderID)
	assert.Equal(t, uint64(1), p.Dropped())

	p.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}
