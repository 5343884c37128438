package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

// Bar 是固定周期的成交 OHLCV。
type Bar struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
	Trades int             `json:"trades"`
}

// BarAggregator 订阅订单簿，把成交聚合成 Bar。
// 每次撮合发布买卖两条成交，只统计买方一条。
type BarAggregator struct {
	interval time.Duration
	keep     int
	now      func() time.Time

	mu      sync.Mutex
	closed  []Bar
	current *Bar
}

// NewBarAggregator keep 为保留的已闭合 Bar 数量，now 为空时使用墙上时间。
func NewBarAggregator(interval time.Duration, keep int, now func() time.Time) *BarAggregator {
	if now == nil {
		now = time.Now
	}
	if keep <= 0 {
		keep = 1
	}
	return &BarAggregator{interval: interval, keep: keep, now: now}
}

func (a *BarAggregator) OnBookEvent(_ Tx, ev event.MarketEvent) {
	tr, ok := ev.(event.Trade)
	if !ok || !tr.Base().Side.IsBuy() {
		return
	}
	x := tr.Exec()
	a.OnTrade(x.ExecPrice, x.ExecQty, a.now())
}

// OnTrade 更新当前 Bar；跨周期时闭合当前 Bar 并返回它，否则返回 nil。
func (a *BarAggregator) OnTrade(price decimal.Decimal, qty int64, ts time.Time) *Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := ts.Truncate(a.interval)
	var done *Bar
	if a.current != nil && !start.Equal(a.current.Start) {
		b := *a.current
		done = &b
		a.closed = append(a.closed, b)
		if len(a.closed) > a.keep {
			a.closed = a.closed[len(a.closed)-a.keep:]
		}
		a.current = nil
	}
	if a.current == nil {
		a.current = &Bar{Start: start, Open: price, High: price, Low: price, Close: price}
	}
	c := a.current
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	c.Volume += qty
	c.Trades++
	return done
}

// Bars 返回已闭合的 Bar 加上进行中的一根。
func (a *BarAggregator) Bars() []Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Bar, len(a.closed), len(a.closed)+1)
	copy(out, a.closed)
	if a.current != nil {
		out = append(out, *a.current)
	}
	return out
}
