package market

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"exchange-sim/event"
	"exchange-sim/infrastructure/alert"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/strategy"
)

var (
	// ErrInvariant 撮合核心不变量被破坏，以 panic 形式抛出，不可恢复。
	ErrInvariant = errors.New("order book invariant violated")
	// ErrDuplicateOrder 同一客户端的未结订单 ID 重复。
	ErrDuplicateOrder = errors.New("duplicate open order")
	// ErrWrongSymbol 事件标的与订单簿不一致。
	ErrWrongSymbol = errors.New("symbol not served by this book")
)

// NoPrice 一侧为空时的最优价。
var NoPrice = decimal.NewFromInt(-1)

// Metrics 订单簿上报的指标。
type Metrics interface {
	ObserveBookEvent(kind string)
	IncLookupMiss(op string)
	IncSubscriberFailure(sink string)
	SetRestingOrders(side string, n int)
	SetBestPrices(bid, offer float64)
	ObserveTrade(qty int64)
	ObserveLockHold(d time.Duration)
}

// Alerter 发送告警。
type Alerter interface {
	SendAlert(a alert.Alert) error
}

// Options 订单簿依赖项。
type Options struct {
	Symbol   string
	Strategy strategy.ExecutionStrategy
	Logger   *logger.Logger
	Metrics  Metrics
	Alerts   Alerter
	// Now 为新订单打时间戳，回放时指向模拟时钟。
	Now func() time.Time
}

// OrderBook 单一标的的订单簿：买卖两侧挂单加只增的成交带。
// 所有变更在同一把锁内完成，撮合与发布同步进行。
type OrderBook struct {
	mu       sync.Mutex
	symbol   string
	strategy strategy.ExecutionStrategy
	bids     *bookSide
	offers   *bookSide
	tape     []event.Trade
	subs     []subscription
	nextSub  int
	pending  []op

	log     *logger.Logger
	metrics Metrics
	alerts  Alerter
	now     func() time.Time
}

type opKind int

const (
	opAdd opKind = iota
	opDelete
)

type op struct {
	kind opKind
	ev   event.MarketEvent
}

// NewOrderBook 创建订单簿。
func NewOrderBook(opts Options) *OrderBook {
	b := &OrderBook{
		symbol:   opts.Symbol,
		strategy: opts.Strategy,
		bids:     newBookSide(true),
		offers:   newBookSide(false),
		log:      opts.Logger,
		metrics:  opts.Metrics,
		alerts:   opts.Alerts,
		now:      opts.Now,
	}
	if b.strategy == nil {
		b.strategy = strategy.NewPriceTime()
	}
	if b.log == nil {
		b.log = logger.Nop()
	}
	if b.metrics == nil {
		b.metrics = nopMetrics{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Symbol 返回订单簿服务的标的。
func (b *OrderBook) Symbol() string { return b.symbol }

// Subscribe 注册同步订阅者，返回取消函数。
func (b *OrderBook) Subscribe(name string, s Sink) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	subs := make([]subscription, len(b.subs), len(b.subs)+1)
	copy(subs, b.subs)
	b.subs = append(subs, subscription{id: id, name: name, sink: s})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		out := make([]subscription, 0, len(b.subs))
		for _, sub := range b.subs {
			if sub.id != id {
				out = append(out, sub)
			}
		}
		b.subs = out
	}
}

// Add 加入市场事件：Bid/Offer 入簿并立即撮合，Fill/PartialFill 扣减对应挂单并记入成交带。
// 返回错误时订单簿未被修改。
func (b *OrderBook) Add(ev event.MarketEvent) error {
	if err := b.check(ev); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if event.IsOrder(ev) {
		if _, dup := b.sideOf(ev.Base().Side).find(ev.Base().Key()); dup {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, ev.Base().Key())
		}
	}
	b.run(op{kind: opAdd, ev: ev.Clone()})
	return nil
}

// Delete 按 clientOrderID 移除挂单并发布 Delete；找不到时仍然发布。
func (b *OrderBook) Delete(ev event.MarketEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, found := b.sideOf(ev.Base().Side).find(ev.Base().Key())
	b.run(op{kind: opDelete, ev: ev.Clone()})
	return found
}

// HighestBidPrice 最优买价，无买单返回 NoPrice。
func (b *OrderBook) HighestBidPrice() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return best(b.bids)
}

// LowestOfferPrice 最优卖价，无卖单返回 NoPrice。
func (b *OrderBook) LowestOfferPrice() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return best(b.offers)
}

// Lookup 返回挂单副本。
func (b *OrderBook) Lookup(side event.Side, k event.Key) (event.MarketEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.sideOf(side).find(k)
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

// Trades 返回成交带中从 from 开始的副本。
func (b *OrderBook) Trades(from int) []event.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from >= len(b.tape) {
		return nil
	}
	out := make([]event.Trade, 0, len(b.tape)-from)
	for _, t := range b.tape[from:] {
		out = append(out, t.Clone().(event.Trade))
	}
	return out
}

func (b *OrderBook) check(ev event.MarketEvent) error {
	h := ev.Base()
	if b.symbol != "" && h.Symbol != "" && h.Symbol != b.symbol {
		return fmt.Errorf("%w: %s", ErrWrongSymbol, h.Symbol)
	}
	if event.IsOrder(ev) {
		if h.OrderQty <= 0 {
			return fmt.Errorf("%w: %s orderQty %d", event.ErrInvalid, h.Key(), h.OrderQty)
		}
		return event.Validate(ev)
	}
	return nil
}

func (b *OrderBook) sideOf(s event.Side) *bookSide {
	if s.IsBuy() {
		return b.bids
	}
	return b.offers
}

func (b *OrderBook) oppositeOf(s event.Side) *bookSide {
	if s.IsBuy() {
		return b.offers
	}
	return b.bids
}

func best(s *bookSide) decimal.Decimal {
	if px, ok := s.bestLimit(); ok {
		return px
	}
	return NoPrice
}

// run 在锁内执行一次变更，并依次处理订阅者追加的变更。
func (b *OrderBook) run(first op) {
	start := time.Now()
	b.pending = append(b.pending[:0], first)
	for len(b.pending) > 0 {
		next := b.pending[0]
		b.pending = b.pending[1:]
		switch next.kind {
		case opAdd:
			b.apply(next.ev)
		case opDelete:
			b.remove(next.ev)
		}
	}
	b.updateGauges()
	b.metrics.ObserveLockHold(time.Since(start))
}

func (b *OrderBook) apply(ev event.MarketEvent) {
	switch e := ev.(type) {
	case *event.Bid:
		b.place(e, &e.Header)
	case *event.Offer:
		b.place(e, &e.Header)
	case *event.Fill:
		b.applyTrade(e)
	case *event.PartialFill:
		b.applyTrade(e)
	default:
		panic(fmt.Errorf("%w: unknown event %T", ErrInvariant, ev))
	}
}

func (b *OrderBook) place(ev event.MarketEvent, h *event.Header) {
	h.Action = event.ActionAdd
	if h.TransactTime.IsZero() {
		h.TransactTime = b.now()
	}
	own := b.sideOf(h.Side)
	if _, dup := own.find(h.Key()); dup {
		b.log.Warn("duplicate open order ignored", zap.String("order", h.Key().String()))
		return
	}
	own.insert(ev)
	b.publish(ev)
	b.match(ev)
}

// match 以 ev 为进攻方逐笔撮合，直到不再交叉或数量耗尽。
func (b *OrderBook) match(aggr event.MarketEvent) {
	h := aggr.Base()
	own, opposite := b.sideOf(h.Side), b.oppositeOf(h.Side)
	for h.RemainingQty > 0 {
		var tr event.Trade
		switch e := aggr.(type) {
		case *event.Bid:
			tr = b.strategy.CheckBidForExecution(e, opposite)
		case *event.Offer:
			tr = b.strategy.CheckOfferForExecution(e, opposite)
		}
		if tr == nil {
			return
		}
		x := tr.Exec()
		resting, ok := opposite.find(event.Key{ClientID: x.ContraClientID, ClientOrderID: x.ContraOrderID})
		if !ok {
			panic(fmt.Errorf("%w: strategy matched unknown order %s/%s", ErrInvariant, x.ContraClientID, x.ContraOrderID))
		}
		rt := strategy.Counterpart(resting, tr)
		now := b.now()
		tr.Base().TransactTime = now
		rt.Base().TransactTime = now

		b.fillOrder(own, h, x.ExecQty, x.ExecPrice)
		b.fillOrder(opposite, resting.Base(), x.ExecQty, x.ExecPrice)
		b.record(tr)
		b.record(rt)
		b.publish(tr)
		b.publish(rt)
	}
}

// fillOrder 扣减挂单数量，数量归零时从所在侧移除。
func (b *OrderBook) fillOrder(s *bookSide, h *event.Header, qty int64, px decimal.Decimal) {
	if qty <= 0 || qty > h.RemainingQty {
		panic(fmt.Errorf("%w: %s traded %d with remaining %d", ErrInvariant, h.Key(), qty, h.RemainingQty))
	}
	h.ApplyExecution(qty, px)
	if h.RemainingQty < 0 || h.RemainingQty != h.OrderQty-h.CumQty {
		panic(fmt.Errorf("%w: %s remaining %d cum %d order %d", ErrInvariant, h.Key(), h.RemainingQty, h.CumQty, h.OrderQty))
	}
	if h.RemainingQty == 0 {
		s.remove(h.Key())
	}
}

// applyTrade 处理外部给出的成交（回放数据）。找不到挂单时忽略。
func (b *OrderBook) applyTrade(tr event.Trade) {
	h := tr.Base()
	s := b.sideOf(h.Side)
	resting, ok := s.find(h.Key())
	if !ok {
		b.metrics.IncLookupMiss(tr.Kind().String())
		b.log.Debug("trade for unknown order ignored",
			zap.String("kind", tr.Kind().String()),
			zap.String("order", h.Key().String()))
		return
	}
	rh := resting.Base()
	x := tr.Exec()
	qty := x.ExecQty
	switch {
	case tr.Kind() == event.KindFill:
		qty = rh.RemainingQty
	case qty <= 0 || qty > rh.RemainingQty:
		b.log.Warn("trade quantity clamped to resting quantity",
			zap.String("order", h.Key().String()),
			zap.Int64("exec_qty", qty),
			zap.Int64("remaining_qty", rh.RemainingQty))
		qty = rh.RemainingQty
	}
	px := x.ExecPrice
	if px.IsZero() {
		px = rh.OrderPrice
	}
	b.fillOrder(s, rh, qty, px)

	x.ExecQty = qty
	x.ExecPrice = px
	h.OrderQty = rh.OrderQty
	h.CumQty = rh.CumQty
	h.RemainingQty = rh.RemainingQty
	h.AvgPrice = rh.AvgPrice
	if h.RemainingQty == 0 {
		h.Action = event.ActionDelete
	} else {
		h.Action = event.ActionChange
	}
	if h.TransactTime.IsZero() {
		h.TransactTime = b.now()
	}
	b.record(tr)
	b.publish(tr)
}

func (b *OrderBook) remove(ev event.MarketEvent) {
	h := ev.Base()
	if removed, ok := b.sideOf(h.Side).remove(h.Key()); ok {
		ev = removed
	} else {
		b.metrics.IncLookupMiss("DELETE")
		b.log.Debug("delete for unknown order",
			zap.String("order", h.Key().String()),
			zap.String("side", h.Side.String()))
	}
	ev.Base().Action = event.ActionDelete
	b.publish(ev)
}

func (b *OrderBook) record(tr event.Trade) {
	b.tape = append(b.tape, tr)
	b.metrics.ObserveTrade(tr.Exec().ExecQty)
	b.log.LogTrade(tr.Kind().String(), event.Fields(tr))
}

// publish 把事件副本同步推送给所有订阅者，单个订阅者 panic 不影响其他订阅者。
func (b *OrderBook) publish(ev event.MarketEvent) {
	b.metrics.ObserveBookEvent(ev.Kind().String())
	tx := &bookTx{b: b}
	for _, sub := range b.subs {
		b.deliver(tx, sub, ev.Clone())
	}
}

func (b *OrderBook) deliver(tx Tx, sub subscription, ev event.MarketEvent) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if err, ok := r.(error); ok && errors.Is(err, ErrInvariant) {
			panic(r)
		}
		b.metrics.IncSubscriberFailure(sub.name)
		b.log.Error("subscriber failed",
			zap.String("subscriber", sub.name),
			zap.String("event", event.String(ev)),
			zap.Any("panic", r))
		if b.alerts != nil {
			_ = b.alerts.SendAlert(alert.Alert{
				Level:   alert.LevelError,
				Message: "order book subscriber failed: " + sub.name,
				Fields:  map[string]interface{}{"symbol": b.symbol, "subscriber": sub.name, "panic": fmt.Sprint(r)},
			})
		}
	}()
	sub.sink.OnBookEvent(tx, ev)
}

func (b *OrderBook) updateGauges() {
	b.metrics.SetRestingOrders("bid", b.bids.Len())
	b.metrics.SetRestingOrders("offer", b.offers.Len())
	bid, _ := best(b.bids).Float64()
	offer, _ := best(b.offers).Float64()
	b.metrics.SetBestPrices(bid, offer)
}

// bookTx 是锁内视图，只能在 Sink 回调期间使用。
type bookTx struct{ b *OrderBook }

func (t *bookTx) Symbol() string                    { return t.b.symbol }
func (t *bookTx) HighestBidPrice() decimal.Decimal  { return best(t.b.bids) }
func (t *bookTx) LowestOfferPrice() decimal.Decimal { return best(t.b.offers) }

func (t *bookTx) Lookup(side event.Side, k event.Key) (event.MarketEvent, bool) {
	ev, ok := t.b.sideOf(side).find(k)
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

func (t *bookTx) Add(ev event.MarketEvent) {
	if err := t.b.check(ev); err != nil {
		t.b.log.Warn("nested add rejected", zap.Error(err))
		return
	}
	t.b.pending = append(t.b.pending, op{kind: opAdd, ev: ev.Clone()})
}

func (t *bookTx) Delete(ev event.MarketEvent) {
	t.b.pending = append(t.b.pending, op{kind: opDelete, ev: ev.Clone()})
}

type nopMetrics struct{}

func (nopMetrics) ObserveBookEvent(string)        {}
func (nopMetrics) IncLookupMiss(string)           {}
func (nopMetrics) IncSubscriberFailure(string)    {}
func (nopMetrics) SetRestingOrders(string, int)   {}
func (nopMetrics) SetBestPrices(float64, float64) {}
func (nopMetrics) ObserveTrade(int64)             {}
func (nopMetrics) ObserveLockHold(time.Duration)  {}
