// Package portfolio 维护单个交易客户端的未结订单与成交记录。
package portfolio

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"exchange-sim/event"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/market"
)

// ErrUnknownOrder 撤单或改单引用了不存在的未结订单。
var ErrUnknownOrder = errors.New("unknown open order")

// EventType 客户端事件类型。
type EventType int

const (
	NewPosition EventType = iota + 1
	Cancel
	Filled
)

func (t EventType) String() string {
	switch t {
	case NewPosition:
		return "NEW_POSITION"
	case Cancel:
		return "CANCEL"
	case Filled:
		return "FILLED"
	default:
		return "UNKNOWN"
	}
}

// ClientEvent 携带完整的市场事件。
type ClientEvent struct {
	Type  EventType
	Event event.MarketEvent
}

// Listener 接收客户端事件，调用发生在订单簿锁内，不得阻塞。
type Listener func(ClientEvent)

type listener struct {
	id int
	fn Listener
}

// Book 是组合使用的订单簿能力。
type Book interface {
	Add(ev event.MarketEvent) error
	Delete(ev event.MarketEvent) bool
	Subscribe(name string, s market.Sink) func()
}

// Portfolio 是客户端视角的账本，由订单簿发布驱动更新。
type Portfolio struct {
	mu        sync.Mutex
	clientID  string
	book      Book
	bids      map[string]event.MarketEvent
	offers    map[string]event.MarketEvent
	fills     []event.Trade
	listeners []listener
	nextID    int
	log       *logger.Logger
	unsub     func()
}

// New 创建客户端账本并订阅订单簿。
func New(clientID string, book Book, log *logger.Logger) *Portfolio {
	if log == nil {
		log = logger.Nop()
	}
	p := &Portfolio{
		clientID: clientID,
		book:     book,
		bids:     make(map[string]event.MarketEvent),
		offers:   make(map[string]event.MarketEvent),
		log:      log,
	}
	p.unsub = book.Subscribe("portfolio:"+clientID, p)
	return p
}

// ClientID 返回账本所属客户端。
func (p *Portfolio) ClientID() string { return p.clientID }

// Close 取消订单簿订阅。
func (p *Portfolio) Close() {
	if p.unsub != nil {
		p.unsub()
	}
}

// Subscribe 注册客户端事件监听，返回取消函数。
func (p *Portfolio) Subscribe(l Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listener{id: id, fn: l})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, x := range p.listeners {
			if x.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

// AddOpenPosition 新订单入簿；账本与 NewPosition 事件随订单簿发布更新。
func (p *Portfolio) AddOpenPosition(ev event.MarketEvent) error {
	p.stamp(ev)
	return p.book.Add(ev)
}

// AddFill 提交全部成交。
func (p *Portfolio) AddFill(f *event.Fill) error {
	p.stamp(f)
	return p.book.Add(f)
}

// AddPartialFill 提交部分成交。
func (p *Portfolio) AddPartialFill(pf *event.PartialFill) error {
	p.stamp(pf)
	return p.book.Add(pf)
}

// CancelBid 撤销买单，不存在时返回 false 且不产生事件。
func (p *Portfolio) CancelBid(clientOrderID string) bool {
	return p.cancel(event.SideBuy, clientOrderID)
}

// CancelOffer 撤销卖单。
func (p *Portfolio) CancelOffer(clientOrderID string) bool {
	return p.cancel(event.SideSell, clientOrderID)
}

func (p *Portfolio) cancel(side event.Side, id string) bool {
	open, ok := p.Open(side, id)
	if !ok {
		p.log.Debug("cancel for unknown order",
			zap.String("client_id", p.clientID),
			zap.String("cl_ord_id", id))
		return false
	}
	return p.book.Delete(open)
}

// Replace 撤销 origID 并以 next 重新下单，累计成交量沿用原订单。
func (p *Portfolio) Replace(origID string, next event.MarketEvent) (event.MarketEvent, error) {
	h := next.Base()
	orig, ok := p.Open(h.Side, origID)
	if !ok {
		return nil, ErrUnknownOrder
	}
	if !p.book.Delete(orig) {
		return nil, ErrUnknownOrder
	}
	oh := orig.Base()
	h.CumQty = oh.CumQty
	h.AvgPrice = oh.AvgPrice
	h.RemainingQty = h.OrderQty - h.CumQty
	if err := p.AddOpenPosition(next); err != nil {
		return orig, err
	}
	return orig, nil
}

// Open 返回未结订单副本。
func (p *Portfolio) Open(side event.Side, clientOrderID string) (event.MarketEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.sideOf(side)[clientOrderID]
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

// OpenBids 返回未结买单数量。
func (p *Portfolio) OpenBids() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bids)
}

// OpenOffers 返回未结卖单数量。
func (p *Portfolio) OpenOffers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.offers)
}

// Fills 返回已实现成交副本。
func (p *Portfolio) Fills() []event.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Trade, len(p.fills))
	for i, f := range p.fills {
		out[i] = f.Clone().(event.Trade)
	}
	return out
}

// NetPosition 返回已成交净头寸（买为正）。
func (p *Portfolio) NetPosition() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var net int64
	for _, f := range p.fills {
		qty := f.Exec().ExecQty
		if f.Base().Side.IsBuy() {
			net += qty
		} else {
			net -= qty
		}
	}
	return net
}

func (p *Portfolio) stamp(ev event.MarketEvent) {
	h := ev.Base()
	if h.ClientID == "" {
		h.ClientID = p.clientID
	}
}

func (p *Portfolio) sideOf(s event.Side) map[string]event.MarketEvent {
	if s.IsBuy() {
		return p.bids
	}
	return p.offers
}
