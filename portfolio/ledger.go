package portfolio

import (
	"go.uber.org/zap"

	"exchange-sim/event"
	"exchange-sim/market"
)

// OnBookEvent 实现 market.Sink，只处理本客户端的订单。
func (p *Portfolio) OnBookEvent(_ market.Tx, ev event.MarketEvent) {
	h := ev.Base()
	if h.ClientID != p.clientID {
		return
	}
	ce, ok := p.apply(ev)
	if !ok {
		return
	}
	p.emit(ce)
}

func (p *Portfolio) apply(ev event.MarketEvent) (ClientEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := ev.Base()
	open := p.sideOf(h.Side)

	switch e := ev.(type) {
	case *event.Bid, *event.Offer:
		if h.Action == event.ActionDelete {
			if _, ok := open[h.ClientOrderID]; !ok {
				return ClientEvent{}, false
			}
			delete(open, h.ClientOrderID)
			return ClientEvent{Type: Cancel, Event: ev}, true
		}
		open[h.ClientOrderID] = e.Clone()
		return ClientEvent{Type: NewPosition, Event: ev}, true

	case *event.Fill:
		p.fills = append(p.fills, e)
		delete(open, h.ClientOrderID)
		return ClientEvent{Type: Filled, Event: ev}, true

	case *event.PartialFill:
		p.fills = append(p.fills, e)
		rest, ok := open[h.ClientOrderID]
		if !ok {
			// 部分成交先于入簿事件到达时补建挂单
			p.log.Debug("partial fill for untracked order, creating it",
				zap.String("client_id", p.clientID),
				zap.String("cl_ord_id", h.ClientOrderID))
			created, err := event.NewOrder(e.Header)
			if err != nil {
				p.log.Warn("cannot rebuild order from partial fill", zap.Error(err))
				return ClientEvent{Type: Filled, Event: ev}, true
			}
			open[h.ClientOrderID] = created
			return ClientEvent{Type: Filled, Event: ev}, true
		}
		rh := rest.Base()
		rh.OrderQty = h.OrderQty
		rh.CumQty = h.CumQty
		rh.RemainingQty = h.RemainingQty
		rh.AvgPrice = h.AvgPrice
		if rh.RemainingQty <= 0 {
			delete(open, h.ClientOrderID)
		}
		return ClientEvent{Type: Filled, Event: ev}, true
	}
	return ClientEvent{}, false
}

func (p *Portfolio) emit(ce ClientEvent) {
	p.mu.Lock()
	ls := p.listeners
	p.mu.Unlock()
	for _, l := range ls {
		l.fn(ce)
	}
}
