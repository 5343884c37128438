package market

import (
	"sort"

	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

// bookSide 按价格时间优先级保存一侧挂单，并按 Key 建索引。
// 市价单排在最前（彼此 FIFO），限价单按价格排序，同价 FIFO。
type bookSide struct {
	buy    bool
	orders []event.MarketEvent
	index  map[event.Key]event.MarketEvent
}

func newBookSide(buy bool) *bookSide {
	return &bookSide{
		buy:   buy,
		index: make(map[event.Key]event.MarketEvent),
	}
}

func (s *bookSide) Len() int { return len(s.orders) }

func (s *bookSide) At(i int) event.MarketEvent { return s.orders[i] }

// worse 报告 a 的价格是否劣于 b。
func (s *bookSide) worse(a, b decimal.Decimal) bool {
	if s.buy {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}

func (s *bookSide) insert(ev event.MarketEvent) {
	h := ev.Base()
	var pos int
	if h.IsMarket() {
		pos = sort.Search(len(s.orders), func(i int) bool {
			return !s.orders[i].Base().IsMarket()
		})
	} else {
		pos = sort.Search(len(s.orders), func(i int) bool {
			o := s.orders[i].Base()
			return !o.IsMarket() && s.worse(o.OrderPrice, h.OrderPrice)
		})
	}
	s.orders = append(s.orders, nil)
	copy(s.orders[pos+1:], s.orders[pos:])
	s.orders[pos] = ev
	s.index[h.Key()] = ev
}

func (s *bookSide) find(k event.Key) (event.MarketEvent, bool) {
	ev, ok := s.index[k]
	return ev, ok
}

func (s *bookSide) remove(k event.Key) (event.MarketEvent, bool) {
	ev, ok := s.index[k]
	if !ok {
		return nil, false
	}
	delete(s.index, k)
	for i, o := range s.orders {
		if o == ev {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			break
		}
	}
	return ev, true
}

// bestLimit 返回最优限价，市价单不参与报价。
func (s *bookSide) bestLimit() (decimal.Decimal, bool) {
	for _, o := range s.orders {
		if h := o.Base(); !h.IsMarket() {
			return h.OrderPrice, true
		}
	}
	return decimal.Decimal{}, false
}

func (s *bookSide) volume() int64 {
	var v int64
	for _, o := range s.orders {
		v += o.Base().RemainingQty
	}
	return v
}

func (s *bookSide) snapshot() []event.MarketEvent {
	out := make([]event.MarketEvent, len(s.orders))
	for i, o := range s.orders {
		out[i] = o.Clone()
	}
	return out
}
