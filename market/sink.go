package market

import (
	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

// Sink 同步接收订单簿发布的事件，调用发生在订单簿锁内。
// 实现不得阻塞，也不得回调 OrderBook 的方法，需要时使用 tx。
type Sink interface {
	OnBookEvent(tx Tx, ev event.MarketEvent)
}

// SinkFunc 让普通函数实现 Sink。
type SinkFunc func(tx Tx, ev event.MarketEvent)

func (f SinkFunc) OnBookEvent(tx Tx, ev event.MarketEvent) { f(tx, ev) }

// Tx 是锁内视图，供 Sink 查询或追加变更。
// 追加的变更排在当前事件发布完毕之后执行。
type Tx interface {
	Symbol() string
	HighestBidPrice() decimal.Decimal
	LowestOfferPrice() decimal.Decimal
	Lookup(side event.Side, k event.Key) (event.MarketEvent, bool)
	Add(ev event.MarketEvent)
	Delete(ev event.MarketEvent)
}

type subscription struct {
	id   int
	name string
	sink Sink
}
