package strategy

import (
	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

// Resting 是对手方挂单按价格时间优先级排列的只读视图。
// 实现方保证在一次撮合判定期间视图不变。
type Resting interface {
	Len() int
	At(i int) event.MarketEvent
}

// ExecutionStrategy 判定进攻单能否与对手方成交。
// 返回进攻方的 Fill/PartialFill，未成交返回 nil；不修改入参。
type ExecutionStrategy interface {
	CheckBidForExecution(bid *event.Bid, offers Resting) event.Trade
	CheckOfferForExecution(offer *event.Offer, bids Resting) event.Trade
}

// Counterpart 根据进攻方成交生成被动方的成交事件。
func Counterpart(resting event.MarketEvent, aggr event.Trade) event.Trade {
	x := aggr.Exec()
	h := *resting.Base()
	h.ApplyExecution(x.ExecQty, x.ExecPrice)
	a := aggr.Base()
	return newTrade(h, event.Execution{
		ExecQty:        x.ExecQty,
		ExecPrice:      x.ExecPrice,
		ContraOrderID:  a.ClientOrderID,
		ContraClientID: a.ClientID,
	})
}

func newTrade(h event.Header, x event.Execution) event.Trade {
	if h.RemainingQty == 0 {
		h.Action = event.ActionDelete
		return event.NewFill(h, x)
	}
	h.Action = event.ActionChange
	return event.NewPartialFill(h, x)
}

// SliceResting 把已排序切片包装为 Resting。
type SliceResting []event.MarketEvent

func (s SliceResting) Len() int { return len(s) }

func (s SliceResting) At(i int) event.MarketEvent { return s[i] }

var zero = decimal.Zero
