package strategy

import (
	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

// PriceTime 是价格优先、时间优先的撮合规则。
// 成交价取被动方价格，进攻方获得价格改善；被动方为市价单时取进攻方限价。
type PriceTime struct{}

// NewPriceTime 创建撮合规则。
func NewPriceTime() *PriceTime { return &PriceTime{} }

func (p *PriceTime) CheckBidForExecution(bid *event.Bid, offers Resting) event.Trade {
	return p.match(&bid.Header, offers, func(aggr, rest decimal.Decimal) bool {
		return aggr.GreaterThanOrEqual(rest)
	})
}

func (p *PriceTime) CheckOfferForExecution(offer *event.Offer, bids Resting) event.Trade {
	return p.match(&offer.Header, bids, func(aggr, rest decimal.Decimal) bool {
		return aggr.LessThanOrEqual(rest)
	})
}

func (p *PriceTime) match(aggr *event.Header, resting Resting, crosses func(aggr, rest decimal.Decimal) bool) event.Trade {
	if aggr.RemainingQty <= 0 {
		return nil
	}
	for i := 0; i < resting.Len(); i++ {
		r := resting.At(i).Base()
		if r.RemainingQty <= 0 {
			continue
		}
		px, ok := execPrice(aggr, r, crosses)
		if !ok {
			if r.IsMarket() {
				// 市价对市价不成交，继续看后面的限价单
				continue
			}
			// 限价单有序，后面的更不可能成交
			return nil
		}
		qty := aggr.RemainingQty
		if r.RemainingQty < qty {
			qty = r.RemainingQty
		}
		h := *aggr
		h.ApplyExecution(qty, px)
		return newTrade(h, event.Execution{
			ExecQty:        qty,
			ExecPrice:      px,
			ContraOrderID:  r.ClientOrderID,
			ContraClientID: r.ClientID,
		})
	}
	return nil
}

func execPrice(aggr, rest *event.Header, crosses func(aggr, rest decimal.Decimal) bool) (decimal.Decimal, bool) {
	switch {
	case aggr.IsMarket() && rest.IsMarket():
		return zero, false
	case rest.IsMarket():
		return aggr.OrderPrice, true
	case aggr.IsMarket():
		return rest.OrderPrice, true
	case crosses(aggr.OrderPrice, rest.OrderPrice):
		return rest.OrderPrice, true
	default:
		return zero, false
	}
}
