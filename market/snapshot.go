package market

import (
	"time"

	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

// Snapshot 是订单簿某一时刻的只读副本。
type Snapshot struct {
	Symbol      string
	BestBid     decimal.Decimal
	BestOffer   decimal.Decimal
	Bids        []event.MarketEvent
	Offers      []event.MarketEvent
	BidVolume   int64
	OfferVolume int64
	TradeCount  int
	Timestamp   time.Time
}

// Snapshot 在锁内复制两侧挂单。
func (b *OrderBook) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Symbol:      b.symbol,
		BestBid:     best(b.bids),
		BestOffer:   best(b.offers),
		Bids:        b.bids.snapshot(),
		Offers:      b.offers.snapshot(),
		BidVolume:   b.bids.volume(),
		OfferVolume: b.offers.volume(),
		TradeCount:  len(b.tape),
		Timestamp:   b.now(),
	}
}

// Spread 返回买卖价差，任一侧为空时为 NoPrice。
func (s Snapshot) Spread() decimal.Decimal {
	if s.BestBid.Equal(NoPrice) || s.BestOffer.Equal(NoPrice) {
		return NoPrice
	}
	return s.BestOffer.Sub(s.BestBid)
}
