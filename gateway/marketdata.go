package gateway

import (
	"context"
	"strconv"

	"exchange-sim/event"
	"exchange-sim/market"
)

// MarketDataFeed 把订单簿发布转换为增量行情，每个订阅者独立缓冲，跟不上时丢弃。
type MarketDataFeed struct {
	pub *market.Publisher
	buf int
}

// NewMarketDataFeed buf 为每个订阅者的缓冲大小。
func NewMarketDataFeed(pub *market.Publisher, buf int) *MarketDataFeed {
	return &MarketDataFeed{pub: pub, buf: buf}
}

// Stream 阻塞推送增量行情，直到 ctx 取消、发布器关闭或 write 出错。
func (f *MarketDataFeed) Stream(ctx context.Context, write func(IncrementalRefresh) error) error {
	ch := f.pub.Subscribe(f.buf)
	defer f.pub.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := write(Incremental(ev)); err != nil {
				return err
			}
		}
	}
}

// Incremental 把单个订单簿事件转换为增量行情。
// 挂单按更新动作报告剩余数量，成交报告成交价与成交量。
func Incremental(ev event.MarketEvent) IncrementalRefresh {
	h := ev.Base()
	entry := MDEntry{
		MDUpdateAction: strconv.Itoa(int(h.Action)),
		MDEntryID:      h.ClientOrderID,
		Symbol:         h.Symbol,
		Side:           fixChar(h.Side),
		MDEntryPx:      h.OrderPrice,
		MDEntrySize:    h.RemainingQty,
		MDEntryTime:    h.TransactTime,
	}
	switch ev.Kind() {
	case event.KindBid:
		entry.MDEntryType = EntryBid
	case event.KindOffer:
		entry.MDEntryType = EntryOffer
	default:
		x := ev.(event.Trade).Exec()
		entry.MDEntryType = EntryTrade
		entry.MDUpdateAction = strconv.Itoa(int(event.ActionAdd))
		entry.MDEntryRefID = x.ContraOrderID
		entry.MDEntryPx = x.ExecPrice
		entry.MDEntrySize = x.ExecQty
	}
	return IncrementalRefresh{MsgType: MsgMarketDataIncrementalRefresh, MDEntries: []MDEntry{entry}}
}
