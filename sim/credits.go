package sim

import (
	"sync"

	"exchange-sim/event"
	"exchange-sim/market"
)

// matchCredits 记录引擎在两笔回放订单之间撮合出的数量，按 clientOrderID 累计。
// 归档随后的 P/M 行描述同一笔成交，先用记录抵扣，剩余部分才写入订单簿。
type matchCredits struct {
	serverID string

	mu  sync.Mutex
	qty map[string]int64
}

func newMatchCredits(serverID string) *matchCredits {
	return &matchCredits{serverID: serverID, qty: make(map[string]int64)}
}

// OnBookEvent 只统计双方都是回放订单的撮合；归档成交行没有对手方，不计入。
func (c *matchCredits) OnBookEvent(_ market.Tx, ev event.MarketEvent) {
	tr, ok := ev.(event.Trade)
	if !ok {
		return
	}
	h, x := tr.Base(), tr.Exec()
	if h.ClientID != c.serverID || x.ContraClientID != c.serverID || x.ExecQty <= 0 {
		return
	}
	c.mu.Lock()
	c.qty[h.ClientOrderID] += x.ExecQty
	c.mu.Unlock()
}

// take 抵扣至多 want，返回实际抵扣量。
func (c *matchCredits) take(id string, want int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	have := c.qty[id]
	if have <= 0 {
		return 0
	}
	got := min(have, want)
	if have == got {
		delete(c.qty, id)
	} else {
		c.qty[id] = have - got
	}
	return got
}

func (c *matchCredits) drop(id string) {
	c.mu.Lock()
	delete(c.qty, id)
	c.mu.Unlock()
}

func (c *matchCredits) reset() {
	c.mu.Lock()
	c.qty = make(map[string]int64)
	c.mu.Unlock()
}
