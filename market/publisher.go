package market

import (
	"sync"
	"sync/atomic"

	"exchange-sim/event"
)

// Publisher 把订单簿事件异步扇出到 channel。
// 订阅者跟不上时丢弃事件，不阻塞订单簿。
type Publisher struct {
	mu      sync.RWMutex
	subs    []chan event.MarketEvent
	dropped atomic.Uint64
	closed  bool
}

func NewPublisher() *Publisher {
	return &Publisher{
		subs: make([]chan event.MarketEvent, 0),
	}
}

// Subscribe 返回缓冲为 buf 的事件通道。
func (p *Publisher) Subscribe(buf int) <-chan event.MarketEvent {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan event.MarketEvent, buf)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

// Unsubscribe 移除并关闭通道。
func (p *Publisher) Unsubscribe(sub <-chan event.MarketEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ch := range p.subs {
		if ch == sub {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// OnBookEvent 实现 Sink。
func (p *Publisher) OnBookEvent(_ Tx, ev event.MarketEvent) {
	p.Publish(ev)
}

func (p *Publisher) Publish(ev event.MarketEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.dropped.Add(1)
		}
	}
}

// Dropped 返回因订阅者缓冲已满而丢弃的事件数。
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Close 关闭所有订阅通道。
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}
