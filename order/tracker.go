package order

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"exchange-sim/event"
)

var (
	// ErrDuplicateOrder clientOrderID 与会话内未结订单重复。
	ErrDuplicateOrder = errors.New("duplicate client order id")
	// ErrUnknownOrder 会话内没有该订单。
	ErrUnknownOrder = errors.New("unknown order")
)

// Tracker 维护一个客户端的未结订单状态，并分配交易所 OrderID。
type Tracker struct {
	mu    sync.Mutex
	sm    *StateMachine
	open  map[string]*Order
	done  map[string]Status // 已结束订单的终态，撤单时区分“太晚”与“未知”
	newID func() string
	now   func() time.Time
}

// NewTracker 创建订单跟踪器。
func NewTracker(newID func() string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		sm:    NewStateMachine(),
		open:  make(map[string]*Order),
		done:  make(map[string]Status),
		newID: newID,
		now:   now,
	}
}

// Accept 登记一笔通过校验的新订单，状态 Pending -> New。
func (t *Tracker) Accept(ev event.MarketEvent) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := ev.Base()
	if _, dup := t.open[h.ClientOrderID]; dup {
		return Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, h.ClientOrderID)
	}
	o := fromEvent(ev)
	o.OrderID = t.newID()
	o.Status = StatusPending
	if err := t.transition(o, StatusNew); err != nil {
		return Order{}, err
	}
	t.open[h.ClientOrderID] = o
	delete(t.done, h.ClientOrderID)
	return *o, nil
}

// Replace 以 next 替换 origID：原订单进入 Replaced，新订单沿用 OrderID。
func (t *Tracker) Replace(origID string, next event.MarketEvent) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	orig, ok := t.open[origID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, origID)
	}
	h := next.Base()
	if _, dup := t.open[h.ClientOrderID]; dup && h.ClientOrderID != origID {
		return Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, h.ClientOrderID)
	}
	if err := t.transition(orig, StatusReplaced); err != nil {
		return Order{}, err
	}
	delete(t.open, origID)
	t.done[origID] = StatusReplaced

	o := fromEvent(next)
	o.OrderID = orig.OrderID
	o.CumQty = orig.CumQty
	o.AvgPrice = orig.AvgPrice
	o.LeavesQty = o.Quantity - o.CumQty
	o.Status = StatusNew
	o.UpdatedAt = t.now()
	t.open[h.ClientOrderID] = o
	delete(t.done, h.ClientOrderID)
	return *o, nil
}

// Restore 撤回 Accept 或 Replace 的登记（订单簿拒绝时使用）。
func (t *Tracker) Restore(clientOrderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, clientOrderID)
}

// Apply 用订单簿事件更新订单并转换状态，终态订单移出跟踪。
func (t *Tracker) Apply(ev event.MarketEvent, to Status) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := ev.Base()
	o, ok := t.open[h.ClientOrderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, h.ClientOrderID)
	}
	if err := t.transition(o, to); err != nil {
		return *o, err
	}
	o.Quantity = h.OrderQty
	o.CumQty = h.CumQty
	o.LeavesQty = h.RemainingQty
	o.AvgPrice = h.AvgPrice
	if t.sm.IsFinalState(to) {
		o.LeavesQty = 0
		delete(t.open, h.ClientOrderID)
		t.done[h.ClientOrderID] = to
	}
	return *o, nil
}

// Get 返回未结订单。
func (t *Tracker) Get(clientOrderID string) (Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.open[clientOrderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// CanCancel 报告订单当前能否撤单；known 为 false 表示会话从未见过该订单。
func (t *Tracker) CanCancel(clientOrderID string) (ok, known bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, found := t.open[clientOrderID]; found {
		return t.sm.CanCancel(o.Status), true
	}
	if st, found := t.done[clientOrderID]; found {
		return t.sm.CanCancel(st), true
	}
	return false, false
}

// OpenCount 返回未结订单数。
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

func (t *Tracker) transition(o *Order, to Status) error {
	if err := t.sm.ValidateTransition(o.Status, to); err != nil {
		return fmt.Errorf("order %s: %w", o.ClientOrderID, err)
	}
	o.Status = to
	o.UpdatedAt = t.now()
	return nil
}

func fromEvent(ev event.MarketEvent) *Order {
	h := ev.Base()
	return &Order{
		ClientOrderID: h.ClientOrderID,
		ClientID:      h.ClientID,
		Symbol:        h.Symbol,
		Side:          h.Side,
		Type:          h.OrderType,
		Price:         h.OrderPrice,
		Quantity:      h.OrderQty,
		CumQty:        h.CumQty,
		LeavesQty:     h.RemainingQty,
		AvgPrice:      h.AvgPrice,
	}
}

// StatusFor 把客户端事件对应的订单簿事件映射为订单状态。
func StatusFor(ev event.MarketEvent) Status {
	h := ev.Base()
	switch ev.Kind() {
	case event.KindFill:
		return StatusFilled
	case event.KindPartialFill:
		if h.RemainingQty == 0 {
			return StatusFilled
		}
		return StatusPartiallyFilled
	default:
		if h.Action == event.ActionDelete {
			return StatusCanceled
		}
		return StatusNew
	}
}
