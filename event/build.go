package event

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalid 事件违反字段不变量。
var ErrInvalid = errors.New("invalid market event")

// NewBid 创建买单，Side 固定为 Buy，RemainingQty 由 OrderQty-CumQty 推导。
func NewBid(h Header) *Bid {
	h.Side = SideBuy
	h.RemainingQty = h.OrderQty - h.CumQty
	return &Bid{Header: h}
}

// NewOffer 创建卖单，保留 SellShort，其余方向一律视为 Sell。
func NewOffer(h Header) *Offer {
	if h.Side != SideSellShort {
		h.Side = SideSell
	}
	h.RemainingQty = h.OrderQty - h.CumQty
	return &Offer{Header: h}
}

// NewOrder 按方向创建 Bid 或 Offer。
func NewOrder(h Header) (MarketEvent, error) {
	switch {
	case h.Side.IsBuy():
		return NewBid(h), nil
	case h.Side.IsSell():
		return NewOffer(h), nil
	default:
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalid, byte(h.Side))
	}
}

// NewFill 创建全部成交事件，RemainingQty 恒为 0。
func NewFill(h Header, x Execution) *Fill {
	h.RemainingQty = 0
	return &Fill{Header: h, Execution: x}
}

// NewPartialFill 创建部分成交事件。
func NewPartialFill(h Header, x Execution) *PartialFill {
	return &PartialFill{Header: h, Execution: x}
}

// IsOrder 是否挂单类事件（Bid/Offer）。
func IsOrder(ev MarketEvent) bool {
	k := ev.Kind()
	return k == KindBid || k == KindOffer
}

// ApplyExecution 在挂单上累计一笔成交：扣减剩余、累加成交量并重算均价。
// avg' = (avg*cum + px*qty) / (cum + qty)
func (h *Header) ApplyExecution(qty int64, px decimal.Decimal) {
	total := h.CumQty + qty
	if total > 0 {
		h.AvgPrice = h.AvgPrice.Mul(decimal.NewFromInt(h.CumQty)).
			Add(px.Mul(decimal.NewFromInt(qty))).
			Div(decimal.NewFromInt(total))
	}
	h.CumQty = total
	h.RemainingQty = h.OrderQty - h.CumQty
}

// Validate 检查变体对应的不变量。
func Validate(ev MarketEvent) error {
	h := ev.Base()
	if h.OrderQty < 0 {
		return fmt.Errorf("%w: %s orderQty %d < 0", ErrInvalid, h.Key(), h.OrderQty)
	}
	switch e := ev.(type) {
	case *Bid:
		if e.Side != SideBuy {
			return fmt.Errorf("%w: bid %s side %s", ErrInvalid, e.Key(), e.Side)
		}
		return checkResting(&e.Header)
	case *Offer:
		if !e.Side.IsSell() {
			return fmt.Errorf("%w: offer %s side %s", ErrInvalid, e.Key(), e.Side)
		}
		return checkResting(&e.Header)
	case *Fill:
		if e.RemainingQty != 0 {
			return fmt.Errorf("%w: fill %s remainingQty %d", ErrInvalid, e.Key(), e.RemainingQty)
		}
		return checkExec(&e.Execution)
	case *PartialFill:
		if e.RemainingQty < 0 || e.RemainingQty >= e.OrderQty {
			return fmt.Errorf("%w: partial fill %s remainingQty %d orderQty %d",
				ErrInvalid, e.Key(), e.RemainingQty, e.OrderQty)
		}
		return checkExec(&e.Execution)
	default:
		return fmt.Errorf("%w: unknown variant %T", ErrInvalid, ev)
	}
}

func checkResting(h *Header) error {
	if h.RemainingQty != h.OrderQty-h.CumQty {
		return fmt.Errorf("%w: %s remainingQty %d != orderQty %d - cumQty %d",
			ErrInvalid, h.Key(), h.RemainingQty, h.OrderQty, h.CumQty)
	}
	if h.RemainingQty < 0 {
		return fmt.Errorf("%w: %s remainingQty %d < 0", ErrInvalid, h.Key(), h.RemainingQty)
	}
	return nil
}

func checkExec(x *Execution) error {
	if x.ExecQty <= 0 {
		return fmt.Errorf("%w: execQty %d", ErrInvalid, x.ExecQty)
	}
	return nil
}

// Fields 把事件展开为日志字段。
func Fields(ev MarketEvent) map[string]interface{} {
	h := ev.Base()
	f := map[string]interface{}{
		"kind":          ev.Kind().String(),
		"client_id":     h.ClientID,
		"cl_ord_id":     h.ClientOrderID,
		"symbol":        h.Symbol,
		"side":          h.Side.String(),
		"ord_type":      h.OrderType.String(),
		"price":         h.OrderPrice.String(),
		"order_qty":     h.OrderQty,
		"remaining_qty": h.RemainingQty,
		"cum_qty":       h.CumQty,
		"action":        h.Action.String(),
	}
	if t, ok := ev.(Trade); ok {
		x := t.Exec()
		f["exec_qty"] = x.ExecQty
		f["exec_price"] = x.ExecPrice.String()
		f["contra_id"] = x.ContraOrderID
	}
	return f
}

// String 输出单行摘要。
func String(ev MarketEvent) string {
	h := ev.Base()
	s := fmt.Sprintf("%s %s %s %d@%s rem=%d cum=%d",
		ev.Kind(), h.Key(), h.Side, h.OrderQty, h.OrderPrice.String(), h.RemainingQty, h.CumQty)
	if t, ok := ev.(Trade); ok {
		x := t.Exec()
		s += fmt.Sprintf(" exec=%d@%s", x.ExecQty, x.ExecPrice.String())
	}
	return s
}
