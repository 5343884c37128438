package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"exchange-sim/event"
	"exchange-sim/order"
)

// RejectReason 使用 FIX OrdRejReason(103) 的取值。
type RejectReason int

const (
	RejectUnknownSymbol        RejectReason = 1
	RejectUnknownOrder         RejectReason = 5
	RejectDuplicateOrder       RejectReason = 6
	RejectUnsupportedOrderChar RejectReason = 11
	RejectIncorrectQuantity    RejectReason = 13
	RejectOther                RejectReason = 99
)

func (r RejectReason) String() string {
	switch r {
	case RejectUnknownSymbol:
		return "unknown_symbol"
	case RejectUnknownOrder:
		return "unknown_order"
	case RejectDuplicateOrder:
		return "duplicate_order"
	case RejectUnsupportedOrderChar:
		return "unsupported_order_characteristic"
	case RejectIncorrectQuantity:
		return "incorrect_quantity"
	case RejectOther:
		return "other"
	default:
		return strconv.Itoa(int(r))
	}
}

// Reject 是网关边界的拒绝结果，以值的形式返回，不进入撮合核心。
type Reject struct {
	Reason RejectReason
	Text   string
}

func (r Reject) String() string { return fmt.Sprintf("%s: %s", r.Reason, r.Text) }

// Translator 校验入站订单并转换为市场事件。
type Translator struct {
	Symbol      string
	Constraints order.SymbolConstraints
	// Stamp 决定 TransactTime，回放启用模拟时间时取模拟时钟
	Stamp func(time.Time) time.Time
}

// Translate 只接受本标的的 GTC 市价/限价单。
func (t Translator) Translate(clientID string, msg OrderMessage) (event.MarketEvent, *Reject) {
	if msg.Symbol != t.Symbol {
		return nil, &Reject{RejectUnknownSymbol, fmt.Sprintf("unknown symbol %q", msg.Symbol)}
	}
	if event.TimeInForce(firstByte(msg.TimeInForce)) != event.TimeInForceGoodTillCancel {
		return nil, &Reject{RejectUnknownOrder, fmt.Sprintf("unsupported time in force %q", msg.TimeInForce)}
	}
	typ := event.OrderType(firstByte(msg.OrdType))
	if typ != event.OrderTypeMarket && typ != event.OrderTypeLimit {
		return nil, &Reject{RejectUnknownOrder, fmt.Sprintf("unsupported order type %q", msg.OrdType)}
	}
	price := msg.Price
	if typ == event.OrderTypeMarket {
		price = decimal.Zero
	}
	if err := t.Constraints.Validate(price, msg.OrderQty, typ == event.OrderTypeMarket); err != nil {
		reason := RejectOther
		switch {
		case errors.Is(err, order.ErrQuantity):
			reason = RejectIncorrectQuantity
		case errors.Is(err, order.ErrPrice):
			reason = RejectUnsupportedOrderChar
		}
		return nil, &Reject{reason, err.Error()}
	}

	account := msg.Account
	if account == "" {
		account = clientID
	}
	ts := msg.TransactTime
	if t.Stamp != nil {
		ts = t.Stamp(ts)
	}
	ev, err := event.NewOrder(event.Header{
		ClientOrderID: msg.ClOrdID,
		ClientID:      clientID,
		Account:       account,
		Symbol:        msg.Symbol,
		Side:          event.Side(firstByte(msg.Side)),
		OrderType:     typ,
		OrderPrice:    price,
		OrderQty:      msg.OrderQty,
		TransactTime:  ts,
		Action:        event.ActionAdd,
	})
	if err != nil {
		return nil, &Reject{RejectOther, err.Error()}
	}
	return ev, nil
}

func firstByte(s string) byte {
	if len(s) != 1 {
		return 0
	}
	return s[0]
}
