package order

import (
	"time"

	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

// Status 使用 FIX OrdStatus(39) 的取值。
type Status byte

const (
	StatusPending         Status = 'A'
	StatusNew             Status = '0'
	StatusPartiallyFilled Status = '1'
	StatusFilled          Status = '2'
	StatusCanceled        Status = '4'
	StatusReplaced        Status = '5'
	StatusRejected        Status = '8'
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusReplaced:
		return "REPLACED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Order 是会话内跟踪的订单视图，OrderID 由交易所分配并在整个成交链路中不变。
type Order struct {
	OrderID       string
	ClientOrderID string
	ClientID      string
	Symbol        string
	Side          event.Side
	Type          event.OrderType
	Price         decimal.Decimal
	Quantity      int64
	CumQty        int64
	LeavesQty     int64
	AvgPrice      decimal.Decimal
	Status        Status
	UpdatedAt     time.Time
}

// Key 返回订单在簿内的标识。
func (o *Order) Key() event.Key {
	return event.Key{ClientID: o.ClientID, ClientOrderID: o.ClientOrderID}
}
