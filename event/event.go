// Package event 定义撮合核心流转的市场事件：Bid、Offer、Fill、PartialFill。
package event

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side 使用 FIX Side(54) 的取值。
type Side byte

const (
	SideBuy       Side = '1'
	SideSell      Side = '2'
	SideSellShort Side = '5'
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	case SideSellShort:
		return "SELL_SHORT"
	default:
		return "N/A"
	}
}

// IsBuy 买方向。
func (s Side) IsBuy() bool { return s == SideBuy }

// IsSell 卖方向（含卖空）。
func (s Side) IsSell() bool { return s == SideSell || s == SideSellShort }

// OrderType 使用 FIX OrdType(40) 的取值，仅支持市价/限价。
type OrderType byte

const (
	OrderTypeMarket OrderType = '1'
	OrderTypeLimit  OrderType = '2'
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	default:
		return "N/A"
	}
}

// TimeInForce 使用 FIX TimeInForce(59) 的取值。
type TimeInForce byte

const (
	TimeInForceDay               TimeInForce = '0'
	TimeInForceGoodTillCancel    TimeInForce = '1'
	TimeInForceImmediateOrCancel TimeInForce = '3'
	TimeInForceFillOrKill        TimeInForce = '4'
)

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceDay:
		return "DAY"
	case TimeInForceGoodTillCancel:
		return "GTC"
	case TimeInForceImmediateOrCancel:
		return "IOC"
	case TimeInForceFillOrKill:
		return "FOK"
	default:
		return "N/A"
	}
}

// Action 的序号与 FIX MDUpdateAction(279) 一致：0=New 1=Change 2=Delete。
type Action int

const (
	ActionAdd Action = iota
	ActionChange
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "ADD"
	case ActionChange:
		return "CHANGE"
	case ActionDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Kind 标识事件变体。
type Kind int

const (
	KindBid Kind = iota + 1
	KindOffer
	KindFill
	KindPartialFill
)

func (k Kind) String() string {
	switch k {
	case KindBid:
		return "BID"
	case KindOffer:
		return "OFFER"
	case KindFill:
		return "FILL"
	case KindPartialFill:
		return "PARTIAL_FILL"
	default:
		return "UNKNOWN"
	}
}

// Header 是所有变体共享的订单字段。
type Header struct {
	ClientOrderID string
	ClientID      string
	Account       string
	Symbol        string
	Side          Side
	OrderType     OrderType
	OrderPrice    decimal.Decimal
	OrderQty      int64
	RemainingQty  int64
	CumQty        int64
	AvgPrice      decimal.Decimal
	TransactTime  time.Time
	Action        Action
}

// Base 返回共享字段，供不关心变体的调用方使用。
func (h *Header) Base() *Header { return h }

// IsMarket 是否市价单。
func (h *Header) IsMarket() bool { return h.OrderType == OrderTypeMarket }

// Key 返回订单在簿内的唯一标识。
func (h *Header) Key() Key { return Key{ClientID: h.ClientID, ClientOrderID: h.ClientOrderID} }

// Execution 是成交变体独有的字段。
type Execution struct {
	ExecQty        int64
	ExecPrice      decimal.Decimal
	ContraOrderID  string
	ContraClientID string
}

// Exec 返回成交字段。
func (e *Execution) Exec() *Execution { return e }

// MarketEvent 是封闭的和类型，只有本包内的四个变体实现它。
type MarketEvent interface {
	Base() *Header
	Kind() Kind
	Clone() MarketEvent
	sealed()
}

// Trade 是 Fill 与 PartialFill 的公共视图。
type Trade interface {
	MarketEvent
	Exec() *Execution
}

type Bid struct{ Header }

type Offer struct{ Header }

type Fill struct {
	Header
	Execution
}

type PartialFill struct {
	Header
	Execution
}

func (*Bid) Kind() Kind         { return KindBid }
func (*Offer) Kind() Kind       { return KindOffer }
func (*Fill) Kind() Kind        { return KindFill }
func (*PartialFill) Kind() Kind { return KindPartialFill }

func (*Bid) sealed()         {}
func (*Offer) sealed()       {}
func (*Fill) sealed()        {}
func (*PartialFill) sealed() {}

func (b *Bid) Clone() MarketEvent         { c := *b; return &c }
func (o *Offer) Clone() MarketEvent       { c := *o; return &c }
func (f *Fill) Clone() MarketEvent        { c := *f; return &c }
func (p *PartialFill) Clone() MarketEvent { c := *p; return &c }

// Key 在簿内按 (clientID, clientOrderID) 定位挂单；clientOrderID 只在同一客户端的未结订单内唯一。
type Key struct {
	ClientID      string
	ClientOrderID string
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.ClientID, k.ClientOrderID) }
