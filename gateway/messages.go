// Package gateway 是 FIX 订单网关：按会话顺序接收订单消息，转换为市场事件后交给客户端账本，
// 并把订单状态变化转换为执行回报发回会话。
package gateway

import (
	"time"

	"github.com/shopspring/decimal"
)

// MsgType 使用 FIX MsgType(35) 的取值。
type MsgType string

const (
	MsgNewOrderSingle               MsgType = "D"
	MsgOrderCancelRequest           MsgType = "F"
	MsgOrderCancelReplaceRequest    MsgType = "G"
	MsgExecutionReport              MsgType = "8"
	MsgOrderCancelReject            MsgType = "9"
	MsgBusinessMessageReject        MsgType = "j"
	MsgMarketDataIncrementalRefresh MsgType = "X"
)

// ExecType 使用 FIX ExecType(150) 的取值。
type ExecType string

const (
	ExecNew      ExecType = "0"
	ExecCanceled ExecType = "4"
	ExecReplaced ExecType = "5"
	ExecRejected ExecType = "8"
	ExecTrade    ExecType = "F"
)

// Message 是发往会话的出站消息。
type Message interface {
	Type() MsgType
}

// OrderMessage 是入站的 D/F/G 消息，JSON 键使用 FIX 字段名。
type OrderMessage struct {
	MsgType      MsgType         `json:"MsgType"`
	ClOrdID      string          `json:"ClOrdID"`
	OrigClOrdID  string          `json:"OrigClOrdID,omitempty"`
	Symbol       string          `json:"Symbol"`
	Side         string          `json:"Side"`
	OrdType      string          `json:"OrdType,omitempty"`
	TimeInForce  string          `json:"TimeInForce,omitempty"`
	OrderQty     int64           `json:"OrderQty,omitempty"`
	Price        decimal.Decimal `json:"Price"`
	Account      string          `json:"Account,omitempty"`
	TransactTime time.Time       `json:"TransactTime"`
}

func (m OrderMessage) Type() MsgType { return m.MsgType }

// ExecutionReport 执行回报(35=8)。
type ExecutionReport struct {
	MsgType      MsgType         `json:"MsgType"`
	OrderID      string          `json:"OrderID"`
	ClOrdID      string          `json:"ClOrdID"`
	OrigClOrdID  string          `json:"OrigClOrdID,omitempty"`
	ExecID       string          `json:"ExecID"`
	ExecType     ExecType        `json:"ExecType"`
	OrdStatus    string          `json:"OrdStatus"`
	Symbol       string          `json:"Symbol"`
	Side         string          `json:"Side"`
	OrdType      string          `json:"OrdType,omitempty"`
	TimeInForce  string          `json:"TimeInForce,omitempty"`
	OrderQty     int64           `json:"OrderQty"`
	Price        decimal.Decimal `json:"Price"`
	CumQty       int64           `json:"CumQty"`
	LeavesQty    int64           `json:"LeavesQty"`
	AvgPx        decimal.Decimal `json:"AvgPx"`
	LastQty      int64           `json:"LastQty,omitempty"`
	LastPx       decimal.Decimal `json:"LastPx"`
	Account      string          `json:"Account,omitempty"`
	OrdRejReason RejectReason    `json:"OrdRejReason,omitempty"`
	Text         string          `json:"Text,omitempty"`
	TransactTime time.Time       `json:"TransactTime"`
}

func (ExecutionReport) Type() MsgType { return MsgExecutionReport }

// CxlRejResponseTo(434) 取值。
const (
	ResponseToCancel  = "1"
	ResponseToReplace = "2"
)

// CxlRejReason(102) 取值。
const (
	CxlRejTooLate      = 0
	CxlRejUnknownOrder = 1
)

// OrderCancelReject 撤单拒绝(35=9)。
type OrderCancelReject struct {
	MsgType          MsgType `json:"MsgType"`
	OrderID          string  `json:"OrderID"`
	ClOrdID          string  `json:"ClOrdID"`
	OrigClOrdID      string  `json:"OrigClOrdID"`
	OrdStatus        string  `json:"OrdStatus"`
	CxlRejResponseTo string  `json:"CxlRejResponseTo"`
	CxlRejReason     int     `json:"CxlRejReason"`
	Text             string  `json:"Text,omitempty"`
}

func (OrderCancelReject) Type() MsgType { return MsgOrderCancelReject }

// BusinessRejectReason(380) 取值。
const (
	BusinessRejectOther                  = 0
	BusinessRejectUnsupportedMessageType = 3
)

// BusinessMessageReject 无法解析或不支持的消息(35=j)。
type BusinessMessageReject struct {
	MsgType              MsgType `json:"MsgType"`
	RefMsgType           string  `json:"RefMsgType,omitempty"`
	BusinessRejectRefID  string  `json:"BusinessRejectRefID,omitempty"`
	BusinessRejectReason int     `json:"BusinessRejectReason"`
	Text                 string  `json:"Text,omitempty"`
}

func (BusinessMessageReject) Type() MsgType { return MsgBusinessMessageReject }

// MDEntry 是增量行情的一条记录。
type MDEntry struct {
	MDUpdateAction string          `json:"MDUpdateAction"`
	MDEntryType    string          `json:"MDEntryType"`
	MDEntryID      string          `json:"MDEntryID"`
	MDEntryRefID   string          `json:"MDEntryRefID,omitempty"`
	Symbol         string          `json:"Symbol"`
	Side           string          `json:"Side"`
	MDEntryPx      decimal.Decimal `json:"MDEntryPx"`
	MDEntrySize    int64           `json:"MDEntrySize"`
	MDEntryTime    time.Time       `json:"MDEntryTime"`
}

// MDEntryType(269) 取值。
const (
	EntryBid   = "0"
	EntryOffer = "1"
	EntryTrade = "2"
)

// IncrementalRefresh 增量行情(35=X)。
type IncrementalRefresh struct {
	MsgType   MsgType   `json:"MsgType"`
	MDEntries []MDEntry `json:"MDEntries"`
}

func (IncrementalRefresh) Type() MsgType { return MsgMarketDataIncrementalRefresh }

// fixChar 把单字符 FIX 枚举编码为字符串。
func fixChar[T ~byte](v T) string { return string(rune(v)) }
