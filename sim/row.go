package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"exchange-sim/event"
)

// ActionType 回放行的动作类型。
type ActionType byte

const (
	ActionNew              ActionType = 'N'
	ActionDelete           ActionType = 'D'
	ActionExpire           ActionType = 'E'
	ActionPartialMatch     ActionType = 'P'
	ActionFullMatch        ActionType = 'M'
	ActionTransactionLimit ActionType = 'T'
)

func (a ActionType) String() string {
	switch a {
	case ActionNew:
		return "new"
	case ActionDelete:
		return "delete"
	case ActionExpire:
		return "expire"
	case ActionPartialMatch:
		return "partial_match"
	case ActionFullMatch:
		return "full_match"
	case ActionTransactionLimit:
		return "transaction_limit"
	default:
		return "unknown"
	}
}

// ParseAction 解析动作列，空值和无法识别的取值都视为新订单。
func ParseAction(s string) ActionType {
	s = strings.TrimSpace(s)
	if s == "" {
		return ActionNew
	}
	switch a := ActionType(s[0]); a {
	case ActionDelete, ActionExpire, ActionPartialMatch, ActionFullMatch, ActionTransactionLimit:
		return a
	default:
		return ActionNew
	}
}

// Row 是归档中的一条市场事件。
type Row struct {
	OrderID  string
	Action   ActionType
	Qty      int64
	Price    decimal.Decimal
	Side     event.Side
	DateTime time.Time
	Seq      int64
}

// ParseSide 解析买卖标识 B/S。
func ParseSide(s string) (event.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "B":
		return event.SideBuy, nil
	case "S":
		return event.SideSell, nil
	default:
		return 0, fmt.Errorf("unknown buySellInd %q", s)
	}
}

// SideCode 是 ParseSide 的逆运算。
func SideCode(s event.Side) string {
	if s.IsBuy() {
		return "B"
	}
	return "S"
}

// before 按 (dateTime, seq) 排序。
func (r Row) before(o Row) bool {
	if !r.DateTime.Equal(o.DateTime) {
		return r.DateTime.Before(o.DateTime)
	}
	return r.Seq < o.Seq
}
