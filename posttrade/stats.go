// Package posttrade 从交易所 JSON 日志中统计各客户端的成交。
package posttrade

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ClientStats 单个客户端的成交汇总。
type ClientStats struct {
	ClientID     string
	Trades       int
	BoughtQty    int64
	SoldQty      int64
	BuyNotional  decimal.Decimal
	SellNotional decimal.Decimal
}

// Net 净头寸，买为正。
func (s *ClientStats) Net() int64 { return s.BoughtQty - s.SoldQty }

// CashFlow 卖出名义减买入名义。
func (s *ClientStats) CashFlow() decimal.Decimal { return s.SellNotional.Sub(s.BuyNotional) }

// BuyVWAP 买入均价，无买入时为零。
func (s *ClientStats) BuyVWAP() decimal.Decimal { return vwap(s.BuyNotional, s.BoughtQty) }

// SellVWAP 卖出均价，无卖出时为零。
func (s *ClientStats) SellVWAP() decimal.Decimal { return vwap(s.SellNotional, s.SoldQty) }

func vwap(notional decimal.Decimal, qty int64) decimal.Decimal {
	if qty == 0 {
		return decimal.Zero
	}
	return notional.DivRound(decimal.NewFromInt(qty), 8)
}

// Filter 限定统计范围，零值表示不过滤。
type Filter struct {
	Symbol string
	Since  time.Time
}

// Report 是一次日志扫描的结果。
type Report struct {
	Clients map[string]*ClientStats
	Lines   int
	Skipped int
}

// ClientIDs 按 ID 排序。
func (r Report) ClientIDs() []string {
	ids := make([]string, 0, len(r.Clients))
	for id := range r.Clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type tradeLine struct {
	Msg       string      `json:"msg"`
	Event     string      `json:"event"`
	Ts        string      `json:"ts"`
	Symbol    string      `json:"symbol"`
	ClientID  string      `json:"client_id"`
	Side      string      `json:"side"`
	ExecQty   json.Number `json:"exec_qty"`
	ExecPrice string      `json:"exec_price"`
}

// Analyze 逐行读取日志，统计 trade_event 中的 FILL 与 PARTIAL_FILL。
// 非 JSON 行和其他事件被跳过；成交字段不完整的行计入 Skipped。
func Analyze(r io.Reader, f Filter) (Report, error) {
	rep := Report{Clients: make(map[string]*ClientStats)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		rep.Lines++
		line := sc.Bytes()
		idx := bytes.IndexByte(line, '{')
		if idx == -1 {
			continue
		}
		var tl tradeLine
		if err := json.Unmarshal(line[idx:], &tl); err != nil {
			continue
		}
		if tl.Msg != "trade_event" || (tl.Event != "FILL" && tl.Event != "PARTIAL_FILL") {
			continue
		}
		if f.Symbol != "" && tl.Symbol != f.Symbol {
			continue
		}
		if !f.Since.IsZero() {
			if ts, err := time.Parse(time.RFC3339Nano, tl.Ts); err == nil && ts.Before(f.Since) {
				continue
			}
		}
		qty, err := strconv.ParseInt(tl.ExecQty.String(), 10, 64)
		if err != nil || qty <= 0 || tl.ClientID == "" {
			rep.Skipped++
			continue
		}
		px, err := decimal.NewFromString(tl.ExecPrice)
		if err != nil {
			rep.Skipped++
			continue
		}
		st, ok := rep.Clients[tl.ClientID]
		if !ok {
			st = &ClientStats{ClientID: tl.ClientID}
			rep.Clients[tl.ClientID] = st
		}
		st.Trades++
		notional := px.Mul(decimal.NewFromInt(qty))
		if tl.Side == "BUY" {
			st.BoughtQty += qty
			st.BuyNotional = st.BuyNotional.Add(notional)
		} else {
			st.SoldQty += qty
			st.SellNotional = st.SellNotional.Add(notional)
		}
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("scan log: %w", err)
	}
	return rep, nil
}
