package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-sim/event"
	"exchange-sim/market"
	"exchange-sim/order"
)

func newTestGateway(t testing.TB) (*Gateway, *market.OrderBook) {
	t.Helper()
	book := market.NewOrderBook(market.Options{Symbol: "VOD.L"})
	gw, err := New(Options{
		Book: book,
		Constraints: order.SymbolConstraints{
			TickSize: decimal.RequireFromString("0.25"),
			MinQty:   1,
			MaxQty:   10000,
		},
	})
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return gw, book
}

func connect(t *testing.T, gw *Gateway, clientID string) *Session {
	t.Helper()
	s, err := gw.Connect(clientID)
	require.NoError(t, err)
	return s
}

func submit(t *testing.T, s *Session, fields map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	require.NoError(t, s.Submit(raw))
}

func newOrder(id, side string, qty int64, px string) map[string]interface{} {
	return map[string]interface{}{
		"MsgType":     "D",
		"ClOrdID":     id,
		"Symbol":      "VOD.L",
		"Side":        side,
		"OrdType":     "2",
		"TimeInForce": "1",
		"OrderQty":    qty,
		"Price":       px,
	}
}

func recv(t *testing.T, s *Session) Message {
	t.Helper()
	ch := make(chan Message, 1)
	go func() {
		if m, ok := s.Next(); ok {
			ch <- m
		}
	}()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no outbound message")
		return nil
	}
}

func recvReport(t *testing.T, s *Session) ExecutionReport {
	t.Helper()
	m := recv(t, s)
	rep, ok := m.(ExecutionReport)
	require.Truef(t, ok, "expected execution report, got %T %+v", m, m)
	return rep
}

func TestNewOrdersCrossAcrossSessions(t *testing.T) {
	gw, book := newTestGateway(t)
	buyer := connect(t, gw, "alice")
	seller := connect(t, gw, "bob")

	submit(t, buyer, newOrder("a1", "1", 10, "100"))
	newRep := recvReport(t, buyer)
	assert.Equal(t, ExecNew, newRep.ExecType)
	assert.Equal(t, "0", newRep.OrdStatus)
	assert.Equal(t, int64(10), newRep.LeavesQty)
	assert.Equal(t, "alice", newRep.Account)
	assert.NotEqual(t, RejectedOrderID, newRep.OrderID)

	submit(t, seller, newOrder("b1", "2", 4, "99.75"))
	sellNew := recvReport(t, seller)
	assert.Equal(t, ExecNew, sellNew.ExecType)

	sellFill := recvReport(t, seller)
	assert.Equal(t, ExecTrade, sellFill.ExecType)
	assert.Equal(t, "2", sellFill.OrdStatus)
	assert.Equal(t, int64(4), sellFill.LastQty)
	assert.True(t, sellFill.LastPx.Equal(decimal.NewFromInt(100)), "trades at resting price, got %s", sellFill.LastPx)
	assert.Equal(t, int64(0), sellFill.LeavesQty)
	assert.Equal(t, sellNew.OrderID, sellFill.OrderID)

	buyFill := recvReport(t, buyer)
	assert.Equal(t, ExecTrade, buyFill.ExecType)
	assert.Equal(t, "1", buyFill.OrdStatus)
	assert.Equal(t, int64(4), buyFill.CumQty)
	assert.Equal(t, int64(6), buyFill.LeavesQty)
	assert.Equal(t, newRep.OrderID, buyFill.OrderID)
	assert.NotEqual(t, newRep.ExecID, buyFill.ExecID)

	snap := book.Snapshot()
	require.Len(t, snap.Bids, 1)
	assert.Empty(t, snap.Offers)
}

func TestNewOrderRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]interface{})
		reason RejectReason
	}{
		{"unknown symbol", func(m map[string]interface{}) { m["Symbol"] = "BARC.L" }, RejectUnknownSymbol},
		{"immediate or cancel", func(m map[string]interface{}) { m["TimeInForce"] = "3" }, RejectUnknownOrder},
		{"day order", func(m map[string]interface{}) { m["TimeInForce"] = "0" }, RejectUnknownOrder},
		{"stop order", func(m map[string]interface{}) { m["OrdType"] = "3" }, RejectUnknownOrder},
		{"zero quantity", func(m map[string]interface{}) { m["OrderQty"] = 0 }, RejectIncorrectQuantity},
		{"above max quantity", func(m map[string]interface{}) { m["OrderQty"] = 20000 }, RejectIncorrectQuantity},
		{"off tick", func(m map[string]interface{}) { m["Price"] = "100.1" }, RejectUnsupportedOrderChar},
		{"missing price", func(m map[string]interface{}) { delete(m, "Price") }, RejectUnsupportedOrderChar},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw, book := newTestGateway(t)
			s := connect(t, gw, "alice")
			msg := newOrder("x1", "1", 10, "100")
			tc.mutate(msg)
			submit(t, s, msg)

			rep := recvReport(t, s)
			assert.Equal(t, ExecRejected, rep.ExecType)
			assert.Equal(t, "8", rep.OrdStatus)
			assert.Equal(t, RejectedOrderID, rep.OrderID)
			assert.Equal(t, tc.reason, rep.OrdRejReason)
			assert.Equal(t, "x1", rep.ClOrdID)
			assert.Empty(t, book.Snapshot().Bids)
		})
	}
}

func TestMarketOrderIgnoresPrice(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")
	msg := newOrder("m1", "1", 5, "100.1")
	msg["OrdType"] = "1"
	submit(t, s, msg)
	rep := recvReport(t, s)
	assert.Equal(t, ExecNew, rep.ExecType)
	assert.True(t, rep.Price.IsZero())
}

func TestDuplicateOpenOrderRejected(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")
	submit(t, s, newOrder("a1", "1", 10, "100"))
	submit(t, s, newOrder("a1", "1", 5, "100"))

	assert.Equal(t, ExecNew, recvReport(t, s).ExecType)
	rep := recvReport(t, s)
	assert.Equal(t, ExecRejected, rep.ExecType)
	assert.Equal(t, RejectDuplicateOrder, rep.OrdRejReason)

	// 不同客户端可以使用相同的 ClOrdID
	other := connect(t, gw, "bob")
	submit(t, other, newOrder("a1", "1", 5, "100"))
	assert.Equal(t, ExecNew, recvReport(t, other).ExecType)
}

func TestCancel(t *testing.T) {
	gw, book := newTestGateway(t)
	s := connect(t, gw, "alice")
	submit(t, s, newOrder("a1", "2", 10, "101"))
	newRep := recvReport(t, s)

	submit(t, s, map[string]interface{}{
		"MsgType": "F", "ClOrdID": "c1", "OrigClOrdID": "a1", "Symbol": "VOD.L", "Side": "2",
	})
	rep := recvReport(t, s)
	assert.Equal(t, ExecCanceled, rep.ExecType)
	assert.Equal(t, "4", rep.OrdStatus)
	assert.Equal(t, "c1", rep.ClOrdID)
	assert.Equal(t, "a1", rep.OrigClOrdID)
	assert.Equal(t, newRep.OrderID, rep.OrderID)
	assert.Equal(t, int64(0), rep.LeavesQty)
	assert.Empty(t, book.Snapshot().Offers)
}

func TestCancelUnknownOrder(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")
	submit(t, s, map[string]interface{}{
		"MsgType": "F", "ClOrdID": "c1", "OrigClOrdID": "nope", "Symbol": "VOD.L", "Side": "1",
	})
	m := recv(t, s)
	rej, ok := m.(OrderCancelReject)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, CxlRejUnknownOrder, rej.CxlRejReason)
	assert.Equal(t, ResponseToCancel, rej.CxlRejResponseTo)
	assert.Equal(t, RejectedOrderID, rej.OrderID)
}

func TestCancelAfterFillIsTooLate(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")
	submit(t, s, newOrder("a1", "2", 5, "101"))
	recvReport(t, s)

	buyer := connect(t, gw, "bob")
	submit(t, buyer, newOrder("b1", "1", 5, "101"))
	fill := recvReport(t, s)
	require.Equal(t, ExecTrade, fill.ExecType)
	require.Equal(t, int64(0), fill.LeavesQty)

	submit(t, s, map[string]interface{}{
		"MsgType": "F", "ClOrdID": "c1", "OrigClOrdID": "a1", "Symbol": "VOD.L", "Side": "2",
	})
	m := recv(t, s)
	rej, ok := m.(OrderCancelReject)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, CxlRejTooLate, rej.CxlRejReason)
	assert.Equal(t, "a1", rej.OrigClOrdID)
}

func TestReplaceKeepsOrderIDAndFills(t *testing.T) {
	gw, book := newTestGateway(t)
	s := connect(t, gw, "alice")
	submit(t, s, newOrder("a1", "1", 10, "100"))
	newRep := recvReport(t, s)

	replace := newOrder("a2", "1", 20, "101")
	replace["MsgType"] = "G"
	replace["OrigClOrdID"] = "a1"
	submit(t, s, replace)

	rep := recvReport(t, s)
	assert.Equal(t, ExecReplaced, rep.ExecType)
	assert.Equal(t, "a2", rep.ClOrdID)
	assert.Equal(t, "a1", rep.OrigClOrdID)
	assert.Equal(t, newRep.OrderID, rep.OrderID)
	assert.Equal(t, int64(20), rep.OrderQty)

	snap := book.Snapshot()
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "a2", snap.Bids[0].Base().ClientOrderID)
	assert.True(t, snap.Bids[0].Base().OrderPrice.Equal(decimal.NewFromInt(101)))

	seller := connect(t, gw, "bob")
	submit(t, seller, newOrder("b1", "2", 5, "101"))
	fill := recvReport(t, s)
	assert.Equal(t, ExecTrade, fill.ExecType)
	assert.Equal(t, "a2", fill.ClOrdID)
	assert.Equal(t, newRep.OrderID, fill.OrderID)
	assert.Equal(t, int64(15), fill.LeavesQty)
}

func TestReplacePartiallyFilledCarriesCumQty(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")
	seller := connect(t, gw, "bob")
	submit(t, s, newOrder("a1", "1", 10, "100"))
	recvReport(t, s)
	submit(t, seller, newOrder("b1", "2", 4, "100"))
	recvReport(t, s) // partial fill

	tooSmall := newOrder("a2", "1", 4, "100")
	tooSmall["MsgType"] = "G"
	tooSmall["OrigClOrdID"] = "a1"
	submit(t, s, tooSmall)
	rej := recvReport(t, s)
	assert.Equal(t, RejectIncorrectQuantity, rej.OrdRejReason)

	ok := newOrder("a2", "1", 12, "100")
	ok["MsgType"] = "G"
	ok["OrigClOrdID"] = "a1"
	submit(t, s, ok)
	rep := recvReport(t, s)
	assert.Equal(t, ExecReplaced, rep.ExecType)
	assert.Equal(t, "1", rep.OrdStatus)
	assert.Equal(t, int64(4), rep.CumQty)
	assert.Equal(t, int64(8), rep.LeavesQty)
}

func TestReplaceUnknownOrderRejected(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")
	msg := newOrder("a2", "1", 10, "100")
	msg["MsgType"] = "G"
	msg["OrigClOrdID"] = "ghost"
	submit(t, s, msg)
	rep := recvReport(t, s)
	assert.Equal(t, ExecRejected, rep.ExecType)
	assert.Equal(t, RejectUnknownOrder, rep.OrdRejReason)
	assert.Equal(t, "ghost", rep.OrigClOrdID)
}

func TestMalformedMessages(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")

	require.NoError(t, s.Submit([]byte(`{not json`)))
	bmr, ok := recv(t, s).(BusinessMessageReject)
	require.True(t, ok)
	assert.Equal(t, BusinessRejectOther, bmr.BusinessRejectReason)

	submit(t, s, map[string]interface{}{"MsgType": "V", "ClOrdID": "q1", "Symbol": "VOD.L", "Side": "1"})
	bmr, ok = recv(t, s).(BusinessMessageReject)
	require.True(t, ok)
	assert.Equal(t, BusinessRejectUnsupportedMessageType, bmr.BusinessRejectReason)
	assert.Equal(t, "V", bmr.RefMsgType)
	assert.Equal(t, "q1", bmr.BusinessRejectRefID)

	// 会话在拒绝后继续可用
	submit(t, s, newOrder("a1", "1", 1, "100"))
	assert.Equal(t, ExecNew, recvReport(t, s).ExecType)
}

func TestSingleSessionPerClientAndStateSurvivesReconnect(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")
	_, err := gw.Connect("alice")
	assert.True(t, errors.Is(err, ErrClientConnected))

	submit(t, s, newOrder("a1", "1", 10, "100"))
	recvReport(t, s)
	s.Close()
	_, ok := s.Next()
	assert.False(t, ok, "outbound queue closes with the session")
	assert.ErrorIs(t, s.Submit([]byte(`{}`)), ErrSessionClosed)

	again := connect(t, gw, "alice")
	submit(t, again, map[string]interface{}{
		"MsgType": "F", "ClOrdID": "c1", "OrigClOrdID": "a1", "Symbol": "VOD.L", "Side": "1",
	})
	assert.Equal(t, ExecCanceled, recvReport(t, again).ExecType)
	assert.Equal(t, []string{"alice"}, gw.Clients())
}

func TestSessionPreservesArrivalOrder(t *testing.T) {
	gw, _ := newTestGateway(t)
	s := connect(t, gw, "alice")
	const n = 50
	for i := 0; i < n; i++ {
		submit(t, s, newOrder(fmt.Sprintf("o%02d", i), "1", 1, "100"))
	}
	for i := 0; i < n; i++ {
		rep := recvReport(t, s)
		assert.Equal(t, fmt.Sprintf("o%02d", i), rep.ClOrdID)
	}
	p, ok := gw.Portfolio("alice")
	require.True(t, ok)
	assert.Equal(t, n, p.OpenBids())
}

func TestTranslatorUsesStampAndDefaultsAccount(t *testing.T) {
	at := time.Date(2008, 3, 3, 9, 0, 0, 0, time.UTC)
	tr := Translator{Symbol: "VOD.L", Stamp: func(time.Time) time.Time { return at }}
	ev, rej := tr.Translate("alice", OrderMessage{
		MsgType: MsgNewOrderSingle, ClOrdID: "a1", Symbol: "VOD.L", Side: "5",
		OrdType: "2", TimeInForce: "1", OrderQty: 3, Price: decimal.NewFromInt(100),
	})
	require.Nil(t, rej)
	h := ev.Base()
	assert.Equal(t, event.KindOffer, ev.Kind())
	assert.Equal(t, event.SideSellShort, h.Side)
	assert.Equal(t, "alice", h.Account)
	assert.Equal(t, at, h.TransactTime)
	assert.Equal(t, int64(3), h.RemainingQty)
}
