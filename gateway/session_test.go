package gateway

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-sim/event"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/market"
	"exchange-sim/order"
	"exchange-sim/strategy"
)

// overfill 把每笔撮合的成交量改成超过挂单剩余量
type overfill struct{ strategy.ExecutionStrategy }

func (o overfill) CheckBidForExecution(bid *event.Bid, offers strategy.Resting) event.Trade {
	tr := o.ExecutionStrategy.CheckBidForExecution(bid, offers)
	if tr != nil {
		tr.Exec().ExecQty = 1000
	}
	return tr
}

func isBusinessReject(m Message) bool {
	switch m.(type) {
	case BusinessMessageReject, *BusinessMessageReject:
		return true
	}
	return false
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	s := newSession("alice", func(*Session, []byte) { panic("boom") }, nopMetrics{}, logger.Nop(), nil)
	s.dispatch([]byte(`{}`))

	m, ok := s.out.Pop()
	require.True(t, ok)
	require.True(t, isBusinessReject(m), "got %T", m)
}

func TestDispatchRethrowsInvariantPanic(t *testing.T) {
	s := newSession("alice", func(*Session, []byte) {
		panic(fmt.Errorf("%w: broken", market.ErrInvariant))
	}, nopMetrics{}, logger.Nop(), nil)

	assert.Panics(t, func() { s.dispatch([]byte(`{}`)) })
	assert.Equal(t, 0, s.out.Len())
}

func TestOverfillingStrategyIsNotSwallowed(t *testing.T) {
	book := market.NewOrderBook(market.Options{
		Symbol:   "VOD.L",
		Strategy: overfill{strategy.NewPriceTime()},
	})
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

	seller := connect(t, gw, "alice")
	submit(t, seller, newOrder("o1", "2", 5, "101"))
	recvReport(t, seller)

	buyer := connect(t, gw, "bob")
	var got interface{}
	func() {
		defer func() { got = recover() }()
		buyer.dispatch(rawOrder("b1", "1", 4, "101"))
	}()
	perr, ok := got.(error)
	require.True(t, ok, "expected invariant panic, got %v", got)
	assert.ErrorIs(t, perr, market.ErrInvariant)

	for buyer.out.Len() > 0 {
		m, _ := buyer.out.Pop()
		assert.False(t, isBusinessReject(m), "invariant violation must not become a business reject")
	}
}
