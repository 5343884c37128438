package posttrade

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-sim/event"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/market"
)

func limit(client, id string, side event.Side, qty int64, px string) event.MarketEvent {
	ev, err := event.NewOrder(event.Header{
		ClientOrderID: id,
		ClientID:      client,
		Symbol:        "VOD.L",
		Side:          side,
		OrderType:     event.OrderTypeLimit,
		OrderPrice:    decimal.RequireFromString(px),
		OrderQty:      qty,
	})
	if err != nil {
		panic(err)
	}
	return ev
}

func TestAnalyzeBookLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchange.log")
	log, err := logger.New(logger.Config{Level: "info", Outputs: []string{"file"}, OutputFile: path, Format: "json"})
	require.NoError(t, err)

	book := market.NewOrderBook(market.Options{Symbol: "VOD.L", Logger: log})
	require.NoError(t, book.Add(limit("maker", "s1", event.SideSell, 5, "101")))
	require.NoError(t, book.Add(limit("maker", "s2", event.SideSell, 5, "102")))
	require.NoError(t, book.Add(limit("taker", "b1", event.SideBuy, 8, "102")))
	_ = log.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rep, err := Analyze(f, Filter{Symbol: "VOD.L"})
	require.NoError(t, err)
	require.Equal(t, []string{"maker", "taker"}, rep.ClientIDs())

	taker := rep.Clients["taker"]
	assert.Equal(t, 2, taker.Trades)
	assert.Equal(t, int64(8), taker.Net())
	assert.True(t, taker.BuyNotional.Equal(decimal.RequireFromString("811")), taker.BuyNotional.String())
	assert.True(t, taker.BuyVWAP().Equal(decimal.RequireFromString("101.375")), taker.BuyVWAP().String())
	assert.True(t, taker.SellVWAP().IsZero())

	maker := rep.Clients["maker"]
	assert.Equal(t, int64(-8), maker.Net())
	assert.True(t, maker.CashFlow().Equal(decimal.RequireFromString("811")))
}

func TestAnalyzeFilters(t *testing.T) {
	lines := strings.Join([]string{
		`not json`,
		`{"msg":"order_event","event":"accepted","client_id":"a"}`,
		`{"msg":"trade_event","event":"FILL","ts":"2024-01-01T00:00:00Z","symbol":"VOD.L","client_id":"a","side":"BUY","exec_qty":2,"exec_price":"10"}`,
		`{"msg":"trade_event","event":"FILL","ts":"2024-06-01T00:00:00Z","symbol":"VOD.L","client_id":"a","side":"SELL","exec_qty":1,"exec_price":"12"}`,
		`{"msg":"trade_event","event":"FILL","ts":"2024-06-01T00:00:00Z","symbol":"BARC.L","client_id":"a","side":"BUY","exec_qty":1,"exec_price":"5"}`,
		`{"msg":"trade_event","event":"PARTIAL_FILL","ts":"2024-06-01T00:00:00Z","symbol":"VOD.L","client_id":"a","side":"SELL","exec_qty":1,"exec_price":"bad"}`,
	}, "\n")

	rep, err := Analyze(strings.NewReader(lines), Filter{Symbol: "VOD.L", Since: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Lines)
	assert.Equal(t, 1, rep.Skipped)
	require.Contains(t, rep.Clients, "a")
	a := rep.Clients["a"]
	assert.Equal(t, 1, a.Trades)
	assert.Equal(t, int64(-1), a.Net())
	assert.True(t, a.SellVWAP().Equal(decimal.NewFromInt(12)))

	rep, err = Analyze(strings.NewReader(lines), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Clients["a"].Trades)
}
