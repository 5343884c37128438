package container

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"exchange-sim/event"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/market"
)

// orderView 挂单的 JSON 视图
type orderView struct {
	ClientID      string          `json:"clientID"`
	ClientOrderID string          `json:"clientOrderID"`
	Side          string          `json:"side"`
	OrderType     string          `json:"orderType"`
	Price         decimal.Decimal `json:"price"`
	OrderQty      int64           `json:"orderQty"`
	RemainingQty  int64           `json:"remainingQty"`
	TransactTime  time.Time       `json:"transactTime"`
}

type bookView struct {
	Symbol      string          `json:"symbol"`
	BestBid     decimal.Decimal `json:"bestBid"`
	BestOffer   decimal.Decimal `json:"bestOffer"`
	Spread      decimal.Decimal `json:"spread"`
	BidVolume   int64           `json:"bidVolume"`
	OfferVolume int64           `json:"offerVolume"`
	TradeCount  int             `json:"tradeCount"`
	Bids        []orderView     `json:"bids"`
	Offers      []orderView     `json:"offers"`
	Timestamp   time.Time       `json:"timestamp"`
}

type tradeView struct {
	Kind          string          `json:"kind"`
	ClientID      string          `json:"clientID"`
	ClientOrderID string          `json:"clientOrderID"`
	Side          string          `json:"side"`
	ExecQty       int64           `json:"execQty"`
	ExecPrice     decimal.Decimal `json:"execPrice"`
	ContraOrderID string          `json:"contraOrderID"`
	RemainingQty  int64           `json:"remainingQty"`
	TransactTime  time.Time       `json:"transactTime"`
}

type clientView struct {
	ClientID    string `json:"clientID"`
	OpenBids    int    `json:"openBids"`
	OpenOffers  int    `json:"openOffers"`
	Fills       int    `json:"fills"`
	NetPosition int64  `json:"netPosition"`
}

func ordersView(evs []event.MarketEvent) []orderView {
	out := make([]orderView, 0, len(evs))
	for _, ev := range evs {
		h := ev.Base()
		out = append(out, orderView{
			ClientID:      h.ClientID,
			ClientOrderID: h.ClientOrderID,
			Side:          h.Side.String(),
			OrderType:     h.OrderType.String(),
			Price:         h.OrderPrice,
			OrderQty:      h.OrderQty,
			RemainingQty:  h.RemainingQty,
			TransactTime:  h.TransactTime,
		})
	}
	return out
}

func snapshotView(s market.Snapshot) bookView {
	return bookView{
		Symbol:      s.Symbol,
		BestBid:     s.BestBid,
		BestOffer:   s.BestOffer,
		Spread:      s.Spread(),
		BidVolume:   s.BidVolume,
		OfferVolume: s.OfferVolume,
		TradeCount:  s.TradeCount,
		Bids:        ordersView(s.Bids),
		Offers:      ordersView(s.Offers),
		Timestamp:   s.Timestamp,
	}
}

func tradesView(ts []event.Trade) []tradeView {
	out := make([]tradeView, 0, len(ts))
	for _, t := range ts {
		h, x := t.Base(), t.Exec()
		out = append(out, tradeView{
			Kind:          t.Kind().String(),
			ClientID:      h.ClientID,
			ClientOrderID: h.ClientOrderID,
			Side:          h.Side.String(),
			ExecQty:       x.ExecQty,
			ExecPrice:     x.ExecPrice,
			ContraOrderID: x.ContraOrderID,
			RemainingQty:  h.RemainingQty,
			TransactTime:  h.TransactTime,
		})
	}
	return out
}

// Router 管理与会话端点：
//
//	GET  /health            组件健康
//	GET  /metrics           Prometheus 指标
//	GET  /book              订单簿快照
//	GET  /trades?from=N     成交带
//	GET  /bars              成交 K 线
//	GET  /clients           客户端账本概要
//	GET  /simulation        回放状态
//	POST /simulation/stop   停止回放
//	GET  /fix               订单会话 (websocket)
//	GET  /marketdata        增量行情 (websocket)
func (c *Container) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/fix", c.ws.HandleFIX)
	r.Get("/marketdata", c.ws.HandleMarketData)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(requestLogger(c.logger.Named("http")))

		r.Get("/health", c.handleHealth)
		r.Method(http.MethodGet, "/metrics", c.monitor.Handler())
		r.Get("/book", c.handleBook)
		r.Get("/trades", c.handleTrades)
		r.Get("/bars", c.handleBars)
		r.Get("/clients", c.handleClients)
		r.Route("/simulation", func(r chi.Router) {
			r.Get("/", c.handleSimulation)
			r.Post("/stop", c.handleSimulationStop)
		})
	})
	return r
}

// requestLogger 记录每个管理请求
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (c *Container) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := c.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (c *Container) handleBook(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, snapshotView(c.book.Snapshot()))
}

func (c *Container) handleTrades(w http.ResponseWriter, r *http.Request) {
	from := 0
	if s := r.URL.Query().Get("from"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be a non-negative integer"})
			return
		}
		from = n
	}
	writeJSON(w, http.StatusOK, tradesView(c.book.Trades(from)))
}

func (c *Container) handleBars(w http.ResponseWriter, _ *http.Request) {
	if c.bars == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "bars not enabled"})
		return
	}
	writeJSON(w, http.StatusOK, c.bars.Bars())
}

func (c *Container) handleClients(w http.ResponseWriter, _ *http.Request) {
	ids := c.gateway.Clients()
	out := make([]clientView, 0, len(ids))
	for _, id := range ids {
		p, ok := c.gateway.Portfolio(id)
		if !ok {
			continue
		}
		out = append(out, clientView{
			ClientID:    id,
			OpenBids:    p.OpenBids(),
			OpenOffers:  p.OpenOffers(),
			Fills:       len(p.Fills()),
			NetPosition: p.NetPosition(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Container) handleSimulation(w http.ResponseWriter, _ *http.Request) {
	if c.simulator == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"running": c.simulator.Running(),
		"delayMs": c.simulator.Delay().Milliseconds(),
	})
}

func (c *Container) handleSimulationStop(w http.ResponseWriter, _ *http.Request) {
	if c.simulator == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "replay not enabled"})
		return
	}
	c.simulator.Stop()
	c.logger.Info("replay stop requested")
	writeJSON(w, http.StatusAccepted, map[string]bool{"stopping": true})
}
