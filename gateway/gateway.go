package gateway

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"exchange-sim/event"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/market"
	"exchange-sim/order"
	"exchange-sim/portfolio"
	"exchange-sim/sim"
)

// ErrClientConnected 同一客户端同时只允许一个会话。
var ErrClientConnected = errors.New("client already has an active session")

// Metrics 网关上报的指标。
type Metrics interface {
	RecordOrderReceived(msgType string)
	RecordOrderRejected(reason string)
	RecordExecution(status string)
	SetSessionQueueDepth(session string, n int)
	RemoveSession(session string)
}

// Book 是网关所需的订单簿能力。
type Book interface {
	portfolio.Book
	Symbol() string
}

// Options 网关依赖项。
type Options struct {
	Book        Book
	Constraints order.SymbolConstraints
	// Clock 为空或未启用时使用墙上时间
	Clock   *sim.Clock
	Logger  *logger.Logger
	Metrics Metrics
	// OnClient 在首次创建客户端账本时调用，用于挂接报表等订阅者
	OnClient func(clientID string, p *portfolio.Portfolio)
}

type client struct {
	id        string
	portfolio *portfolio.Portfolio
	tracker   *order.Tracker
	reporter  *Reporter
	unsub     func()

	mu      sync.Mutex
	session *Session
}

// deliver 发往当前会话，未连接时丢弃。
func (c *client) deliver(m Message) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != nil {
		s.Send(m)
	}
}

// Gateway 把会话消息分派给客户端账本。客户端状态在断线重连之间保留。
type Gateway struct {
	book       Book
	translator Translator
	schema     *Schema
	builder    *ReportBuilder
	clock      *sim.Clock
	log        *logger.Logger
	metrics    Metrics
	onClient   func(string, *portfolio.Portfolio)

	mu      sync.Mutex
	clients map[string]*client
}

// New 创建网关。
func New(opts Options) (*Gateway, error) {
	if opts.Book == nil {
		return nil, fmt.Errorf("gateway: book is required")
	}
	schema, err := NewSchema()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Gateway{
		book: opts.Book,
		translator: Translator{
			Symbol:      opts.Book.Symbol(),
			Constraints: opts.Constraints,
			Stamp:       opts.Clock.Stamp,
		},
		schema:   schema,
		builder:  NewReportBuilder(opts.Clock.Now),
		clock:    opts.Clock,
		log:      log.Named("gateway"),
		metrics:  metrics,
		onClient: opts.OnClient,
		clients:  make(map[string]*client),
	}, nil
}

// Connect 为客户端建立会话并启动其 worker。
func (g *Gateway) Connect(clientID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.clientLocked(clientID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil, fmt.Errorf("%w: %s", ErrClientConnected, clientID)
	}
	s := newSession(clientID, func(s *Session, raw []byte) { g.handle(c, s, raw) }, g.metrics, g.log, g.detach(c))
	c.session = s
	go s.run()
	g.log.Info("session connected", zap.String("client_id", clientID), zap.String("session", s.ID()),
		zap.Int("open_orders", c.tracker.OpenCount()))
	return s, nil
}

func (g *Gateway) detach(c *client) func(*Session) {
	return func(s *Session) {
		c.mu.Lock()
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()
		g.metrics.RemoveSession(s.ID())
		g.log.Info("session closed", zap.String("client_id", c.id), zap.String("session", s.ID()))
	}
}

func (g *Gateway) clientLocked(id string) *client {
	if c, ok := g.clients[id]; ok {
		return c
	}
	c := &client{
		id:        id,
		portfolio: portfolio.New(id, g.book, g.log),
		tracker:   order.NewTracker(uuid.NewString, g.clock.Now),
	}
	c.reporter = NewReporter(id, c.tracker, g.builder, c.deliver, g.metrics, g.log)
	c.unsub = c.reporter.Attach(c.portfolio)
	g.clients[id] = c
	if g.onClient != nil {
		g.onClient(id, c.portfolio)
	}
	return c
}

// Portfolio 返回客户端账本。
func (g *Gateway) Portfolio(clientID string) (*portfolio.Portfolio, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[clientID]
	if !ok {
		return nil, false
	}
	return c.portfolio, true
}

// Clients 返回已知客户端，按 ID 排序。
func (g *Gateway) Clients() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.clients))
	for id := range g.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close 关闭所有会话并退订账本。
func (g *Gateway) Close() {
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()
	for _, c := range clients {
		c.mu.Lock()
		s := c.session
		c.mu.Unlock()
		if s != nil {
			s.Close()
		}
		c.unsub()
		c.portfolio.Close()
	}
}

func (g *Gateway) handle(c *client, s *Session, raw []byte) {
	msg, bmr := g.schema.Decode(raw)
	if bmr != nil {
		g.metrics.RecordOrderRejected("malformed")
		g.log.Warn("business reject", zap.String("client_id", c.id), zap.String("text", bmr.Text))
		s.Send(*bmr)
		return
	}
	g.metrics.RecordOrderReceived(string(msg.MsgType))
	switch msg.MsgType {
	case MsgNewOrderSingle:
		g.onNewOrder(c, s, msg)
	case MsgOrderCancelRequest:
		g.onCancel(c, s, msg)
	case MsgOrderCancelReplaceRequest:
		g.onReplace(c, s, msg)
	}
}

func (g *Gateway) onNewOrder(c *client, s *Session, msg OrderMessage) {
	ev, rej := g.translator.Translate(c.id, msg)
	if rej != nil {
		g.reject(s, msg, *rej)
		return
	}
	if _, err := c.tracker.Accept(ev); err != nil {
		g.reject(s, msg, Reject{RejectDuplicateOrder, err.Error()})
		return
	}
	if err := c.portfolio.AddOpenPosition(ev); err != nil {
		c.tracker.Restore(msg.ClOrdID)
		g.reject(s, msg, rejectFromBook(err))
		return
	}
	g.log.LogOrder("accepted", msg.ClOrdID, event.Fields(ev))
}

func (g *Gateway) onCancel(c *client, s *Session, msg OrderMessage) {
	orig := msg.OrigClOrdID
	side := event.Side(firstByte(msg.Side))
	if msg.Symbol != g.translator.Symbol {
		g.cancelReject(c, s, msg, CxlRejUnknownOrder, fmt.Sprintf("unknown symbol %q", msg.Symbol))
		return
	}
	if can, known := c.tracker.CanCancel(orig); known && !can {
		g.cancelReject(c, s, msg, CxlRejTooLate, "order already done")
		return
	}
	if _, ok := c.portfolio.Open(side, orig); !ok {
		g.cancelReject(c, s, msg, CxlRejUnknownOrder, "unknown order")
		return
	}
	c.reporter.ExpectCancel(orig, msg.ClOrdID)
	var ok bool
	if side.IsBuy() {
		ok = c.portfolio.CancelBid(orig)
	} else {
		ok = c.portfolio.CancelOffer(orig)
	}
	if !ok {
		c.reporter.Forget(orig)
		g.cancelReject(c, s, msg, CxlRejTooLate, "order no longer open")
		return
	}
	g.log.LogOrder("canceled", orig, map[string]interface{}{"client_id": c.id, "cl_ord_id": msg.ClOrdID})
}

func (g *Gateway) onReplace(c *client, s *Session, msg OrderMessage) {
	next, rej := g.translator.Translate(c.id, msg)
	if rej != nil {
		g.reject(s, msg, *rej)
		return
	}
	h := next.Base()
	orig, ok := c.portfolio.Open(h.Side, msg.OrigClOrdID)
	if !ok {
		g.reject(s, msg, Reject{RejectUnknownOrder, fmt.Sprintf("unknown order %q", msg.OrigClOrdID)})
		return
	}
	if cum := orig.Base().CumQty; h.OrderQty <= cum {
		g.reject(s, msg, Reject{RejectIncorrectQuantity, fmt.Sprintf("orderQty %d must exceed cumQty %d", h.OrderQty, cum)})
		return
	}
	if msg.ClOrdID != msg.OrigClOrdID {
		if _, dup := c.tracker.Get(msg.ClOrdID); dup {
			g.reject(s, msg, Reject{RejectDuplicateOrder, fmt.Sprintf("duplicate client order id %q", msg.ClOrdID)})
			return
		}
	}

	c.reporter.ExpectReplace(msg.OrigClOrdID, next)
	if _, err := c.portfolio.Replace(msg.OrigClOrdID, next); err != nil {
		c.reporter.Forget(msg.OrigClOrdID)
		if errors.Is(err, portfolio.ErrUnknownOrder) {
			g.reject(s, msg, Reject{RejectUnknownOrder, err.Error()})
			return
		}
		// 原订单已出簿，新订单入簿失败
		c.tracker.Restore(msg.ClOrdID)
		g.reject(s, msg, rejectFromBook(err))
		return
	}
	g.log.LogOrder("replaced", msg.OrigClOrdID, event.Fields(next))
}

func (g *Gateway) reject(s *Session, msg OrderMessage, rej Reject) {
	g.metrics.RecordOrderRejected(rej.Reason.String())
	g.metrics.RecordExecution(order.StatusRejected.String())
	g.log.LogOrder("rejected", msg.ClOrdID, map[string]interface{}{
		"client_id": s.ClientID(),
		"msg_type":  string(msg.MsgType),
		"reason":    rej.Reason.String(),
		"text":      rej.Text,
	})
	s.Send(g.builder.Reject(msg, rej))
}

func (g *Gateway) cancelReject(c *client, s *Session, msg OrderMessage, reason int, text string) {
	g.metrics.RecordOrderRejected("cancel_rejected")
	var tracked *order.Order
	if o, ok := c.tracker.Get(msg.OrigClOrdID); ok {
		tracked = &o
	}
	s.Send(g.builder.CancelReject(msg, tracked, reason, text))
}

func rejectFromBook(err error) Reject {
	switch {
	case errors.Is(err, market.ErrDuplicateOrder):
		return Reject{RejectDuplicateOrder, err.Error()}
	case errors.Is(err, market.ErrWrongSymbol):
		return Reject{RejectUnknownSymbol, err.Error()}
	default:
		return Reject{RejectOther, err.Error()}
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordOrderReceived(string)       {}
func (nopMetrics) RecordOrderRejected(string)       {}
func (nopMetrics) RecordExecution(string)           {}
func (nopMetrics) SetSessionQueueDepth(string, int) {}
func (nopMetrics) RemoveSession(string)             {}
