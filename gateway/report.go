package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"exchange-sim/event"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/order"
	"exchange-sim/portfolio"
)

// RejectedOrderID 拒绝回报中的 OrderID，此时交易所未分配订单号。
const RejectedOrderID = "NONE"

// ReportBuilder 生成出站回报，ExecID 每次唯一。
type ReportBuilder struct {
	newID func() string
	now   func() time.Time
}

// NewReportBuilder now 为空时使用墙上时间。
func NewReportBuilder(now func() time.Time) *ReportBuilder {
	if now == nil {
		now = time.Now
	}
	return &ReportBuilder{newID: uuid.NewString, now: now}
}

// Order 由跟踪中的订单生成回报；ev 为成交事件时填写本次成交的 LastQty/LastPx。
func (b *ReportBuilder) Order(o order.Order, execType ExecType, ev event.MarketEvent) ExecutionReport {
	r := ExecutionReport{
		MsgType:      MsgExecutionReport,
		OrderID:      o.OrderID,
		ClOrdID:      o.ClientOrderID,
		ExecID:       b.newID(),
		ExecType:     execType,
		OrdStatus:    fixChar(o.Status),
		Symbol:       o.Symbol,
		Side:         fixChar(o.Side),
		OrdType:      fixChar(o.Type),
		TimeInForce:  fixChar(event.TimeInForceGoodTillCancel),
		OrderQty:     o.Quantity,
		Price:        o.Price,
		CumQty:       o.CumQty,
		LeavesQty:    o.LeavesQty,
		AvgPx:        o.AvgPrice,
		TransactTime: b.now(),
	}
	if ev != nil {
		h := ev.Base()
		r.Account = h.Account
		if !h.TransactTime.IsZero() && execType == ExecNew {
			r.TransactTime = h.TransactTime
		}
		if tr, ok := ev.(event.Trade); ok {
			x := tr.Exec()
			r.LastQty = x.ExecQty
			r.LastPx = x.ExecPrice
		}
	}
	return r
}

// Reject 生成被拒订单的回报。
func (b *ReportBuilder) Reject(msg OrderMessage, rej Reject) ExecutionReport {
	return ExecutionReport{
		MsgType:      MsgExecutionReport,
		OrderID:      RejectedOrderID,
		ClOrdID:      msg.ClOrdID,
		OrigClOrdID:  msg.OrigClOrdID,
		ExecID:       b.newID(),
		ExecType:     ExecRejected,
		OrdStatus:    fixChar(order.StatusRejected),
		Symbol:       msg.Symbol,
		Side:         msg.Side,
		OrdType:      msg.OrdType,
		TimeInForce:  msg.TimeInForce,
		OrderQty:     msg.OrderQty,
		Price:        msg.Price,
		Account:      msg.Account,
		OrdRejReason: rej.Reason,
		Text:         rej.Text,
		TransactTime: b.now(),
	}
}

// CancelReject 生成撤单/改单拒绝。
func (b *ReportBuilder) CancelReject(msg OrderMessage, o *order.Order, reason int, text string) OrderCancelReject {
	r := OrderCancelReject{
		MsgType:          MsgOrderCancelReject,
		OrderID:          RejectedOrderID,
		ClOrdID:          msg.ClOrdID,
		OrigClOrdID:      msg.OrigClOrdID,
		OrdStatus:        fixChar(order.StatusRejected),
		CxlRejResponseTo: ResponseToCancel,
		CxlRejReason:     reason,
		Text:             text,
	}
	if msg.MsgType == MsgOrderCancelReplaceRequest {
		r.CxlRejResponseTo = ResponseToReplace
	}
	if o != nil {
		r.OrderID = o.OrderID
		r.OrdStatus = fixChar(o.Status)
	}
	return r
}

// Sender 投递出站消息，不得阻塞。
type Sender func(Message)

type replaceReq struct {
	next event.MarketEvent
}

// Reporter 监听一个客户端账本，把订单状态变化转换为执行回报。
// 回调在订单簿锁内执行，锁顺序为 订单簿 -> Reporter -> Tracker。
type Reporter struct {
	clientID string
	tracker  *order.Tracker
	builder  *ReportBuilder
	send     Sender
	metrics  Metrics
	log      *logger.Logger

	mu       sync.Mutex
	cancels  map[string]string     // 原 ClOrdID -> 撤单请求 ClOrdID
	replaces map[string]replaceReq // 原 ClOrdID -> 替换后的订单
	replaced map[string]bool       // 已由 Replaced 回报覆盖的新订单
}

// NewReporter 创建回报器，需通过 Attach 订阅账本。
func NewReporter(clientID string, tracker *order.Tracker, builder *ReportBuilder, send Sender, metrics Metrics, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.Nop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Reporter{
		clientID: clientID,
		tracker:  tracker,
		builder:  builder,
		send:     send,
		metrics:  metrics,
		log:      log,
		cancels:  make(map[string]string),
		replaces: make(map[string]replaceReq),
		replaced: make(map[string]bool),
	}
}

// Attach 订阅账本事件，返回取消函数。
func (r *Reporter) Attach(p *portfolio.Portfolio) func() {
	return p.Subscribe(r.OnClientEvent)
}

// ExpectCancel 记录撤单请求，原订单的 Cancel 事件回报使用请求的 ClOrdID。
func (r *Reporter) ExpectCancel(origID, clOrdID string) {
	r.mu.Lock()
	r.cancels[origID] = clOrdID
	r.mu.Unlock()
}

// ExpectReplace 记录改单请求，原订单的 Cancel 事件转换为 Replaced。
func (r *Reporter) ExpectReplace(origID string, next event.MarketEvent) {
	r.mu.Lock()
	r.replaces[origID] = replaceReq{next: next}
	r.mu.Unlock()
}

// Forget 清除未生效的撤单/改单记录。
func (r *Reporter) Forget(origID string) {
	r.mu.Lock()
	delete(r.cancels, origID)
	if req, ok := r.replaces[origID]; ok {
		delete(r.replaced, req.next.Base().ClientOrderID)
		delete(r.replaces, origID)
	}
	r.mu.Unlock()
}

// OnClientEvent 实现 portfolio.Listener。
func (r *Reporter) OnClientEvent(ce portfolio.ClientEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := ce.Event.Base()
	switch ce.Type {
	case portfolio.NewPosition:
		if r.replaced[h.ClientOrderID] {
			delete(r.replaced, h.ClientOrderID)
			return
		}
		o, ok := r.tracker.Get(h.ClientOrderID)
		if !ok {
			r.log.Debug("new position without tracked order", zap.String("cl_ord_id", h.ClientOrderID))
			return
		}
		r.emit(r.builder.Order(o, ExecNew, ce.Event))

	case portfolio.Filled:
		o, err := r.tracker.Apply(ce.Event, order.StatusFor(ce.Event))
		if err != nil {
			r.log.Warn("fill for untracked order", zap.String("cl_ord_id", h.ClientOrderID), zap.Error(err))
			return
		}
		r.emit(r.builder.Order(o, ExecTrade, ce.Event))

	case portfolio.Cancel:
		if req, ok := r.replaces[h.ClientOrderID]; ok {
			delete(r.replaces, h.ClientOrderID)
			r.onReplaced(h.ClientOrderID, req)
			return
		}
		clOrdID, requested := r.cancels[h.ClientOrderID]
		delete(r.cancels, h.ClientOrderID)
		o, err := r.tracker.Apply(ce.Event, order.StatusCanceled)
		if err != nil {
			r.log.Warn("cancel for untracked order", zap.String("cl_ord_id", h.ClientOrderID), zap.Error(err))
			return
		}
		rep := r.builder.Order(o, ExecCanceled, ce.Event)
		if requested {
			rep.ClOrdID = clOrdID
			rep.OrigClOrdID = h.ClientOrderID
		}
		r.emit(rep)
	}
}

// onReplaced 在原订单出簿的同一锁内把跟踪状态切换到新订单。
func (r *Reporter) onReplaced(origID string, req replaceReq) {
	o, err := r.tracker.Replace(origID, req.next)
	if err != nil {
		r.log.Warn("replace for untracked order", zap.String("orig_cl_ord_id", origID), zap.Error(err))
		return
	}
	r.replaced[o.ClientOrderID] = true
	rep := r.builder.Order(o, ExecReplaced, req.next)
	rep.OrigClOrdID = origID
	if o.CumQty > 0 {
		rep.OrdStatus = fixChar(order.StatusPartiallyFilled)
	}
	r.emit(rep)
}

func (r *Reporter) emit(rep ExecutionReport) {
	r.metrics.RecordExecution(order.Status(firstByte(rep.OrdStatus)).String())
	if r.send != nil {
		r.send(rep)
	}
}
