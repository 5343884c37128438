// Package report 把客户端事件与回放生命周期写成交易日志。
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"exchange-sim/event"
	"exchange-sim/portfolio"
	"exchange-sim/sim"
)

// DefaultTimeLayout 起止行的时间格式。
const DefaultTimeLayout = "2006-01-02 15:04:05"

// TradeLog 逐行记录客户端的新单、成交与撤单。
// OnClientEvent 在订单簿锁内调用，只写入内存缓冲，落盘发生在回放结束与 Close 时。
type TradeLog struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	layout string
	lines  int
	err    error
}

// NewTradeLog 写入 w；layout 为空时使用 DefaultTimeLayout。
func NewTradeLog(w io.Writer, layout string) *TradeLog {
	if layout == "" {
		layout = DefaultTimeLayout
	}
	t := &TradeLog{w: bufio.NewWriterSize(w, 64*1024), layout: layout}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// OpenTradeLog 以追加方式打开日志文件。
func OpenTradeLog(path, layout string) (*TradeLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	return NewTradeLog(f, layout), nil
}

// Attach 订阅客户端账本，返回取消函数。
func (t *TradeLog) Attach(p *portfolio.Portfolio) func() {
	return p.Subscribe(t.OnClientEvent)
}

// OnClientEvent 实现 portfolio.Listener。
func (t *TradeLog) OnClientEvent(ce portfolio.ClientEvent) {
	var title string
	switch ce.Type {
	case portfolio.NewPosition:
		title = "New Position"
	case portfolio.Filled:
		title = "Filled Position"
	case portfolio.Cancel:
		title = "Cancelled Position"
	default:
		return
	}
	t.addLine(fmt.Sprintf("%s: \n%s", title, event.String(ce.Event)))
}

// OnLifecycle 实现 sim.LifecycleListener，回放结束时落盘。
func (t *TradeLog) OnLifecycle(l sim.Lifecycle) {
	at := l.At
	if at.IsZero() {
		at = time.Now()
	}
	switch l.Type {
	case sim.SimulationStarted:
		t.addLine("Backtest started @ " + at.Format(t.layout))
	case sim.SimulationStopped:
		t.addLine("Backtest ended @ " + at.Format(t.layout))
		_ = t.Flush()
	}
}

// Lines 已写入的行数。
func (t *TradeLog) Lines() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lines
}

// Flush 把缓冲写入底层，返回首个写错误。
func (t *TradeLog) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Flush(); err != nil && t.err == nil {
		t.err = err
	}
	return t.err
}

// Close 落盘并关闭底层文件。
func (t *TradeLog) Close() error {
	err := t.Flush()
	if t.closer != nil {
		if cerr := t.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (t *TradeLog) addLine(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.WriteString(s + "\n"); err != nil && t.err == nil {
		t.err = err
	}
	t.lines++
}
