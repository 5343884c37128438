// Package sim 按节奏回放归档市场事件以重建历史订单簿。
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"exchange-sim/event"
	"exchange-sim/infrastructure/alert"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/market"
)

// ErrAlreadyRunning 同一模拟器不允许并发运行。
var ErrAlreadyRunning = errors.New("simulation already running")

// MinDelay 每模拟秒的最小休眠，避免回放饿死订单簿的其他使用者。
const MinDelay = 100 * time.Millisecond

// Book 是回放写入的订单簿。
type Book interface {
	Add(ev event.MarketEvent) error
	Delete(ev event.MarketEvent) bool
}

// subscriber 是可订阅订单簿事件的 Book，回放借此识别引擎已撮合的数量。
type subscriber interface {
	Subscribe(name string, s market.Sink) func()
}

// Metrics 回放指标。
type Metrics interface {
	ObserveReplayRow(action string)
	SetReplayRunning(running bool)
}

// Alerter 发送告警。
type Alerter interface {
	SendAlert(a alert.Alert) error
}

// LifecycleType 模拟生命周期事件。
type LifecycleType int

const (
	SimulationStarted LifecycleType = iota + 1
	SimulationStopped
)

func (t LifecycleType) String() string {
	switch t {
	case SimulationStarted:
		return "SIMULATION_STARTED"
	case SimulationStopped:
		return "SIMULATION_STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle 携带回放的起止信息。Err 非空表示回放因数据源错误中止。
type Lifecycle struct {
	Type LifecycleType
	At   time.Time
	Rows int
	Err  error
}

// LifecycleListener 接收生命周期事件。
type LifecycleListener func(Lifecycle)

// Config 模拟器参数。
type Config struct {
	Symbol   string
	ServerID string
	Interval Interval
	Delay    time.Duration
}

// Simulator 从游标读取归档行写入订单簿，并推进模拟时钟。
type Simulator struct {
	cfg     Config
	book    Book
	src     Source
	clock   *Clock
	log     *logger.Logger
	metrics Metrics
	alerts  Alerter
	sleep   func(ctx context.Context, d time.Duration) error
	credits *matchCredits

	delay   atomic.Int64
	running atomic.Bool
	stop    atomic.Bool

	mu        sync.Mutex
	listeners []LifecycleListener
}

// Option 配置可选依赖。
type Option func(*Simulator)

func WithLogger(l *logger.Logger) Option { return func(s *Simulator) { s.log = l } }
func WithMetrics(m Metrics) Option { return func(s *Simulator) { s.metrics = m } }
func WithAlerts(a Alerter) Option { return func(s *Simulator) { s.alerts = a } }
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(s *Simulator) { s.sleep = f }
}

// New 创建模拟器；clock 为 nil 时新建一个不启用的时钟。
func New(cfg Config, book Book, src Source, clock *Clock, opts ...Option) *Simulator {
	if clock == nil {
		clock = NewClock(false)
	}
	s := &Simulator{
		cfg:     cfg,
		book:    book,
		src:     src,
		clock:   clock,
		log:     logger.Nop(),
		sleep:   sleepCtx,
		credits: newMatchCredits(cfg.ServerID),
	}
	for _, o := range opts {
		o(s)
	}
	s.SetDelay(cfg.Delay)
	return s
}

// OnLifecycle 注册生命周期监听。
func (s *Simulator) OnLifecycle(l LifecycleListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// SetDelay 调整每模拟秒的休眠，低于 MinDelay 时取 MinDelay。运行中也可调整。
func (s *Simulator) SetDelay(d time.Duration) {
	if d < MinDelay {
		d = MinDelay
	}
	s.delay.Store(int64(d))
}

// Delay 返回当前休眠设置。
func (s *Simulator) Delay() time.Duration { return time.Duration(s.delay.Load()) }

// Running 是否正在回放。
func (s *Simulator) Running() bool { return s.running.Load() }

// Stop 请求在处理下一行之前停止；Run 之前调用同样生效，请求在 Run 返回时清除。
func (s *Simulator) Stop() { s.stop.Store(true) }

// Clock 返回模拟时钟。
func (s *Simulator) Clock() *Clock { return s.clock }

// Run 执行一次完整回放，阻塞直到数据耗尽、Stop 或 ctx 取消。
// 数据源错误会中止回放并返回，不影响订单簿已有状态。
func (s *Simulator) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer s.stop.Store(false)
	s.setRunningMetric(true)
	defer s.setRunningMetric(false)

	s.credits.reset()
	if sub, ok := s.book.(subscriber); ok {
		defer sub.Subscribe("replay-credits", s.credits)()
	}

	s.log.LogReplay("simulation_started", map[string]interface{}{
		"start": s.cfg.Interval.Start,
		"end":   s.cfg.Interval.End,
		"delay": s.Delay().String(),
	})
	s.notify(Lifecycle{Type: SimulationStarted, At: time.Now()})

	rows, err := s.replay(ctx)
	if err != nil {
		s.fail(err)
	}
	s.log.LogReplay("simulation_stopped", map[string]interface{}{"rows": rows})
	s.notify(Lifecycle{Type: SimulationStopped, At: time.Now(), Rows: rows, Err: err})
	return err
}

func (s *Simulator) replay(ctx context.Context) (int, error) {
	cur, err := s.src.Open(ctx, s.cfg.Interval)
	if err != nil {
		return 0, fmt.Errorf("open replay source: %w", err)
	}
	defer func() {
		if cerr := cur.Close(); cerr != nil {
			s.log.Warn("close replay cursor", zap.Error(cerr))
		}
	}()

	var (
		n       int
		lastSec time.Time
	)
	for {
		if s.stop.Load() {
			s.log.Info("simulation stop requested", zap.Int("rows", n))
			return n, nil
		}
		row, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read replay row %d: %w", n+1, err)
		}

		s.clock.Set(row.DateTime)
		sec := row.DateTime.Truncate(time.Second)
		if !lastSec.IsZero() && !sec.Equal(lastSec) {
			if err := s.sleep(ctx, s.Delay()); err != nil {
				return n, nil
			}
		}
		lastSec = sec

		s.apply(row)
		n++
	}
}

// apply 把一行映射为订单簿操作。
func (s *Simulator) apply(row Row) {
	if s.metrics != nil {
		s.metrics.ObserveReplayRow(row.Action.String())
	}
	h := event.Header{
		ClientOrderID: row.OrderID,
		ClientID:      s.cfg.ServerID,
		Account:       s.cfg.ServerID,
		Symbol:        s.cfg.Symbol,
		Side:          row.Side,
		OrderType:     event.OrderTypeLimit,
		OrderPrice:    row.Price,
		OrderQty:      row.Qty,
		TransactTime:  row.DateTime,
	}

	switch row.Action {
	case ActionTransactionLimit:
		return
	case ActionDelete, ActionExpire:
		ev, err := event.NewOrder(h)
		if err != nil {
			s.skip(row, err)
			return
		}
		s.credits.drop(row.OrderID)
		s.book.Delete(ev)
	case ActionPartialMatch, ActionFullMatch:
		// 引擎已在两笔回放订单之间撮合过的数量不再重复成交
		qty := row.Qty - s.credits.take(row.OrderID, row.Qty)
		if qty == 0 {
			s.log.Debug("archive match already executed by engine",
				zap.String("order_id", row.OrderID),
				zap.Int64("qty", row.Qty))
			return
		}
		h.CumQty = qty
		h.AvgPrice = row.Price
		x := event.Execution{ExecQty: qty, ExecPrice: row.Price}
		if row.Action == ActionFullMatch {
			s.add(row, event.NewFill(h, x))
		} else {
			s.add(row, event.NewPartialFill(h, x))
		}
	default:
		ev, err := event.NewOrder(h)
		if err != nil {
			s.skip(row, err)
			return
		}
		s.credits.drop(row.OrderID)
		s.add(row, ev)
	}
}

func (s *Simulator) add(row Row, ev event.MarketEvent) {
	if err := s.book.Add(ev); err != nil {
		s.skip(row, err)
	}
}

func (s *Simulator) skip(row Row, err error) {
	s.log.Warn("replay row skipped",
		zap.String("order_id", row.OrderID),
		zap.String("action", row.Action.String()),
		zap.Error(err))
}

func (s *Simulator) fail(err error) {
	s.log.LogError(err, map[string]interface{}{"component": "simulator"})
	if s.alerts != nil {
		_ = s.alerts.SendAlert(alert.Alert{
			Level:   alert.LevelError,
			Message: "replay aborted",
			Fields:  map[string]interface{}{"error": err.Error(), "symbol": s.cfg.Symbol},
		})
	}
}

func (s *Simulator) notify(l Lifecycle) {
	s.mu.Lock()
	ls := make([]LifecycleListener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(l)
	}
}

func (s *Simulator) setRunningMetric(v bool) {
	if s.metrics != nil {
		s.metrics.SetReplayRunning(v)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
