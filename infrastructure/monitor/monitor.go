package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 网关指标
	ordersReceived *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	executions     *prometheus.CounterVec
	sessionQueue   *prometheus.GaugeVec
	wsConnections  prometheus.Counter
	wsDisconnects  prometheus.Counter

	// 订单簿指标
	bookEvents     *prometheus.CounterVec
	lookupMisses   *prometheus.CounterVec
	subscriberErrs *prometheus.CounterVec
	restingOrders  *prometheus.GaugeVec
	bidPrice       prometheus.Gauge
	offerPrice     prometheus.Gauge
	lockHold       prometheus.Histogram

	// 成交指标
	tradesTotal  prometheus.Counter
	tradedVolume prometheus.Counter

	// 回放指标
	replayRows    *prometheus.CounterVec
	replayRunning prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Subsystem string `yaml:"subsystem" env:"SUBSYSTEM"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "exsim",
		Subsystem: "exchange",
	}
}

// New 创建新的Monitor实例，指标注册在私有 registry 上
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		})
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		ordersReceived: counterVec("orders_received_total", "网关收到的订单消息数", "msg_type"),
		ordersRejected: counterVec("orders_rejected_total", "网关拒单数", "reason"),
		executions:     counterVec("executions_total", "发出的执行回报数", "status"),
		sessionQueue:   gaugeVec("session_queue_depth", "会话入站队列长度", "session"),
		wsConnections:  counter("ws_connections_total", "WebSocket连接次数"),
		wsDisconnects:  counter("ws_disconnects_total", "WebSocket断开次数"),

		bookEvents:     counterVec("book_events_total", "订单簿发布的事件数", "kind"),
		lookupMisses:   counterVec("book_lookup_miss_total", "未找到挂单的删除或成交", "op"),
		subscriberErrs: counterVec("subscriber_failures_total", "订阅者回调失败次数", "subscriber"),
		restingOrders:  gaugeVec("resting_orders", "挂单数量", "side"),
		bidPrice:       gauge("best_bid_price", "当前买一价，空时为-1"),
		offerPrice:     gauge("best_offer_price", "当前卖一价，空时为-1"),
		lockHold: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "book_lock_hold_seconds",
			Help:      "订单簿锁持有时间（秒）",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		tradesTotal:  counter("trades_total", "成交笔数总数"),
		tradedVolume: counter("traded_volume_total", "累计成交量"),

		replayRows:    counterVec("replay_rows_total", "回放处理的行数", "action"),
		replayRunning: gauge("replay_running", "回放是否在运行(0/1)"),
	}
}

// 网关相关方法
func (m *Monitor) RecordOrderReceived(msgType string) {
	m.ordersReceived.WithLabelValues(msgType).Inc()
}

func (m *Monitor) RecordOrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordExecution(status string) {
	m.executions.WithLabelValues(status).Inc()
}

func (m *Monitor) SetSessionQueueDepth(session string, n int) {
	m.sessionQueue.WithLabelValues(session).Set(float64(n))
}

// RemoveSession 会话结束后删除其队列指标
func (m *Monitor) RemoveSession(session string) {
	m.sessionQueue.DeleteLabelValues(session)
}

func (m *Monitor) RecordWSConnection() {
	m.wsConnections.Inc()
}

func (m *Monitor) RecordWSDisconnect() {
	m.wsDisconnects.Inc()
}

// 订单簿相关方法
func (m *Monitor) ObserveBookEvent(kind string) {
	m.bookEvents.WithLabelValues(kind).Inc()
}

func (m *Monitor) IncLookupMiss(op string) {
	m.lookupMisses.WithLabelValues(op).Inc()
}

func (m *Monitor) IncSubscriberFailure(subscriber string) {
	m.subscriberErrs.WithLabelValues(subscriber).Inc()
}

func (m *Monitor) SetRestingOrders(side string, n int) {
	m.restingOrders.WithLabelValues(side).Set(float64(n))
}

func (m *Monitor) SetBestPrices(bid, offer float64) {
	m.bidPrice.Set(bid)
	m.offerPrice.Set(offer)
}

func (m *Monitor) ObserveLockHold(d time.Duration) {
	m.lockHold.Observe(d.Seconds())
}

// ObserveTrade 记录一笔成交回报；撮合每步发布两条，成交量按回报累计
func (m *Monitor) ObserveTrade(qty int64) {
	m.tradesTotal.Inc()
	m.tradedVolume.Add(float64(qty))
}

// 回放相关方法
func (m *Monitor) ObserveReplayRow(action string) {
	m.replayRows.WithLabelValues(action).Inc()
}

func (m *Monitor) SetReplayRunning(running bool) {
	if running {
		m.replayRunning.Set(1)
		return
	}
	m.replayRunning.Set(0)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
