package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"exchange-sim/config"
	"exchange-sim/gateway"
	"exchange-sim/infrastructure/alert"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/infrastructure/monitor"
	"exchange-sim/market"
	"exchange-sim/portfolio"
	"exchange-sim/report"
	"exchange-sim/sim"
	"exchange-sim/strategy"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg     config.AppConfig
	cfgPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 撮合核心
	clock     *sim.Clock
	book      *market.OrderBook
	publisher *market.Publisher
	bars      *market.BarAggregator

	// 会话与报表
	gateway  *gateway.Gateway
	ws       *gateway.WSServer
	tradeLog *report.TradeLog

	// 回放
	simulator *sim.Simulator
	source    io.Closer

	server    *httpServerComponent
	lifecycle *LifecycleManager

	replayEnded chan struct{}
	endOnce     sync.Once
	stopOnce    sync.Once
}

// New 从配置文件创建 Container，之后可以热更新该文件
func New(configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg)
	c.cfgPath = configPath
	return c, nil
}

// NewWithConfig 使用已加载的配置创建 Container，不监听配置文件
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:         cfg,
		lifecycle:   NewLifecycleManager(),
		replayEnded: make(chan struct{}),
	}
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildMarket(); err != nil {
		return fmt.Errorf("build market failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildReplay(ctx); err != nil {
		return fmt.Errorf("build replay failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully", zap.String("symbol", c.cfg.Exchange.Symbol))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(c.cfg.Metrics)

	throttle := time.Duration(c.cfg.Alert.ThrottleSeconds) * time.Second
	c.alerts = alert.NewManager([]alert.Channel{
		alert.NewLogChannel("log", c.logger.Named("alert")),
	}, throttle)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildMarket() error {
	strat, err := strategy.New(c.cfg.Exchange.Strategy)
	if err != nil {
		return err
	}
	c.clock = sim.NewClock(c.cfg.Exchange.UseSimulationTime)
	c.book = market.NewOrderBook(market.Options{
		Symbol:   c.cfg.Exchange.Symbol,
		Strategy: strat,
		Logger:   c.logger.Named("book"),
		Metrics:  c.monitor,
		Alerts:   c.alerts,
		Now:      c.clock.Now,
	})
	c.publisher = market.NewPublisher()
	c.book.Subscribe("marketdata", c.publisher)
	if iv := c.cfg.Exchange.BarInterval; iv > 0 {
		c.bars = market.NewBarAggregator(iv, c.cfg.Exchange.BarKeep, c.clock.Now)
		c.book.Subscribe("bars", c.bars)
	}

	c.logger.Info("market built", zap.String("strategy", c.cfg.Exchange.Strategy))
	return nil
}

func (c *Container) buildGateway() error {
	ex := c.cfg.Exchange
	constraints, err := ex.Constraints()
	if err != nil {
		return err
	}
	if ex.TradeLogPath != "" {
		c.tradeLog, err = report.OpenTradeLog(ex.TradeLogPath, report.DefaultTimeLayout)
		if err != nil {
			return err
		}
	}

	c.gateway, err = gateway.New(gateway.Options{
		Book:        c.book,
		Constraints: constraints,
		Clock:       c.clock,
		Logger:      c.logger,
		Metrics:     c.monitor,
		OnClient:    c.onClient,
	})
	if err != nil {
		return err
	}

	var feed *gateway.MarketDataFeed
	if ex.MarketDataBuffer > 0 {
		feed = gateway.NewMarketDataFeed(c.publisher, ex.MarketDataBuffer)
	}
	c.ws = gateway.NewWSServer(c.gateway, feed, gateway.WSOptions{
		DefaultClientID: ex.ClientID,
		SessionRate:     ex.SessionRate,
		SessionBurst:    ex.SessionBurst,
		Logger:          c.logger,
		Metrics:         c.monitor,
	})

	c.logger.Info("gateway built", zap.Bool("trade_log", c.tradeLog != nil), zap.Bool("market_data", feed != nil))
	return nil
}

func (c *Container) onClient(clientID string, p *portfolio.Portfolio) {
	if c.tradeLog != nil {
		c.tradeLog.Attach(p)
	}
	c.logger.Info("client registered", zap.String("client_id", clientID))
}

func (c *Container) buildReplay(ctx context.Context) error {
	r := c.cfg.Replay
	if !r.Enabled {
		return nil
	}
	iv, err := r.Interval()
	if err != nil {
		return err
	}
	src, closer, err := sim.OpenSource(ctx, sim.SourceSpec{
		Kind:          r.Source,
		CSVPath:       r.CSVPath,
		Layout:        r.DateTimeFormat,
		RedisURL:      r.Redis.URL,
		RedisPassword: r.Redis.Password,
		Stream:        r.Redis.Stream,
		PageSize:      r.Redis.PageSize,
	})
	if err != nil {
		return err
	}
	c.source = closer

	c.simulator = sim.New(sim.Config{
		Symbol:   c.cfg.Exchange.Symbol,
		ServerID: c.cfg.Exchange.ServerID,
		Interval: iv,
		Delay:    r.Delay(),
	}, c.book, src, c.clock,
		sim.WithLogger(c.logger.Named("replay")),
		sim.WithMetrics(c.monitor),
		sim.WithAlerts(c.alerts),
	)
	if c.tradeLog != nil {
		c.simulator.OnLifecycle(c.tradeLog.OnLifecycle)
	}
	c.simulator.OnLifecycle(c.onReplayLifecycle)

	c.logger.Info("replay built", zap.String("source", r.Source), zap.Duration("delay", r.Delay()))
	return nil
}

func (c *Container) onReplayLifecycle(l sim.Lifecycle) {
	if l.Type != sim.SimulationStopped {
		return
	}
	fields := map[string]interface{}{"rows": l.Rows}
	if l.Err != nil {
		fields["error"] = l.Err.Error()
	}
	c.logger.LogReplay("replay_finished", fields)
	if c.cfg.Replay.ExitOnEnd {
		c.endOnce.Do(func() { close(c.replayEnded) })
	}
}

func (c *Container) registerLifecycleComponents() {
	c.server = &httpServerComponent{
		name:       "exchange_server",
		handler:    c.Router(),
		addr:       c.cfg.Exchange.ListenAddr,
		logger:     c.logger,
		onShutdown: c.ws.Close,
	}
	c.lifecycle.Register(c.server)

	if c.cfgPath != "" {
		c.lifecycle.Register(&watcherComponent{
			watcher: config.Watcher{
				Path:     c.cfgPath,
				Cooldown: time.Second,
				Log:      c.logger.Named("config"),
			},
			current: c.cfg,
			sim:     c.simulator,
			logger:  c.logger,
		})
	}

	if c.simulator != nil {
		c.lifecycle.Register(&simulatorComponent{sim: c.simulator, logger: c.logger})
	}
}

// Start 启动服务器，然后开始回放
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started", zap.String("addr", c.server.Addr()))
	return nil
}

// Stop 逆序停止组件并释放资源，可重复调用
func (c *Container) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info("stopping container...")

		var errs []error
		if serr := c.lifecycle.StopAll(); serr != nil {
			errs = append(errs, serr)
		}
		c.gateway.Close()
		c.publisher.Close()
		if c.tradeLog != nil {
			if cerr := c.tradeLog.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close trade log: %w", cerr))
			}
		}
		if c.source != nil {
			if cerr := c.source.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close replay source: %w", cerr))
			}
		}
		err = errors.Join(errs...)
		if err != nil {
			c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		}
		c.logger.Info("container stopped")
		_ = c.logger.Close()
	})
	return err
}

// HealthCheck 检查所有组件健康状态
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// ReplayEnded 在 replay.exitOnEnd 开启且回放结束后关闭
func (c *Container) ReplayEnded() <-chan struct{} {
	return c.replayEnded
}

// Addr 返回服务器实际监听地址
func (c *Container) Addr() string {
	if c.server == nil {
		return ""
	}
	return c.server.Addr()
}

// Book 返回订单簿
func (c *Container) Book() *market.OrderBook { return c.book }

// Gateway 返回会话网关
func (c *Container) Gateway() *gateway.Gateway { return c.gateway }

// Monitor 返回指标
func (c *Container) Monitor() *monitor.Monitor { return c.monitor }
