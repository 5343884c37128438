package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"exchange-sim/infrastructure/alert"
	"exchange-sim/infrastructure/logger"
	"exchange-sim/infrastructure/monitor"
	"exchange-sim/order"
	"exchange-sim/sim"
)

// EnvPrefix 环境变量覆盖的统一前缀，例如 EXSIM_REPLAY_DELAY_MS。
const EnvPrefix = "EXSIM_"

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Exchange ExchangeConfig `yaml:"exchange" envPrefix:"EXCHANGE_"`
	Replay   ReplayConfig   `yaml:"replay" envPrefix:"REPLAY_"`
	Log      logger.Config  `yaml:"log" envPrefix:"LOG_"`
	Metrics  monitor.Config `yaml:"metrics" envPrefix:"METRICS_"`
	Alert    alert.Config   `yaml:"alert" envPrefix:"ALERT_"`
}

// ExchangeConfig 交易所与撮合相关参数。
type ExchangeConfig struct {
	Symbol            string `yaml:"symbol" env:"SYMBOL"`
	ServerID          string `yaml:"serverID" env:"SERVER_ID"` // 回放订单的 clientID/account
	ClientID          string `yaml:"clientID" env:"CLIENT_ID"` // 未声明身份的会话使用的 clientID
	ListenAddr        string `yaml:"listenAddr" env:"LISTEN_ADDR"`
	UseSimulationTime bool   `yaml:"useSimulationTime" env:"USE_SIMULATION_TIME"`
	Strategy          string `yaml:"strategy" env:"STRATEGY"`
	TickSize          string `yaml:"tickSize" env:"TICK_SIZE"`
	MinQty            int64  `yaml:"minQty" env:"MIN_QTY"`
	MaxQty            int64  `yaml:"maxQty" env:"MAX_QTY"`
	MarketDataBuffer  int    `yaml:"marketDataBuffer" env:"MARKET_DATA_BUFFER"`
	TradeLogPath      string `yaml:"tradeLogPath" env:"TRADE_LOG_PATH"`
	// 成交 K 线周期，0 表示关闭
	BarInterval time.Duration `yaml:"barInterval" env:"BAR_INTERVAL"`
	BarKeep     int           `yaml:"barKeep" env:"BAR_KEEP"`
	// 每个会话的入站限速，0 表示不限速
	SessionRate  float64 `yaml:"sessionRate" env:"SESSION_RATE"`
	SessionBurst int     `yaml:"sessionBurst" env:"SESSION_BURST"`
}

// ReplayConfig 历史回放参数。
type ReplayConfig struct {
	Enabled        bool        `yaml:"enabled" env:"ENABLED"`
	Source         string      `yaml:"source" env:"SOURCE"` // csv | redis
	CSVPath        string      `yaml:"csvPath" env:"CSV_PATH"`
	Redis          RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	Start          string      `yaml:"start" env:"START"`
	End            string      `yaml:"end" env:"END"`
	DateTimeFormat string      `yaml:"dateTimeFormat" env:"DATE_TIME_FORMAT"`
	DelayMs        int         `yaml:"delayMs" env:"DELAY_MS"`
	ExitOnEnd      bool        `yaml:"exitOnEnd" env:"EXIT_ON_END"`
}

// RedisConfig 回放归档所在的 Redis Stream。
type RedisConfig struct {
	URL      string `yaml:"url" env:"URL"`
	Password string `yaml:"password" env:"PASSWORD"`
	Stream   string `yaml:"stream" env:"STREAM"`
	PageSize int64  `yaml:"pageSize" env:"PAGE_SIZE"`
}

// Default 返回默认配置，YAML 只需覆盖差异部分。
func Default() AppConfig {
	return AppConfig{
		Exchange: ExchangeConfig{
			ServerID:         "exchange",
			ClientID:         "client",
			ListenAddr:       ":8080",
			Strategy:         "price_time",
			MarketDataBuffer: 1024,
			BarInterval:      time.Minute,
			BarKeep:          1440,
		},
		Replay: ReplayConfig{
			Source:         "csv",
			DateTimeFormat: "2006-01-02 15:04:05",
			DelayMs:        1000,
			Redis: RedisConfig{
				URL:      "redis://localhost:6379",
				PageSize: 500,
			},
		},
		Log:     logger.DefaultConfig(),
		Metrics: monitor.DefaultConfig(),
		Alert:   alert.Config{ThrottleSeconds: 60},
	}
}

// Load reads YAML config from path, applies EXSIM_* env overrides and validates.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env overrides: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Delay 每模拟秒的回放休眠。
func (r ReplayConfig) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}

// Interval 按 DateTimeFormat 解析回放区间。
func (r ReplayConfig) Interval() (sim.Interval, error) {
	return sim.ParseInterval(r.Start, r.End, r.DateTimeFormat)
}

// Constraints 返回品种的价格/数量约束；未配置 tickSize 时不检查价格精度。
func (e ExchangeConfig) Constraints() (order.SymbolConstraints, error) {
	c := order.SymbolConstraints{MinQty: e.MinQty, MaxQty: e.MaxQty}
	if e.TickSize == "" {
		return c, nil
	}
	tick, err := decimal.NewFromString(e.TickSize)
	if err != nil {
		return c, fmt.Errorf("exchange.tickSize: %w", err)
	}
	c.TickSize = tick
	return c, nil
}

// RestartRequired 列出除 replay.delayMs 之外发生变化的配置段，这些变更需要重启才生效。
func RestartRequired(prev, next AppConfig) []string {
	prevReplay, nextReplay := prev.Replay, next.Replay
	prevReplay.DelayMs, nextReplay.DelayMs = 0, 0

	var out []string
	if !reflect.DeepEqual(prev.Exchange, next.Exchange) {
		out = append(out, "exchange")
	}
	if !reflect.DeepEqual(prevReplay, nextReplay) {
		out = append(out, "replay")
	}
	if !reflect.DeepEqual(prev.Log, next.Log) {
		out = append(out, "log")
	}
	if !reflect.DeepEqual(prev.Metrics, next.Metrics) {
		out = append(out, "metrics")
	}
	if !reflect.DeepEqual(prev.Alert, next.Alert) {
		out = append(out, "alert")
	}
	return out
}
