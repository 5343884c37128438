package config

import (
	"fmt"

	"exchange-sim/sim"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present and consistent.
func Validate(cfg AppConfig) error {
	ex := cfg.Exchange
	if ex.Symbol == "" {
		return ErrInvalid("exchange.symbol is required")
	}
	if ex.ServerID == "" {
		return ErrInvalid("exchange.serverID is required")
	}
	if ex.ListenAddr == "" {
		return ErrInvalid("exchange.listenAddr is required")
	}
	if ex.MinQty < 0 || ex.MaxQty < 0 {
		return ErrInvalid("exchange qty bounds must be >= 0")
	}
	if ex.MaxQty > 0 && ex.MinQty > ex.MaxQty {
		return ErrInvalid("exchange.minQty must be <= maxQty")
	}
	if ex.MarketDataBuffer < 0 {
		return ErrInvalid("exchange.marketDataBuffer must be >= 0")
	}
	if ex.BarInterval < 0 || ex.BarKeep < 0 {
		return ErrInvalid("exchange bar interval/keep must be >= 0")
	}
	if ex.SessionRate < 0 || ex.SessionBurst < 0 {
		return ErrInvalid("exchange session rate/burst must be >= 0")
	}
	c, err := ex.Constraints()
	if err != nil {
		return ErrInvalid(err.Error())
	}
	if c.TickSize.IsNegative() {
		return ErrInvalid("exchange.tickSize must be > 0")
	}

	r := cfg.Replay
	if !r.Enabled {
		return nil
	}
	switch r.Source {
	case "csv":
		if r.CSVPath == "" {
			return ErrInvalid("replay.csvPath is required for csv source")
		}
	case "redis":
		if r.Redis.URL == "" || r.Redis.Stream == "" {
			return ErrInvalid("replay.redis.url/stream is required for redis source")
		}
	default:
		return ErrInvalid(fmt.Sprintf("replay.source %q must be csv or redis", r.Source))
	}
	if r.Delay() < sim.MinDelay {
		return ErrInvalid(fmt.Sprintf("replay.delayMs must be >= %d", sim.MinDelay.Milliseconds()))
	}
	if _, err := r.Interval(); err != nil {
		return ErrInvalid(fmt.Sprintf("replay interval: %v", err))
	}
	return nil
}
