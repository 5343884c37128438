package sim

import (
	"sync"
	"time"
)

// Clock 是回放推进的模拟时钟，每次运行一个实例。
type Clock struct {
	mu      sync.RWMutex
	t       time.Time
	enabled bool
}

// NewClock enabled 为 false 时 Now 始终返回墙上时间。
func NewClock(enabled bool) *Clock {
	return &Clock{enabled: enabled}
}

// Set 推进到最近回放的事件时间。
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Time 返回模拟时间，尚未推进时第二个返回值为 false。
func (c *Clock) Time() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t, !c.t.IsZero()
}

// Now 启用模拟时间且已推进时返回模拟时间，否则返回墙上时间。
func (c *Clock) Now() time.Time {
	if c == nil || !c.enabled {
		return time.Now()
	}
	if t, ok := c.Time(); ok {
		return t
	}
	return time.Now()
}

// Stamp 启用模拟时间且已推进时返回模拟时间，否则返回 t；t 为零值时取墙上时间。
func (c *Clock) Stamp(t time.Time) time.Time {
	if c != nil && c.enabled {
		if st, ok := c.Time(); ok {
			return st
		}
	}
	if t.IsZero() {
		return time.Now()
	}
	return t
}
