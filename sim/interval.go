package sim

import (
	"errors"
	"fmt"
	"time"
)

// Interval 回放的起止时间，闭区间。
type Interval struct {
	Start time.Time
	End   time.Time
}

// ParseInterval 按 layout 解析起止时间。
func ParseInterval(start, end, layout string) (Interval, error) {
	s, err := time.ParseInLocation(layout, start, time.UTC)
	if err != nil {
		return Interval{}, fmt.Errorf("parse start %q: %w", start, err)
	}
	e, err := time.ParseInLocation(layout, end, time.UTC)
	if err != nil {
		return Interval{}, fmt.Errorf("parse end %q: %w", end, err)
	}
	iv := Interval{Start: s, End: e}
	return iv, iv.Validate()
}

// Validate 检查起止顺序。
func (iv Interval) Validate() error {
	if iv.End.Before(iv.Start) {
		return errors.New("replay end before start")
	}
	return nil
}

// Contains 判断 t 是否落在区间内。
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && !t.After(iv.End)
}
