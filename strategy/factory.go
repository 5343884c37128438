package strategy

import "errors"

// Type 撮合规则名称。
type Type string

const (
	PriceTimeStrategy Type = "price_time"
)

// New 按名称创建撮合规则，空名称使用价格时间优先。
func New(name string) (ExecutionStrategy, error) {
	switch Type(name) {
	case "", PriceTimeStrategy:
		return NewPriceTime(), nil
	default:
		return nil, errors.New("unknown execution strategy: " + name)
	}
}
