package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrQuantity 数量不合法。
	ErrQuantity = errors.New("incorrect quantity")
	// ErrPrice 价格不合法。
	ErrPrice = errors.New("incorrect price")
)

// SymbolConstraints 描述标的的价格步长与数量范围。
type SymbolConstraints struct {
	TickSize decimal.Decimal
	MinQty   int64
	MaxQty   int64
}

// Validate 检查订单价格/数量；市价单不检查价格。
func (c SymbolConstraints) Validate(price decimal.Decimal, qty int64, market bool) error {
	if qty <= 0 {
		return fmt.Errorf("%w: qty %d <= 0", ErrQuantity, qty)
	}
	if c.MinQty > 0 && qty < c.MinQty {
		return fmt.Errorf("%w: qty %d < minQty %d", ErrQuantity, qty, c.MinQty)
	}
	if c.MaxQty > 0 && qty > c.MaxQty {
		return fmt.Errorf("%w: qty %d > maxQty %d", ErrQuantity, qty, c.MaxQty)
	}
	if market {
		return nil
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price %s <= 0", ErrPrice, price)
	}
	if c.TickSize.IsPositive() && !price.Mod(c.TickSize).IsZero() {
		return fmt.Errorf("%w: price %s not aligned to tickSize %s", ErrPrice, price, c.TickSize)
	}
	return nil
}
