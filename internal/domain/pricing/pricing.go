// Package pricing computes cart and order totals.
//
// The engine is pure: it never performs I/O and is shared by the cart quote
// and by the server-side recomputation done at checkout.
package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	epsilon = decimal.RequireFromString("0.01")
)

// Line is a priced cart line.
type Line struct {
	ProductID         string
	VariantID         string
	UnitPrice         decimal.Decimal
	VariantAdjustment decimal.Decimal
	Quantity          int
}

// Price returns the effective unit price of the line.
func (l Line) Price() decimal.Decimal {
	return l.UnitPrice.Add(l.VariantAdjustment)
}

// Total returns the effective unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.Price().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Applied is a coupon attached to a cart after validation.
type Applied struct {
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	MinPurchase    decimal.Decimal `json:"min_purchase"`
}

// Config holds the shipping policy.
type Config struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// DefaultConfig returns the storefront defaults: free shipping from 999,
// otherwise a flat 99.
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: decimal.NewFromInt(999),
		FlatShippingFee:       decimal.NewFromInt(99),
	}
}

// Breakdown is the result of pricing a cart.
type Breakdown struct {
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Shipping      decimal.Decimal
	Total         decimal.Decimal
	CouponApplied bool
}

// Engine prices carts.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine with the given shipping policy.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Quote prices lines with an optional applied coupon.
//
// The discount only counts while the subtotal meets the coupon minimum and
// never exceeds the subtotal. The total is floored at zero.
func (e *Engine) Quote(lines []Line, applied *Applied) Breakdown {
	if len(lines) == 0 {
		return Breakdown{
			Subtotal: decimal.Zero,
			Discount: decimal.Zero,
			Shipping: decimal.Zero,
			Total:    decimal.Zero,
		}
	}

	subtotal := Subtotal(lines)

	discount := decimal.Zero
	if applied != nil && subtotal.GreaterThanOrEqual(applied.MinPurchase) {
		discount = decimal.Min(applied.DiscountAmount, subtotal)
		discount = floorAtZero(discount)
	}

	shipping := e.cfg.FlatShippingFee
	if subtotal.GreaterThanOrEqual(e.cfg.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	total := floorAtZero(subtotal.Sub(discount).Add(shipping))

	return Breakdown{
		Subtotal:      subtotal.Round(2),
		Discount:      discount.Round(2),
		Shipping:      shipping.Round(2),
		Total:         total.Round(2),
		CouponApplied: discount.IsPositive(),
	}
}

// Subtotal returns the sum of line totals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// Matches reports whether two amounts are equal within one minor unit.
func Matches(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}

// PercentOf returns pct percent of amount rounded to 2 decimal places.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(2)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
