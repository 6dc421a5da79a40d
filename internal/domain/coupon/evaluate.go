package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/pricing"
)

// Reason explains why a coupon was rejected.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonNotYetValid       Reason = "not_yet_valid"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonMinimumNotMet     Reason = "minimum_not_met"
)

// Message returns a shopper facing explanation.
func (r Reason) Message() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonNotFound:
		return "This coupon code does not exist."
	case ReasonInactive:
		return "This coupon is no longer active."
	case ReasonNotYetValid:
		return "This coupon is not valid yet."
	case ReasonExpired:
		return "This coupon has expired."
	case ReasonUsageLimitReached:
		return "This coupon has reached its usage limit."
	case ReasonMinimumNotMet:
		return "Your cart does not meet the minimum purchase for this coupon."
	default:
		return "This coupon cannot be applied."
	}
}

// Result is the outcome of evaluating a coupon against a subtotal.
type Result struct {
	Valid       bool
	Code        string
	Discount    decimal.Decimal
	MinPurchase decimal.Decimal
	Reason      Reason
	// MissingAmount is how much more the shopper must spend when the minimum
	// purchase is not met.
	MissingAmount decimal.Decimal
}

// Applied converts a valid result into the coupon attached to a cart.
func (r Result) Applied() *pricing.Applied {
	if !r.Valid {
		return nil
	}
	return &pricing.Applied{
		Code:           r.Code,
		DiscountAmount: r.Discount,
		MinPurchase:    r.MinPurchase,
	}
}

// Evaluate checks c against subtotal at time now. A nil coupon is reported
// as not found. Checks run in a fixed order and the first failure wins.
func Evaluate(c *Coupon, subtotal decimal.Decimal, now time.Time) Result {
	if c == nil {
		return Result{Reason: ReasonNotFound}
	}
	res := Result{
		Code:        c.Code,
		Discount:    decimal.Zero,
		MinPurchase: c.MinPurchase,
	}

	switch {
	case !c.Active:
		res.Reason = ReasonInactive
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		res.Reason = ReasonNotYetValid
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		res.Reason = ReasonExpired
	case c.MaxUses > 0 && c.UsedCount >= c.MaxUses:
		res.Reason = ReasonUsageLimitReached
	case subtotal.LessThan(c.MinPurchase):
		res.Reason = ReasonMinimumNotMet
		res.MissingAmount = c.MinPurchase.Sub(subtotal).Round(2)
	default:
		res.Valid = true
		res.Discount = Apply(c, subtotal)
	}
	return res
}

// Apply calculates the discount c grants on subtotal, ignoring eligibility.
func Apply(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = pricing.PercentOf(subtotal, c.Value)
	case DiscountFixed:
		amount = decimal.Min(c.Value, subtotal)
	default:
		return decimal.Zero
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}
