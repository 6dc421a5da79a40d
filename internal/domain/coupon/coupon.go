package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/apperr"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned by Repository.FindByCode for unknown codes.
	ErrNotFound = apperr.NotFound("coupon not found")
	// ErrUsageLimitReached is returned by Repository.IncrementUses when the
	// coupon has no uses left.
	ErrUsageLimitReached = apperr.Conflict("coupon usage limit reached")
)

// Coupon is a discount code and its eligibility constraints.
type Coupon struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	// MaxUses of zero means unlimited.
	MaxUses     int
	UsedCount   int
	Active      bool
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Description string
}

// Repository provides lookup and redemption of coupons.
type Repository interface {
	// FindByCode matches the code case-insensitively.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUses bumps the usage counter unless it already reached
	// MaxUses, in which case ErrUsageLimitReached is returned.
	IncrementUses(ctx context.Context, code string) error
}
