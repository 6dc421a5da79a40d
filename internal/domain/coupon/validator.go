package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator looks coupons up and evaluates them. Validate has no side
// effects; Redeem is the only operation that consumes a use.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate evaluates code against subtotal. An unknown code yields an
// invalid Result, not an error; errors are reserved for lookup failures.
func (v *Validator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Result{Reason: ReasonNotFound}, nil
	}

	c, err := v.repo.FindByCode(ctx, code)
	switch {
	case errors.Is(err, ErrNotFound):
		return Result{Code: code, Reason: ReasonNotFound}, nil
	case err != nil:
		return Result{}, errors.Wrap(err, "lookup coupon")
	}

	return Evaluate(c, subtotal, v.now()), nil
}

// Redeem consumes one use of the coupon.
func (v *Validator) Redeem(ctx context.Context, code string) error {
	if err := v.repo.IncrementUses(ctx, code); err != nil {
		return errors.Wrapf(err, "redeem coupon %q", code)
	}
	return nil
}
