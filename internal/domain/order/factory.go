package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/events"
)

// CouponRedeemer validates coupons at checkout and consumes them once paid.
type CouponRedeemer interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (coupon.Result, error)
	Redeem(ctx context.Context, code string) error
}

// CreateRequest is a checkout submission. ClientSubtotal and ClientTotal are
// what the shopper saw; they must agree with the server-side recomputation.
type CreateRequest struct {
	UserID         string
	Lines          []cart.Line
	Address        Address
	Contact        Contact
	PaymentMethod  PaymentMethod
	CouponCode     string
	ClientSubtotal decimal.Decimal
	ClientTotal    decimal.Decimal
}

// Factory turns a validated checkout submission into a persisted order.
type Factory struct {
	products product.Repository
	coupons  CouponRedeemer
	orders   Repository
	engine   *pricing.Engine
	events   events.Publisher
	validate *validator.Validate
	now      func() time.Time
}

// NewFactory creates an order Factory.
func NewFactory(
	products product.Repository,
	coupons CouponRedeemer,
	orders Repository,
	engine *pricing.Engine,
	publisher events.Publisher,
) *Factory {
	return &Factory{
		products: products,
		coupons:  coupons,
		orders:   orders,
		engine:   engine,
		events:   publisher,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Create validates req, recomputes its price and persists the order. Nothing
// is written unless every check passes; a failure while writing items
// removes the header again.
func (f *Factory) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if err := f.validateRequest(req); err != nil {
		return nil, err
	}

	priced, err := cart.Price(ctx, f.products, req.Lines)
	if err != nil {
		return nil, err
	}
	for _, p := range priced {
		if !p.InStock {
			return nil, apperr.Invalid("items", fmt.Sprintf("%s is out of stock", displayName(p)))
		}
	}
	lines := cart.PricingLines(priced)
	subtotal := pricing.Subtotal(lines)

	// Coupons are re-validated here: the one applied to the cart may have
	// expired or run out since.
	var applied *pricing.Applied
	code := strings.ToUpper(strings.TrimSpace(req.CouponCode))
	if code != "" {
		res, err := f.coupons.Validate(ctx, code, subtotal)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		if !res.Valid {
			return nil, apperr.Invalid("coupon_code", res.Reason.Message())
		}
		applied = res.Applied()
		code = res.Code
	}

	quote := f.engine.Quote(lines, applied)
	if !pricing.Matches(quote.Subtotal, req.ClientSubtotal) || !pricing.Matches(quote.Total, req.ClientTotal) {
		zctx.From(ctx).Info("Rejecting checkout with mismatched totals",
			zap.String("client_total", req.ClientTotal.String()),
			zap.String("server_total", quote.Total.String()),
		)
		return nil, ErrTotalMismatch
	}
	if !quote.CouponApplied {
		code = ""
	}

	now := f.now().UTC()
	o := &Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Contact:       req.Contact,
		Address:       req.Address,
		Subtotal:      quote.Subtotal,
		Discount:      quote.Discount,
		ShippingCost:  quote.Shipping,
		Total:         quote.Total,
		CouponCode:    code,
		PaymentMethod: req.PaymentMethod,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.PaymentMethod == MethodCOD {
		o.PaymentStatus = PaymentUnpaid
	}
	o.Items = snapshotItems(o.ID, priced)

	if err := f.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	if err := f.orders.AddItems(ctx, o.ID, o.Items); err != nil {
		if delErr := f.orders.Delete(ctx, o.ID); delErr != nil {
			zctx.From(ctx).Error("Compensating delete failed",
				zap.String("order_id", o.ID),
				zap.Error(delErr),
			)
		}
		return nil, errors.Wrap(err, "add order items")
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	lg.Info("Order created",
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.String("total", o.Total.String()),
	)

	// Cash on delivery never reaches payment confirmation, so the coupon
	// is consumed at placement.
	if o.PaymentMethod == MethodCOD && o.CouponCode != "" {
		if err := f.coupons.Redeem(ctx, o.CouponCode); err != nil {
			lg.Warn("Redeem coupon", zap.String("coupon", o.CouponCode), zap.Error(err))
		}
	}

	events.Emit(ctx, f.events, events.Event{
		Type:          events.OrderCreated,
		OrderID:       o.ID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		OccurredAt:    now,
		Attributes: map[string]string{
			"payment_method": string(o.PaymentMethod),
			"total":          o.Total.StringFixed(2),
		},
	})

	return o, nil
}

func (f *Factory) validateRequest(req CreateRequest) error {
	if len(req.Lines) == 0 {
		return apperr.Invalid("items", "Your cart is empty.")
	}
	seen := make(map[cart.Key]struct{}, len(req.Lines))
	for _, l := range req.Lines {
		if l.Quantity < 1 {
			return apperr.Invalid("items", fmt.Sprintf("quantity must be at least 1 for product %s", l.ProductID))
		}
		if _, dup := seen[l.Key()]; dup {
			return apperr.Invalid("items", fmt.Sprintf("product %s is listed more than once", l.ProductID))
		}
		seen[l.Key()] = struct{}{}
	}
	if !req.PaymentMethod.Valid() {
		return apperr.Invalid("payment_method", "Please choose a supported payment method.")
	}
	if err := f.validate.Struct(req.Address); err != nil {
		return fieldError("address", err)
	}
	if err := f.validate.Struct(req.Contact); err != nil {
		return fieldError("contact", err)
	}
	return nil
}

var fieldLabels = map[string]string{
	"Line1":      "address line 1",
	"City":       "city",
	"State":      "state",
	"PostalCode": "postal code",
	"Name":       "name",
	"Email":      "email",
	"Phone":      "phone",
}

func fieldError(group string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Invalid(group, "invalid "+group)
	}
	fe := verrs[0]
	label := fieldLabels[fe.Field()]
	if label == "" {
		label = strings.ToLower(fe.Field())
	}
	switch fe.Tag() {
	case "required_without":
		return apperr.Invalid(group, "Please provide an email address or a phone number.")
	case "email":
		return apperr.Invalid(group, "Please provide a valid email address.")
	default:
		return apperr.Invalid(group, fmt.Sprintf("Please provide a %s.", label))
	}
}

func snapshotItems(orderID string, priced []cart.PricedLine) []Item {
	items := make([]Item, len(priced))
	for i, p := range priced {
		items[i] = Item{
			OrderID:     orderID,
			ProductID:   p.ProductID,
			VariantID:   p.VariantID,
			ProductName: p.ProductName,
			VariantName: p.VariantName,
			Quantity:    p.Quantity,
			UnitPrice:   p.Pricing.Price().Round(2),
			LineTotal:   p.Pricing.Total().Round(2),
		}
	}
	return items
}

func displayName(p cart.PricedLine) string {
	if p.VariantName != "" {
		return p.ProductName + " (" + p.VariantName + ")"
	}
	return p.ProductName
}
