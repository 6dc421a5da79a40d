// Package cart keeps shopper carts: anonymous carts keyed by a session id and
// persisted carts keyed by user id.
package cart

import (
	"context"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/pricing"
)

// ErrNoOwner is returned when a request carries neither a user nor a session.
var ErrNoOwner = apperr.Invalid("session", "a cart session or sign-in is required")

// Key identifies a cart line. VariantID is empty for products without
// variants.
type Key struct {
	ProductID string
	VariantID string
}

// Line is a product (and optional variant) with a quantity.
type Line struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Key returns the identity of the line within a cart.
func (l Line) Key() Key { return Key{ProductID: l.ProductID, VariantID: l.VariantID} }

// Owner identifies whose cart is addressed. UserID takes precedence.
type Owner struct {
	UserID    string
	SessionID string
}

// Authenticated reports whether the owner is a signed-in user.
func (o Owner) Authenticated() bool { return o.UserID != "" }

// Store persists cart lines for a single owner id.
type Store interface {
	Lines(ctx context.Context, owner string) ([]Line, error)
	// Add increments the quantity when the line is already present.
	Add(ctx context.Context, owner string, line Line) error
	// SetQuantity replaces the quantity; qty <= 0 removes the line.
	SetQuantity(ctx context.Context, owner string, key Key, qty int) error
	Remove(ctx context.Context, owner string, key Key) error
	// Clear drops every line and the applied coupon.
	Clear(ctx context.Context, owner string) error
	// Coupon returns the applied coupon or nil.
	Coupon(ctx context.Context, owner string) (*pricing.Applied, error)
	// SetCoupon stores applied; nil clears it.
	SetCoupon(ctx context.Context, owner string, applied *pricing.Applied) error
}
