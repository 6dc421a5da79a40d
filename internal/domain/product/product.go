package product

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/apperr"
)

// ErrNotFound is returned when a requested product or variant does not exist.
var ErrNotFound = apperr.NotFound("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	InStock  bool
	Variants []Variant
}

// Variant is a purchasable option of a product (size, colour). Its price is
// the product price plus PriceAdjustment.
type Variant struct {
	ID              string
	ProductID       string
	Name            string
	PriceAdjustment decimal.Decimal
	InStock         bool
}

// Variant returns the variant with the given id.
func (p *Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetByIDs returns the products with the given ids, variants included.
	// Unknown ids are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// NotFoundError names the product (and variant) that could not be resolved.
type NotFoundError struct {
	ProductID string
	VariantID string
}

func (e *NotFoundError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("product %s variant %s not found", e.ProductID, e.VariantID)
	}
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound || target == apperr.ErrNotFound
}
