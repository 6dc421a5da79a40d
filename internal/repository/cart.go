package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/pricing"
)

const (
	listCartLinesSQL = `SELECT product_id, variant_id, quantity
		FROM cart_lines WHERE user_id = $1 ORDER BY added_at, product_id, variant_id`

	addCartLineSQL = `INSERT INTO cart_lines (user_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id, variant_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity`

	setCartLineSQL = `INSERT INTO cart_lines (user_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id, variant_id)
		DO UPDATE SET quantity = EXCLUDED.quantity`

	removeCartLineSQL = `DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2 AND variant_id = $3`

	clearCartLinesSQL = `DELETE FROM cart_lines WHERE user_id = $1`

	getCartCouponSQL = `SELECT code, discount_amount, min_purchase FROM cart_coupons WHERE user_id = $1`

	setCartCouponSQL = `INSERT INTO cart_coupons (user_id, code, discount_amount, min_purchase)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET code = EXCLUDED.code, discount_amount = EXCLUDED.discount_amount,
		    min_purchase = EXCLUDED.min_purchase`

	clearCartCouponSQL = `DELETE FROM cart_coupons WHERE user_id = $1`
)

var _ cart.Store = (*CartRepository)(nil)

// CartRepository is the persisted cart of signed-in users.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartLinesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.VariantID, &l.Quantity)
		return l, err
	})
}

func (r *CartRepository) Add(ctx context.Context, userID string, line cart.Line) error {
	if _, err := r.pool.Exec(ctx, addCartLineSQL, userID, line.ProductID, line.VariantID, line.Quantity); err != nil {
		return fmt.Errorf("adding to cart of %q: %w", userID, err)
	}
	return nil
}

func (r *CartRepository) SetQuantity(ctx context.Context, userID string, key cart.Key, qty int) error {
	if qty <= 0 {
		return r.Remove(ctx, userID, key)
	}
	if _, err := r.pool.Exec(ctx, setCartLineSQL, userID, key.ProductID, key.VariantID, qty); err != nil {
		return fmt.Errorf("updating cart of %q: %w", userID, err)
	}
	return nil
}

func (r *CartRepository) Remove(ctx context.Context, userID string, key cart.Key) error {
	if _, err := r.pool.Exec(ctx, removeCartLineSQL, userID, key.ProductID, key.VariantID); err != nil {
		return fmt.Errorf("removing from cart of %q: %w", userID, err)
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearCartLinesSQL, userID); err != nil {
			return fmt.Errorf("clearing cart of %q: %w", userID, err)
		}
		if _, err := tx.Exec(ctx, clearCartCouponSQL, userID); err != nil {
			return fmt.Errorf("clearing coupon of %q: %w", userID, err)
		}
		return nil
	})
}

func (r *CartRepository) Coupon(ctx context.Context, userID string) (*pricing.Applied, error) {
	var a pricing.Applied
	err := r.pool.QueryRow(ctx, getCartCouponSQL, userID).Scan(&a.Code, &a.DiscountAmount, &a.MinPurchase)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting coupon of %q: %w", userID, err)
	}
	return &a, nil
}

func (r *CartRepository) SetCoupon(ctx context.Context, userID string, applied *pricing.Applied) error {
	var err error
	if applied == nil {
		_, err = r.pool.Exec(ctx, clearCartCouponSQL, userID)
	} else {
		_, err = r.pool.Exec(ctx, setCartCouponSQL, userID, applied.Code, applied.DiscountAmount, applied.MinPurchase)
	}
	if err != nil {
		return fmt.Errorf("setting coupon of %q: %w", userID, err)
	}
	return nil
}
