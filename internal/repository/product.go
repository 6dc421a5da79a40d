package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price, category, in_stock
		FROM products WHERE id = ANY($1)`

	getVariantsByProductIDsSQL = `SELECT id, product_id, name, price_adjustment, in_stock
		FROM product_variants WHERE product_id = ANY($1) ORDER BY id`

	upsertProductSQL = `INSERT INTO products (id, name, price, category, in_stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price,
		    category = EXCLUDED.category, in_stock = EXCLUDED.in_stock`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, name, price_adjustment, in_stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET product_id = EXCLUDED.product_id, name = EXCLUDED.name,
		    price_adjustment = EXCLUDED.price_adjustment, in_stock = EXCLUDED.in_stock`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns products matching any of the given IDs together with
// their variants. Unknown ids are omitted.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	if len(products) == 0 {
		return products, nil
	}

	rows, err = r.pool.Query(ctx, getVariantsByProductIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting variants: %w", err)
	}
	variants, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return nil, fmt.Errorf("getting variants: %w", err)
	}

	index := make(map[string]int, len(products))
	for i := range products {
		index[products[i].ID] = i
	}
	for _, v := range variants {
		if i, ok := index[v.ProductID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	return products, nil
}

// Upsert inserts or replaces a product and its variants in one transaction.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Category, p.InStock); err != nil {
			return fmt.Errorf("upserting product %q: %w", p.ID, err)
		}
		batch := &pgx.Batch{}
		for _, v := range p.Variants {
			batch.Queue(upsertVariantSQL, v.ID, p.ID, v.Name, v.PriceAdjustment, v.InStock)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting variants of %q: %w", p.ID, err)
		}
		return nil
	})
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.InStock)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (product.Variant, error) {
	var v product.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.PriceAdjustment, &v.InStock)
	return v, err
}
