package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const orderColumns = `id, COALESCE(user_id, ''), contact_name, contact_email, contact_phone,
	address_line1, address_line2, city, state, postal_code, country,
	subtotal, discount, shipping_cost, total, coupon_code,
	payment_method, status, payment_status, payment_ref, payment_id,
	cancel_reason, cancelled_at,
	courier, awb, carrier_response, shipment_created_at, shipment_status, shipment_cancelled_at,
	created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, contact_name, contact_email, contact_phone,
		address_line1, address_line2, city, state, postal_code, country,
		subtotal, discount, shipping_cost, total, coupon_code,
		payment_method, status, payment_status, payment_ref, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, variant_id, product_name,
		variant_name, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByAWBSQL = `SELECT ` + orderColumns + ` FROM orders WHERE awb = $1 AND awb <> ''`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC`

	getOrderItemsSQL = `SELECT id, order_id, product_id, variant_id, product_name, variant_name,
		quantity, unit_price, line_total
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`

	updateOrderStateSQL = `UPDATE orders
		SET status = $2, payment_status = $3, payment_ref = $4, payment_id = $5,
		    cancel_reason = $6, cancelled_at = $7, updated_at = $8
		WHERE id = $1 AND status = $9 AND payment_status = $10`

	updateShipmentSQL = `UPDATE orders
		SET courier = $2, awb = $3, carrier_response = $4, shipment_created_at = $5,
		    shipment_status = $6, shipment_cancelled_at = $7, updated_at = $8
		WHERE id = $1 AND (shipment_created_at IS NULL OR shipment_created_at = $5)`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

// Create persists the order header.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.now().UTC()
	}
	o.UpdatedAt = o.CreatedAt

	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Contact.Name, o.Contact.Email, o.Contact.Phone,
		o.Address.Line1, o.Address.Line2, o.Address.City, o.Address.State, o.Address.PostalCode, o.Address.Country,
		o.Subtotal, o.Discount, o.ShippingCost, o.Total, o.CouponCode,
		string(o.PaymentMethod), string(o.Status), string(o.PaymentStatus), o.PaymentRef, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// AddItems inserts the order lines in one transaction.
func (r *OrderRepository) AddItems(ctx context.Context, orderID string, items []order.Item) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, it := range items {
			batch.Queue(insertOrderItemSQL,
				orderID, it.ProductID, it.VariantID, it.ProductName, it.VariantName,
				it.Quantity, it.UnitPrice, it.LineTotal,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("adding items to order %q: %w", orderID, err)
		}
		return nil
	})
}

// Delete removes an order; its items cascade.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if _, err := r.pool.Exec(ctx, deleteOrderSQL, orderID); err != nil {
		return fmt.Errorf("deleting order %q: %w", orderID, err)
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderSQL, id)
}

// FindByAWB returns the order whose shipment carries the tracking id.
func (r *OrderRepository) FindByAWB(ctx context.Context, awb string) (*order.Order, error) {
	return r.one(ctx, getOrderByAWBSQL, awb)
}

func (r *OrderRepository) one(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("getting order items: %w", err)
	}
	for _, it := range items {
		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return nil
}

// UpdateState writes the status, payment and cancellation fields if the
// stored statuses still match the expected ones.
func (r *OrderRepository) UpdateState(ctx context.Context, o *order.Order, expected order.Status, expectedPayment order.PaymentStatus) error {
	o.UpdatedAt = r.now().UTC()
	tag, err := r.pool.Exec(ctx, updateOrderStateSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), o.PaymentRef, o.PaymentID,
		o.CancelReason, o.CancelledAt, o.UpdatedAt,
		string(expected), string(expectedPayment),
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missingOr(ctx, o.ID, order.ErrConcurrentUpdate)
}

// UpdateShipment writes the embedded shipment fields.
func (r *OrderRepository) UpdateShipment(ctx context.Context, id string, s order.Shipment) error {
	tag, err := r.pool.Exec(ctx, updateShipmentSQL,
		id, s.Courier, s.AWB, rawJSON(s.CarrierResponse), s.CreatedAt, s.Status, s.CancelledAt, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("updating shipment of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, id, order.ErrShipmentAlreadyCreated)
	}
	return nil
}

func (r *OrderRepository) missingOr(ctx context.Context, id string, otherwise error) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return otherwise
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                             order.Order
		method, status, paymentStatus string
		carrierResponse               []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Contact.Name, &o.Contact.Email, &o.Contact.Phone,
		&o.Address.Line1, &o.Address.Line2, &o.Address.City, &o.Address.State, &o.Address.PostalCode, &o.Address.Country,
		&o.Subtotal, &o.Discount, &o.ShippingCost, &o.Total, &o.CouponCode,
		&method, &status, &paymentStatus, &o.PaymentRef, &o.PaymentID,
		&o.CancelReason, &o.CancelledAt,
		&o.Shipment.Courier, &o.Shipment.AWB, &carrierResponse,
		&o.Shipment.CreatedAt, &o.Shipment.Status, &o.Shipment.CancelledAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.PaymentMethod = order.PaymentMethod(method)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Shipment.CarrierResponse = carrierResponse
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.ProductName, &it.VariantName,
		&it.Quantity, &it.UnitPrice, &it.LineTotal,
	)
	return it, err
}
