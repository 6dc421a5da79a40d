package order

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/events"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]*Order
	items   map[string][]Item
	deleted []string

	createErr   error
	addItemsErr error
	// staleWrites makes the next n UpdateState calls fail the guard.
	staleWrites int
	updates     int
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: map[string]*Order{}, items: map[string][]Item{}}
}

func (m *mockOrderRepo) put(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *o
	m.orders[o.ID] = &c
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.put(o)
	return nil
}

func (m *mockOrderRepo) AddItems(_ context.Context, orderID string, items []Item) error {
	if m.addItemsErr != nil {
		return m.addItemsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[orderID] = append(m.items[orderID], items...)
	return nil
}

func (m *mockOrderRepo) Delete(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
	delete(m.items, orderID)
	m.deleted = append(m.deleted, orderID)
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *o
	c.Items = append([]Item(nil), m.items[id]...)
	return &c, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) FindByAWB(_ context.Context, awb string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Shipment.AWB == awb {
			c := *o
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) UpdateState(_ context.Context, o *Order, expected Status, expectedPayment PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleWrites > 0 {
		m.staleWrites--
		return ErrConcurrentUpdate
	}
	cur, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expected || cur.PaymentStatus != expectedPayment {
		return ErrConcurrentUpdate
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.PaymentRef = o.PaymentRef
	cur.PaymentID = o.PaymentID
	cur.CancelReason = o.CancelReason
	cur.CancelledAt = o.CancelledAt
	cur.UpdatedAt = o.UpdatedAt
	m.updates++
	return nil
}

func (m *mockOrderRepo) UpdateShipment(_ context.Context, id string, s Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	cur.Shipment = s
	return nil
}

type mockCatalog struct {
	products []product.Product
	err      error
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, p := range m.products {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type mockCoupons struct {
	mu       sync.Mutex
	coupons  map[string]*coupon.Coupon
	now      time.Time
	redeemed []string
	err      error
}

func (m *mockCoupons) Validate(_ context.Context, code string, subtotal decimal.Decimal) (coupon.Result, error) {
	if m.err != nil {
		return coupon.Result{}, m.err
	}
	c, ok := m.coupons[strings.ToUpper(code)]
	if !ok {
		return coupon.Result{Code: code, Reason: coupon.ReasonNotFound}, nil
	}
	return coupon.Evaluate(c, subtotal, m.now), nil
}

func (m *mockCoupons) Redeem(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redeemed = append(m.redeemed, code)
	return nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *mockPublisher) Publish(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockPublisher) types() []events.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Type, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

var errBoom = errors.New("boom")
