// Package handler exposes the order and payment operations over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/shipment"
)

// Carts is the cart service.
type Carts interface {
	Lines(ctx context.Context, o cart.Owner) ([]cart.Line, error)
	Add(ctx context.Context, o cart.Owner, line cart.Line) error
	SetQuantity(ctx context.Context, o cart.Owner, key cart.Key, qty int) error
	Remove(ctx context.Context, o cart.Owner, key cart.Key) error
	Clear(ctx context.Context, o cart.Owner) error
	Merge(ctx context.Context, sessionID, userID string) error
	Quote(ctx context.Context, o cart.Owner) (*cart.Quote, error)
	ApplyCoupon(ctx context.Context, o cart.Owner, code string) (coupon.Result, error)
	RemoveCoupon(ctx context.Context, o cart.Owner) error
}

// Coupons validates coupon codes.
type Coupons interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (coupon.Result, error)
}

// Checkout creates orders.
type Checkout interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
}

// Orders reads and transitions orders.
type Orders interface {
	GetAs(ctx context.Context, id string, actor order.Actor) (*order.Order, error)
	ListByOwner(ctx context.Context, userID string) ([]order.Order, error)
	Cancel(ctx context.Context, id string, actor order.Actor, reason string) (*order.Order, error)
	SetStatus(ctx context.Context, id string, status order.Status) (*order.Order, error)
	AssignTracking(ctx context.Context, id, courier, awb string) (*order.Order, error)
}

// Payments runs payment flows.
type Payments interface {
	Methods() []order.PaymentMethod
	Initiate(ctx context.Context, orderID string, actor order.Actor, params payment.IntentParams) (*payment.Intent, error)
	Verify(ctx context.Context, req payment.VerifyRequest) (*payment.Result, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
}

// Shipments books and cancels carrier shipments.
type Shipments interface {
	Create(ctx context.Context, orderID string) (*shipment.Result, error)
	Cancel(ctx context.Context, ref string) (*order.Order, error)
	Label(ctx context.Context, orderID string) ([]byte, error)
}

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Verify(raw string) (auth.Identity, error)
}

// Deps are the services behind the handlers.
type Deps struct {
	Carts     Carts
	Coupons   Coupons
	Checkout  Checkout
	Orders    Orders
	Payments  Payments
	Shipments Shipments
	Auth      Authenticator
}

// Handler serves the HTTP API.
type Handler struct {
	carts     Carts
	coupons   Coupons
	checkout  Checkout
	orders    Orders
	payments  Payments
	shipments Shipments
	auth      Authenticator
}

// New creates a Handler.
func New(d Deps) *Handler {
	return &Handler{
		carts:     d.Carts,
		coupons:   d.Coupons,
		checkout:  d.Checkout,
		orders:    d.Orders,
		payments:  d.Payments,
		shipments: d.Shipments,
		auth:      d.Auth,
	}
}

// Routes returns the router for everything under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		// Signed by the gateway, not the shopper.
		r.Post("/webhooks/razorpay", h.razorpayWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.identify)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.getCart)
				r.Delete("/", h.clearCart)
				r.Post("/items", h.addCartItem)
				r.Patch("/items/{productID}", h.setCartItem)
				r.Delete("/items/{productID}", h.removeCartItem)
				r.With(requireUser).Post("/merge", h.mergeCart)
				r.Post("/coupon", h.applyCoupon)
				r.Delete("/coupon", h.removeCoupon)
			})

			r.Post("/coupons/validate", h.validateCoupon)
			r.Get("/payments/methods", h.paymentMethods)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.createOrder)
				r.With(requireUser).Get("/", h.listOrders)
				r.Get("/{id}", h.getOrder)
				r.Post("/{id}/cancel", h.cancelOrder)
				r.Post("/{id}/payment", h.initiatePayment)
				r.Post("/{id}/payment/verify", h.verifyPayment)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/orders/{id}/status", h.setStatus)
				r.Post("/orders/{id}/tracking", h.assignTracking)
				r.Post("/orders/{id}/shipment", h.createShipment)
				r.Get("/orders/{id}/shipment/label", h.shipmentLabel)
				r.Post("/shipments/{ref}/cancel", h.cancelShipment)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: http.StatusNotFound, Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: http.StatusMethodNotAllowed, Message: "method not allowed"})
	})
	return r
}
