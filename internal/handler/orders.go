package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
)

type createOrderRequest struct {
	// Items defaults to the caller's cart when empty.
	Items         []cart.Line         `json:"items"`
	Address       order.Address       `json:"address"`
	Contact       order.Contact       `json:"contact"`
	PaymentMethod order.PaymentMethod `json:"payment_method"`
	CouponCode    string              `json:"coupon_code"`
	Subtotal      decimal.Decimal     `json:"subtotal"`
	Total         decimal.Decimal     `json:"total"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	o := owner(r)

	fromCart := len(req.Items) == 0
	if fromCart {
		lines, err := h.carts.Lines(ctx, o)
		if err != nil {
			writeError(w, r, err)
			return
		}
		req.Items = lines
	}

	created, err := h.checkout.Create(ctx, order.CreateRequest{
		UserID:         o.UserID,
		Lines:          req.Items,
		Address:        req.Address,
		Contact:        req.Contact,
		PaymentMethod:  req.PaymentMethod,
		CouponCode:     req.CouponCode,
		ClientSubtotal: req.Subtotal,
		ClientTotal:    req.Total,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if fromCart {
		if err := h.carts.Clear(ctx, o); err != nil {
			zctx.From(ctx).Warn("Clear cart after checkout", zap.String("order_id", created.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(created))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByOwner(r.Context(), owner(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetAs(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}
