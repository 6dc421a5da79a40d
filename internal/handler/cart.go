package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/cart"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r, owner(r))
}

// respondCart writes the current priced cart.
func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, o cart.Owner) {
	q, err := h.carts.Quote(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(q))
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	o := owner(r)
	line := cart.Line{ProductID: req.ProductID, VariantID: req.VariantID, Quantity: req.Quantity}
	if err := h.carts.Add(r.Context(), o, line); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, o)
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) setCartItem(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o := owner(r)
	if err := h.carts.SetQuantity(r.Context(), o, lineKey(r), req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, o)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	o := owner(r)
	if err := h.carts.Remove(r.Context(), o, lineKey(r)); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, o)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), owner(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mergeCart moves the anonymous cart of the X-Cart-Session into the signed-in
// user's cart.
func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request) {
	o := owner(r)
	if r.Header.Get(SessionHeader) == "" {
		writeError(w, r, apperr.Invalid("session", "the cart session to merge is missing"))
		return
	}
	if err := h.carts.Merge(r.Context(), o.SessionID, o.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, o)
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o := owner(r)
	res, err := h.carts.ApplyCoupon(r.Context(), o, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:    http.StatusUnprocessableEntity,
			Message: res.Reason.Message(),
			Field:   "code",
		})
		return
	}
	h.respondCart(w, r, o)
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	o := owner(r)
	if err := h.carts.RemoveCoupon(r.Context(), o); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, o)
}

type validateCouponRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Subtotal.IsNegative() {
		writeError(w, r, apperr.Invalid("subtotal", "subtotal must not be negative"))
		return
	}
	res, err := h.coupons.Validate(r.Context(), req.Code, req.Subtotal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCouponResultResponse(res))
}

func lineKey(r *http.Request) cart.Key {
	return cart.Key{
		ProductID: chi.URLParam(r, "productID"),
		VariantID: r.URL.Query().Get("variant"),
	}
}
