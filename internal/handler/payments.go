package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

// RazorpaySignatureHeader carries the webhook body signature.
const RazorpaySignatureHeader = "X-Razorpay-Signature"

func (h *Handler) paymentMethods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"methods": h.payments.Methods()})
}

type initiatePaymentRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	intent, err := h.payments.Initiate(r.Context(), chi.URLParam(r, "id"), actor(r), payment.IntentParams{
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIntentResponse(intent))
}

type verifyPaymentRequest struct {
	Reference string `json:"reference"`
	Signature string `json:"signature"`
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.payments.Verify(r.Context(), payment.VerifyRequest{
		OrderID:   chi.URLParam(r, "id"),
		Actor:     actor(r),
		Reference: req.Reference,
		Signature: req.Signature,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		OrderID:       res.OrderID,
		Success:       res.Success,
		Status:        res.Status,
		PaymentStatus: res.PaymentStatus,
	})
}

// razorpayWebhook needs the body byte for byte: the signature covers it.
func (h *Handler) razorpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperr.Invalid("", "unreadable body"))
		return
	}
	if err := h.payments.HandleWebhook(r.Context(), body, r.Header.Get(RazorpaySignatureHeader)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
