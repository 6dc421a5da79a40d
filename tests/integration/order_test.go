//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func checkoutBody(total float64) map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_id": "canvas-tote", "quantity": 2},
		},
		"address": map[string]any{
			"line1": "12 MG Road", "city": "Bengaluru", "state": "KA", "postal_code": "560001",
		},
		"contact":        map[string]any{"name": "Asha", "phone": "9876543210"},
		"payment_method": "cod",
		"subtotal":       699,
		"total":          total,
	}
}

func TestOrder_CashOnDelivery(t *testing.T) {
	user := &caller{token: token(t, uuid.NewString(), "")}

	// 2 x 349.50 = 699, below free shipping: +99.
	resp := user.do(t, http.MethodPost, "/api/orders", checkoutBody(798))
	expectStatus(t, resp, http.StatusCreated)
	created := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()

	if created.Status != "pending" || created.PaymentStatus != "unpaid" {
		t.Errorf("status: got %s/%s", created.Status, created.PaymentStatus)
	}
	if !almostEqual(created.Total, 798) || !almostEqual(created.ShippingCost, 99) {
		t.Errorf("total/shipping: got %v/%v", created.Total, created.ShippingCost)
	}

	resp = user.do(t, http.MethodGet, "/api/orders/"+created.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = user.do(t, http.MethodGet, "/api/orders", nil)
	expectStatus(t, resp, http.StatusOK)
	list := decodeJSON[[]orderResponse](t, resp)
	resp.Body.Close()
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("list: %+v", list)
	}

	resp = user.do(t, http.MethodPost, "/api/orders/"+created.ID+"/cancel", map[string]any{"reason": "ordered twice"})
	expectStatus(t, resp, http.StatusOK)
	cancelled := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()
	if cancelled.Status != "cancelled" || cancelled.CancelReason != "ordered twice" {
		t.Errorf("cancel: %+v", cancelled)
	}

	// Cancelling again is idempotent.
	resp = user.do(t, http.MethodPost, "/api/orders/"+created.ID+"/cancel", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestOrder_TamperedTotal(t *testing.T) {
	c := &caller{}
	resp := c.do(t, http.MethodPost, "/api/orders", checkoutBody(1))
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusUnprocessableEntity)
	body := decodeJSON[errorResponse](t, resp)
	if body.Field != "total" {
		t.Errorf("field: got %q, want total", body.Field)
	}
}

func TestOrder_NotVisibleToOthers(t *testing.T) {
	owner := &caller{token: token(t, uuid.NewString(), "")}
	resp := owner.do(t, http.MethodPost, "/api/orders", checkoutBody(798))
	expectStatus(t, resp, http.StatusCreated)
	created := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()

	other := &caller{token: token(t, uuid.NewString(), "")}
	resp = other.do(t, http.MethodGet, "/api/orders/"+created.ID, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}

func TestOrder_InvalidCoupon(t *testing.T) {
	c := &caller{}
	body := checkoutBody(798)
	body["coupon_code"] = "NOPE"

	resp := c.do(t, http.MethodPost, "/api/orders", body)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestAdmin_Guard(t *testing.T) {
	user := &caller{token: token(t, uuid.NewString(), "")}
	resp := user.do(t, http.MethodPost, "/api/admin/orders/x/status", map[string]any{"status": "shipped"})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusForbidden)
}

func TestAdmin_ShipmentWithoutPayment(t *testing.T) {
	user := &caller{token: token(t, uuid.NewString(), "")}
	resp := user.do(t, http.MethodPost, "/api/orders", checkoutBody(798))
	expectStatus(t, resp, http.StatusCreated)
	created := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()

	admin := &caller{token: token(t, "ops", "admin")}
	resp = admin.do(t, http.MethodPost, "/api/admin/orders/"+created.ID+"/tracking", map[string]any{
		"courier": "Delhivery", "awb": "AWB" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10],
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
}

func TestRazorpayWebhook_BadSignature(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/webhooks/razorpay", strings.NewReader(`{"event":"payment.captured"}`))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("X-Razorpay-Signature", "deadbeef")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusUnauthorized)
}
