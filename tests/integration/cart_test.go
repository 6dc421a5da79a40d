//go:build integration

package integration

import (
	"math"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 0.005 }

func TestCart_AnonymousFlow(t *testing.T) {
	c := &caller{}

	resp := c.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": "tee-classic", "variant_id": "tee-classic-xl", "quantity": 2,
	})
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[cartResponse](t, resp)
	resp.Body.Close()

	if len(got.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(got.Items))
	}
	// 499 + 50 for XL.
	if !almostEqual(got.Items[0].UnitPrice, 549) {
		t.Errorf("unit price: got %v, want 549", got.Items[0].UnitPrice)
	}
	if !almostEqual(got.Subtotal, 1098) || !almostEqual(got.Shipping, 0) {
		t.Errorf("subtotal/shipping: got %v/%v", got.Subtotal, got.Shipping)
	}

	resp = c.do(t, http.MethodPost, "/api/cart/coupon", map[string]any{"code": "save10"})
	expectStatus(t, resp, http.StatusOK)
	got = decodeJSON[cartResponse](t, resp)
	resp.Body.Close()

	if got.Coupon == nil || got.Coupon.Code != "SAVE10" {
		t.Fatalf("coupon not applied: %+v", got.Coupon)
	}
	if !almostEqual(got.Discount, 109.8) || !almostEqual(got.Total, 988.2) {
		t.Errorf("discount/total: got %v/%v", got.Discount, got.Total)
	}

	resp = c.do(t, http.MethodDelete, "/api/cart", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestCart_UnknownProduct(t *testing.T) {
	c := &caller{}
	resp := c.do(t, http.MethodPost, "/api/cart/items", map[string]any{"product_id": "nope", "quantity": 1})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 404 or 422, got %d", resp.StatusCode)
	}
}

func TestCart_MergeOnSignIn(t *testing.T) {
	anon := &caller{}
	resp := anon.do(t, http.MethodPost, "/api/cart/items", map[string]any{"product_id": "canvas-tote", "quantity": 1})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	user := &caller{token: token(t, uuid.NewString(), ""), session: anon.session}
	resp = user.do(t, http.MethodPost, "/api/cart/merge", nil)
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[cartResponse](t, resp)
	resp.Body.Close()

	if len(got.Items) != 1 || got.Items[0].ProductID != "canvas-tote" {
		t.Fatalf("merged cart: %+v", got.Items)
	}

	resp = anon.do(t, http.MethodGet, "/api/cart", nil)
	expectStatus(t, resp, http.StatusOK)
	left := decodeJSON[cartResponse](t, resp)
	resp.Body.Close()
	if len(left.Items) != 0 {
		t.Errorf("anonymous cart not emptied: %+v", left.Items)
	}
}

func TestCoupon_Validate(t *testing.T) {
	c := &caller{}
	resp := c.do(t, http.MethodPost, "/api/coupons/validate", map[string]any{"code": "FLAT100", "subtotal": 500})
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[struct {
		Valid         bool    `json:"valid"`
		Reason        string  `json:"reason"`
		MissingAmount float64 `json:"missing_amount"`
	}](t, resp)
	resp.Body.Close()

	if got.Valid || got.Reason != "minimum_not_met" || !almostEqual(got.MissingAmount, 499) {
		t.Errorf("unexpected result: %+v", got)
	}
}
