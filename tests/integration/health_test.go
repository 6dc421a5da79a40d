//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func checkHealthy(t *testing.T, path string) {
	t.Helper()

	resp := doGet(t, path)
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("%s: content type %q", path, ct)
	}
	body := decodeJSON[healthResponse](t, resp)
	if body.Status != "ok" {
		t.Errorf("%s: status %q", path, body.Status)
	}
	if len(body.Checks) != 0 {
		t.Errorf("%s: unexpected failing checks %v", path, body.Checks)
	}
}

func TestHealth_Endpoints(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(strings.TrimPrefix(path, "/"), func(t *testing.T) {
			checkHealthy(t, path)
		})
	}
}

// Readiness covers the cart stores, so it must stay green while both are in use.
func TestHealth_ReadyAfterCartTraffic(t *testing.T) {
	for _, c := range []*caller{
		{},
		{token: token(t, uuid.NewString(), "")},
	} {
		resp := c.do(t, http.MethodPost, "/api/cart/items", map[string]any{"product_id": "canvas-tote", "quantity": 1})
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		resp = c.do(t, http.MethodDelete, "/api/cart", nil)
		resp.Body.Close()
	}

	checkHealthy(t, "/readyz")
}
