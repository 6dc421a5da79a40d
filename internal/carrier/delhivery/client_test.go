package delhivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/shipment"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", Token: "tok", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func testRequest() shipment.Request {
	return shipment.Request{
		OrderID:        "o-1",
		PickupLocation: "Primary",
		Consignee: shipment.Consignee{
			Name: "Asha", Phone: "9876543210",
			Line1: "12 MG Road", City: "Bengaluru", State: "KA", PostalCode: "560001",
		},
		PaymentMode: shipment.ModeCOD,
		CODAmount:   decimal.RequireFromString("818.10"),
		SubTotal:    decimal.RequireFromString("818.10"),
		WeightKg:    decimal.RequireFromString("0.5"),
		Items: []shipment.Item{
			{Name: "Tee - XL", SKU: "tee-xl", Units: 1, SellingPrice: decimal.RequireFromString("549")},
		},
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{BaseURL: "http://carrier"})
	require.Error(t, err)
	_, err = New(Config{Token: "tok"})
	require.Error(t, err)
}

func TestClient_Create(t *testing.T) {
	var data map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/cmu/create.json", r.URL.Path)
		assert.Equal(t, "Token tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "json", r.PostForm.Get("format"))
		assert.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("data")), &data))

		_, _ = io.WriteString(w, `{"success":true,"packages":[{"waybill":"WB1","status":"Success"}]}`)
	}))

	resp, err := c.Create(context.Background(), testRequest())
	require.NoError(t, err)
	awb, ok := shipment.First(resp.Raw, shipment.TrackingExtractors)
	require.True(t, ok)
	assert.Equal(t, "WB1", awb)

	assert.Equal(t, map[string]any{"name": "Primary"}, data["pickup_location"])
	shipments := data["shipments"].([]any)
	require.Len(t, shipments, 1)
	s := shipments[0].(map[string]any)
	assert.Equal(t, "o-1", s["order"])
	assert.Equal(t, "COD", s["payment_mode"])
	assert.InDelta(t, 818.10, s["cod_amount"], 0.001)
	assert.Equal(t, "560001", s["pin"])
	assert.Equal(t, "India", s["country"])
	assert.InDelta(t, 500, s["weight"], 0.001)
	assert.Len(t, s["items"], 1)
}

func TestClient_Create_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http error", status: http.StatusUnauthorized, body: `{"detail":"invalid token"}`},
		{name: "success false", status: http.StatusOK, body: `{"success":false,"rmk":"pin not serviceable"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := c.Create(context.Background(), testRequest())
			var ce *shipment.CarrierError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.status, ce.StatusCode)
			assert.Equal(t, tt.body, string(ce.Body))
		})
	}
}

func TestClient_Cancel(t *testing.T) {
	t.Run("falls through variants", func(t *testing.T) {
		var (
			mu    sync.Mutex
			calls []string
		)
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls = append(calls, r.URL.Path+" "+r.Header.Get("Content-Type"))
			mu.Unlock()
			if r.URL.Path == "/api/p/cancel" {
				assert.NoError(t, r.ParseForm())
				assert.Equal(t, "WB1", r.PostForm.Get("waybill"))
				_, _ = io.WriteString(w, `{"status":true}`)
				return
			}
			w.WriteHeader(http.StatusBadGateway)
		}))

		require.NoError(t, c.Cancel(context.Background(), "WB1"))
		assert.Equal(t, []string{
			"/api/p/edit application/json",
			"/api/p/edit application/x-www-form-urlencoded",
			"/api/p/cancel application/x-www-form-urlencoded",
		}, calls)
	})

	t.Run("first variant", func(t *testing.T) {
		var body map[string]string
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, _ = io.WriteString(w, `{"status":true,"remark":"Shipment has been cancelled."}`)
		}))
		require.NoError(t, c.Cancel(context.Background(), "WB1"))
		assert.Equal(t, map[string]string{"waybill": "WB1", "cancellation": "true"}, body)
	})

	t.Run("all fail", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"status":false,"error":"already manifested"}`)
		}))
		err := c.Cancel(context.Background(), "WB1")
		var ce *shipment.CarrierError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, string(ce.Body), "already manifested")
	})
}

func TestClient_Label(t *testing.T) {
	t.Run("pdf", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "WB1", r.URL.Query().Get("wbns"))
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = io.WriteString(w, "%PDF-1.4 label")
		}))
		doc, err := c.Label(context.Background(), "WB1")
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4 label", string(doc))
	})

	t.Run("link", func(t *testing.T) {
		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)
		mux.HandleFunc("/api/p/packing_slip", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"packages":[{"pdf_download_link":"`+srv.URL+`/files/WB1.pdf"}]}`)
		})
		mux.HandleFunc("/files/WB1.pdf", func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, "%PDF-1.7")
		})

		c, err := New(Config{BaseURL: srv.URL, Token: "tok"})
		require.NoError(t, err)
		doc, err := c.Label(context.Background(), "WB1")
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.7", string(doc))
	})

	t.Run("no link", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"packages":[]}`)
		}))
		_, err := c.Label(context.Background(), "WB1")
		var ce *shipment.CarrierError
		require.ErrorAs(t, err, &ce)
	})
}
