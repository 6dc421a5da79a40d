// Package razorpay is the asynchronous gateway: a gateway order is created
// up front, the browser pays against it, and confirmation arrives through a
// signed webhook.
package razorpay

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	razorpaygo "github.com/razorpay/razorpay-go"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Config holds gateway credentials.
type Config struct {
	KeyID     string
	KeySecret string
	Currency  string
}

var (
	_ payment.Gateway          = (*Gateway)(nil)
	_ payment.CallbackVerifier = (*Gateway)(nil)
)

// Gateway implements payment.Gateway on Razorpay orders.
type Gateway struct {
	orders   orderAPI
	payments paymentAPI
	keyID    string
	secret   []byte
	currency string
}

// New creates a Gateway. It fails without contacting Razorpay when
// credentials are missing.
func New(cfg Config) (*Gateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, payment.ErrGatewayNotConfigured
	}
	c := razorpaygo.NewClient(cfg.KeyID, cfg.KeySecret)
	return newGateway(c.Order, c.Payment, cfg), nil
}

func newGateway(orders orderAPI, payments paymentAPI, cfg Config) *Gateway {
	return &Gateway{
		orders:   orders,
		payments: payments,
		keyID:    cfg.KeyID,
		secret:   []byte(cfg.KeySecret),
		currency: strings.ToUpper(cfg.Currency),
	}
}

// Method implements payment.Gateway.
func (g *Gateway) Method() order.PaymentMethod { return order.MethodRazorpay }

// CreateIntent creates a gateway order for the order total. The receipt and
// notes carry our order id so webhooks can be correlated.
func (g *Gateway) CreateIntent(ctx context.Context, o *order.Order, _ payment.IntentParams) (*payment.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount := payment.ToMinorUnits(o.Total)
	resp, err := g.orders.Create(map[string]interface{}{
		"amount":   amount,
		"currency": g.currency,
		"receipt":  o.ID,
		"notes": map[string]interface{}{
			"order_id": o.ID,
		},
	}, nil)
	if err != nil {
		return nil, apperr.External("razorpay", errors.Wrap(err, "create order"))
	}
	id, _ := resp["id"].(string)
	if id == "" {
		return nil, apperr.External("razorpay", errors.New("order response without id"))
	}
	status, _ := resp["status"].(string)
	return &payment.Intent{
		Provider:  order.MethodRazorpay,
		Reference: id,
		Status:    status,
		Amount:    amount,
		Currency:  g.currency,
		KeyID:     g.keyID,
	}, nil
}

// Verify fetches the payment and checks it was made against the gateway
// order recorded on o.
func (g *Gateway) Verify(ctx context.Context, o *order.Order, paymentID string) (*payment.Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := g.payments.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, apperr.External("razorpay", errors.Wrapf(err, "fetch payment %s", paymentID))
	}

	gatewayOrder, _ := resp["order_id"].(string)
	if o.PaymentRef == "" || gatewayOrder != o.PaymentRef {
		return nil, payment.ErrCorrelationMismatch
	}
	if amount, ok := resp["amount"].(float64); ok && int64(amount) != payment.ToMinorUnits(o.Total) {
		return nil, payment.ErrCorrelationMismatch
	}

	status, _ := resp["status"].(string)
	v := &payment.Verification{Status: status, PaymentID: paymentID}
	switch status {
	case "captured":
		v.Success = true
	case "failed":
		v.Terminal = true
	}
	return v, nil
}

// VerifyCheckoutSignature checks the signature the checkout widget hands to
// the browser: hex HMAC-SHA256 of "orderRef|paymentID" under the key secret.
func (g *Gateway) VerifyCheckoutSignature(orderRef, paymentID, signature string) bool {
	return payment.ValidSignature(g.secret, fmt.Appendf(nil, "%s|%s", orderRef, paymentID), signature)
}
