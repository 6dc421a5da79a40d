// Package stripe is the synchronous card gateway: a PaymentIntent is created
// and confirmed in one call, and the browser polls for the outcome.
package stripe

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
)

const metadataOrderID = "order_id"

type intentAPI interface {
	New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
}

type customerAPI interface {
	New(params *stripego.CustomerParams) (*stripego.Customer, error)
}

// Config holds gateway credentials.
type Config struct {
	SecretKey string
	Currency  string
}

var _ payment.Gateway = (*Gateway)(nil)

// Gateway implements payment.Gateway on Stripe PaymentIntents.
type Gateway struct {
	intents   intentAPI
	customers customerAPI
	currency  string
}

// New creates a Gateway. It fails without contacting Stripe when the secret
// key is missing.
func New(cfg Config) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, payment.ErrGatewayNotConfigured
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return newGateway(sc.PaymentIntents, sc.Customers, cfg.Currency), nil
}

func newGateway(intents intentAPI, customers customerAPI, currency string) *Gateway {
	return &Gateway{
		intents:   intents,
		customers: customers,
		currency:  strings.ToLower(currency),
	}
}

// Method implements payment.Gateway.
func (g *Gateway) Method() order.PaymentMethod { return order.MethodStripe }

// CreateIntent creates a customer and a confirmed PaymentIntent for the
// order total. The order id travels in the intent metadata and is checked
// again on verification.
func (g *Gateway) CreateIntent(ctx context.Context, o *order.Order, p payment.IntentParams) (*payment.Intent, error) {
	if p.PaymentMethodID == "" {
		return nil, apperr.Invalid("payment_method_id", "Please enter your card details.")
	}

	cp := &stripego.CustomerParams{
		Params: stripego.Params{Context: ctx},
		Name:   optional(o.Contact.Name),
		Email:  optional(o.Contact.Email),
		Phone:  optional(o.Contact.Phone),
	}
	cp.AddMetadata(metadataOrderID, o.ID)
	if o.UserID != "" {
		cp.AddMetadata("user_id", o.UserID)
	}
	cust, err := g.customers.New(cp)
	if err != nil {
		return nil, wrapError("create customer", err)
	}

	params := &stripego.PaymentIntentParams{
		Params:        stripego.Params{Context: ctx},
		Amount:        stripego.Int64(payment.ToMinorUnits(o.Total)),
		Currency:      stripego.String(g.currency),
		Customer:      stripego.String(cust.ID),
		PaymentMethod: stripego.String(p.PaymentMethodID),
		Confirm:       stripego.Bool(true),
		Description:   stripego.String("Order " + o.ID),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripego.Bool(true),
			AllowRedirects: stripego.String("never"),
		},
	}
	params.AddMetadata(metadataOrderID, o.ID)
	params.SetIdempotencyKey("order-" + o.ID + "-" + p.PaymentMethodID)

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, wrapError("create payment intent", err)
	}
	return &payment.Intent{
		Provider:     order.MethodStripe,
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// Verify retrieves the PaymentIntent and checks it was made for o.
func (g *Gateway) Verify(ctx context.Context, o *order.Order, ref string) (*payment.Verification, error) {
	pi, err := g.intents.Get(ref, &stripego.PaymentIntentParams{
		Params: stripego.Params{Context: ctx},
	})
	if err != nil {
		return nil, wrapError("get payment intent", err)
	}
	if pi.Metadata[metadataOrderID] != o.ID || pi.Amount != payment.ToMinorUnits(o.Total) {
		return nil, payment.ErrCorrelationMismatch
	}

	v := &payment.Verification{Status: string(pi.Status), PaymentID: pi.ID}
	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		v.Success = true
	case stripego.PaymentIntentStatusCanceled, stripego.PaymentIntentStatusRequiresPaymentMethod:
		v.Terminal = true
	}
	return v, nil
}

// wrapError turns card declines into validation errors the shopper can act
// on; everything else is an upstream failure.
func wrapError(op string, err error) error {
	var se *stripego.Error
	if errors.As(err, &se) && se.Type == stripego.ErrorTypeCard {
		msg := se.Msg
		if msg == "" {
			msg = "Your card was declined."
		}
		return apperr.Invalid("payment", msg)
	}
	return apperr.External("stripe", errors.Wrap(err, op))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return stripego.String(s)
}
