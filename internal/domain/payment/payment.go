// Package payment starts and confirms payments for orders across gateways.
//
// Gateway A confirms synchronously: the client polls Verify after the card
// is confirmed. Gateway B confirms asynchronously through a signed webhook;
// its client-side callback is advisory and never marks an order paid alone.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/order"
)

var hundred = decimal.NewFromInt(100)

var (
	// ErrGatewayNotConfigured is returned for a payment method whose gateway
	// has no credentials.
	ErrGatewayNotConfigured = apperr.Invalid("payment_method", "This payment method is currently unavailable.")
	// ErrInvalidSignature is returned when a webhook or callback signature
	// does not match.
	ErrInvalidSignature = apperr.Security("invalid signature")
	// ErrCorrelationMismatch is returned when a gateway payment does not
	// belong to the order it is reported for.
	ErrCorrelationMismatch = apperr.Conflict("payment does not belong to this order")
	// ErrOfflineMethod is returned when online payment is requested for a
	// cash on delivery order.
	ErrOfflineMethod = apperr.Conflict("cash on delivery orders are not paid online")
)

// IntentParams carries client supplied input for starting a payment.
type IntentParams struct {
	// PaymentMethodID is the tokenized card for the synchronous gateway.
	PaymentMethodID string
}

// Intent is a started payment.
type Intent struct {
	Provider  order.PaymentMethod
	Reference string
	// ClientSecret lets the browser finish confirmation (3-D Secure).
	ClientSecret string
	Status       string
	// Amount is in minor currency units.
	Amount   int64
	Currency string
	// KeyID is the public key the browser checkout widget needs.
	KeyID string
}

// Verification is the gateway's view of a payment.
type Verification struct {
	Success bool
	// Terminal marks a definitive failure; non-terminal failures may still
	// succeed later.
	Terminal  bool
	Status    string
	PaymentID string
}

// Gateway is a payment provider.
type Gateway interface {
	Method() order.PaymentMethod
	CreateIntent(ctx context.Context, o *order.Order, p IntentParams) (*Intent, error)
	// Verify asks the provider about providerRef and checks it belongs to o.
	Verify(ctx context.Context, o *order.Order, providerRef string) (*Verification, error)
}

// CallbackVerifier is implemented by gateways whose browser callback carries
// a signature.
type CallbackVerifier interface {
	VerifyCheckoutSignature(orderRef, paymentID, signature string) bool
}

// ToMinorUnits converts an amount to integer minor units (paise, cents).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
