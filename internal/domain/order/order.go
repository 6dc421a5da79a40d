package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod selects how an order is paid.
type PaymentMethod string

const (
	// MethodStripe pays through the synchronous card gateway.
	MethodStripe PaymentMethod = "stripe"
	// MethodRazorpay pays through the gateway that confirms by signed webhook.
	MethodRazorpay PaymentMethod = "razorpay"
	// MethodCOD is cash on delivery.
	MethodCOD PaymentMethod = "cod"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodStripe, MethodRazorpay, MethodCOD:
		return true
	default:
		return false
	}
}

// Prepaid reports whether the order must be paid before fulfilment.
func (m PaymentMethod) Prepaid() bool { return m != MethodCOD }

// Status is the fulfilment status of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks money for an order independently from fulfilment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentChecking PaymentStatus = "checking"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	// PaymentUnpaid is the payment status of cash on delivery orders.
	PaymentUnpaid PaymentStatus = "unpaid"
)

// Address is a delivery address.
type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country,omitempty"`
}

// Contact is how the customer is reached. At least one of Email or Phone is
// required. Name is only needed once the order ships.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" validate:"required_without=Email"`
}

// Shipment mirrors the carrier-side shipment onto the order. CreatedAt is set
// only after the carrier accepted the shipment.
type Shipment struct {
	Courier         string
	AWB             string
	CarrierResponse []byte
	CreatedAt       *time.Time
	Status          string
	CancelledAt     *time.Time
}

// Shipment statuses.
const (
	ShipmentPending   = "Pending"
	ShipmentFailed    = "Failed"
	ShipmentCancelled = "Cancelled"
)

// Order is the system of record for money once checkout completes.
type Order struct {
	ID     string
	UserID string

	Contact Contact
	Address Address

	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
	CouponCode   string

	PaymentMethod PaymentMethod
	Status        Status
	PaymentStatus PaymentStatus
	// PaymentRef is the gateway-side reference (payment intent, gateway order).
	PaymentRef string
	// PaymentID is the gateway payment id recorded on confirmation.
	PaymentID string

	CancelReason string
	CancelledAt  *time.Time

	Shipment Shipment
	Items    []Item

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is an order line with name and price snapshots taken at checkout.
type Item struct {
	ID          int64
	OrderID     string
	ProductID   string
	VariantID   string
	ProductName string
	VariantName string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order header only.
	Create(ctx context.Context, o *Order) error
	AddItems(ctx context.Context, orderID string, items []Item) error
	// Delete removes the order and its items.
	Delete(ctx context.Context, orderID string) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	FindByAWB(ctx context.Context, awb string) (*Order, error)
	// UpdateState writes status, payment and cancellation fields guarded by
	// the expected current status and payment status. A guard mismatch
	// returns ErrConcurrentUpdate. Money fields are never rewritten.
	UpdateState(ctx context.Context, o *Order, expected Status, expectedPayment PaymentStatus) error
	// UpdateShipment writes the embedded shipment fields. It fails with
	// ErrShipmentAlreadyCreated when the stored shipment has a different
	// CreatedAt, so a booking is never replaced by another.
	UpdateShipment(ctx context.Context, id string, s Shipment) error
}
