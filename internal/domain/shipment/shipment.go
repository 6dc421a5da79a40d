// Package shipment books carrier shipments for orders exactly once and
// mirrors the carrier state onto the order.
package shipment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/order"
)

var (
	// ErrUnpaidPrepaidOrder is returned when a prepaid order is shipped
	// before its payment is confirmed.
	ErrUnpaidPrepaidOrder = apperr.Conflict("prepaid order is not paid yet")
	// ErrNoShipment is returned when cancelling an order that has no AWB.
	ErrNoShipment = apperr.Conflict("order has no shipment")
	// ErrOrderCancelled is returned when shipping a cancelled order.
	ErrOrderCancelled = apperr.Conflict("order is cancelled")
	// ErrNoTrackingID is returned when the carrier accepted a request but no
	// tracking id could be found in its response.
	ErrNoTrackingID = apperr.External("carrier", errors.New("no tracking id in carrier response"))
)

// Payment modes understood by the carrier.
const (
	ModeCOD     = "COD"
	ModePrepaid = "Prepaid"
)

// Consignee is the receiving party.
type Consignee struct {
	Name       string
	Phone      string
	Email      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Item is a manifest line.
type Item struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice decimal.Decimal
}

// Request books a shipment.
type Request struct {
	OrderID        string
	OrderDate      time.Time
	PickupLocation string
	Consignee      Consignee
	PaymentMode    string
	// CODAmount is collected on delivery; zero for prepaid orders.
	CODAmount decimal.Decimal
	SubTotal  decimal.Decimal
	Items     []Item
	// WeightKg and dimensions in centimetres.
	WeightKg decimal.Decimal
	Length   decimal.Decimal
	Breadth  decimal.Decimal
	Height   decimal.Decimal
}

// Response is what the carrier returned for a booking.
type Response struct {
	Raw []byte
}

// Carrier books, cancels and labels shipments.
type Carrier interface {
	Create(ctx context.Context, req Request) (*Response, error)
	Cancel(ctx context.Context, awb string) error
	Label(ctx context.Context, awb string) ([]byte, error)
}

// CarrierError is a non-successful carrier reply. Body is kept verbatim for
// diagnosis.
type CarrierError struct {
	StatusCode int
	Body       []byte
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("carrier returned status %d", e.StatusCode)
}

// Orders is the order storage the orchestrator needs.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	FindByAWB(ctx context.Context, awb string) (*order.Order, error)
	UpdateShipment(ctx context.Context, id string, s order.Shipment) error
}

// Result describes a booked shipment.
type Result struct {
	OrderID   string
	Courier   string
	AWB       string
	CreatedAt time.Time
	// Existing is set when the shipment had already been booked and the
	// carrier was not contacted.
	Existing bool
}
