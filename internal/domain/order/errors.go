package order

import (
	"github.com/xenking/kart-orders/internal/domain/apperr"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = apperr.NotFound("order not found")
	// ErrConcurrentUpdate is returned when the order changed between load and
	// write.
	ErrConcurrentUpdate = apperr.Conflict("order was modified concurrently")
	// ErrContactSupport is returned when a customer tries to cancel an order
	// that already left the warehouse.
	ErrContactSupport = apperr.Conflict("order can no longer be cancelled, please contact support")
	// ErrInvalidTransition is returned for status changes the state machine
	// does not allow.
	ErrInvalidTransition = apperr.Conflict("order status transition not allowed")
	// ErrShipmentAlreadyCreated is returned when a shipment write would
	// replace a shipment the carrier already accepted.
	ErrShipmentAlreadyCreated = apperr.Conflict("order already has a shipment")
	// ErrTotalMismatch is returned when the client-side totals disagree with
	// the server-side recomputation.
	ErrTotalMismatch = apperr.Invalid("total", "Prices in your cart have changed. Please review your cart and try again.")
)
