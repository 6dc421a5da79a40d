// Package events publishes order lifecycle events for downstream consumers
// (notifications, analytics, reconciliation).
package events

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Type names an event.
type Type string

const (
	OrderCreated       Type = "order.created"
	OrderStatusChanged Type = "order.status_changed"
	PaymentConfirmed   Type = "order.payment_confirmed"
	PaymentFailed      Type = "order.payment_failed"
	ShipmentCreated    Type = "shipment.created"
	ShipmentCancelled  Type = "shipment.cancelled"
)

// Event is a single order lifecycle fact.
type Event struct {
	Type          Type              `json:"type"`
	OrderID       string            `json:"order_id"`
	Status        string            `json:"status,omitempty"`
	PaymentStatus string            `json:"payment_status,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes e and logs a failure instead of returning it: business
// operations never fail because an event could not be delivered.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}
