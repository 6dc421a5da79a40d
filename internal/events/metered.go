package events

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metered counts business events before handing them to the next publisher.
type Metered struct {
	next Publisher

	ordersCreated    metric.Int64Counter
	paymentsVerified metric.Int64Counter
	shipmentsCreated metric.Int64Counter
}

// NewMetered wraps next with counters registered on meter.
func NewMetered(next Publisher, meter metric.Meter) (*Metered, error) {
	m := &Metered{next: next}
	var err error
	if m.ordersCreated, err = meter.Int64Counter("kart.orders.created",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if m.paymentsVerified, err = meter.Int64Counter("kart.payments.verified",
		metric.WithDescription("Payments confirmed as paid"),
	); err != nil {
		return nil, errors.Wrap(err, "payments counter")
	}
	if m.shipmentsCreated, err = meter.Int64Counter("kart.shipments.created",
		metric.WithDescription("Carrier shipments created"),
	); err != nil {
		return nil, errors.Wrap(err, "shipments counter")
	}
	return m, nil
}

// Publish implements Publisher.
func (m *Metered) Publish(ctx context.Context, e Event) error {
	var c metric.Int64Counter
	switch e.Type {
	case OrderCreated:
		c = m.ordersCreated
	case PaymentConfirmed:
		c = m.paymentsVerified
	case ShipmentCreated:
		c = m.shipmentsCreated
	}
	if c != nil {
		var attrs []attribute.KeyValue
		if method, ok := e.Attributes["payment_method"]; ok {
			attrs = append(attrs, attribute.String("payment_method", method))
		}
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return m.next.Publish(ctx, e)
}
