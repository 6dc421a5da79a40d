package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/events"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

var cancellableStatuses = []Status{StatusPending, StatusProcessing}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Actor is whoever asks for an order operation.
type Actor struct {
	UserID string
	Admin  bool
}

// CanSee reports whether a may read or act on o. Guest orders are addressed
// by their unguessable id alone.
func (a Actor) CanSee(o *Order) bool {
	return a.Admin || o.UserID == "" || o.UserID == a.UserID
}

// Redeemer consumes a coupon use.
type Redeemer interface {
	Redeem(ctx context.Context, code string) error
}

const maxUpdateAttempts = 3

// StateMachine owns every status and payment status change of an order.
// Each change reloads the order, applies the transition and writes it back
// guarded by the statuses it was loaded with.
type StateMachine struct {
	orders  Repository
	coupons Redeemer
	events  events.Publisher
	now     func() time.Time
}

// NewStateMachine creates a StateMachine.
func NewStateMachine(orders Repository, coupons Redeemer, publisher events.Publisher) *StateMachine {
	return &StateMachine{
		orders:  orders,
		coupons: coupons,
		events:  publisher,
		now:     time.Now,
	}
}

// Get returns an order by id.
func (m *StateMachine) Get(ctx context.Context, id string) (*Order, error) {
	o, err := m.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// GetAs returns an order visible to actor. Orders of other users are
// reported as missing.
func (m *StateMachine) GetAs(ctx context.Context, id string, actor Actor) (*Order, error) {
	o, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSee(o) {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListByOwner returns the orders of a user, newest first.
func (m *StateMachine) ListByOwner(ctx context.Context, userID string) ([]Order, error) {
	orders, err := m.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// FindByAWB returns the order shipped under awb.
func (m *StateMachine) FindByAWB(ctx context.Context, awb string) (*Order, error) {
	o, err := m.orders.FindByAWB(ctx, awb)
	if err != nil {
		return nil, errors.Wrap(err, "find order by awb")
	}
	return o, nil
}

// MarkChecking records the gateway reference of a started payment.
func (m *StateMachine) MarkChecking(ctx context.Context, id, ref string) (*Order, error) {
	return m.update(ctx, id, func(o *Order) (bool, error) {
		switch o.PaymentStatus {
		case PaymentPaid:
			return false, apperr.Conflict("order is already paid")
		case PaymentUnpaid:
			return false, apperr.Conflict("cash on delivery orders are not paid online")
		}
		if o.Status != StatusPending {
			return false, ErrInvalidTransition
		}
		o.PaymentStatus = PaymentChecking
		o.PaymentRef = ref
		return true, nil
	})
}

// MarkPaid confirms payment. It is monotonic: an already paid order is
// returned unchanged, so duplicate confirmations are harmless. A pending
// order moves to processing and its coupon is redeemed exactly once.
func (m *StateMachine) MarkPaid(ctx context.Context, id, paymentID string) (*Order, error) {
	var transitioned bool
	o, err := m.update(ctx, id, func(o *Order) (bool, error) {
		transitioned = false
		if o.PaymentStatus == PaymentPaid {
			return false, nil
		}
		o.PaymentStatus = PaymentPaid
		if paymentID != "" {
			o.PaymentID = paymentID
		}
		if o.Status == StatusPending {
			o.Status = StatusProcessing
		}
		transitioned = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return o, nil
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	if o.Status == StatusCancelled {
		lg.Warn("Payment confirmed for cancelled order", zap.String("payment_id", o.PaymentID))
	}
	lg.Info("Order paid", zap.String("status", string(o.Status)))

	if o.CouponCode != "" && o.PaymentMethod.Prepaid() {
		if err := m.coupons.Redeem(ctx, o.CouponCode); err != nil {
			lg.Warn("Redeem coupon", zap.String("coupon", o.CouponCode), zap.Error(err))
		}
	}
	m.emit(ctx, events.PaymentConfirmed, o, map[string]string{
		"payment_method": string(o.PaymentMethod),
	})
	return o, nil
}

// MarkPaymentFailed records a failed payment attempt. Only terminal
// failures change the order; a paid order is never downgraded and the order
// stays pending so the shopper can retry.
func (m *StateMachine) MarkPaymentFailed(ctx context.Context, id string, terminal bool) (*Order, error) {
	var transitioned bool
	o, err := m.update(ctx, id, func(o *Order) (bool, error) {
		transitioned = false
		if !terminal || o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentUnpaid {
			return false, nil
		}
		if o.PaymentStatus == PaymentFailed {
			return false, nil
		}
		o.PaymentStatus = PaymentFailed
		transitioned = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if transitioned {
		zctx.From(ctx).Info("Payment failed", zap.String("order_id", o.ID))
		m.emit(ctx, events.PaymentFailed, o, nil)
	}
	return o, nil
}

// Cancel cancels an order on behalf of actor. Only pending and processing
// orders can be cancelled; later statuses yield ErrContactSupport.
func (m *StateMachine) Cancel(ctx context.Context, id string, actor Actor, reason string) (*Order, error) {
	var transitioned bool
	o, err := m.update(ctx, id, func(o *Order) (bool, error) {
		transitioned = false
		if !actor.CanSee(o) {
			return false, ErrNotFound
		}
		if o.Status == StatusCancelled {
			return false, nil
		}
		if !slices.Contains(cancellableStatuses, o.Status) {
			return false, ErrContactSupport
		}
		now := m.now().UTC()
		o.Status = StatusCancelled
		o.CancelledAt = &now
		o.CancelReason = reason
		transitioned = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return o, nil
	}
	zctx.From(ctx).Info("Order cancelled", zap.String("order_id", o.ID), zap.String("reason", reason))
	m.emit(ctx, events.OrderStatusChanged, o, map[string]string{"reason": reason})
	return o, nil
}

// SetStatus moves an order to status following the transition table. Setting
// the current status again is a no-op.
func (m *StateMachine) SetStatus(ctx context.Context, id string, status Status) (*Order, error) {
	var transitioned bool
	o, err := m.update(ctx, id, func(o *Order) (bool, error) {
		transitioned = false
		if o.Status == status {
			return false, nil
		}
		if !CanTransition(o.Status, status) {
			return false, errors.Wrapf(ErrInvalidTransition, "%s to %s", o.Status, status)
		}
		if status == StatusCancelled {
			now := m.now().UTC()
			o.CancelledAt = &now
		}
		o.Status = status
		transitioned = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if transitioned {
		zctx.From(ctx).Info("Order status changed", zap.String("order_id", o.ID), zap.String("status", string(status)))
		m.emit(ctx, events.OrderStatusChanged, o, nil)
	}
	return o, nil
}

// AssignTracking records a shipment booked outside the carrier integration.
// The shipment counts as created, so the orchestrator will not book another.
func (m *StateMachine) AssignTracking(ctx context.Context, id, courier, awb string) (*Order, error) {
	if awb == "" {
		return nil, apperr.Invalid("awb", "tracking number is required")
	}
	o, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusCancelled {
		return nil, errors.Wrap(ErrInvalidTransition, "order is cancelled")
	}

	s := o.Shipment
	s.Courier = courier
	s.AWB = awb
	if s.CreatedAt == nil {
		now := m.now().UTC()
		s.CreatedAt = &now
	}
	if s.Status == "" || s.Status == ShipmentFailed {
		s.Status = ShipmentPending
	}
	if err := m.orders.UpdateShipment(ctx, o.ID, s); err != nil {
		return nil, errors.Wrap(err, "update shipment")
	}
	o.Shipment = s
	m.emit(ctx, events.ShipmentCreated, o, map[string]string{"awb": awb, "courier": courier})
	return o, nil
}

func (m *StateMachine) update(ctx context.Context, id string, mutate func(o *Order) (bool, error)) (*Order, error) {
	for range maxUpdateAttempts {
		o, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		status, payment := o.Status, o.PaymentStatus

		changed, err := mutate(o)
		if err != nil {
			return nil, err
		}
		if !changed {
			return o, nil
		}

		o.UpdatedAt = m.now().UTC()
		err = m.orders.UpdateState(ctx, o, status, payment)
		if errors.Is(err, ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "update order")
		}
		return o, nil
	}
	return nil, ErrConcurrentUpdate
}

func (m *StateMachine) emit(ctx context.Context, typ events.Type, o *Order, attrs map[string]string) {
	events.Emit(ctx, m.events, events.Event{
		Type:          typ,
		OrderID:       o.ID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		OccurredAt:    m.now().UTC(),
		Attributes:    attrs,
	})
}
