package payment

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/jxpath"
)

// Orders is the part of the order state machine payments drive.
type Orders interface {
	GetAs(ctx context.Context, id string, actor order.Actor) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	MarkChecking(ctx context.Context, id, ref string) (*order.Order, error)
	MarkPaid(ctx context.Context, id, paymentID string) (*order.Order, error)
	MarkPaymentFailed(ctx context.Context, id string, terminal bool) (*order.Order, error)
}

// VerifyRequest asks whether an order has been paid.
type VerifyRequest struct {
	OrderID string
	Actor   order.Actor
	// Reference is the gateway payment reference reported by the browser.
	// The stored reference is used when empty, except for gateways with
	// signed callbacks.
	Reference string
	// Signature is the gateway callback signature, when the gateway has one.
	Signature string
}

// Result is the outcome of a verification.
type Result struct {
	OrderID       string
	Success       bool
	Status        order.Status
	PaymentStatus order.PaymentStatus
}

func resultOf(o *order.Order) *Result {
	return &Result{
		OrderID:       o.ID,
		Success:       o.PaymentStatus == order.PaymentPaid,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
	}
}

// Webhook events handled from the asynchronous gateway.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
)

// Orchestrator dispatches payment operations to the gateway of an order's
// payment method.
type Orchestrator struct {
	gateways      map[order.PaymentMethod]Gateway
	orders        Orders
	webhookSecret []byte
}

// NewOrchestrator creates an Orchestrator. Only configured gateways should be
// passed; requests for other methods fail with ErrGatewayNotConfigured.
func NewOrchestrator(orders Orders, webhookSecret []byte, gateways ...Gateway) *Orchestrator {
	m := make(map[order.PaymentMethod]Gateway, len(gateways))
	for _, g := range gateways {
		m[g.Method()] = g
	}
	return &Orchestrator{
		gateways:      m,
		orders:        orders,
		webhookSecret: webhookSecret,
	}
}

// Methods returns the online payment methods that can be used.
func (p *Orchestrator) Methods() []order.PaymentMethod {
	out := make([]order.PaymentMethod, 0, len(p.gateways))
	for _, m := range []order.PaymentMethod{order.MethodStripe, order.MethodRazorpay} {
		if _, ok := p.gateways[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (p *Orchestrator) gateway(m order.PaymentMethod) (Gateway, error) {
	if m == order.MethodCOD {
		return nil, ErrOfflineMethod
	}
	g, ok := p.gateways[m]
	if !ok {
		return nil, ErrGatewayNotConfigured
	}
	return g, nil
}

// Initiate starts a payment for a pending order and records the gateway
// reference on it.
func (p *Orchestrator) Initiate(ctx context.Context, orderID string, actor order.Actor, params IntentParams) (*Intent, error) {
	o, err := p.orders.GetAs(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	g, err := p.gateway(o.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == order.PaymentPaid {
		return nil, apperr.Conflict("order is already paid")
	}
	if o.Status != order.StatusPending {
		return nil, errors.Wrapf(order.ErrInvalidTransition, "order is %s", o.Status)
	}

	intent, err := g.CreateIntent(ctx, o, params)
	if err != nil {
		zctx.From(ctx).Warn("Create payment intent",
			zap.String("order_id", o.ID),
			zap.String("gateway", string(g.Method())),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "create intent")
	}

	if _, err := p.orders.MarkChecking(ctx, o.ID, intent.Reference); err != nil {
		return nil, errors.Wrap(err, "record payment reference")
	}
	zctx.From(ctx).Info("Payment initiated",
		zap.String("order_id", o.ID),
		zap.String("gateway", string(g.Method())),
		zap.String("ref", intent.Reference),
	)
	return intent, nil
}

// Verify asks the gateway whether the order has been paid and applies the
// answer. Gateway errors leave the order untouched. Once paid, an order is
// reported as paid without asking the gateway again.
func (p *Orchestrator) Verify(ctx context.Context, req VerifyRequest) (*Result, error) {
	o, err := p.orders.GetAs(ctx, req.OrderID, req.Actor)
	if err != nil {
		return nil, err
	}
	g, err := p.gateway(o.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == order.PaymentPaid {
		return resultOf(o), nil
	}

	ref := req.Reference
	if cv, ok := g.(CallbackVerifier); ok {
		// The stored reference is the gateway order, not a payment, so the
		// callback must name the payment and carry a valid signature for it.
		if ref == "" {
			return nil, apperr.Invalid("reference", "payment reference is required")
		}
		if req.Signature == "" || !cv.VerifyCheckoutSignature(o.PaymentRef, ref, req.Signature) {
			zctx.From(ctx).Warn("Rejected payment callback",
				zap.String("order_id", o.ID),
				zap.Bool("signed", req.Signature != ""),
			)
			return nil, ErrInvalidSignature
		}
	} else if ref == "" {
		ref = o.PaymentRef
	}
	if ref == "" {
		return nil, apperr.Invalid("reference", "payment has not been started for this order")
	}

	v, err := g.Verify(ctx, o, ref)
	if err != nil {
		return nil, errors.Wrap(err, "verify payment")
	}

	if v.Success {
		o, err = p.orders.MarkPaid(ctx, o.ID, v.PaymentID)
	} else {
		zctx.From(ctx).Info("Payment not completed",
			zap.String("order_id", o.ID),
			zap.String("gateway_status", v.Status),
			zap.Bool("terminal", v.Terminal),
		)
		o, err = p.orders.MarkPaymentFailed(ctx, o.ID, v.Terminal)
	}
	if err != nil {
		return nil, err
	}
	return resultOf(o), nil
}

// HandleWebhook applies a signed gateway notification. The signature is the
// hex HMAC-SHA256 of the raw body; a mismatch is rejected before the body is
// even parsed.
func (p *Orchestrator) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	lg := zctx.From(ctx)
	if !ValidSignature(p.webhookSecret, body, signature) {
		lg.Warn("Rejected webhook with invalid signature")
		return ErrInvalidSignature
	}

	event, _ := jxpath.Lookup(body, "event")
	paymentID, _ := jxpath.Lookup(body, "payload", "payment", "entity", "id")
	gatewayOrderID := firstOf(body,
		[]string{"payload", "payment", "entity", "order_id"},
		[]string{"payload", "order", "entity", "id"},
	)
	orderID := firstOf(body,
		[]string{"payload", "payment", "entity", "notes", "order_id"},
		[]string{"payload", "order", "entity", "notes", "order_id"},
		[]string{"payload", "order", "entity", "receipt"},
	)
	lg = lg.With(zap.String("event", event), zap.String("order_id", orderID))

	var handle func() error
	switch event {
	case EventPaymentCaptured, EventOrderPaid:
		handle = func() error {
			_, err := p.orders.MarkPaid(ctx, orderID, paymentID)
			return err
		}
	case EventPaymentFailed:
		handle = func() error {
			_, err := p.orders.MarkPaymentFailed(ctx, orderID, true)
			return err
		}
	default:
		lg.Debug("Ignoring webhook event")
		return nil
	}

	if orderID == "" {
		lg.Warn("Webhook without order reference")
		return order.ErrNotFound
	}
	o, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.PaymentMethod != order.MethodRazorpay ||
		(o.PaymentRef != "" && gatewayOrderID != "" && gatewayOrderID != o.PaymentRef) {
		lg.Warn("Webhook does not match order", zap.String("gateway_order_id", gatewayOrderID))
		return ErrCorrelationMismatch
	}
	if event != EventPaymentFailed {
		if amount, ok := jxpath.Lookup(body, "payload", "payment", "entity", "amount"); ok {
			if n, err := strconv.ParseInt(amount, 10, 64); err != nil || n != ToMinorUnits(o.Total) {
				lg.Warn("Webhook amount does not match order",
					zap.String("amount", amount),
					zap.Int64("expected", ToMinorUnits(o.Total)),
				)
				return ErrCorrelationMismatch
			}
		}
	}

	if err := handle(); err != nil {
		return errors.Wrapf(err, "apply %s", event)
	}
	lg.Info("Webhook applied", zap.String("payment_id", paymentID))
	return nil
}

func firstOf(body []byte, paths ...[]string) string {
	for _, path := range paths {
		if v, ok := jxpath.Lookup(body, path...); ok {
			return v
		}
	}
	return ""
}
