package payment

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// --- Mock implementations ---

type fakeOrders struct {
	orders    map[string]*order.Order
	paidCalls int
	failCalls int
}

func newFakeOrders(orders ...*order.Order) *fakeOrders {
	f := &fakeOrders{orders: map[string]*order.Order{}}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (f *fakeOrders) GetAs(ctx context.Context, id string, actor order.Actor) (*order.Order, error) {
	o, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSee(o) {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) MarkChecking(_ context.Context, id, ref string) (*order.Order, error) {
	o := f.orders[id]
	o.PaymentStatus = order.PaymentChecking
	o.PaymentRef = ref
	return o, nil
}

func (f *fakeOrders) MarkPaid(_ context.Context, id, paymentID string) (*order.Order, error) {
	f.paidCalls++
	o := f.orders[id]
	if o.PaymentStatus != order.PaymentPaid {
		o.PaymentStatus = order.PaymentPaid
		o.PaymentID = paymentID
		o.Status = order.StatusProcessing
	}
	return o, nil
}

func (f *fakeOrders) MarkPaymentFailed(_ context.Context, id string, terminal bool) (*order.Order, error) {
	f.failCalls++
	o := f.orders[id]
	if terminal && o.PaymentStatus != order.PaymentPaid {
		o.PaymentStatus = order.PaymentFailed
	}
	return o, nil
}

type fakeGateway struct {
	method       order.PaymentMethod
	intent       *Intent
	intentErr    error
	verification *Verification
	verifyErr    error
	verifyCalls  int
	lastRef      string
	signatureOK  bool
}

func (g *fakeGateway) Method() order.PaymentMethod { return g.method }

func (g *fakeGateway) CreateIntent(_ context.Context, _ *order.Order, _ IntentParams) (*Intent, error) {
	return g.intent, g.intentErr
}

func (g *fakeGateway) Verify(_ context.Context, _ *order.Order, ref string) (*Verification, error) {
	g.verifyCalls++
	g.lastRef = ref
	return g.verification, g.verifyErr
}

type signedGateway struct{ *fakeGateway }

func (g signedGateway) VerifyCheckoutSignature(_, _, _ string) bool { return g.signatureOK }

// --- Helpers ---

func newOrder(id string, method order.PaymentMethod) *order.Order {
	return &order.Order{
		ID:            id,
		UserID:        "u-1",
		PaymentMethod: method,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Total:         decimal.RequireFromString("818.10"),
	}
}

var (
	customer      = order.Actor{UserID: "u-1"}
	webhookSecret = []byte("whsec")
)

func TestToMinorUnits(t *testing.T) {
	tests := map[string]int64{
		"818.10": 81810,
		"999":    99900,
		"0.015":  2,
		"0":      0,
		"10.005": 1001,
	}
	for in, want := range tests {
		assert.Equal(t, want, ToMinorUnits(decimal.RequireFromString(in)), in)
	}
}

func TestSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := Sign(webhookSecret, body)

	assert.True(t, ValidSignature(webhookSecret, body, sig))
	assert.False(t, ValidSignature(webhookSecret, []byte(`{"event":"payment.failed"}`), sig))
	assert.False(t, ValidSignature([]byte("other"), body, sig))
	assert.False(t, ValidSignature(webhookSecret, body, "zz-not-hex"))
	assert.False(t, ValidSignature(webhookSecret, body, ""))
	assert.False(t, ValidSignature(nil, body, Sign(nil, body)))
}

func TestOrchestrator_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("records reference", func(t *testing.T) {
		orders := newFakeOrders(newOrder("o-1", order.MethodRazorpay))
		gw := &fakeGateway{method: order.MethodRazorpay, intent: &Intent{Reference: "order_rzp_1", Amount: 81810}}
		p := NewOrchestrator(orders, webhookSecret, gw)

		intent, err := p.Initiate(ctx, "o-1", customer, IntentParams{})
		require.NoError(t, err)
		assert.Equal(t, int64(81810), intent.Amount)
		assert.Equal(t, "order_rzp_1", orders.orders["o-1"].PaymentRef)
		assert.Equal(t, order.PaymentChecking, orders.orders["o-1"].PaymentStatus)
	})

	t.Run("gateway failure leaves order untouched", func(t *testing.T) {
		orders := newFakeOrders(newOrder("o-1", order.MethodStripe))
		cause := apperr.External("stripe", errors.New("card declined"))
		p := NewOrchestrator(orders, webhookSecret, &fakeGateway{method: order.MethodStripe, intentErr: cause})

		_, err := p.Initiate(ctx, "o-1", customer, IntentParams{PaymentMethodID: "pm_x"})
		require.ErrorIs(t, err, apperr.ErrExternal)
		assert.Equal(t, order.PaymentPending, orders.orders["o-1"].PaymentStatus)
		assert.Empty(t, orders.orders["o-1"].PaymentRef)
	})

	t.Run("rejections", func(t *testing.T) {
		paid := newOrder("paid", order.MethodStripe)
		paid.PaymentStatus = order.PaymentPaid
		cancelled := newOrder("cancelled", order.MethodStripe)
		cancelled.Status = order.StatusCancelled
		orders := newFakeOrders(newOrder("cod", order.MethodCOD), newOrder("rzp", order.MethodRazorpay), paid, cancelled)
		p := NewOrchestrator(orders, webhookSecret, &fakeGateway{method: order.MethodStripe})

		tests := []struct {
			id    string
			actor order.Actor
			want  error
		}{
			{id: "cod", actor: customer, want: ErrOfflineMethod},
			{id: "rzp", actor: customer, want: ErrGatewayNotConfigured},
			{id: "paid", actor: customer, want: apperr.ErrConflict},
			{id: "cancelled", actor: customer, want: order.ErrInvalidTransition},
			{id: "missing", actor: customer, want: order.ErrNotFound},
			{id: "cod", actor: order.Actor{UserID: "u-2"}, want: order.ErrNotFound},
		}
		for _, tt := range tests {
			_, err := p.Initiate(ctx, tt.id, tt.actor, IntentParams{})
			require.ErrorIs(t, err, tt.want, tt.id)
		}
	})
}

func TestOrchestrator_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("success marks paid", func(t *testing.T) {
		o := newOrder("o-1", order.MethodStripe)
		o.PaymentRef = "pi_1"
		orders := newFakeOrders(o)
		gw := &fakeGateway{method: order.MethodStripe, verification: &Verification{Success: true, Status: "succeeded", PaymentID: "pi_1"}}
		p := NewOrchestrator(orders, webhookSecret, gw)

		res, err := p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, order.PaymentPaid, res.PaymentStatus)
		assert.Equal(t, "pi_1", gw.lastRef)

		// Paid orders short-circuit.
		res, err = p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, gw.verifyCalls)
	})

	t.Run("incomplete keeps pending", func(t *testing.T) {
		o := newOrder("o-1", order.MethodStripe)
		o.PaymentRef = "pi_1"
		orders := newFakeOrders(o)
		gw := &fakeGateway{method: order.MethodStripe, verification: &Verification{Status: "requires_action"}}
		p := NewOrchestrator(orders, webhookSecret, gw)

		res, err := p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, order.PaymentPending, res.PaymentStatus)
		assert.Equal(t, order.StatusPending, res.Status)
	})

	t.Run("gateway error leaves state", func(t *testing.T) {
		o := newOrder("o-1", order.MethodStripe)
		o.PaymentRef = "pi_1"
		orders := newFakeOrders(o)
		gw := &fakeGateway{method: order.MethodStripe, verifyErr: apperr.External("stripe", errors.New("timeout"))}
		p := NewOrchestrator(orders, webhookSecret, gw)

		_, err := p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer})
		require.ErrorIs(t, err, apperr.ErrExternal)
		assert.Zero(t, orders.paidCalls+orders.failCalls)
	})

	t.Run("no reference", func(t *testing.T) {
		orders := newFakeOrders(newOrder("o-1", order.MethodStripe))
		p := NewOrchestrator(orders, webhookSecret, &fakeGateway{method: order.MethodStripe})

		_, err := p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer})
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("bad callback signature", func(t *testing.T) {
		o := newOrder("o-1", order.MethodRazorpay)
		o.PaymentRef = "order_rzp_1"
		orders := newFakeOrders(o)
		gw := signedGateway{&fakeGateway{method: order.MethodRazorpay, signatureOK: false}}
		p := NewOrchestrator(orders, webhookSecret, gw)

		_, err := p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer, Reference: "pay_1", Signature: "bad"})
		require.ErrorIs(t, err, ErrInvalidSignature)
		assert.Zero(t, gw.verifyCalls)
	})

	t.Run("unsigned callback is rejected", func(t *testing.T) {
		o := newOrder("o-1", order.MethodRazorpay)
		o.PaymentRef = "order_rzp_1"
		o.PaymentStatus = order.PaymentChecking
		orders := newFakeOrders(o)
		gw := signedGateway{&fakeGateway{
			method:       order.MethodRazorpay,
			signatureOK:  true,
			verification: &Verification{Success: true, Status: "captured", PaymentID: "pay_1"},
		}}
		p := NewOrchestrator(orders, webhookSecret, gw)

		_, err := p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer, Reference: "pay_1"})
		require.ErrorIs(t, err, ErrInvalidSignature)
		assert.Zero(t, gw.verifyCalls)
		assert.Zero(t, orders.paidCalls)
		assert.Equal(t, order.PaymentChecking, orders.orders["o-1"].PaymentStatus)
	})

	t.Run("callback without payment reference", func(t *testing.T) {
		o := newOrder("o-1", order.MethodRazorpay)
		o.PaymentRef = "order_rzp_1"
		orders := newFakeOrders(o)
		gw := signedGateway{&fakeGateway{method: order.MethodRazorpay, signatureOK: true}}
		p := NewOrchestrator(orders, webhookSecret, gw)

		_, err := p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer, Signature: "ok"})
		require.ErrorIs(t, err, apperr.ErrValidation)
		assert.Zero(t, gw.verifyCalls)
	})

	t.Run("valid callback still asks gateway", func(t *testing.T) {
		o := newOrder("o-1", order.MethodRazorpay)
		o.PaymentRef = "order_rzp_1"
		orders := newFakeOrders(o)
		gw := signedGateway{&fakeGateway{
			method:       order.MethodRazorpay,
			signatureOK:  true,
			verification: &Verification{Status: "authorized"},
		}}
		p := NewOrchestrator(orders, webhookSecret, gw)

		res, err := p.Verify(ctx, VerifyRequest{OrderID: "o-1", Actor: customer, Reference: "pay_1", Signature: "ok"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 1, gw.verifyCalls)
		assert.Equal(t, "pay_1", gw.lastRef)
	})
}

func webhookBody(event, orderID, gatewayOrderID string) []byte {
	return fmt.Appendf(nil, `{
		"entity": "event",
		"event": %q,
		"payload": {"payment": {"entity": {
			"id": "pay_1",
			"order_id": %q,
			"status": "captured",
			"notes": {"order_id": %q}
		}}}
	}`, event, gatewayOrderID, orderID)
}

func TestOrchestrator_HandleWebhook(t *testing.T) {
	ctx := context.Background()

	setup := func() (*Orchestrator, *fakeOrders) {
		o := newOrder("o-1", order.MethodRazorpay)
		o.PaymentRef = "order_rzp_1"
		o.PaymentStatus = order.PaymentChecking
		orders := newFakeOrders(o, newOrder("o-stripe", order.MethodStripe))
		return NewOrchestrator(orders, webhookSecret, &fakeGateway{method: order.MethodRazorpay}), orders
	}

	t.Run("captured marks paid", func(t *testing.T) {
		p, orders := setup()
		body := webhookBody(EventPaymentCaptured, "o-1", "order_rzp_1")

		require.NoError(t, p.HandleWebhook(ctx, body, Sign(webhookSecret, body)))
		assert.Equal(t, order.PaymentPaid, orders.orders["o-1"].PaymentStatus)
		assert.Equal(t, "pay_1", orders.orders["o-1"].PaymentID)

		// Duplicate delivery is harmless.
		require.NoError(t, p.HandleWebhook(ctx, body, Sign(webhookSecret, body)))
		assert.Equal(t, order.PaymentPaid, orders.orders["o-1"].PaymentStatus)
	})

	t.Run("tampered body", func(t *testing.T) {
		p, orders := setup()
		body := webhookBody(EventPaymentCaptured, "o-1", "order_rzp_1")
		sig := Sign(webhookSecret, body)
		body[len(body)-2] = ' '

		err := p.HandleWebhook(ctx, body, sig)
		require.ErrorIs(t, err, ErrInvalidSignature)
		require.ErrorIs(t, err, apperr.ErrSecurity)
		assert.Equal(t, order.PaymentChecking, orders.orders["o-1"].PaymentStatus)
		assert.Zero(t, orders.paidCalls)
	})

	t.Run("failed", func(t *testing.T) {
		p, orders := setup()
		body := webhookBody(EventPaymentFailed, "o-1", "order_rzp_1")
		require.NoError(t, p.HandleWebhook(ctx, body, Sign(webhookSecret, body)))
		assert.Equal(t, order.PaymentFailed, orders.orders["o-1"].PaymentStatus)
		assert.Equal(t, order.StatusPending, orders.orders["o-1"].Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		p, orders := setup()
		body := webhookBody(EventPaymentCaptured, "o-404", "order_rzp_1")
		err := p.HandleWebhook(ctx, body, Sign(webhookSecret, body))
		require.ErrorIs(t, err, order.ErrNotFound)
		assert.Zero(t, orders.paidCalls)
	})

	t.Run("correlation mismatch", func(t *testing.T) {
		p, orders := setup()
		for _, body := range [][]byte{
			webhookBody(EventPaymentCaptured, "o-1", "order_rzp_other"),
			webhookBody(EventPaymentCaptured, "o-stripe", ""),
		} {
			err := p.HandleWebhook(ctx, body, Sign(webhookSecret, body))
			require.ErrorIs(t, err, ErrCorrelationMismatch)
		}
		assert.Zero(t, orders.paidCalls)
	})

	t.Run("amount", func(t *testing.T) {
		withAmount := func(amount string) []byte {
			return fmt.Appendf(nil, `{
				"event": %q,
				"payload": {"payment": {"entity": {
					"id": "pay_1",
					"order_id": "order_rzp_1",
					"amount": %s,
					"notes": {"order_id": "o-1"}
				}}}
			}`, EventPaymentCaptured, amount)
		}

		p, orders := setup()
		body := withAmount("100")
		err := p.HandleWebhook(ctx, body, Sign(webhookSecret, body))
		require.ErrorIs(t, err, ErrCorrelationMismatch)
		assert.Zero(t, orders.paidCalls)
		assert.Equal(t, order.PaymentChecking, orders.orders["o-1"].PaymentStatus)

		body = withAmount("81810")
		require.NoError(t, p.HandleWebhook(ctx, body, Sign(webhookSecret, body)))
		assert.Equal(t, order.PaymentPaid, orders.orders["o-1"].PaymentStatus)
	})

	t.Run("ignored event", func(t *testing.T) {
		p, orders := setup()
		body := webhookBody("refund.created", "o-1", "order_rzp_1")
		require.NoError(t, p.HandleWebhook(ctx, body, Sign(webhookSecret, body)))
		assert.Zero(t, orders.paidCalls+orders.failCalls)
	})
}

func TestOrchestrator_Methods(t *testing.T) {
	p := NewOrchestrator(newFakeOrders(), nil, &fakeGateway{method: order.MethodRazorpay})
	assert.Equal(t, []order.PaymentMethod{order.MethodRazorpay}, p.Methods())
}
