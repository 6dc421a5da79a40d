package shipment

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/events"
)

// Config holds booking defaults.
type Config struct {
	PickupLocation string
	// DefaultCourier names the courier when the carrier response has none.
	DefaultCourier string
	WeightKg       decimal.Decimal
	Length         decimal.Decimal
	Breadth        decimal.Decimal
	Height         decimal.Decimal
}

// Service orchestrates carrier shipments.
type Service struct {
	carrier  Carrier
	orders   Orders
	events   events.Publisher
	cfg      Config
	tracking []Extractor
	courier  []Extractor
	group    singleflight.Group
	now      func() time.Time
}

// NewService creates a shipment Service.
func NewService(carrier Carrier, orders Orders, publisher events.Publisher, cfg Config) *Service {
	return &Service{
		carrier:  carrier,
		orders:   orders,
		events:   publisher,
		cfg:      cfg,
		tracking: TrackingExtractors,
		courier:  CourierExtractors,
		now:      time.Now,
	}
}

// Create books a shipment for the order. A shipment is booked at most once:
// if the order already has one the stored result is returned and the carrier
// is not contacted. Concurrent calls for one order share a single booking.
func (s *Service) Create(ctx context.Context, orderID string) (*Result, error) {
	v, err, _ := s.group.Do(orderID, func() (any, error) {
		return s.create(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	return &res, nil
}

func (s *Service) create(ctx context.Context, orderID string) (*Result, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.Shipment.CreatedAt != nil {
		return &Result{
			OrderID:   o.ID,
			Courier:   o.Shipment.Courier,
			AWB:       o.Shipment.AWB,
			CreatedAt: *o.Shipment.CreatedAt,
			Existing:  true,
		}, nil
	}
	if o.Status == order.StatusCancelled {
		return nil, ErrOrderCancelled
	}
	if o.PaymentMethod.Prepaid() && o.PaymentStatus != order.PaymentPaid {
		return nil, ErrUnpaidPrepaidOrder
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	if missing := missingFields(o); len(missing) > 0 {
		msg := "missing consignee fields: " + strings.Join(missing, ", ")
		s.recordFailure(ctx, o, errorPayload(msg))
		lg.Warn("Shipment rejected", zap.Strings("missing", missing))
		return nil, apperr.Invalid("address", msg)
	}

	resp, err := s.carrier.Create(ctx, s.request(o))
	if err != nil {
		raw := errorPayload(err.Error())
		var ce *CarrierError
		if errors.As(err, &ce) && len(ce.Body) > 0 {
			raw = ce.Body
		}
		s.recordFailure(ctx, o, raw)
		lg.Error("Carrier rejected shipment", zap.Error(err))
		return nil, apperr.External("carrier", err)
	}

	awb, ok := First(resp.Raw, s.tracking)
	if !ok {
		s.recordFailure(ctx, o, resp.Raw)
		lg.Error("Carrier response without tracking id")
		return nil, ErrNoTrackingID
	}
	courier, ok := First(resp.Raw, s.courier)
	if !ok {
		courier = s.cfg.DefaultCourier
	}

	now := s.now().UTC()
	sh := order.Shipment{
		Courier:         courier,
		AWB:             awb,
		CarrierResponse: resp.Raw,
		CreatedAt:       &now,
		Status:          order.ShipmentPending,
	}
	if err := s.orders.UpdateShipment(ctx, o.ID, sh); err != nil {
		// The carrier booked the parcel; losing the AWB here means an
		// operator has to reconcile by hand.
		if errors.Is(err, order.ErrShipmentAlreadyCreated) {
			lg.Warn("Duplicate shipment booked", zap.String("awb", awb))
		} else {
			lg.Error("Persist shipment", zap.String("awb", awb), zap.Error(err))
		}
		return nil, errors.Wrap(err, "persist shipment")
	}
	lg.Info("Shipment created", zap.String("awb", awb), zap.String("courier", courier))

	events.Emit(ctx, s.events, events.Event{
		Type:       events.ShipmentCreated,
		OrderID:    o.ID,
		Status:     string(o.Status),
		OccurredAt: now,
		Attributes: map[string]string{"awb": awb, "courier": courier},
	})

	return &Result{OrderID: o.ID, Courier: courier, AWB: awb, CreatedAt: now}, nil
}

// recordFailure stores the carrier diagnosis on the order, leaving CreatedAt
// unset so the booking can be retried.
func (s *Service) recordFailure(ctx context.Context, o *order.Order, raw []byte) {
	sh := o.Shipment
	sh.CarrierResponse = raw
	sh.Status = order.ShipmentFailed
	sh.CreatedAt = nil
	if err := s.orders.UpdateShipment(ctx, o.ID, sh); err != nil {
		zctx.From(ctx).Warn("Record shipment failure", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// Cancel cancels the shipment identified by an AWB or by an order id. On
// carrier failure the order is left unchanged.
func (s *Service) Cancel(ctx context.Context, ref string) (*order.Order, error) {
	o, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	sh := o.Shipment
	if sh.AWB == "" {
		return nil, ErrNoShipment
	}
	if sh.Status == order.ShipmentCancelled {
		return o, nil
	}

	if err := s.carrier.Cancel(ctx, sh.AWB); err != nil {
		zctx.From(ctx).Warn("Cancel shipment", zap.String("awb", sh.AWB), zap.Error(err))
		return nil, apperr.External("carrier", err)
	}

	now := s.now().UTC()
	sh.Status = order.ShipmentCancelled
	sh.CancelledAt = &now
	if err := s.orders.UpdateShipment(ctx, o.ID, sh); err != nil {
		return nil, errors.Wrap(err, "persist shipment cancellation")
	}
	o.Shipment = sh
	zctx.From(ctx).Info("Shipment cancelled", zap.String("order_id", o.ID), zap.String("awb", sh.AWB))

	events.Emit(ctx, s.events, events.Event{
		Type:       events.ShipmentCancelled,
		OrderID:    o.ID,
		Status:     string(o.Status),
		OccurredAt: now,
		Attributes: map[string]string{"awb": sh.AWB},
	})
	return o, nil
}

func (s *Service) resolve(ctx context.Context, ref string) (*order.Order, error) {
	o, err := s.orders.FindByAWB(ctx, ref)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, order.ErrNotFound) {
		return nil, errors.Wrap(err, "find order by awb")
	}
	o, err = s.orders.Get(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// Label returns the shipping label document of an order's shipment.
func (s *Service) Label(ctx context.Context, orderID string) ([]byte, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.Shipment.AWB == "" {
		return nil, ErrNoShipment
	}
	doc, err := s.carrier.Label(ctx, o.Shipment.AWB)
	if err != nil {
		return nil, apperr.External("carrier", err)
	}
	return doc, nil
}

func (s *Service) request(o *order.Order) Request {
	req := Request{
		OrderID:        o.ID,
		OrderDate:      o.CreatedAt,
		PickupLocation: s.cfg.PickupLocation,
		Consignee: Consignee{
			Name:       o.Contact.Name,
			Phone:      o.Contact.Phone,
			Email:      o.Contact.Email,
			Line1:      o.Address.Line1,
			Line2:      o.Address.Line2,
			City:       o.Address.City,
			State:      o.Address.State,
			PostalCode: o.Address.PostalCode,
			Country:    o.Address.Country,
		},
		PaymentMode: ModePrepaid,
		CODAmount:   decimal.Zero,
		SubTotal:    o.Total,
		WeightKg:    s.cfg.WeightKg,
		Length:      s.cfg.Length,
		Breadth:     s.cfg.Breadth,
		Height:      s.cfg.Height,
	}
	if o.PaymentMethod == order.MethodCOD {
		req.PaymentMode = ModeCOD
		req.CODAmount = o.Total
	}
	for _, it := range o.Items {
		name := it.ProductName
		sku := it.ProductID
		if it.VariantID != "" {
			name += " - " + it.VariantName
			sku = it.VariantID
		}
		req.Items = append(req.Items, Item{
			Name:         name,
			SKU:          sku,
			Units:        it.Quantity,
			SellingPrice: it.UnitPrice,
		})
	}
	return req
}

func missingFields(o *order.Order) []string {
	var missing []string
	check := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check(o.Contact.Name, "name")
	check(o.Contact.Phone, "phone")
	check(o.Address.Line1, "address")
	check(o.Address.City, "city")
	check(o.Address.State, "state")
	check(o.Address.PostalCode, "postal code")
	return missing
}

func errorPayload(msg string) []byte {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}
