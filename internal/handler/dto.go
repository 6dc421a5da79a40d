package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/payment"
	"github.com/xenking/kart-orders/internal/domain/shipment"
)

func money(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }

type cartLineResponse struct {
	ProductID   string  `json:"product_id"`
	VariantID   string  `json:"variant_id,omitempty"`
	ProductName string  `json:"product_name"`
	VariantName string  `json:"variant_name,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
	InStock     bool    `json:"in_stock"`
}

type couponResponse struct {
	Code           string  `json:"code"`
	DiscountAmount float64 `json:"discount_amount"`
	MinPurchase    float64 `json:"min_purchase"`
}

type cartResponse struct {
	Items         []cartLineResponse `json:"items"`
	Subtotal      float64            `json:"subtotal"`
	Discount      float64            `json:"discount"`
	Shipping      float64            `json:"shipping"`
	Total         float64            `json:"total"`
	Coupon        *couponResponse    `json:"coupon,omitempty"`
	CouponRemoved string             `json:"coupon_removed,omitempty"`
}

func newCartResponse(q *cart.Quote) cartResponse {
	resp := cartResponse{
		Items:    make([]cartLineResponse, 0, len(q.Lines)),
		Subtotal: money(q.Breakdown.Subtotal),
		Discount: money(q.Breakdown.Discount),
		Shipping: money(q.Breakdown.Shipping),
		Total:    money(q.Breakdown.Total),
	}
	for _, l := range q.Lines {
		resp.Items = append(resp.Items, cartLineResponse{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			ProductName: l.ProductName,
			VariantName: l.VariantName,
			Quantity:    l.Quantity,
			UnitPrice:   money(l.Pricing.Price()),
			LineTotal:   money(l.Pricing.Total()),
			InStock:     l.InStock,
		})
	}
	if q.Coupon != nil {
		resp.Coupon = &couponResponse{
			Code:           q.Coupon.Code,
			DiscountAmount: money(q.Coupon.DiscountAmount),
			MinPurchase:    money(q.Coupon.MinPurchase),
		}
	}
	if q.Dropped != coupon.ReasonNone {
		resp.CouponRemoved = q.Dropped.Message()
	}
	return resp
}

type couponResultResponse struct {
	Valid         bool    `json:"valid"`
	Code          string  `json:"code"`
	Discount      float64 `json:"discount"`
	MinPurchase   float64 `json:"min_purchase"`
	Reason        string  `json:"reason,omitempty"`
	Message       string  `json:"message,omitempty"`
	MissingAmount float64 `json:"missing_amount,omitempty"`
}

func newCouponResultResponse(r coupon.Result) couponResultResponse {
	resp := couponResultResponse{
		Valid:       r.Valid,
		Code:        r.Code,
		Discount:    money(r.Discount),
		MinPurchase: money(r.MinPurchase),
	}
	if !r.Valid {
		resp.Reason = string(r.Reason)
		resp.Message = r.Reason.Message()
		resp.MissingAmount = money(r.MissingAmount)
	}
	return resp
}

type orderItemResponse struct {
	ProductID   string  `json:"product_id"`
	VariantID   string  `json:"variant_id,omitempty"`
	ProductName string  `json:"product_name"`
	VariantName string  `json:"variant_name,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

type shipmentResponse struct {
	Courier     string     `json:"courier,omitempty"`
	AWB         string     `json:"awb,omitempty"`
	Status      string     `json:"status,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	Status        order.Status        `json:"status"`
	PaymentStatus order.PaymentStatus `json:"payment_status"`
	PaymentMethod order.PaymentMethod `json:"payment_method"`
	Subtotal      float64             `json:"subtotal"`
	Discount      float64             `json:"discount"`
	ShippingCost  float64             `json:"shipping_cost"`
	Total         float64             `json:"total"`
	CouponCode    string              `json:"coupon_code,omitempty"`
	Contact       order.Contact       `json:"contact"`
	Address       order.Address       `json:"address"`
	Items         []orderItemResponse `json:"items"`
	Shipment      *shipmentResponse   `json:"shipment,omitempty"`
	CancelReason  string              `json:"cancel_reason,omitempty"`
	CancelledAt   *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func newOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Subtotal:      money(o.Subtotal),
		Discount:      money(o.Discount),
		ShippingCost:  money(o.ShippingCost),
		Total:         money(o.Total),
		CouponCode:    o.CouponCode,
		Contact:       o.Contact,
		Address:       o.Address,
		Items:         make([]orderItemResponse, 0, len(o.Items)),
		CancelReason:  o.CancelReason,
		CancelledAt:   o.CancelledAt,
		CreatedAt:     o.CreatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice),
			LineTotal:   money(it.LineTotal),
		})
	}
	if s := o.Shipment; s.AWB != "" || s.Status != "" {
		resp.Shipment = &shipmentResponse{
			Courier:     s.Courier,
			AWB:         s.AWB,
			Status:      s.Status,
			CreatedAt:   s.CreatedAt,
			CancelledAt: s.CancelledAt,
		}
	}
	return resp
}

type intentResponse struct {
	Provider     order.PaymentMethod `json:"provider"`
	Reference    string              `json:"reference"`
	ClientSecret string              `json:"client_secret,omitempty"`
	Status       string              `json:"status,omitempty"`
	Amount       int64               `json:"amount"`
	Currency     string              `json:"currency"`
	KeyID        string              `json:"key_id,omitempty"`
}

func newIntentResponse(i *payment.Intent) intentResponse {
	return intentResponse{
		Provider:     i.Provider,
		Reference:    i.Reference,
		ClientSecret: i.ClientSecret,
		Status:       i.Status,
		Amount:       i.Amount,
		Currency:     i.Currency,
		KeyID:        i.KeyID,
	}
}

type verifyResponse struct {
	OrderID       string              `json:"order_id"`
	Success       bool                `json:"success"`
	Status        order.Status        `json:"status"`
	PaymentStatus order.PaymentStatus `json:"payment_status"`
}

type shipmentResultResponse struct {
	OrderID   string    `json:"order_id"`
	Courier   string    `json:"courier"`
	AWB       string    `json:"awb"`
	CreatedAt time.Time `json:"created_at"`
	Existing  bool      `json:"existing"`
}

func newShipmentResultResponse(r *shipment.Result) shipmentResultResponse {
	return shipmentResultResponse{
		OrderID:   r.OrderID,
		Courier:   r.Courier,
		AWB:       r.AWB,
		CreatedAt: r.CreatedAt,
		Existing:  r.Existing,
	}
}
