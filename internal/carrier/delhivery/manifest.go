package delhivery

import (
	"strings"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/shipment"
)

// encodeManifest renders the create-shipment document.
func encodeManifest(req shipment.Request) []byte {
	var e jx.Encoder
	e.ObjStart()

	e.FieldStart("shipments")
	e.ArrStart()
	e.ObjStart()
	c := req.Consignee
	str(&e, "order", req.OrderID)
	if !req.OrderDate.IsZero() {
		str(&e, "order_date", req.OrderDate.UTC().Format("2006-01-02 15:04:05"))
	}
	str(&e, "name", c.Name)
	str(&e, "phone", c.Phone)
	if c.Email != "" {
		str(&e, "email", c.Email)
	}
	str(&e, "add", strings.TrimSpace(c.Line1+" "+c.Line2))
	str(&e, "city", c.City)
	str(&e, "state", c.State)
	str(&e, "pin", c.PostalCode)
	country := c.Country
	if country == "" {
		country = "India"
	}
	str(&e, "country", country)
	str(&e, "payment_mode", req.PaymentMode)
	num(&e, "cod_amount", req.CODAmount)
	num(&e, "total_amount", req.SubTotal)

	names := make([]string, 0, len(req.Items))
	qty := 0
	for _, it := range req.Items {
		names = append(names, it.Name)
		qty += it.Units
	}
	str(&e, "products_desc", strings.Join(names, ", "))
	e.FieldStart("quantity")
	e.Int(qty)

	if !req.WeightKg.IsZero() {
		// Grams.
		num(&e, "weight", req.WeightKg.Mul(decimal.NewFromInt(1000)).Round(0))
	}
	if !req.Length.IsZero() {
		num(&e, "shipment_length", req.Length)
		num(&e, "shipment_width", req.Breadth)
		num(&e, "shipment_height", req.Height)
	}

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range req.Items {
		e.ObjStart()
		str(&e, "name", it.Name)
		str(&e, "sku", it.SKU)
		e.FieldStart("units")
		e.Int(it.Units)
		num(&e, "selling_price", it.SellingPrice)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.ObjEnd()
	e.ArrEnd()

	e.FieldStart("pickup_location")
	e.ObjStart()
	str(&e, "name", req.PickupLocation)
	e.ObjEnd()

	e.ObjEnd()
	return e.Bytes()
}

func str(e *jx.Encoder, key, v string) {
	e.FieldStart(key)
	e.Str(v)
}

func num(e *jx.Encoder, key string, v decimal.Decimal) {
	e.FieldStart(key)
	e.Num(jx.Num(v.StringFixed(2)))
}
