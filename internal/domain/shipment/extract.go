package shipment

import (
	"github.com/xenking/kart-orders/internal/jxpath"
)

// Extractor finds a value in a carrier response.
type Extractor func(raw []byte) (string, bool)

// Path returns an Extractor reading the scalar at path.
func Path(path ...string) Extractor {
	return func(raw []byte) (string, bool) {
		return jxpath.Lookup(raw, path...)
	}
}

// TrackingExtractors lists the known locations of the tracking id across
// carrier response shapes, most specific first.
var TrackingExtractors = []Extractor{
	Path("awb_code"),
	Path("payload", "awb_code"),
	Path("response", "data", "awb_code"),
	Path("packages", "0", "waybill"),
	Path("waybill"),
}

// CourierExtractors lists the known locations of the courier name.
var CourierExtractors = []Extractor{
	Path("courier_name"),
	Path("payload", "courier_name"),
	Path("response", "data", "courier_name"),
	Path("packages", "0", "courier"),
}

// First returns the first value any extractor finds.
func First(raw []byte, extractors []Extractor) (string, bool) {
	for _, ex := range extractors {
		if v, ok := ex(raw); ok {
			return v, true
		}
	}
	return "", false
}
