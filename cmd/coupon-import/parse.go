package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/coupon"
)

// bloomFPR is the false positive rate of the duplicate pre-check.
const bloomFPR = 0.001

func readFile(ctx context.Context, path string) ([]coupon.Coupon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return parse(ctx, gz)
}

// parse reads coupon rows from r.
func parse(ctx context.Context, r io.Reader) ([]coupon.Coupon, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []coupon.Coupon
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read row")
		}
		line, _ := cr.FieldPos(0)
		c, err := parseRecord(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, c)
	}
}

func parseRecord(rec []string) (coupon.Coupon, error) {
	if len(rec) < 3 {
		return coupon.Coupon{}, errors.Errorf("want at least 3 fields, got %d", len(rec))
	}
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	c := coupon.Coupon{
		Code:         strings.ToUpper(field(0)),
		DiscountType: coupon.DiscountType(strings.ToLower(field(1))),
		Active:       true,
	}
	if c.Code == "" {
		return coupon.Coupon{}, errors.New("empty code")
	}
	switch c.DiscountType {
	case coupon.DiscountPercentage, coupon.DiscountFixed:
	default:
		return coupon.Coupon{}, errors.Errorf("unknown discount type %q", c.DiscountType)
	}

	var err error
	if c.Value, err = decimal.NewFromString(field(2)); err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "value")
	}
	if !c.Value.IsPositive() {
		return coupon.Coupon{}, errors.New("value must be positive")
	}
	if c.DiscountType == coupon.DiscountPercentage && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return coupon.Coupon{}, errors.New("percentage above 100")
	}
	if v := field(3); v != "" {
		if c.MinPurchase, err = decimal.NewFromString(v); err != nil {
			return coupon.Coupon{}, errors.Wrap(err, "min_purchase")
		}
	}
	if v := field(4); v != "" {
		if c.MaxUses, err = strconv.Atoi(v); err != nil || c.MaxUses < 0 {
			return coupon.Coupon{}, errors.Errorf("invalid max_uses %q", v)
		}
	}
	if v := field(5); v != "" {
		until, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return coupon.Coupon{}, errors.Wrap(err, "valid_until")
		}
		c.ValidUntil = &until
	}
	return c, nil
}

// dedupe flattens files in order and keeps the first definition of each
// code. Most codes are new, so a bloom filter answers first and the exact
// set is consulted only on a possible hit.
func dedupe(files [][]coupon.Coupon) []coupon.Coupon {
	total := 0
	for _, f := range files {
		total += len(f)
	}
	if total == 0 {
		return nil
	}

	filter := bloom.NewWithEstimates(uint(total), bloomFPR)
	seen := make(map[string]struct{}, total)
	out := make([]coupon.Coupon, 0, total)
	dups := 0
	for _, f := range files {
		for _, c := range f {
			if filter.TestAndAddString(c.Code) {
				if _, ok := seen[c.Code]; ok {
					dups++
					continue
				}
			}
			seen[c.Code] = struct{}{}
			out = append(out, c)
		}
	}
	if dups > 0 {
		slog.Info("skipped duplicate codes", slog.Int("count", dups))
	}
	return out
}
