package cart

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/apperr"
	"github.com/xenking/kart-orders/internal/domain/coupon"
	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// CouponValidator evaluates coupon codes without consuming them.
type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (coupon.Result, error)
}

// PricedLine is a cart line resolved against the catalog.
type PricedLine struct {
	Line
	ProductName string
	VariantName string
	InStock     bool
	Pricing     pricing.Line
}

// Quote is a priced cart.
type Quote struct {
	Lines     []PricedLine
	Breakdown pricing.Breakdown
	Coupon    *pricing.Applied
	// Dropped is set when a previously applied coupon stopped qualifying.
	Dropped coupon.Reason
}

// Service selects the backing store for an owner and prices carts.
type Service struct {
	anon      Store
	persisted Store
	products  product.Repository
	coupons   CouponValidator
	engine    *pricing.Engine
}

// NewService creates a cart Service. anon holds session carts, persisted
// holds carts of signed-in users.
func NewService(
	anon Store,
	persisted Store,
	products product.Repository,
	coupons CouponValidator,
	engine *pricing.Engine,
) *Service {
	return &Service{
		anon:      anon,
		persisted: persisted,
		products:  products,
		coupons:   coupons,
		engine:    engine,
	}
}

func (s *Service) store(o Owner) (Store, string, error) {
	switch {
	case o.UserID != "":
		return s.persisted, o.UserID, nil
	case o.SessionID != "":
		return s.anon, o.SessionID, nil
	default:
		return nil, "", ErrNoOwner
	}
}

// Lines returns the raw cart lines.
func (s *Service) Lines(ctx context.Context, o Owner) ([]Line, error) {
	st, id, err := s.store(o)
	if err != nil {
		return nil, err
	}
	return st.Lines(ctx, id)
}

// Add adds line to the cart, summing quantities of an existing line.
func (s *Service) Add(ctx context.Context, o Owner, line Line) error {
	if line.Quantity < 1 {
		return apperr.Invalid("quantity", "quantity must be at least 1")
	}
	st, id, err := s.store(o)
	if err != nil {
		return err
	}
	if _, err := Price(ctx, s.products, []Line{line}); err != nil {
		return err
	}
	if err := st.Add(ctx, id, line); err != nil {
		return errors.Wrap(err, "add cart line")
	}
	return nil
}

// SetQuantity replaces the quantity of a line; qty <= 0 removes it.
func (s *Service) SetQuantity(ctx context.Context, o Owner, key Key, qty int) error {
	st, id, err := s.store(o)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return s.remove(ctx, st, id, key)
	}
	// Stores upsert, so an unknown key would become a line no quote can price.
	if _, err := Price(ctx, s.products, []Line{{ProductID: key.ProductID, VariantID: key.VariantID, Quantity: qty}}); err != nil {
		return err
	}
	if err := st.SetQuantity(ctx, id, key, qty); err != nil {
		return errors.Wrap(err, "set cart quantity")
	}
	return nil
}

// Remove deletes a line.
func (s *Service) Remove(ctx context.Context, o Owner, key Key) error {
	st, id, err := s.store(o)
	if err != nil {
		return err
	}
	return s.remove(ctx, st, id, key)
}

func (s *Service) remove(ctx context.Context, st Store, id string, key Key) error {
	if err := st.Remove(ctx, id, key); err != nil {
		return errors.Wrap(err, "remove cart line")
	}
	return nil
}

// Clear empties the cart and drops the applied coupon.
func (s *Service) Clear(ctx context.Context, o Owner) error {
	st, id, err := s.store(o)
	if err != nil {
		return err
	}
	if err := st.Clear(ctx, id); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

// Merge moves the anonymous cart of sessionID into the persisted cart of
// userID. Quantities of lines present in both are summed. The applied coupon
// follows unless the user cart already has one.
func (s *Service) Merge(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" || userID == "" {
		return apperr.Invalid("session", "both a session and a signed-in user are required to merge carts")
	}

	lines, err := s.anon.Lines(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "read anonymous cart")
	}
	for _, l := range lines {
		if err := s.persisted.Add(ctx, userID, l); err != nil {
			return errors.Wrapf(err, "merge line %s", l.ProductID)
		}
	}

	anonCoupon, err := s.anon.Coupon(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "read anonymous coupon")
	}
	if anonCoupon != nil {
		current, err := s.persisted.Coupon(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "read user coupon")
		}
		if current == nil {
			if err := s.persisted.SetCoupon(ctx, userID, anonCoupon); err != nil {
				return errors.Wrap(err, "move coupon")
			}
		}
	}

	if err := s.anon.Clear(ctx, sessionID); err != nil {
		return errors.Wrap(err, "clear anonymous cart")
	}
	return nil
}

// Quote prices the cart. The applied coupon is re-evaluated against the
// current subtotal; when it no longer qualifies it is removed from the cart.
func (s *Service) Quote(ctx context.Context, o Owner) (*Quote, error) {
	st, id, err := s.store(o)
	if err != nil {
		return nil, err
	}
	lines, err := st.Lines(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	priced, err := Price(ctx, s.products, lines)
	if err != nil {
		return nil, err
	}
	applied, err := st.Coupon(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "read applied coupon")
	}

	q := &Quote{Lines: priced}
	if applied != nil {
		res, err := s.coupons.Validate(ctx, applied.Code, pricing.Subtotal(PricingLines(priced)))
		if err != nil {
			return nil, err
		}
		if res.Valid {
			applied = res.Applied()
		} else {
			q.Dropped = res.Reason
			applied = nil
		}
		if err := st.SetCoupon(ctx, id, applied); err != nil {
			return nil, errors.Wrap(err, "refresh applied coupon")
		}
	}

	q.Coupon = applied
	q.Breakdown = s.engine.Quote(PricingLines(priced), applied)
	return q, nil
}

// ApplyCoupon validates code against the current subtotal and attaches it to
// the cart when valid. An invalid code leaves the cart untouched.
func (s *Service) ApplyCoupon(ctx context.Context, o Owner, code string) (coupon.Result, error) {
	st, id, err := s.store(o)
	if err != nil {
		return coupon.Result{}, err
	}
	lines, err := st.Lines(ctx, id)
	if err != nil {
		return coupon.Result{}, errors.Wrap(err, "read cart")
	}
	priced, err := Price(ctx, s.products, lines)
	if err != nil {
		return coupon.Result{}, err
	}

	res, err := s.coupons.Validate(ctx, strings.ToUpper(strings.TrimSpace(code)), pricing.Subtotal(PricingLines(priced)))
	if err != nil {
		return coupon.Result{}, err
	}
	if !res.Valid {
		return res, nil
	}
	if err := st.SetCoupon(ctx, id, res.Applied()); err != nil {
		return coupon.Result{}, errors.Wrap(err, "store applied coupon")
	}
	return res, nil
}

// RemoveCoupon detaches the applied coupon.
func (s *Service) RemoveCoupon(ctx context.Context, o Owner) error {
	st, id, err := s.store(o)
	if err != nil {
		return err
	}
	if err := st.SetCoupon(ctx, id, nil); err != nil {
		return errors.Wrap(err, "remove applied coupon")
	}
	return nil
}

// Price resolves lines against the catalog in a single batch. Unknown
// products or variants yield *product.NotFoundError.
func Price(ctx context.Context, catalog product.Repository, lines []Line) ([]PricedLine, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}

	fetched, err := catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	out := make([]PricedLine, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &product.NotFoundError{ProductID: l.ProductID}
		}
		pl := PricedLine{
			Line:        l,
			ProductName: p.Name,
			InStock:     p.InStock,
			Pricing: pricing.Line{
				ProductID:         p.ID,
				UnitPrice:         p.Price,
				VariantAdjustment: decimal.Zero,
				Quantity:          l.Quantity,
			},
		}
		if l.VariantID != "" {
			v, ok := p.Variant(l.VariantID)
			if !ok {
				return nil, &product.NotFoundError{ProductID: l.ProductID, VariantID: l.VariantID}
			}
			pl.VariantName = v.Name
			pl.InStock = pl.InStock && v.InStock
			pl.Pricing.VariantID = v.ID
			pl.Pricing.VariantAdjustment = v.PriceAdjustment
		}
		out = append(out, pl)
	}
	return out, nil
}

// PricingLines extracts the pricing view of priced lines.
func PricingLines(priced []PricedLine) []pricing.Line {
	out := make([]pricing.Line, len(priced))
	for i, p := range priced {
		out[i] = p.Pricing
	}
	return out
}
