// Package pricing resolves the unit price a customer pays for a variant.
package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store"
)

var hundred = decimal.NewFromInt(100)

type Resolver struct {
	now func() time.Time
}

func New(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Resolve starts from the retail price. An applicable promo code wins
// outright; otherwise the member or reseller price replaces retail only
// when it is strictly lower.
func (r *Resolver) Resolve(ctx context.Context, rd store.Reader, variantID string, customer domain.Customer, promoCode string) (domain.ResolvedPrice, error) {
	if _, err := rd.GetVariant(ctx, variantID); err != nil {
		return domain.ResolvedPrice{}, err
	}
	profile, err := rd.GetPriceProfile(ctx, variantID)
	if err != nil {
		return domain.ResolvedPrice{}, err
	}

	resolved := domain.ResolvedPrice{
		VariantID:       variantID,
		UnitPrice:       profile.RetailPrice,
		OriginalPrice:   profile.RetailPrice,
		PriceType:       domain.PriceTypeRetail,
		DiscountPercent: decimal.Zero,
		TaxPercent:      profile.TaxPercent,
	}

	if code := strings.TrimSpace(promoCode); code != "" {
		promo, err := rd.GetPromotionByCode(ctx, code)
		switch {
		case err == nil:
			if r.promoApplies(*promo, variantID, customer) {
				resolved.UnitPrice = promo.PromoPrice
				resolved.PriceType = domain.PriceTypePromo
				resolved.PromoCode = promo.Code
				resolved.DiscountPercent = percentOff(profile.RetailPrice, promo.PromoPrice)
				return resolved, nil
			}
		case !errors.Is(err, store.ErrNotFound):
			return domain.ResolvedPrice{}, err
		}
	}

	switch {
	case customer.IsMember():
		candidate := effectivePrice(profile.RetailPrice, profile.MemberPrice, profile.MemberDiscountPercent)
		if candidate.LessThan(resolved.UnitPrice) {
			resolved.UnitPrice = candidate
			resolved.PriceType = domain.PriceTypeMember
		}
	case customer.IsReseller():
		candidate := effectivePrice(profile.RetailPrice, profile.ResellerPrice, profile.ResellerDiscountPercent)
		if candidate.LessThan(resolved.UnitPrice) {
			resolved.UnitPrice = candidate
			resolved.PriceType = domain.PriceTypeReseller
		}
	}
	resolved.DiscountPercent = percentOff(profile.RetailPrice, resolved.UnitPrice)
	return resolved, nil
}

func (r *Resolver) promoApplies(promo domain.Promotion, variantID string, customer domain.Customer) bool {
	if promo.VariantID != variantID {
		return false
	}
	if !promo.ActiveAt(r.now()) {
		return false
	}
	if promo.MemberOnly && !customer.IsMember() {
		return false
	}
	return true
}

// effectivePrice prefers an explicit tier price and otherwise derives one
// from the retail price and the tier's discount percent.
func effectivePrice(retail, explicit, discountPercent decimal.Decimal) decimal.Decimal {
	if explicit.IsPositive() {
		return explicit
	}
	factor := decimal.NewFromInt(1).Sub(discountPercent.Div(hundred))
	return retail.Mul(factor).Round(2)
}

func percentOff(retail, price decimal.Decimal) decimal.Decimal {
	if !retail.IsPositive() || !price.LessThan(retail) {
		return decimal.Zero
	}
	return retail.Sub(price).Div(retail).Mul(hundred).Round(2)
}
