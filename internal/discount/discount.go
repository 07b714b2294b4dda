// Package discount decides whether a discount may be applied to a target and
// computes the amount it takes off.
package discount

import (
	"fmt"
	"sort"
	"time"

	"arcadepos/backend/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Target describes what a discount is being applied to.
type Target struct {
	Kind       string
	ProductID  string
	CategoryID string
}

func ProductTarget(product domain.Product) Target {
	return Target{Kind: domain.DiscountTargetProduct, ProductID: product.ID, CategoryID: product.CategoryID}
}

func SessionTarget() Target {
	return Target{Kind: domain.DiscountTargetGamingSession}
}

func SaleTarget() Target {
	return Target{Kind: domain.DiscountTargetSale}
}

// Resolve checks that d is currently valid and scoped to target. Product and
// category discounts both apply to product lines.
func Resolve(d domain.Discount, target Target, now time.Time) error {
	if !d.IsValidAt(now) {
		return fmt.Errorf("%w: %q is inactive or outside its validity window", domain.ErrDiscountNotApplicable, d.Name)
	}

	switch d.Target {
	case domain.DiscountTargetProduct:
		if target.Kind != domain.DiscountTargetProduct || target.ProductID != d.TargetID {
			return fmt.Errorf("%w: %q only applies to product %s", domain.ErrDiscountNotApplicable, d.Name, d.TargetID)
		}
	case domain.DiscountTargetCategory:
		if target.Kind != domain.DiscountTargetProduct || target.CategoryID != d.TargetID {
			return fmt.Errorf("%w: %q only applies to category %s", domain.ErrDiscountNotApplicable, d.Name, d.TargetID)
		}
	case domain.DiscountTargetGamingSession, domain.DiscountTargetSale:
		if target.Kind != d.Target {
			return fmt.Errorf("%w: %q only applies to %s", domain.ErrDiscountNotApplicable, d.Name, d.Target)
		}
	default:
		return fmt.Errorf("%w: unknown target %q", domain.ErrDiscountNotApplicable, d.Target)
	}
	return nil
}

// ApplyPercentage returns base × pct / 100, rounded per currency.
func ApplyPercentage(base domain.Money, pct decimal.Decimal) (domain.Money, error) {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return domain.Money{}, fmt.Errorf("%w: percentage %s out of range", domain.ErrInvalidInput, pct)
	}
	return base.ScaleRatio(pct, hundred)
}

// Apply resolves d against target and snapshots it with the amount taken off base.
func Apply(d domain.Discount, target Target, base domain.Money, now time.Time) (domain.AppliedDiscount, error) {
	if err := Resolve(d, target, now); err != nil {
		return domain.AppliedDiscount{}, err
	}
	amount, err := ApplyPercentage(base, d.Value)
	if err != nil {
		return domain.AppliedDiscount{}, err
	}
	return domain.AppliedDiscount{
		DiscountID: d.ID,
		Name:       d.Name,
		Percentage: d.Value,
		Amount:     amount,
	}, nil
}

// Reapply recomputes a stored snapshot against a new base without looking the
// discount up again.
func Reapply(applied domain.AppliedDiscount, base domain.Money) (domain.AppliedDiscount, error) {
	amount, err := ApplyPercentage(base, applied.Percentage)
	if err != nil {
		return domain.AppliedDiscount{}, err
	}
	applied.Amount = amount
	return applied, nil
}

// Applicable filters discounts to the ones currently valid for target,
// highest value first.
func Applicable(discounts []domain.Discount, target Target, now time.Time) []domain.Discount {
	out := make([]domain.Discount, 0, len(discounts))
	for _, d := range discounts {
		if Resolve(d, target, now) == nil {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value.GreaterThan(out[j].Value)
	})
	return out
}
