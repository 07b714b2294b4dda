package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func IsSupportedDiscountTarget(target string) bool {
	switch target {
	case DiscountTargetProduct, DiscountTargetCategory, DiscountTargetGamingSession, DiscountTargetSale:
		return true
	default:
		return false
	}
}

// ValidateTarget enforces that TargetID is set exactly for product and
// category discounts.
func (d Discount) ValidateTarget() error {
	if !IsSupportedDiscountTarget(d.Target) {
		return fmt.Errorf("%w: unknown discount target %q", ErrInvalidInput, d.Target)
	}
	hasTarget := strings.TrimSpace(d.TargetID) != ""
	switch d.Target {
	case DiscountTargetProduct, DiscountTargetCategory:
		if !hasTarget {
			return fmt.Errorf("%w: target_id is required for %s discounts", ErrInvalidInput, d.Target)
		}
	default:
		if hasTarget {
			return fmt.Errorf("%w: target_id is not allowed for %s discounts", ErrInvalidInput, d.Target)
		}
	}
	return nil
}

func (d Discount) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: discount name is required", ErrInvalidInput)
	}
	if d.Type != DiscountTypePercentage {
		return fmt.Errorf("%w: unsupported discount type %q", ErrInvalidInput, d.Type)
	}
	if d.Value.IsNegative() || d.Value.GreaterThan(hundred) {
		return fmt.Errorf("%w: discount value must be between 0 and 100", ErrInvalidInput)
	}
	if d.StartDate != nil && d.EndDate != nil && d.EndDate.Before(*d.StartDate) {
		return fmt.Errorf("%w: discount end date precedes start date", ErrInvalidInput)
	}
	return d.ValidateTarget()
}

// IsValidAt reports whether the discount is active and now falls inside its
// window. Missing bounds are open.
func (d Discount) IsValidAt(now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.StartDate != nil && now.Before(*d.StartDate) {
		return false
	}
	if d.EndDate != nil && now.After(*d.EndDate) {
		return false
	}
	return true
}
