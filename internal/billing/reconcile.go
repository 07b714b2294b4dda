package billing

import (
	"fmt"

	"arcadepos/backend/internal/discount"
	"arcadepos/backend/internal/domain"

	"github.com/shopspring/decimal"
)

// Recompute derives every total on the sale from its items and discounts.
// Product lines are re-priced from unit price and quantity and their
// discounts re-derived. Session lines keep the pricing their session wrote.
// The sale discount is always recomputed against the current running total.
func Recompute(sale *domain.Sale) error {
	subtotal := domain.ZeroMoney()
	itemDiscounts := domain.ZeroMoney()

	for i := range sale.Items {
		item := &sale.Items[i]
		if !item.IsSession() {
			if err := priceProductItem(item); err != nil {
				return fmt.Errorf("item %s: %w", item.ProductSKU, err)
			}
		}
		subtotal = subtotal.Add(item.Subtotal)
		if item.Discount != nil {
			itemDiscounts = itemDiscounts.Add(item.Discount.Amount)
		}
	}

	running, err := subtotal.Sub(itemDiscounts)
	if err != nil {
		return fmt.Errorf("item discounts exceed subtotal: %w", err)
	}

	if sale.SaleDiscount != nil {
		applied, err := discount.Reapply(*sale.SaleDiscount, running)
		if err != nil {
			return err
		}
		sale.SaleDiscount = &applied
		running, err = running.Sub(applied.Amount)
		if err != nil {
			return fmt.Errorf("sale discount exceeds total: %w", err)
		}
	}

	sale.SubtotalBeforeDiscount = subtotal
	sale.TotalItemDiscounts = itemDiscounts
	sale.Totals = running
	return nil
}

func priceProductItem(item *domain.SaleItem) error {
	if item.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	subtotal, err := item.UnitPrice.Scale(decimal.NewFromInt(int64(item.Quantity)))
	if err != nil {
		return err
	}
	item.Subtotal = subtotal
	item.FinalAmount = subtotal
	if item.Discount == nil {
		return nil
	}
	applied, err := discount.Reapply(*item.Discount, subtotal)
	if err != nil {
		return err
	}
	final, err := subtotal.Sub(applied.Amount)
	if err != nil {
		return err
	}
	item.Discount = &applied
	item.FinalAmount = final
	return nil
}

func sessionItemMatcher(sessionID string, sessionNumber string) func(domain.SaleItem) bool {
	sku := domain.SessionItemSKU(sessionNumber)
	return func(item domain.SaleItem) bool {
		if !item.IsSession() {
			return false
		}
		return item.ProductSKU == sku || (sessionID != "" && item.SessionID == sessionID)
	}
}

// AddSessionPlaceholder appends the zero priced line that will carry the
// session's charge once it is finalized.
func AddSessionPlaceholder(sale *domain.Sale, session domain.GamingSession, pcNumber string) error {
	if _, exists := sale.FindItem(sessionItemMatcher(session.ID, session.SessionNumber)); exists {
		return fmt.Errorf("%w: sale %s already carries session %s", domain.ErrConflict, sale.InvoiceNumber, session.SessionNumber)
	}
	sale.Items = append(sale.Items, domain.SaleItem{
		ProductName: sessionItemName(pcNumber),
		ProductSKU:  domain.SessionItemSKU(session.SessionNumber),
		Quantity:    1,
		UnitPrice:   domain.ZeroMoney(),
		Subtotal:    domain.ZeroMoney(),
		FinalAmount: domain.ZeroMoney(),
		SessionID:   session.ID,
	})
	return Recompute(sale)
}

// ApplySessionPricing writes finalized session pricing into the sale's
// session line and recomputes the sale. A missing line is appended.
func ApplySessionPricing(sale *domain.Sale, pricing SessionPricing) error {
	line := domain.SaleItem{
		ProductName: sessionItemName(pricing.PCNumber),
		ProductSKU:  domain.SessionItemSKU(pricing.SessionNumber),
		Quantity:    1,
		UnitPrice:   pricing.TotalCost,
		Subtotal:    pricing.TotalCost,
		FinalAmount: pricing.FinalAmount,
		SessionID:   pricing.SessionID,
	}
	if pricing.Discount != nil {
		applied := *pricing.Discount
		line.Discount = &applied
	}

	if idx, ok := sale.FindItem(sessionItemMatcher(pricing.SessionID, pricing.SessionNumber)); ok {
		if pricing.PCNumber == "" {
			line.ProductName = sale.Items[idx].ProductName
		}
		sale.Items[idx] = line
	} else {
		sale.Items = append(sale.Items, line)
	}
	return Recompute(sale)
}

// RemoveSessionItem drops the session's line and recomputes the sale.
func RemoveSessionItem(sale *domain.Sale, sessionID string, sessionNumber string) ([]domain.SaleItem, error) {
	removed := sale.RemoveItemsWhere(sessionItemMatcher(sessionID, sessionNumber))
	if err := Recompute(sale); err != nil {
		return nil, err
	}
	return removed, nil
}

// Verify checks the sale's total invariants without modifying it.
func Verify(sale domain.Sale) error {
	finals := domain.ZeroMoney()
	subtotals := domain.ZeroMoney()
	discounts := domain.ZeroMoney()
	for _, item := range sale.Items {
		finals = finals.Add(item.FinalAmount)
		subtotals = subtotals.Add(item.Subtotal)
		if item.Discount != nil {
			discounts = discounts.Add(item.Discount.Amount)
		}
	}

	saleDiscount := domain.ZeroMoney()
	if sale.SaleDiscount != nil {
		saleDiscount = sale.SaleDiscount.Amount
	}

	if !subtotals.Equal(sale.SubtotalBeforeDiscount) || !discounts.Equal(sale.TotalItemDiscounts) {
		return fmt.Errorf("%w: sale %s subtotals out of sync", domain.ErrInvalidState, sale.InvoiceNumber)
	}
	want, err := finals.Sub(saleDiscount)
	if err != nil {
		return fmt.Errorf("%w: sale %s discount exceeds items", domain.ErrInvalidState, sale.InvoiceNumber)
	}
	if !want.Equal(sale.Totals) {
		return fmt.Errorf("%w: sale %s totals %s, expected %s", domain.ErrInvalidState, sale.InvoiceNumber, sale.Totals, want)
	}
	return nil
}

func sessionItemName(pcNumber string) string {
	if pcNumber == "" {
		return "Gaming session"
	}
	return "Gaming session " + pcNumber
}
