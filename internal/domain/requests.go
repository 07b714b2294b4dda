package domain

import (
	"github.com/shopspring/decimal"
)

type StartSessionRequest struct {
	PCID           string `json:"pc_id"`
	CustomerID     string `json:"customer_id,omitempty"`
	CustomerName   string `json:"customer_name,omitempty"`
	ExistingSaleID string `json:"existing_sale_id,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type EndSessionRequest struct {
	DiscountID string `json:"discount_id,omitempty"`
}

type SessionCost struct {
	SessionID     string `json:"session_id"`
	SessionNumber string `json:"session_number"`
	PCID          string `json:"pc_id"`
	Duration      int64  `json:"duration"`
	Cost          Money  `json:"cost"`
}

type SaleProjection struct {
	SaleID            string        `json:"sale_id"`
	CurrentTotals     Money         `json:"current_totals"`
	HasActiveSessions bool          `json:"has_active_sessions"`
	PerSession        []SessionCost `json:"per_session"`
}

type SaleItemInput struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	DiscountID string `json:"discount_id,omitempty"`
}

type SessionDiscountInput struct {
	SessionID  string `json:"session_id"`
	DiscountID string `json:"discount_id"`
}

type CreateSaleRequest struct {
	CustomerID string          `json:"customer_id,omitempty"`
	Items      []SaleItemInput `json:"items"`
	Notes      string          `json:"notes,omitempty"`
}

// UpdateSaleRequest leaves a field untouched when it is nil. An empty
// SaleDiscountID removes the sale-level discount.
type UpdateSaleRequest struct {
	Items            []SaleItemInput        `json:"items,omitempty"`
	SessionDiscounts []SessionDiscountInput `json:"session_discounts,omitempty"`
	SaleDiscountID   *string                `json:"sale_discount_id,omitempty"`
}

type PaySaleRequest struct {
	PaymentMethod   string          `json:"payment_method"`
	PaymentCurrency string          `json:"payment_currency"`
	Amount          decimal.Decimal `json:"amount"`
}
