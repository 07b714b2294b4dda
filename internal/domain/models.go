package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PC struct {
	ID         string    `json:"id"`
	PCNumber   string    `json:"pc_number"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	HourlyRate Money     `json:"hourly_rate"`
	Location   string    `json:"location,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type PCCreateRequest struct {
	PCNumber      string           `json:"pc_number"`
	Name          string           `json:"name"`
	HourlyRateUSD *decimal.Decimal `json:"hourly_rate_usd,omitempty"`
	Location      string           `json:"location"`
	Notes         string           `json:"notes"`
}

type PCUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	HourlyRateUSD *decimal.Decimal `json:"hourly_rate_usd,omitempty"`
	Location      *string          `json:"location,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	Status        *string          `json:"status,omitempty"`
	IsActive      *bool            `json:"is_active,omitempty"`
}

type Customer struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Phone            string          `json:"phone"`
	Email            string          `json:"email,omitempty"`
	TotalPurchases   decimal.Decimal `json:"total_purchases"`
	LastPurchaseDate *time.Time      `json:"last_purchase_date,omitempty"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name string `json:"name"`
}

type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	CategoryID string    `json:"category_id"`
	Pricing    Money     `json:"pricing"`
	Stock      int       `json:"stock"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	CategoryID   string          `json:"category_id"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	InitialStock int             `json:"initial_stock"`
}

// StockAdjustment moves physical stock: negative reserves, positive restocks.
type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

type Discount struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	Target      string          `json:"target"`
	TargetID    string          `json:"target_id,omitempty"`
	IsActive    bool            `json:"is_active"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

type DiscountCreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Value       decimal.Decimal `json:"value"`
	Target      string          `json:"target"`
	TargetID    string          `json:"target_id"`
	IsActive    *bool           `json:"is_active,omitempty"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
}

// AppliedDiscount is the snapshot of a discount stored on a sale, sale item
// or session at the time it was applied.
type AppliedDiscount struct {
	DiscountID string          `json:"discount_id"`
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     Money           `json:"amount"`
}

type GamingSession struct {
	ID            string           `json:"id"`
	SessionNumber string           `json:"session_number"`
	PC            Ref[PC]          `json:"pc"`
	Customer      Ref[Customer]    `json:"customer"`
	CustomerName  string           `json:"customer_name,omitempty"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       *time.Time       `json:"end_time,omitempty"`
	Duration      int64            `json:"duration"`
	HourlyRate    Money            `json:"hourly_rate"`
	Discount      *AppliedDiscount `json:"discount,omitempty"`
	TotalCost     Money            `json:"total_cost"`
	FinalAmount   Money            `json:"final_amount"`
	Status        string           `json:"status"`
	PaymentStatus string           `json:"payment_status"`
	SaleID        string           `json:"sale_id"`
	StartedBy     string           `json:"started_by"`
	EndedBy       string           `json:"ended_by,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Version       int64            `json:"version"`
}

func (s GamingSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

type SaleItem struct {
	ProductID   string           `json:"product_id"`
	ProductName string           `json:"product_name"`
	ProductSKU  string           `json:"product_sku"`
	Quantity    int              `json:"quantity"`
	UnitPrice   Money            `json:"unit_price"`
	Discount    *AppliedDiscount `json:"discount,omitempty"`
	Subtotal    Money            `json:"subtotal"`
	FinalAmount Money            `json:"final_amount"`
	SessionID   string           `json:"session_id,omitempty"`
}

// IsSession reports whether the line carries gaming time rather than a product.
func (i SaleItem) IsSession() bool {
	return strings.HasPrefix(i.ProductSKU, SessionSKUPrefix)
}

type Sale struct {
	ID                     string           `json:"id"`
	InvoiceNumber          string           `json:"invoice_number"`
	Customer               Ref[Customer]    `json:"customer"`
	Items                  []SaleItem       `json:"items"`
	SubtotalBeforeDiscount Money            `json:"subtotal_before_discount"`
	TotalItemDiscounts     Money            `json:"total_item_discounts"`
	SaleDiscount           *AppliedDiscount `json:"sale_discount,omitempty"`
	Totals                 Money            `json:"totals"`
	PaymentMethod          string           `json:"payment_method,omitempty"`
	PaymentCurrency        string           `json:"payment_currency,omitempty"`
	AmountPaid             Money            `json:"amount_paid"`
	Status                 string           `json:"status"`
	CashierID              string           `json:"cashier_id"`
	Notes                  string           `json:"notes,omitempty"`
	PaidAt                 *time.Time       `json:"paid_at,omitempty"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
	Version                int64            `json:"version"`
}

// RemoveItemsWhere drops every item matching pred and returns the removed ones.
func (s *Sale) RemoveItemsWhere(pred func(SaleItem) bool) []SaleItem {
	kept := make([]SaleItem, 0, len(s.Items))
	removed := make([]SaleItem, 0)
	for _, item := range s.Items {
		if pred(item) {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	s.Items = kept
	return removed
}

func (s *Sale) FindItem(pred func(SaleItem) bool) (int, bool) {
	for i, item := range s.Items {
		if pred(item) {
			return i, true
		}
	}
	return -1, false
}

func (s Sale) ProductItems() []SaleItem {
	items := make([]SaleItem, 0, len(s.Items))
	for _, item := range s.Items {
		if !item.IsSession() {
			items = append(items, item)
		}
	}
	return items
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (s Sale) Clone() Sale {
	out := s
	out.Items = make([]SaleItem, len(s.Items))
	for i, item := range s.Items {
		if item.Discount != nil {
			d := *item.Discount
			item.Discount = &d
		}
		out.Items[i] = item
	}
	if s.SaleDiscount != nil {
		d := *s.SaleDiscount
		out.SaleDiscount = &d
	}
	if s.PaidAt != nil {
		at := *s.PaidAt
		out.PaidAt = &at
	}
	return out
}

func (s GamingSession) Clone() GamingSession {
	out := s
	if s.Discount != nil {
		d := *s.Discount
		out.Discount = &d
	}
	if s.EndTime != nil {
		at := *s.EndTime
		out.EndTime = &at
	}
	return out
}

func SessionItemSKU(sessionNumber string) string {
	return SessionSKUPrefix + sessionNumber
}

type ExchangeRate struct {
	ID            string          `json:"id"`
	Rate          decimal.Decimal `json:"rate"`
	PreviousRate  decimal.Decimal `json:"previous_rate"`
	UpdatedBy     string          `json:"updated_by"`
	EffectiveFrom time.Time       `json:"effective_from"`
	Notes         string          `json:"notes,omitempty"`
}

type ExchangeRateUpdateRequest struct {
	Rate  decimal.Decimal `json:"rate"`
	Notes string          `json:"notes"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	PCStatusAvailable   = "available"
	PCStatusOccupied    = "occupied"
	PCStatusMaintenance = "maintenance"
	PCStatusReserved    = "reserved"
)

const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

const (
	SaleStatusPending   = "pending"
	SaleStatusPaid      = "paid"
	SaleStatusCancelled = "cancelled"
)

const (
	PaymentMethodCash         = "cash"
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
)

const (
	DiscountTypePercentage = "percentage"

	DiscountTargetProduct       = "product"
	DiscountTargetCategory      = "category"
	DiscountTargetGamingSession = "gaming_session"
	DiscountTargetSale          = "sale"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// SessionSKUPrefix is reserved for sale lines that bill gaming time.
const SessionSKUPrefix = "SESSION-"

// WalkInCustomerName labels sessions started without a customer.
const WalkInCustomerName = "Walk-in"

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodBankTransfer:
		return true
	default:
		return false
	}
}
