package store

import (
	"context"
	"time"

	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/sequence"

	"github.com/shopspring/decimal"
)

// Errors are shared with the domain so callers match them with errors.Is
// regardless of which repository produced them.
var (
	ErrNotFound          = domain.ErrNotFound
	ErrInsufficientStock = domain.ErrInsufficientStock
	ErrConflict          = domain.ErrConflict
)

// PCTransition is a compare-and-set on a PC's status.
type PCTransition struct {
	PCID string
	From string
	To   string
}

// Change is one atomic billing write. Either every part is applied or none.
//
// Updated sessions and sales carry the version they will have after the
// write; the stored version must be exactly one less or the commit fails
// with ErrConflict. New records are inserted with version 1. Stock deltas
// fail with ErrInsufficientStock when stock would go negative.
type Change struct {
	NewSessions     []domain.GamingSession
	UpdatedSessions []domain.GamingSession
	NewSale         *domain.Sale
	UpdatedSale     *domain.Sale
	PCTransitions   []PCTransition
	StockDeltas     []domain.StockAdjustment
}

func (c Change) IsEmpty() bool {
	return len(c.NewSessions) == 0 && len(c.UpdatedSessions) == 0 && c.NewSale == nil &&
		c.UpdatedSale == nil && len(c.PCTransitions) == 0 && len(c.StockDeltas) == 0
}

type SessionFilter struct {
	Status string
	PCID   string
	SaleID string
	Limit  int
}

type Repository interface {
	Commit(ctx context.Context, change Change) error
	IncrementCounter(ctx context.Context, key string, expireAt time.Time) (int64, error)
	// LatestSequence returns the highest session or invoice number stored for
	// day, or 0 when there is none.
	LatestSequence(ctx context.Context, kind sequence.Kind, day string) (int64, error)

	GetSession(ctx context.Context, id string) (*domain.GamingSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]domain.GamingSession, error)
	GetActiveSessionByPC(ctx context.Context, pcID string) (*domain.GamingSession, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.Sale, error)

	CreatePC(ctx context.Context, pc domain.PC) (*domain.PC, error)
	GetPC(ctx context.Context, id string) (*domain.PC, error)
	// UpdatePC writes a PC's directory fields. Status is only written through
	// the transition, which fails with ErrConflict when the stored status is
	// no longer From. A nil transition leaves status untouched.
	UpdatePC(ctx context.Context, pc domain.PC, status *PCTransition) (*domain.PC, error)
	ListPCs(ctx context.Context) ([]domain.PC, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	RecordPurchase(ctx context.Context, customerID string, amountUSD decimal.Decimal, at time.Time) error

	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)

	CreateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error)
	GetDiscount(ctx context.Context, id string) (*domain.Discount, error)
	ListDiscounts(ctx context.Context, target string) ([]domain.Discount, error)

	GetExchangeRate(ctx context.Context) (*domain.ExchangeRate, error)
	SaveExchangeRate(ctx context.Context, rate domain.ExchangeRate) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
