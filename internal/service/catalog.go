package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"arcadepos/backend/internal/discount"
	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/store"
	"arcadepos/backend/internal/xid"
)

func (s *Service) ListPCs(ctx context.Context) ([]domain.PC, error) {
	return s.repo.ListPCs(ctx)
}

func (s *Service) CreatePC(ctx context.Context, req domain.PCCreateRequest) (domain.PC, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PC{}, err
	}

	number := strings.ToUpper(strings.TrimSpace(req.PCNumber))
	if number == "" {
		return domain.PC{}, fmt.Errorf("%w: pc number is required", domain.ErrInvalidInput)
	}
	if req.HourlyRateUSD == nil || req.HourlyRateUSD.IsNegative() {
		return domain.PC{}, fmt.Errorf("%w: hourly rate must be zero or more", domain.ErrInvalidInput)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = number
	}

	rate, err := s.exchangeRate(ctx)
	if err != nil {
		return domain.PC{}, err
	}
	hourly, err := domain.MoneyFromUSD(*req.HourlyRateUSD, rate)
	if err != nil {
		return domain.PC{}, err
	}

	now := s.now()
	created, err := s.repo.CreatePC(ctx, domain.PC{
		ID:         xid.New("pc"),
		PCNumber:   number,
		Name:       name,
		Status:     domain.PCStatusAvailable,
		HourlyRate: hourly,
		Location:   strings.TrimSpace(req.Location),
		Notes:      strings.TrimSpace(req.Notes),
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.PC{}, err
	}

	s.logAudit(ctx, "pc_create", "pc", created.ID, fmt.Sprintf("number=%s,rate=%s", created.PCNumber, created.HourlyRate))
	return *created, nil
}

// UpdatePC edits a PC's directory entry. Occupancy is owned by the session
// lifecycle so status may only move between available, reserved and
// maintenance, and never while a session is running. A status change is a
// compare-and-set against the status read here; other edits leave status alone.
func (s *Service) UpdatePC(ctx context.Context, pcID string, req domain.PCUpdateRequest) (domain.PC, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PC{}, err
	}

	existing, err := s.repo.GetPC(ctx, strings.TrimSpace(pcID))
	if err != nil {
		return domain.PC{}, notFound("pc", pcID, err)
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.PC{}, fmt.Errorf("%w: name cannot be empty", domain.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Location != nil {
		updated.Location = strings.TrimSpace(*req.Location)
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	if req.HourlyRateUSD != nil {
		if req.HourlyRateUSD.IsNegative() {
			return domain.PC{}, fmt.Errorf("%w: hourly rate must be zero or more", domain.ErrInvalidInput)
		}
		rate, err := s.exchangeRate(ctx)
		if err != nil {
			return domain.PC{}, err
		}
		updated.HourlyRate, err = domain.MoneyFromUSD(*req.HourlyRateUSD, rate)
		if err != nil {
			return domain.PC{}, err
		}
	}
	var transition *store.PCTransition
	if req.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*req.Status))
		switch status {
		case domain.PCStatusAvailable, domain.PCStatusReserved, domain.PCStatusMaintenance:
		default:
			return domain.PC{}, fmt.Errorf("%w: pc status %q cannot be set directly", domain.ErrInvalidInput, status)
		}
		if status != existing.Status {
			if active, err := s.repo.GetActiveSessionByPC(ctx, existing.ID); err == nil {
				return domain.PC{}, fmt.Errorf("%w: pc %s runs session %s", domain.ErrInvalidState, existing.PCNumber, active.SessionNumber)
			} else if !errors.Is(err, store.ErrNotFound) {
				return domain.PC{}, err
			}
			transition = &store.PCTransition{PCID: existing.ID, From: existing.Status, To: status}
		}
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdatePC(ctx, updated, transition)
	if err != nil {
		return domain.PC{}, err
	}
	s.logAudit(ctx, "pc_update", "pc", saved.ID,
		fmt.Sprintf("status=%s,active=%t,rate=%s", saved.Status, saved.IsActive, saved.HourlyRate))
	return *saved, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	phone := strings.TrimSpace(req.Phone)
	if name == "" || phone == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name and phone are required", domain.ErrInvalidInput)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:             xid.New("cust"),
		Name:           name,
		Phone:          phone,
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		TotalPurchases: decimal.Zero,
		IsActive:       true,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Customer{}, notFound("customer", customerID, err)
	}
	return *customer, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("%w: category name is required", domain.ErrInvalidInput)
	}
	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:        xid.New("cat"),
		Name:      name,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_create", "category", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// CreateProduct prices a product in USD and derives its LBP price once from
// the current exchange rate.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	name := strings.TrimSpace(req.Name)
	categoryID := strings.TrimSpace(req.CategoryID)
	if sku == "" || name == "" || categoryID == "" {
		return domain.Product{}, fmt.Errorf("%w: sku, name and category are required", domain.ErrInvalidInput)
	}
	if strings.HasPrefix(sku, domain.SessionSKUPrefix) {
		return domain.Product{}, fmt.Errorf("%w: sku prefix %s is reserved", domain.ErrInvalidInput, domain.SessionSKUPrefix)
	}
	if req.PriceUSD.IsNegative() || req.InitialStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: price and stock must be zero or more", domain.ErrInvalidInput)
	}
	if _, err := s.repo.GetCategory(ctx, categoryID); err != nil {
		return domain.Product{}, notFound("category", categoryID, err)
	}

	rate, err := s.exchangeRate(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	pricing, err := domain.MoneyFromUSD(req.PriceUSD, rate)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:         xid.New("prod"),
		SKU:        sku,
		Name:       name,
		CategoryID: categoryID,
		Pricing:    pricing,
		Stock:      req.InitialStock,
		Active:     true,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("sku=%s,price=%s,stock=%d", created.SKU, created.Pricing, created.Stock))
	return *created, nil
}

func (s *Service) CreateDiscount(ctx context.Context, req domain.DiscountCreateRequest) (domain.Discount, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Discount{}, err
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	d := domain.Discount{
		ID:          xid.New("disc"),
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Type:        domain.DiscountTypePercentage,
		Value:       req.Value,
		Target:      strings.ToLower(strings.TrimSpace(req.Target)),
		TargetID:    strings.TrimSpace(req.TargetID),
		IsActive:    active,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		CreatedBy:   actorName(ctx),
		CreatedAt:   s.now(),
	}
	if err := d.Validate(); err != nil {
		return domain.Discount{}, err
	}

	switch d.Target {
	case domain.DiscountTargetProduct:
		products, err := s.repo.GetProductsByIDs(ctx, []string{d.TargetID})
		if err != nil {
			return domain.Discount{}, err
		}
		if _, ok := products[d.TargetID]; !ok {
			return domain.Discount{}, fmt.Errorf("product %s: %w", d.TargetID, domain.ErrNotFound)
		}
	case domain.DiscountTargetCategory:
		if _, err := s.repo.GetCategory(ctx, d.TargetID); err != nil {
			return domain.Discount{}, notFound("category", d.TargetID, err)
		}
	}

	created, err := s.repo.CreateDiscount(ctx, d)
	if err != nil {
		return domain.Discount{}, err
	}
	s.logAudit(ctx, "discount_create", "discount", created.ID,
		fmt.Sprintf("name=%s,value=%s,target=%s,target_id=%s", created.Name, created.Value, created.Target, created.TargetID))
	return *created, nil
}

// ListApplicableDiscounts returns the discounts currently valid for a target,
// highest value first. For a product target the product's category discounts
// are included.
func (s *Service) ListApplicableDiscounts(ctx context.Context, target string, targetID string) ([]domain.Discount, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	targetID = strings.TrimSpace(targetID)
	now := s.now()

	switch target {
	case domain.DiscountTargetProduct:
		products, err := s.repo.GetProductsByIDs(ctx, []string{targetID})
		if err != nil {
			return nil, err
		}
		product, ok := products[targetID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", targetID, domain.ErrNotFound)
		}
		byProduct, err := s.repo.ListDiscounts(ctx, domain.DiscountTargetProduct)
		if err != nil {
			return nil, err
		}
		byCategory, err := s.repo.ListDiscounts(ctx, domain.DiscountTargetCategory)
		if err != nil {
			return nil, err
		}
		return discount.Applicable(append(byProduct, byCategory...), discount.ProductTarget(product), now), nil
	case domain.DiscountTargetCategory:
		if targetID == "" {
			return nil, fmt.Errorf("%w: category id is required", domain.ErrInvalidInput)
		}
		candidates, err := s.repo.ListDiscounts(ctx, domain.DiscountTargetCategory)
		if err != nil {
			return nil, err
		}
		return discount.Applicable(candidates, discount.Target{Kind: domain.DiscountTargetProduct, CategoryID: targetID}, now), nil
	case domain.DiscountTargetGamingSession:
		candidates, err := s.repo.ListDiscounts(ctx, target)
		if err != nil {
			return nil, err
		}
		return discount.Applicable(candidates, discount.SessionTarget(), now), nil
	case domain.DiscountTargetSale:
		candidates, err := s.repo.ListDiscounts(ctx, target)
		if err != nil {
			return nil, err
		}
		return discount.Applicable(candidates, discount.SaleTarget(), now), nil
	default:
		return nil, fmt.Errorf("%w: unknown discount target %q", domain.ErrInvalidInput, target)
	}
}

func (s *Service) GetExchangeRate(ctx context.Context) (domain.ExchangeRate, error) {
	rate, err := s.repo.GetExchangeRate(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ExchangeRate{Rate: s.defaultRate, PreviousRate: s.defaultRate, UpdatedBy: "system"}, nil
	}
	if err != nil {
		return domain.ExchangeRate{}, err
	}
	return *rate, nil
}

// SetExchangeRate records a new USD to LBP rate. Existing prices keep their
// LBP amounts; only prices set afterwards use the new rate.
func (s *Service) SetExchangeRate(ctx context.Context, req domain.ExchangeRateUpdateRequest) (domain.ExchangeRate, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ExchangeRate{}, err
	}
	if !req.Rate.IsPositive() {
		return domain.ExchangeRate{}, fmt.Errorf("%w: rate must be positive", domain.ErrInvalidInput)
	}

	current, err := s.GetExchangeRate(ctx)
	if err != nil {
		return domain.ExchangeRate{}, err
	}
	next := domain.ExchangeRate{
		ID:            xid.New("rate"),
		Rate:          req.Rate,
		PreviousRate:  current.Rate,
		UpdatedBy:     actorName(ctx),
		EffectiveFrom: s.now(),
		Notes:         strings.TrimSpace(req.Notes),
	}
	if err := s.repo.SaveExchangeRate(ctx, next); err != nil {
		return domain.ExchangeRate{}, err
	}
	s.logAudit(ctx, "exchange_rate_update", "exchange_rate", next.ID,
		fmt.Sprintf("from=%s,to=%s", current.Rate, next.Rate))
	return next, nil
}
