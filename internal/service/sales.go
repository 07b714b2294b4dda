package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arcadepos/backend/internal/billing"
	"arcadepos/backend/internal/discount"
	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/notify"
	"arcadepos/backend/internal/sequence"
	"arcadepos/backend/internal/store"
	"arcadepos/backend/internal/xid"
)

// CreateSale opens a pending sale of physical products and reserves their stock.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: a sale needs at least one item", domain.ErrInvalidInput)
	}

	customerRef := domain.Ref[domain.Customer]{}
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		customer, err := s.repo.GetCustomer(ctx, id)
		if err != nil {
			return domain.Sale{}, notFound("customer", id, err)
		}
		customerRef = domain.ResolvedRef(customer.ID, *customer)
	}

	now := s.now()
	items, err := s.buildProductItems(ctx, req.Items)
	if err != nil {
		return domain.Sale{}, err
	}
	deltas := stockDeltas(nil, items)
	actor := actorName(ctx)

	var sale domain.Sale
	err = s.commitNumbered(ctx, "create_sale", func() (store.Change, error) {
		invoice, err := s.sequences.Next(ctx, sequence.KindInvoice, now)
		if err != nil {
			return store.Change{}, err
		}
		sale = domain.Sale{
			ID:            xid.New("sale"),
			InvoiceNumber: invoice,
			Customer:      customerRef,
			Items:         items,
			AmountPaid:    domain.ZeroMoney(),
			Status:        domain.SaleStatusPending,
			CashierID:     actor,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedAt:     now,
			UpdatedAt:     now,
			Version:       1,
		}
		if err := billing.Recompute(&sale); err != nil {
			return store.Change{}, err
		}
		return store.Change{NewSale: &sale, StockDeltas: deltas}, nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.SaleTransition(domain.SaleStatusPending)
	s.logAudit(ctx, "sale_create", "sale", sale.ID,
		fmt.Sprintf("invoice=%s,items=%d,totals=%s", sale.InvoiceNumber, len(sale.Items), sale.Totals))
	return sale, nil
}

// UpdateSale edits a pending sale. Product lines are replaced when Items is
// set, session discounts re-price completed sessions and the sale discount is
// applied, kept or removed per SaleDiscountID.
func (s *Service) UpdateSale(ctx context.Context, saleID string, req domain.UpdateSaleRequest) (domain.Sale, error) {
	sale, err := s.getSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusPending {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, sale.InvoiceNumber, sale.Status)
	}

	now := s.now()
	updated := sale.Clone()
	change := store.Change{}

	if req.Items != nil {
		items, err := s.buildProductItems(ctx, req.Items)
		if err != nil {
			return domain.Sale{}, err
		}
		change.StockDeltas = stockDeltas(sale.ProductItems(), items)
		updated.RemoveItemsWhere(func(item domain.SaleItem) bool { return !item.IsSession() })
		updated.Items = append(items, updated.Items...)
	}

	seen := make(map[string]struct{}, len(req.SessionDiscounts))
	for _, input := range req.SessionDiscounts {
		sessionID := strings.TrimSpace(input.SessionID)
		if _, dup := seen[sessionID]; dup {
			return domain.Sale{}, fmt.Errorf("%w: session %s listed twice", domain.ErrInvalidInput, sessionID)
		}
		seen[sessionID] = struct{}{}

		session, err := s.getSession(ctx, sessionID)
		if err != nil {
			return domain.Sale{}, err
		}
		if session.SaleID != sale.ID {
			return domain.Sale{}, fmt.Errorf("%w: session %s does not belong to sale %s", domain.ErrInvalidState, session.SessionNumber, sale.InvoiceNumber)
		}
		var d *domain.Discount
		if id := strings.TrimSpace(input.DiscountID); id != "" {
			d, err = s.repo.GetDiscount(ctx, id)
			if err != nil {
				return domain.Sale{}, notFound("discount", id, err)
			}
		}
		repriced, pricing, err := billing.Reprice(session, d, now)
		if err != nil {
			return domain.Sale{}, err
		}
		repriced.Version = session.Version + 1
		if err := billing.ApplySessionPricing(&updated, pricing); err != nil {
			return domain.Sale{}, err
		}
		change.UpdatedSessions = append(change.UpdatedSessions, repriced)
	}

	if req.SaleDiscountID != nil {
		updated.SaleDiscount = nil
		if id := strings.TrimSpace(*req.SaleDiscountID); id != "" {
			d, err := s.repo.GetDiscount(ctx, id)
			if err != nil {
				return domain.Sale{}, notFound("discount", id, err)
			}
			if err := billing.Recompute(&updated); err != nil {
				return domain.Sale{}, err
			}
			applied, err := discount.Apply(*d, discount.SaleTarget(), updated.Totals, now)
			if err != nil {
				return domain.Sale{}, err
			}
			updated.SaleDiscount = &applied
		}
	}

	var dropped *domain.AppliedDiscount
	if req.SaleDiscountID == nil {
		if dropped, err = s.revalidateSaleDiscount(ctx, &updated, now); err != nil {
			return domain.Sale{}, err
		}
	}
	if err := billing.Recompute(&updated); err != nil {
		return domain.Sale{}, err
	}
	updated.Version++
	updated.UpdatedAt = now
	change.UpdatedSale = &updated

	if err := s.commit(ctx, "update_sale", change); err != nil {
		return domain.Sale{}, err
	}
	s.auditDroppedDiscount(ctx, updated, dropped)

	s.logAudit(ctx, "sale_update", "sale", updated.ID,
		fmt.Sprintf("invoice=%s,items=%d,session_discounts=%d,totals=%s", updated.InvoiceNumber, len(updated.Items), len(req.SessionDiscounts), updated.Totals))
	return updated, nil
}

// PaySale settles a pending sale. Active linked sessions are finalized first
// without a discount, then the amount is checked against the recomputed total
// in the payment currency.
func (s *Service) PaySale(ctx context.Context, saleID string, req domain.PaySaleRequest) (domain.Sale, error) {
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentMethodCash
	}
	if !domain.IsSupportedPaymentMethod(method) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidInput, req.PaymentMethod)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.PaymentCurrency))
	if !domain.IsSupportedCurrency(currency) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported currency %q", domain.ErrInvalidInput, req.PaymentCurrency)
	}
	if req.Amount.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: amount", domain.ErrNegativeMoney)
	}

	sale, err := s.getSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusPending {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, sale.InvoiceNumber, sale.Status)
	}

	sessions, err := s.repo.ListSessions(ctx, store.SessionFilter{SaleID: sale.ID})
	if err != nil {
		return domain.Sale{}, err
	}

	now := s.now()
	actor := actorName(ctx)
	updated := sale.Clone()
	change := store.Change{}
	var forced []domain.GamingSession

	for _, session := range sessions {
		if session.Status == domain.SessionStatusCancelled {
			continue
		}
		next := session.Clone()
		if session.IsActive() {
			pc, transitions, err := s.releasePC(ctx, session.PC.ID())
			if err != nil {
				return domain.Sale{}, err
			}
			if pc != nil {
				session.PC = domain.ResolvedRef(pc.ID, *pc)
			}
			finalized, pricing, err := s.policy.Finalize(session, now, nil)
			if err != nil {
				return domain.Sale{}, err
			}
			if err := billing.ApplySessionPricing(&updated, pricing); err != nil {
				return domain.Sale{}, err
			}
			finalized.EndedBy = actor
			next = finalized
			change.PCTransitions = append(change.PCTransitions, transitions...)
			forced = append(forced, finalized)
		}
		next.PaymentStatus = domain.PaymentStatusPaid
		next.UpdatedAt = now
		next.Version = session.Version + 1
		change.UpdatedSessions = append(change.UpdatedSessions, next)
	}

	dropped, err := s.revalidateSaleDiscount(ctx, &updated, now)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := billing.Recompute(&updated); err != nil {
		return domain.Sale{}, err
	}
	due, err := updated.Totals.Amount(currency)
	if err != nil {
		return domain.Sale{}, err
	}
	if req.Amount.LessThan(due) {
		return domain.Sale{}, fmt.Errorf("%w: %s %s due, %s given", domain.ErrInsufficientFunds, due, currency, req.Amount)
	}

	rate, err := s.exchangeRate(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	paid, err := amountPaid(currency, req.Amount, rate)
	if err != nil {
		return domain.Sale{}, err
	}

	updated.Status = domain.SaleStatusPaid
	updated.PaymentMethod = method
	updated.PaymentCurrency = currency
	updated.AmountPaid = paid
	updated.PaidAt = &now
	updated.UpdatedAt = now
	updated.Version++
	change.UpdatedSale = &updated

	if err := s.commit(ctx, "pay_sale", change); err != nil {
		return domain.Sale{}, err
	}
	s.auditDroppedDiscount(ctx, updated, dropped)

	if id := updated.Customer.ID(); id != "" {
		if err := s.repo.RecordPurchase(ctx, id, updated.Totals.USD, now); err != nil {
			s.log.Warn().Err(err).Str("customer_id", id).Str("sale_id", updated.ID).Msg("failed to record customer purchase")
		}
	}

	s.metrics.SaleTransition(domain.SaleStatusPaid)
	s.metrics.Revenue(domain.CurrencyUSD, updated.Totals.USD.InexactFloat64())
	s.metrics.Revenue(domain.CurrencyLBP, updated.Totals.LBP.InexactFloat64())
	for _, session := range forced {
		s.metrics.SessionTransition(domain.SessionStatusCompleted, session.Duration)
	}
	s.logAudit(ctx, "sale_pay", "sale", updated.ID,
		fmt.Sprintf("invoice=%s,totals=%s,method=%s,currency=%s,amount=%s,forced_sessions=%d", updated.InvoiceNumber, updated.Totals, method, currency, req.Amount, len(forced)))
	for _, session := range forced {
		s.notifyPC(ctx, notify.EventLock, session.PC.ID(), session.ID)
	}

	return updated, nil
}

// CancelSale voids a pending sale, restocks its products and aborts any
// session still running on it.
func (s *Service) CancelSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.getSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusPending {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, sale.InvoiceNumber, sale.Status)
	}

	sessions, err := s.repo.ListSessions(ctx, store.SessionFilter{SaleID: sale.ID, Status: domain.SessionStatusActive})
	if err != nil {
		return domain.Sale{}, err
	}

	now := s.now()
	actor := actorName(ctx)
	change := store.Change{StockDeltas: stockDeltas(sale.ProductItems(), nil)}
	for _, session := range sessions {
		_, transitions, err := s.releasePC(ctx, session.PC.ID())
		if err != nil {
			return domain.Sale{}, err
		}
		cancelled := session.Clone()
		cancelled.Status = domain.SessionStatusCancelled
		cancelled.EndTime = &now
		cancelled.Duration = billing.ElapsedMinutes(session.StartTime, now)
		cancelled.EndedBy = actor
		cancelled.UpdatedAt = now
		cancelled.Version = session.Version + 1
		change.UpdatedSessions = append(change.UpdatedSessions, cancelled)
		change.PCTransitions = append(change.PCTransitions, transitions...)
	}

	updated := sale.Clone()
	updated.Status = domain.SaleStatusCancelled
	updated.UpdatedAt = now
	updated.Version++
	change.UpdatedSale = &updated

	if err := s.commit(ctx, "cancel_sale", change); err != nil {
		return domain.Sale{}, err
	}

	s.metrics.SaleTransition(domain.SaleStatusCancelled)
	s.logAudit(ctx, "sale_cancel", "sale", updated.ID,
		fmt.Sprintf("invoice=%s,restocked_items=%d,cancelled_sessions=%d", updated.InvoiceNumber, len(sale.ProductItems()), len(sessions)))
	for _, session := range sessions {
		s.metrics.SessionTransition(domain.SessionStatusCancelled, -1)
		s.notifyPC(ctx, notify.EventLock, session.PC.ID(), session.ID)
	}
	return updated, nil
}

// ProjectSaleCost quotes the sale as if it were paid now, without a sale
// discount that would be removed at payment. It writes nothing.
func (s *Service) ProjectSaleCost(ctx context.Context, saleID string) (domain.SaleProjection, error) {
	sale, err := s.getSale(ctx, saleID)
	if err != nil {
		return domain.SaleProjection{}, err
	}
	sessions, err := s.repo.ListSessions(ctx, store.SessionFilter{SaleID: sale.ID, Status: domain.SessionStatusActive})
	if err != nil {
		return domain.SaleProjection{}, err
	}
	now := s.now()
	if _, err := s.revalidateSaleDiscount(ctx, &sale, now); err != nil {
		return domain.SaleProjection{}, err
	}
	return s.policy.ProjectSale(sale, sessions, now)
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.getSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if id := sale.Customer.ID(); id != "" {
		if customer, err := s.repo.GetCustomer(ctx, id); err == nil {
			sale.Customer = domain.ResolvedRef(customer.ID, *customer)
		}
	}
	return sale, nil
}

func (s *Service) GetSaleByInvoice(ctx context.Context, invoiceNumber string) (domain.Sale, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if _, _, err := sequence.Parse(invoiceNumber); err != nil {
		return domain.Sale{}, fmt.Errorf("%w: invoice number %q", domain.ErrInvalidInput, invoiceNumber)
	}
	sale, err := s.repo.GetSaleByInvoice(ctx, invoiceNumber)
	if err != nil {
		return domain.Sale{}, notFound("invoice", invoiceNumber, err)
	}
	return *sale, nil
}

// revalidateSaleDiscount resolves the sale's discount against its current
// record at now. A discount that was deleted, deactivated or has left its
// validity window is removed from the sale and returned.
func (s *Service) revalidateSaleDiscount(ctx context.Context, sale *domain.Sale, now time.Time) (*domain.AppliedDiscount, error) {
	if sale.SaleDiscount == nil {
		return nil, nil
	}
	d, err := s.repo.GetDiscount(ctx, sale.SaleDiscount.DiscountID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if discount.Resolve(*d, discount.SaleTarget(), now) == nil {
			return nil, nil
		}
	}
	dropped := *sale.SaleDiscount
	sale.SaleDiscount = nil
	return &dropped, nil
}

func (s *Service) auditDroppedDiscount(ctx context.Context, sale domain.Sale, dropped *domain.AppliedDiscount) {
	if dropped == nil {
		return
	}
	s.log.Info().Str("sale_id", sale.ID).Str("discount_id", dropped.DiscountID).Msg("sale discount no longer applies, removed")
	s.logAudit(ctx, "sale_discount_dropped", "sale", sale.ID,
		fmt.Sprintf("invoice=%s,discount=%s,totals=%s", sale.InvoiceNumber, dropped.DiscountID, sale.Totals))
}

func (s *Service) getSale(ctx context.Context, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, fmt.Errorf("%w: sale id is required", domain.ErrInvalidInput)
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, notFound("sale", saleID, err)
	}
	return *sale, nil
}

// buildProductItems prices product lines from the catalog and resolves their
// discounts. Each product may appear once.
func (s *Service) buildProductItems(ctx context.Context, inputs []domain.SaleItemInput) ([]domain.SaleItem, error) {
	ids := make([]string, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, input := range inputs {
		id := strings.TrimSpace(input.ProductID)
		if id == "" || input.Quantity < 1 {
			return nil, fmt.Errorf("%w: every item needs a product and a positive quantity", domain.ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: product %s listed twice", domain.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]domain.SaleItem, 0, len(inputs))
	for _, input := range inputs {
		product, ok := products[strings.TrimSpace(input.ProductID)]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", input.ProductID, domain.ErrNotFound)
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: product %s is inactive", domain.ErrInvalidState, product.SKU)
		}
		subtotal, err := product.Pricing.Scale(decimal.NewFromInt(int64(input.Quantity)))
		if err != nil {
			return nil, err
		}
		item := domain.SaleItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			ProductSKU:  product.SKU,
			Quantity:    input.Quantity,
			UnitPrice:   product.Pricing,
			Subtotal:    subtotal,
			FinalAmount: subtotal,
		}
		if id := strings.TrimSpace(input.DiscountID); id != "" {
			d, err := s.repo.GetDiscount(ctx, id)
			if err != nil {
				return nil, notFound("discount", id, err)
			}
			applied, err := discount.Apply(*d, discount.ProductTarget(product), subtotal, now)
			if err != nil {
				return nil, err
			}
			item.Discount = &applied
		}
		items = append(items, item)
	}
	return items, nil
}

// stockDeltas restocks what before held and reserves what after holds.
func stockDeltas(before []domain.SaleItem, after []domain.SaleItem) []domain.StockAdjustment {
	net := make(map[string]int)
	order := make([]string, 0, len(before)+len(after))
	add := func(productID string, delta int) {
		if _, ok := net[productID]; !ok {
			order = append(order, productID)
		}
		net[productID] += delta
	}
	for _, item := range before {
		if !item.IsSession() && item.ProductID != "" {
			add(item.ProductID, item.Quantity)
		}
	}
	for _, item := range after {
		if !item.IsSession() && item.ProductID != "" {
			add(item.ProductID, -item.Quantity)
		}
	}

	out := make([]domain.StockAdjustment, 0, len(order))
	for _, id := range order {
		if net[id] != 0 {
			out = append(out, domain.StockAdjustment{ProductID: id, Delta: net[id]})
		}
	}
	return out
}

// amountPaid fills the currency not tendered from the current exchange rate.
func amountPaid(currency string, amount decimal.Decimal, rate decimal.Decimal) (domain.Money, error) {
	if !rate.IsPositive() {
		return domain.Money{}, fmt.Errorf("%w: exchange rate must be positive", domain.ErrInvalidState)
	}
	if currency == domain.CurrencyLBP {
		return domain.NewMoney(amount.Div(rate), amount)
	}
	return domain.NewMoney(amount, amount.Mul(rate))
}
