package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/sequence"
	"arcadepos/backend/internal/store"
	"arcadepos/backend/internal/xid"
)

const defaultExchangeRate = 89500

type Store struct {
	mu              sync.RWMutex
	counter         *sequence.MemoryCounter
	pcs             map[string]domain.PC
	sessions        map[string]domain.GamingSession
	sales           map[string]domain.Sale
	customers       map[string]domain.Customer
	categories      map[string]domain.Category
	products        map[string]domain.Product
	discounts       map[string]domain.Discount
	exchangeRates   []domain.ExchangeRate
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store with only the default exchange rate.
func New() *Store {
	return &Store{
		counter:    sequence.NewMemoryCounter(),
		pcs:        make(map[string]domain.PC),
		sessions:   make(map[string]domain.GamingSession),
		sales:      make(map[string]domain.Sale),
		customers:  make(map[string]domain.Customer),
		categories: make(map[string]domain.Category),
		products:   make(map[string]domain.Product),
		discounts:  make(map[string]domain.Discount),
		exchangeRates: []domain.ExchangeRate{{
			ID:            "rate-default",
			Rate:          decimal.NewFromInt(defaultExchangeRate),
			PreviousRate:  decimal.NewFromInt(defaultExchangeRate),
			UpdatedBy:     "system",
			EffectiveFrom: time.Unix(0, 0).UTC(),
		}},
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
// If unset, dev defaults are used with a warning. These credentials are
// never used in production (postgres is used when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users, PCs, a small catalog and a few
// discounts. Ids are stable so tests can refer to them.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rate := decimal.NewFromInt(defaultExchangeRate)

	for i := 1; i <= 6; i++ {
		usd := decimal.NewFromInt(2)
		if i > 4 {
			usd = decimal.NewFromInt(3)
		}
		hourly, _ := domain.MoneyFromUSD(usd, rate)
		id := fmt.Sprintf("pc-%02d", i)
		s.pcs[id] = domain.PC{
			ID:         id,
			PCNumber:   fmt.Sprintf("PC-%02d", i),
			Name:       fmt.Sprintf("Station %d", i),
			Status:     domain.PCStatusAvailable,
			HourlyRate: hourly,
			IsActive:   true,
			CreatedAt:  created,
			UpdatedAt:  created,
		}
	}

	for _, c := range []domain.Category{
		{ID: "cat-drinks", Name: "Drinks"},
		{ID: "cat-snacks", Name: "Snacks"},
	} {
		c.CreatedAt = created
		s.categories[c.ID] = c
	}

	for _, p := range []struct {
		id       string
		sku      string
		name     string
		category string
		usd      string
	}{
		{"prod-cola", "SKU-COLA-01", "Cola 330ml", "cat-drinks", "1.00"},
		{"prod-energy", "SKU-ENERGY-01", "Energy Drink", "cat-drinks", "2.50"},
		{"prod-water", "SKU-WATER-01", "Water 500ml", "cat-drinks", "0.50"},
		{"prod-chips", "SKU-CHIPS-01", "Potato Chips", "cat-snacks", "1.25"},
		{"prod-choco", "SKU-CHOCO-01", "Chocolate Bar", "cat-snacks", "0.75"},
	} {
		pricing, _ := domain.MoneyFromUSD(decimal.RequireFromString(p.usd), rate)
		s.products[p.id] = domain.Product{
			ID:         p.id,
			SKU:        p.sku,
			Name:       p.name,
			CategoryID: p.category,
			Pricing:    pricing,
			Stock:      50,
			Active:     true,
			CreatedAt:  created,
		}
	}

	for _, d := range []domain.Discount{
		{ID: "disc-happy-hour", Name: "Happy Hour", Value: decimal.NewFromInt(10), Target: domain.DiscountTargetGamingSession},
		{ID: "disc-loyal", Name: "Loyal Customer", Value: decimal.NewFromInt(5), Target: domain.DiscountTargetSale},
		{ID: "disc-cola", Name: "Cola Promo", Value: decimal.NewFromInt(20), Target: domain.DiscountTargetProduct, TargetID: "prod-cola"},
		{ID: "disc-snacks", Name: "Snack Week", Value: decimal.NewFromInt(15), Target: domain.DiscountTargetCategory, TargetID: "cat-snacks"},
	} {
		d.Type = domain.DiscountTypePercentage
		d.IsActive = true
		d.CreatedBy = "admin"
		d.CreatedAt = created
		s.discounts[d.ID] = d
	}

	s.customers["cust-walkin"] = domain.Customer{
		ID:             "cust-walkin",
		Name:           "Rami",
		Phone:          "+96170000001",
		TotalPurchases: decimal.Zero,
		IsActive:       true,
		CreatedAt:      created,
	}

	return s
}

func (s *Store) IncrementCounter(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	return s.counter.IncrementCounter(ctx, key, expireAt)
}

func (s *Store) LatestSequence(_ context.Context, kind sequence.Kind, day string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var numbers []string
	switch kind {
	case sequence.KindSession:
		for _, session := range s.sessions {
			numbers = append(numbers, session.SessionNumber)
		}
	case sequence.KindInvoice:
		for _, sale := range s.sales {
			numbers = append(numbers, sale.InvoiceNumber)
		}
	default:
		return 0, fmt.Errorf("unknown sequence kind %q", kind)
	}

	var latest int64
	for _, number := range numbers {
		numberDay, seq, err := sequence.Parse(number)
		if err == nil && numberDay == day && seq > latest {
			latest = seq
		}
	}
	return latest, nil
}

func (s *Store) Commit(_ context.Context, change store.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateChange(change); err != nil {
		return err
	}

	for _, session := range change.NewSessions {
		session.Version = 1
		s.sessions[session.ID] = storedSession(session)
	}
	for _, session := range change.UpdatedSessions {
		s.sessions[session.ID] = storedSession(session)
	}
	if change.NewSale != nil {
		sale := change.NewSale.Clone()
		sale.Version = 1
		sale.Customer = sale.Customer.Unresolved()
		s.sales[sale.ID] = sale
	}
	if change.UpdatedSale != nil {
		sale := change.UpdatedSale.Clone()
		sale.Customer = sale.Customer.Unresolved()
		s.sales[sale.ID] = sale
	}
	now := time.Now().UTC()
	for _, t := range change.PCTransitions {
		pc := s.pcs[t.PCID]
		pc.Status = t.To
		pc.UpdatedAt = now
		s.pcs[t.PCID] = pc
	}
	for productID, delta := range sumStockDeltas(change.StockDeltas) {
		product := s.products[productID]
		product.Stock += delta
		s.products[productID] = product
	}
	return nil
}

// validateChange runs every check of a commit before anything is written.
func (s *Store) validateChange(change store.Change) error {
	activeByPC := make(map[string]string)
	for id, session := range s.sessions {
		if session.IsActive() {
			activeByPC[session.PC.ID()] = id
		}
	}
	numbers := make(map[string]struct{}, len(s.sessions))
	for _, session := range s.sessions {
		numbers[session.SessionNumber] = struct{}{}
	}

	for _, session := range change.UpdatedSessions {
		stored, ok := s.sessions[session.ID]
		if !ok {
			return fmt.Errorf("session %s: %w", session.ID, store.ErrNotFound)
		}
		if stored.Version != session.Version-1 {
			return fmt.Errorf("session %s modified concurrently: %w", session.SessionNumber, store.ErrConflict)
		}
		if stored.IsActive() && !session.IsActive() {
			delete(activeByPC, stored.PC.ID())
		}
	}
	for _, session := range change.UpdatedSessions {
		if session.IsActive() {
			if other, ok := activeByPC[session.PC.ID()]; ok && other != session.ID {
				return fmt.Errorf("pc %s already has an active session: %w", session.PC.ID(), store.ErrConflict)
			}
			activeByPC[session.PC.ID()] = session.ID
		}
	}
	for _, session := range change.NewSessions {
		if _, exists := s.sessions[session.ID]; exists {
			return fmt.Errorf("session %s: %w", session.ID, store.ErrConflict)
		}
		if _, exists := numbers[session.SessionNumber]; exists {
			return fmt.Errorf("session number %s: %w", session.SessionNumber, domain.ErrSequenceCollision)
		}
		numbers[session.SessionNumber] = struct{}{}
		if session.IsActive() {
			if _, busy := activeByPC[session.PC.ID()]; busy {
				return fmt.Errorf("pc %s already has an active session: %w", session.PC.ID(), store.ErrConflict)
			}
			activeByPC[session.PC.ID()] = session.ID
		}
	}

	if sale := change.NewSale; sale != nil {
		if _, exists := s.sales[sale.ID]; exists {
			return fmt.Errorf("sale %s: %w", sale.ID, store.ErrConflict)
		}
		for _, existing := range s.sales {
			if existing.InvoiceNumber == sale.InvoiceNumber {
				return fmt.Errorf("invoice number %s: %w", sale.InvoiceNumber, domain.ErrSequenceCollision)
			}
		}
	}
	if sale := change.UpdatedSale; sale != nil {
		stored, ok := s.sales[sale.ID]
		if !ok {
			return fmt.Errorf("sale %s: %w", sale.ID, store.ErrNotFound)
		}
		if stored.Version != sale.Version-1 {
			return fmt.Errorf("sale %s modified concurrently: %w", sale.InvoiceNumber, store.ErrConflict)
		}
	}

	for _, t := range change.PCTransitions {
		pc, ok := s.pcs[t.PCID]
		if !ok {
			return fmt.Errorf("pc %s: %w", t.PCID, store.ErrNotFound)
		}
		if pc.Status != t.From {
			return fmt.Errorf("pc %s is %s, expected %s: %w", pc.PCNumber, pc.Status, t.From, store.ErrConflict)
		}
	}

	for productID, delta := range sumStockDeltas(change.StockDeltas) {
		product, ok := s.products[productID]
		if !ok {
			return fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
		}
		if product.Stock+delta < 0 {
			return fmt.Errorf("product %s: %w", product.SKU, store.ErrInsufficientStock)
		}
	}
	return nil
}

func sumStockDeltas(adjustments []domain.StockAdjustment) map[string]int {
	out := make(map[string]int, len(adjustments))
	for _, adj := range adjustments {
		if adj.Delta == 0 {
			continue
		}
		out[adj.ProductID] += adj.Delta
	}
	return out
}

func storedSession(session domain.GamingSession) domain.GamingSession {
	out := session.Clone()
	out.PC = out.PC.Unresolved()
	out.Customer = out.Customer.Unresolved()
	return out
}

func (s *Store) GetSession(_ context.Context, id string) (*domain.GamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := session.Clone()
	return &out, nil
}

func (s *Store) ListSessions(_ context.Context, filter store.SessionFilter) ([]domain.GamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.GamingSession, 0, 16)
	for _, session := range s.sessions {
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		if filter.PCID != "" && session.PC.ID() != filter.PCID {
			continue
		}
		if filter.SaleID != "" && session.SaleID != filter.SaleID {
			continue
		}
		result = append(result, session.Clone())
	}
	slices.SortFunc(result, func(a, b domain.GamingSession) int {
		if a.StartTime.Equal(b.StartTime) {
			return cmpString(b.SessionNumber, a.SessionNumber)
		}
		if a.StartTime.After(b.StartTime) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetActiveSessionByPC(_ context.Context, pcID string) (*domain.GamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.IsActive() && session.PC.ID() == pcID {
			out := session.Clone()
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := sale.Clone()
	return &out, nil
}

func (s *Store) GetSaleByInvoice(_ context.Context, invoiceNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sale := range s.sales {
		if sale.InvoiceNumber == invoiceNumber {
			out := sale.Clone()
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreatePC(_ context.Context, pc domain.PC) (*domain.PC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pcs {
		if strings.EqualFold(existing.PCNumber, pc.PCNumber) {
			return nil, fmt.Errorf("pc number %s: %w", pc.PCNumber, store.ErrConflict)
		}
	}
	if pc.ID == "" {
		pc.ID = xid.New("pc")
	}
	s.pcs[pc.ID] = pc
	created := pc
	return &created, nil
}

func (s *Store) GetPC(_ context.Context, id string) (*domain.PC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pc, ok := s.pcs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pc, nil
}

// UpdatePC refuses to put a PC into maintenance while it has an active session.
func (s *Store) UpdatePC(_ context.Context, pc domain.PC, status *store.PCTransition) (*domain.PC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.pcs[pc.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if status != nil {
		if current.Status != status.From {
			return nil, fmt.Errorf("pc %s is %s, expected %s: %w", current.PCNumber, current.Status, status.From, store.ErrConflict)
		}
		if status.To == domain.PCStatusMaintenance {
			for _, session := range s.sessions {
				if session.IsActive() && session.PC.ID() == pc.ID {
					return nil, fmt.Errorf("%w: pc %s has an active session", domain.ErrInvalidState, current.PCNumber)
				}
			}
		}
		current.Status = status.To
	}
	current.Name = pc.Name
	current.HourlyRate = pc.HourlyRate
	current.Location = pc.Location
	current.Notes = pc.Notes
	current.IsActive = pc.IsActive
	current.UpdatedAt = pc.UpdatedAt
	s.pcs[pc.ID] = current
	updated := current
	return &updated, nil
}

func (s *Store) ListPCs(_ context.Context) ([]domain.PC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pcs := make([]domain.PC, 0, len(s.pcs))
	for _, pc := range s.pcs {
		pcs = append(pcs, pc)
	}
	slices.SortFunc(pcs, func(a, b domain.PC) int {
		return cmpString(a.PCNumber, b.PCNumber)
	})
	return pcs, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.customers {
		if existing.Phone == customer.Phone {
			return nil, fmt.Errorf("customer phone %s: %w", customer.Phone, store.ErrConflict)
		}
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) RecordPurchase(_ context.Context, customerID string, amountUSD decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[customerID]
	if !ok {
		return store.ErrNotFound
	}
	customer.TotalPurchases = customer.TotalPurchases.Add(amountUSD)
	customer.LastPurchaseDate = &at
	s.customers[customerID] = customer
	return nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, fmt.Errorf("category %s: %w", category.Name, store.ErrConflict)
		}
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	s.categories[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &category, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[product.CategoryID]; !ok {
		return nil, fmt.Errorf("category %s: %w", product.CategoryID, store.ErrNotFound)
	}
	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return nil, fmt.Errorf("sku %s: %w", product.SKU, store.ErrConflict)
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.CategoryID == b.CategoryID {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.CategoryID, b.CategoryID)
	})
	return products, nil
}

func (s *Store) CreateDiscount(_ context.Context, discount domain.Discount) (*domain.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if discount.ID == "" {
		discount.ID = xid.New("disc")
	}
	if _, exists := s.discounts[discount.ID]; exists {
		return nil, fmt.Errorf("discount %s: %w", discount.ID, store.ErrConflict)
	}
	s.discounts[discount.ID] = discount
	created := discount
	return &created, nil
}

func (s *Store) GetDiscount(_ context.Context, id string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discount, ok := s.discounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &discount, nil
}

func (s *Store) ListDiscounts(_ context.Context, target string) ([]domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Discount, 0, len(s.discounts))
	for _, d := range s.discounts {
		if target != "" && d.Target != target {
			continue
		}
		result = append(result, d)
	}
	slices.SortFunc(result, func(a, b domain.Discount) int {
		return b.Value.Cmp(a.Value)
	})
	return result, nil
}

func (s *Store) GetExchangeRate(_ context.Context) (*domain.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.exchangeRates) == 0 {
		return nil, store.ErrNotFound
	}
	current := s.exchangeRates[len(s.exchangeRates)-1]
	return &current, nil
}

func (s *Store) SaveExchangeRate(_ context.Context, rate domain.ExchangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rate.ID == "" {
		rate.ID = xid.New("rate")
	}
	s.exchangeRates = append(s.exchangeRates, rate)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("user %s: %w", username, store.ErrConflict)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
