package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arcadepos/backend/internal/billing"
	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/metrics"
	"arcadepos/backend/internal/notify"
	"arcadepos/backend/internal/sequence"
	"arcadepos/backend/internal/store"
	"arcadepos/backend/internal/store/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	repo     *memory.Store
	clock    *testClock
	notes    *notify.Recorder
	admin    context.Context
	cashier  context.Context
	pcID     string
	otherPC  string
	sequence *replayCounter
}

// replayCounter hands out 1 for a key while repeat[key] > 0, which replays
// the first number of the day and forces a collision.
type replayCounter struct {
	mu     sync.Mutex
	inner  *sequence.MemoryCounter
	repeat map[string]int
}

func (c *replayCounter) IncrementCounter(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	c.mu.Lock()
	if c.repeat[key] > 0 {
		c.repeat[key]--
		c.mu.Unlock()
		return 1, nil
	}
	c.mu.Unlock()
	return c.inner.IncrementCounter(ctx, key, expireAt)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	repo := memory.NewSeeded()
	clock := &testClock{now: time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)}
	notes := notify.NewRecorder(64)
	counter := &replayCounter{inner: sequence.NewMemoryCounter(), repeat: map[string]int{}}

	base := []Option{
		WithClock(clock.Now),
		WithNotifier(notes),
		WithMetrics(metrics.New()),
		WithCounter(counter),
		WithSequenceLocation(time.UTC),
	}
	svc := New(repo, append(base, opts...)...)

	f := &fixture{
		svc:      svc,
		repo:     repo,
		clock:    clock,
		notes:    notes,
		admin:    WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin}),
		cashier:  WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier}),
		sequence: counter,
	}

	if _, err := svc.SetExchangeRate(f.admin, domain.ExchangeRateUpdateRequest{Rate: decimal.NewFromInt(90000)}); err != nil {
		t.Fatalf("set exchange rate: %v", err)
	}
	two := decimal.NewFromInt(2)
	for i, number := range []string{"T-01", "T-02"} {
		pc, err := svc.CreatePC(f.admin, domain.PCCreateRequest{PCNumber: number, HourlyRateUSD: &two})
		if err != nil {
			t.Fatalf("create pc: %v", err)
		}
		if i == 0 {
			f.pcID = pc.ID
		} else {
			f.otherPC = pc.ID
		}
	}
	return f
}

func mustMoney(t *testing.T, usd string, lbp string) domain.Money {
	t.Helper()
	m, err := domain.NewMoney(decimal.RequireFromString(usd), decimal.RequireFromString(lbp))
	if err != nil {
		t.Fatalf("money: %v", err)
	}
	return m
}

func (f *fixture) start(t *testing.T, req domain.StartSessionRequest) domain.GamingSession {
	t.Helper()
	if req.PCID == "" {
		req.PCID = f.pcID
	}
	session, err := f.svc.StartSession(f.cashier, req)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return session
}

func (f *fixture) pcStatus(t *testing.T, pcID string) string {
	t.Helper()
	pc, err := f.repo.GetPC(context.Background(), pcID)
	if err != nil {
		t.Fatalf("get pc: %v", err)
	}
	return pc.Status
}

func TestStartSessionOpensSaleAndOccupiesPC(t *testing.T) {
	f := newFixture(t)

	session := f.start(t, domain.StartSessionRequest{CustomerName: "Walk-in"})
	if session.SessionNumber != "20260314-0001" {
		t.Fatalf("unexpected session number %s", session.SessionNumber)
	}
	if !session.HourlyRate.Equal(mustMoney(t, "2", "180000")) {
		t.Fatalf("expected rate snapshot {2,180000}, got %s", session.HourlyRate)
	}
	if pc, ok := session.PC.Resolved(); !ok || pc.PCNumber != "T-01" {
		t.Fatalf("expected resolved pc ref, got %+v", session.PC)
	}
	if f.pcStatus(t, f.pcID) != domain.PCStatusOccupied {
		t.Fatalf("expected pc occupied")
	}

	sale, err := f.svc.GetSale(f.cashier, session.SaleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.InvoiceNumber != "20260314-0001" || sale.Status != domain.SaleStatusPending {
		t.Fatalf("unexpected sale %s %s", sale.InvoiceNumber, sale.Status)
	}
	if len(sale.Items) != 1 || !sale.Items[0].IsSession() || !sale.Totals.IsZero() {
		t.Fatalf("expected one zero priced session line, got %+v", sale.Items)
	}

	events := f.notes.Drain()
	if len(events) != 1 || events[0].Type != notify.EventUnlock || events[0].PCID != f.pcID {
		t.Fatalf("expected unlock notification, got %+v", events)
	}
}

func TestRateChangeAfterStartDoesNotAffectSession(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})

	five := decimal.NewFromInt(5)
	if _, err := f.svc.UpdatePC(f.admin, f.pcID, domain.PCUpdateRequest{HourlyRateUSD: &five}); err != nil {
		t.Fatalf("update pc: %v", err)
	}

	f.clock.Advance(60 * time.Minute)
	ended, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{})
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if !ended.TotalCost.Equal(mustMoney(t, "2", "180000")) {
		t.Fatalf("expected original rate to bill, got %s", ended.TotalCost)
	}
}

func TestEndSessionBillsNinetyMinutes(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	f.notes.Drain()

	f.clock.Advance(90 * time.Minute)
	ended, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{})
	if err != nil {
		t.Fatalf("end session: %v", err)
	}

	if ended.Duration != 90 || ended.Status != domain.SessionStatusCompleted || ended.EndedBy != "cashier" {
		t.Fatalf("unexpected ended session %+v", ended)
	}
	want := mustMoney(t, "3", "270000")
	if !ended.TotalCost.Equal(want) || !ended.FinalAmount.Equal(want) {
		t.Fatalf("expected cost %s, got total=%s final=%s", want, ended.TotalCost, ended.FinalAmount)
	}
	if f.pcStatus(t, f.pcID) != domain.PCStatusAvailable {
		t.Fatalf("expected pc available after end")
	}

	sale, _ := f.svc.GetSale(f.cashier, session.SaleID)
	if !sale.Totals.Equal(want) {
		t.Fatalf("expected sale totals %s, got %s", want, sale.Totals)
	}
	if err := billing.Verify(sale); err != nil {
		t.Fatalf("sale invariant: %v", err)
	}

	events := f.notes.Drain()
	if len(events) != 1 || events[0].Type != notify.EventLock {
		t.Fatalf("expected lock notification, got %+v", events)
	}
}

func TestEndSessionWithSessionDiscount(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})

	f.clock.Advance(90 * time.Minute)
	ended, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{DiscountID: "disc-happy-hour"})
	if err != nil {
		t.Fatalf("end session: %v", err)
	}

	if ended.Discount == nil || !ended.Discount.Amount.Equal(mustMoney(t, "0.30", "27000")) {
		t.Fatalf("unexpected discount %+v", ended.Discount)
	}
	if !ended.FinalAmount.Equal(mustMoney(t, "2.70", "243000")) {
		t.Fatalf("unexpected final amount %s", ended.FinalAmount)
	}
	sale, _ := f.svc.GetSale(f.cashier, session.SaleID)
	if !sale.Totals.Equal(ended.FinalAmount) || !sale.TotalItemDiscounts.Equal(ended.Discount.Amount) {
		t.Fatalf("sale did not pick up session pricing: %+v", sale)
	}
}

func TestEndSessionWithWrongTargetLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	f.clock.Advance(30 * time.Minute)

	_, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{DiscountID: "disc-loyal"})
	if !errors.Is(err, domain.ErrDiscountNotApplicable) || !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected discount not applicable, got %v", err)
	}

	stored, _ := f.svc.GetSession(f.cashier, session.ID)
	if !stored.IsActive() || stored.Version != 1 {
		t.Fatalf("expected session untouched, got %+v", stored)
	}
	if f.pcStatus(t, f.pcID) != domain.PCStatusOccupied {
		t.Fatalf("expected pc to stay occupied")
	}
}

func TestEndSessionAtStartInstantIsFree(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})

	ended, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{})
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if ended.Duration != 0 || !ended.TotalCost.IsZero() {
		t.Fatalf("expected zero duration and cost, got %d %s", ended.Duration, ended.TotalCost)
	}
}

func TestMinimumBillableMinutesPolicy(t *testing.T) {
	f := newFixture(t, WithPolicy(billing.Policy{MinBillableMinutes: 15}))
	session := f.start(t, domain.StartSessionRequest{})

	f.clock.Advance(20 * time.Second)
	ended, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{})
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if ended.Duration != 15 || !ended.TotalCost.Equal(mustMoney(t, "0.50", "45000")) {
		t.Fatalf("expected 15 billed minutes, got %d %s", ended.Duration, ended.TotalCost)
	}
}

func TestEndSessionTwiceFails(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	if _, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{}); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if err := f.svc.CancelSession(f.cashier, session.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on cancel, got %v", err)
	}
}

func TestStartSessionOnOccupiedPCFails(t *testing.T) {
	f := newFixture(t)
	f.start(t, domain.StartSessionRequest{})

	_, err := f.svc.StartSession(f.cashier, domain.StartSessionRequest{PCID: f.pcID})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestStartSessionValidatesReferences(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.StartSession(f.cashier, domain.StartSessionRequest{PCID: "pc-missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected pc not found, got %v", err)
	}
	if _, err := f.svc.StartSession(f.cashier, domain.StartSessionRequest{PCID: f.pcID, CustomerID: "cust-missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected customer not found, got %v", err)
	}

	status := domain.PCStatusMaintenance
	if _, err := f.svc.UpdatePC(f.admin, f.otherPC, domain.PCUpdateRequest{Status: &status}); err != nil {
		t.Fatalf("update pc: %v", err)
	}
	if _, err := f.svc.StartSession(f.cashier, domain.StartSessionRequest{PCID: f.otherPC}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for maintenance pc, got %v", err)
	}
	if f.pcStatus(t, f.pcID) != domain.PCStatusAvailable {
		t.Fatalf("failed starts must not touch the pc")
	}
}

func TestConcurrentStartsYieldOneActiveSession(t *testing.T) {
	f := newFixture(t)

	const attempts = 12
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StartSession(f.cashier, domain.StartSessionRequest{PCID: f.pcID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one start to win, got %d", succeeded)
	}

	active, err := f.svc.ListSessions(f.cashier, store.SessionFilter{Status: domain.SessionStatusActive, PCID: f.pcID})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one active session, got %d", len(active))
	}
}

func TestSequenceCollisionIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	first := f.start(t, domain.StartSessionRequest{})

	f.sequence.repeat[sequence.Key(sequence.KindSession, "20260314")] = 1
	second := f.start(t, domain.StartSessionRequest{PCID: f.otherPC})
	if second.SessionNumber == first.SessionNumber || second.SessionNumber != "20260314-0002" {
		t.Fatalf("expected regenerated number, got %s", second.SessionNumber)
	}
}

func TestSequenceCollisionSurfacesAsConflictAfterRetry(t *testing.T) {
	f := newFixture(t)
	f.start(t, domain.StartSessionRequest{})

	f.sequence.repeat[sequence.Key(sequence.KindSession, "20260314")] = 2
	_, err := f.svc.StartSession(f.cashier, domain.StartSessionRequest{PCID: f.otherPC})
	if !errors.Is(err, domain.ErrSequenceCollision) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected sequence conflict, got %v", err)
	}
	if f.pcStatus(t, f.otherPC) != domain.PCStatusAvailable {
		t.Fatalf("failed start must leave pc available")
	}
}

func TestCancelOnlySessionCancelsSale(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	f.clock.Advance(10 * time.Minute)

	if err := f.svc.CancelSession(f.cashier, session.ID); err != nil {
		t.Fatalf("cancel session: %v", err)
	}

	stored, _ := f.svc.GetSession(f.cashier, session.ID)
	if stored.Status != domain.SessionStatusCancelled || !stored.FinalAmount.IsZero() {
		t.Fatalf("unexpected cancelled session %+v", stored)
	}
	sale, _ := f.svc.GetSale(f.cashier, session.SaleID)
	if sale.Status != domain.SaleStatusCancelled || len(sale.Items) != 0 {
		t.Fatalf("expected empty cancelled sale, got %s with %d items", sale.Status, len(sale.Items))
	}
	if f.pcStatus(t, f.pcID) != domain.PCStatusAvailable {
		t.Fatalf("expected pc freed")
	}
}

func TestCancelSessionKeepsOtherItems(t *testing.T) {
	f := newFixture(t)
	sale, err := f.svc.CreateSale(f.cashier, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: "prod-cola", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	session := f.start(t, domain.StartSessionRequest{ExistingSaleID: sale.ID})

	if err := f.svc.CancelSession(f.cashier, session.ID); err != nil {
		t.Fatalf("cancel session: %v", err)
	}

	after, _ := f.svc.GetSale(f.cashier, sale.ID)
	if after.Status != domain.SaleStatusPending || len(after.Items) != 1 || after.Items[0].ProductID != "prod-cola" {
		t.Fatalf("expected product line to survive, got %+v", after)
	}
	if !after.Totals.Equal(sale.Totals) {
		t.Fatalf("expected totals %s unchanged, got %s", sale.Totals, after.Totals)
	}
	products, _ := f.repo.GetProductsByIDs(context.Background(), []string{"prod-cola"})
	if products["prod-cola"].Stock != 48 {
		t.Fatalf("expected cola stock 48, got %d", products["prod-cola"].Stock)
	}
}

func TestProjectSessionCostIsSideEffectFree(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	f.clock.Advance(30*time.Minute + 10*time.Second)

	first, err := f.svc.ProjectSessionCost(f.cashier, session.ID)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	second, _ := f.svc.ProjectSessionCost(f.cashier, session.ID)
	if first.Duration != 31 || !first.Cost.Equal(second.Cost) || first.Duration != second.Duration {
		t.Fatalf("expected identical 31 minute quotes, got %+v and %+v", first, second)
	}
	if !first.Cost.Equal(mustMoney(t, "1.03", "93000")) {
		t.Fatalf("unexpected quote %s", first.Cost)
	}

	stored, _ := f.svc.GetSession(f.cashier, session.ID)
	if !stored.IsActive() || stored.Version != 1 || !stored.TotalCost.IsZero() {
		t.Fatalf("projection mutated session: %+v", stored)
	}
}

func TestProjectedQuoteMatchesPayment(t *testing.T) {
	f := newFixture(t)
	sale, err := f.svc.CreateSale(f.cashier, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: "prod-chips", Quantity: 3, DiscountID: "disc-snacks"}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	loyal := "disc-loyal"
	if _, err := f.svc.UpdateSale(f.cashier, sale.ID, domain.UpdateSaleRequest{SaleDiscountID: &loyal}); err != nil {
		t.Fatalf("apply sale discount: %v", err)
	}
	session := f.start(t, domain.StartSessionRequest{ExistingSaleID: sale.ID})
	f.clock.Advance(47*time.Minute + 3*time.Second)

	quote, err := f.svc.ProjectSaleCost(f.cashier, sale.ID)
	if err != nil {
		t.Fatalf("project sale: %v", err)
	}
	if !quote.HasActiveSessions || len(quote.PerSession) != 1 || quote.PerSession[0].SessionID != session.ID {
		t.Fatalf("unexpected projection %+v", quote)
	}

	paid, err := f.svc.PaySale(f.cashier, sale.ID, domain.PaySaleRequest{
		PaymentMethod:   domain.PaymentMethodCash,
		PaymentCurrency: domain.CurrencyUSD,
		Amount:          quote.CurrentTotals.USD,
	})
	if err != nil {
		t.Fatalf("pay sale: %v", err)
	}
	if !paid.Totals.Equal(quote.CurrentTotals) {
		t.Fatalf("quote %s differs from charged %s", quote.CurrentTotals, paid.Totals)
	}
	if err := billing.Verify(paid); err != nil {
		t.Fatalf("sale invariant: %v", err)
	}

	stored, _ := f.svc.GetSession(f.cashier, session.ID)
	if stored.Status != domain.SessionStatusCompleted || stored.PaymentStatus != domain.PaymentStatusPaid || stored.Discount != nil {
		t.Fatalf("expected forced completion without discount, got %+v", stored)
	}
	if f.pcStatus(t, f.pcID) != domain.PCStatusAvailable {
		t.Fatalf("expected pc freed by payment")
	}
}

func TestPaySaleInLBPRequiresFullAmount(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{CustomerID: "cust-walkin"})
	f.clock.Advance(90 * time.Minute)
	if _, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{}); err != nil {
		t.Fatalf("end session: %v", err)
	}

	_, err := f.svc.PaySale(f.cashier, session.SaleID, domain.PaySaleRequest{
		PaymentCurrency: domain.CurrencyLBP,
		Amount:          decimal.NewFromInt(269999),
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	pending, _ := f.svc.GetSale(f.cashier, session.SaleID)
	if pending.Status != domain.SaleStatusPending {
		t.Fatalf("failed payment must leave sale pending")
	}

	paid, err := f.svc.PaySale(f.cashier, session.SaleID, domain.PaySaleRequest{
		PaymentMethod:   domain.PaymentMethodCard,
		PaymentCurrency: domain.CurrencyLBP,
		Amount:          decimal.NewFromInt(270000),
	})
	if err != nil {
		t.Fatalf("pay sale: %v", err)
	}
	if paid.Status != domain.SaleStatusPaid || paid.PaidAt == nil {
		t.Fatalf("unexpected paid sale %+v", paid)
	}
	if !paid.AmountPaid.Equal(mustMoney(t, "3", "270000")) {
		t.Fatalf("expected amount paid {3,270000}, got %s", paid.AmountPaid)
	}

	customer, _ := f.svc.GetCustomer(f.cashier, "cust-walkin")
	if !customer.TotalPurchases.Equal(decimal.NewFromInt(3)) || customer.LastPurchaseDate == nil {
		t.Fatalf("expected customer purchase recorded, got %+v", customer)
	}

	_, err = f.svc.PaySale(f.cashier, session.SaleID, domain.PaySaleRequest{
		PaymentCurrency: domain.CurrencyLBP,
		Amount:          decimal.NewFromInt(270000),
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected paying twice to fail, got %v", err)
	}
	if _, err := f.svc.UpdateSale(f.cashier, session.SaleID, domain.UpdateSaleRequest{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected paid sale to be read only, got %v", err)
	}
}

func TestPaySaleRejectsUnknownMethodAndCurrency(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})

	if _, err := f.svc.PaySale(f.cashier, session.SaleID, domain.PaySaleRequest{PaymentMethod: "barter", PaymentCurrency: "USD"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid method, got %v", err)
	}
	if _, err := f.svc.PaySale(f.cashier, session.SaleID, domain.PaySaleRequest{PaymentCurrency: "EUR"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
}

func TestUpdateSaleItemsAdjustStockAndTotals(t *testing.T) {
	f := newFixture(t)
	sale, err := f.svc.CreateSale(f.cashier, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: "prod-cola", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	loyal := "disc-loyal"
	updated, err := f.svc.UpdateSale(f.cashier, sale.ID, domain.UpdateSaleRequest{
		Items: []domain.SaleItemInput{
			{ProductID: "prod-cola", Quantity: 5, DiscountID: "disc-cola"},
			{ProductID: "prod-chips", Quantity: 1},
		},
		SaleDiscountID: &loyal,
	})
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}

	products, _ := f.repo.GetProductsByIDs(context.Background(), []string{"prod-cola", "prod-chips"})
	if products["prod-cola"].Stock != 45 || products["prod-chips"].Stock != 49 {
		t.Fatalf("unexpected stock cola=%d chips=%d", products["prod-cola"].Stock, products["prod-chips"].Stock)
	}
	// cola 5.00 - 20% = 4.00, chips 1.25, sale discount 5% of 5.25.
	if !updated.Totals.USD.Equal(decimal.RequireFromString("4.99")) {
		t.Fatalf("unexpected totals %s", updated.Totals)
	}
	if err := billing.Verify(updated); err != nil {
		t.Fatalf("sale invariant: %v", err)
	}

	empty := ""
	cleared, err := f.svc.UpdateSale(f.cashier, sale.ID, domain.UpdateSaleRequest{
		Items:          []domain.SaleItemInput{},
		SaleDiscountID: &empty,
	})
	if err != nil {
		t.Fatalf("clear sale: %v", err)
	}
	if len(cleared.Items) != 0 || cleared.SaleDiscount != nil || !cleared.Totals.IsZero() {
		t.Fatalf("expected empty sale, got %+v", cleared)
	}
	products, _ = f.repo.GetProductsByIDs(context.Background(), []string{"prod-cola", "prod-chips"})
	if products["prod-cola"].Stock != 50 || products["prod-chips"].Stock != 50 {
		t.Fatalf("expected stock restored, got cola=%d chips=%d", products["prod-cola"].Stock, products["prod-chips"].Stock)
	}
}

func TestUpdateSaleLeavesSessionLinesAlone(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})

	updated, err := f.svc.UpdateSale(f.cashier, session.SaleID, domain.UpdateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: "prod-water", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if len(updated.Items) != 2 {
		t.Fatalf("expected product and session lines, got %d", len(updated.Items))
	}
	if _, ok := updated.FindItem(func(item domain.SaleItem) bool { return item.SessionID == session.ID }); !ok {
		t.Fatalf("session line was dropped")
	}
}

func TestUpdateSaleAppliesSessionDiscount(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	f.clock.Advance(90 * time.Minute)
	if _, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{}); err != nil {
		t.Fatalf("end session: %v", err)
	}

	updated, err := f.svc.UpdateSale(f.cashier, session.SaleID, domain.UpdateSaleRequest{
		SessionDiscounts: []domain.SessionDiscountInput{{SessionID: session.ID, DiscountID: "disc-happy-hour"}},
	})
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if !updated.Totals.Equal(mustMoney(t, "2.70", "243000")) {
		t.Fatalf("unexpected totals %s", updated.Totals)
	}
	stored, _ := f.svc.GetSession(f.cashier, session.ID)
	if stored.Discount == nil || !stored.FinalAmount.Equal(updated.Totals) || stored.Version != 3 {
		t.Fatalf("session not re-priced: %+v", stored)
	}
}

func TestProductDiscountForOtherProductFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSale(f.cashier, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: "prod-chips", Quantity: 1, DiscountID: "disc-cola"}},
	})
	if !errors.Is(err, domain.ErrDiscountNotApplicable) {
		t.Fatalf("expected discount not applicable, got %v", err)
	}
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSale(f.cashier, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: "prod-energy", Quantity: 51}},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCancelSaleRestocksAndFreesPCs(t *testing.T) {
	f := newFixture(t)
	sale, err := f.svc.CreateSale(f.cashier, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: "prod-energy", Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	session := f.start(t, domain.StartSessionRequest{ExistingSaleID: sale.ID})

	cancelled, err := f.svc.CancelSale(f.cashier, sale.ID)
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected cancelled sale")
	}
	products, _ := f.repo.GetProductsByIDs(context.Background(), []string{"prod-energy"})
	if products["prod-energy"].Stock != 50 {
		t.Fatalf("expected stock restored, got %d", products["prod-energy"].Stock)
	}
	stored, _ := f.svc.GetSession(f.cashier, session.ID)
	if stored.Status != domain.SessionStatusCancelled || f.pcStatus(t, f.pcID) != domain.PCStatusAvailable {
		t.Fatalf("expected session cancelled and pc free")
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	rate := decimal.NewFromInt(1)

	if _, err := f.svc.CreatePC(f.cashier, domain.PCCreateRequest{PCNumber: "X-1", HourlyRateUSD: &rate}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.SetExchangeRate(f.cashier, domain.ExchangeRateUpdateRequest{Rate: rate}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.CreateDiscount(context.Background(), domain.DiscountCreateRequest{Name: "x"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestUpdatePCRefusesMaintenanceDuringSession(t *testing.T) {
	f := newFixture(t)
	f.start(t, domain.StartSessionRequest{})

	status := domain.PCStatusMaintenance
	if _, err := f.svc.UpdatePC(f.admin, f.pcID, domain.PCUpdateRequest{Status: &status}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	occupied := domain.PCStatusOccupied
	if _, err := f.svc.UpdatePC(f.admin, f.otherPC, domain.PCUpdateRequest{Status: &occupied}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected occupied to be lifecycle only, got %v", err)
	}
}

func TestCreateDiscountChecksTarget(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateDiscount(f.admin, domain.DiscountCreateRequest{
		Name: "Night", Value: decimal.NewFromInt(25), Target: domain.DiscountTargetGamingSession, TargetID: "pc-01",
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected target id rejection, got %v", err)
	}
	_, err = f.svc.CreateDiscount(f.admin, domain.DiscountCreateRequest{
		Name: "Ghost", Value: decimal.NewFromInt(10), Target: domain.DiscountTargetProduct, TargetID: "prod-ghost",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing product, got %v", err)
	}

	created, err := f.svc.CreateDiscount(f.admin, domain.DiscountCreateRequest{
		Name: "Water Deal", Value: decimal.NewFromInt(30), Target: domain.DiscountTargetProduct, TargetID: "prod-water",
	})
	if err != nil {
		t.Fatalf("create discount: %v", err)
	}
	if created.CreatedBy != "admin" || !created.IsActive {
		t.Fatalf("unexpected discount %+v", created)
	}
}

func TestListApplicableDiscounts(t *testing.T) {
	f := newFixture(t)

	chips, err := f.svc.ListApplicableDiscounts(f.cashier, domain.DiscountTargetProduct, "prod-chips")
	if err != nil {
		t.Fatalf("list discounts: %v", err)
	}
	if len(chips) != 1 || chips[0].ID != "disc-snacks" {
		t.Fatalf("expected snack category discount, got %+v", chips)
	}

	sessions, _ := f.svc.ListApplicableDiscounts(f.cashier, domain.DiscountTargetGamingSession, "")
	if len(sessions) != 1 || sessions[0].ID != "disc-happy-hour" {
		t.Fatalf("expected happy hour, got %+v", sessions)
	}

	if _, err := f.svc.ListApplicableDiscounts(f.cashier, "weekday", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid target, got %v", err)
	}
}

func TestCreateProductDerivesLBPFromRate(t *testing.T) {
	f := newFixture(t)

	product, err := f.svc.CreateProduct(f.admin, domain.ProductCreateRequest{
		SKU: "sku-gum-01", Name: "Gum", CategoryID: "cat-snacks", PriceUSD: decimal.RequireFromString("0.25"), InitialStock: 10,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if product.SKU != "SKU-GUM-01" || !product.Pricing.Equal(mustMoney(t, "0.25", "22500")) {
		t.Fatalf("unexpected product %+v", product)
	}

	_, err = f.svc.CreateProduct(f.admin, domain.ProductCreateRequest{
		SKU: "SESSION-HACK", Name: "Hack", CategoryID: "cat-snacks", PriceUSD: decimal.Zero,
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected reserved prefix rejection, got %v", err)
	}
}

func TestAuditTrailCoversSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	f.clock.Advance(5 * time.Minute)
	if _, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{}); err != nil {
		t.Fatalf("end session: %v", err)
	}

	logs, err := f.svc.ListAuditLogs(f.admin, "2026-03-14", 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	if !actions["session_start"] || !actions["session_end"] {
		t.Fatalf("expected session audit entries, got %+v", actions)
	}
	if _, err := f.svc.ListAuditLogs(f.cashier, "", 10); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for cashier, got %v", err)
	}
}

// interleavedRepo runs hook once, right after the named read returns, so a
// second writer can commit between a service's read and its write.
type interleavedRepo struct {
	*memory.Store
	at   string
	once sync.Once
	hook func()
}

func (r *interleavedRepo) fire(method string) {
	if method == r.at {
		r.once.Do(r.hook)
	}
}

func (r *interleavedRepo) GetPC(ctx context.Context, id string) (*domain.PC, error) {
	pc, err := r.Store.GetPC(ctx, id)
	r.fire("GetPC")
	return pc, err
}

func (r *interleavedRepo) GetActiveSessionByPC(ctx context.Context, pcID string) (*domain.GamingSession, error) {
	session, err := r.Store.GetActiveSessionByPC(ctx, pcID)
	r.fire("GetActiveSessionByPC")
	return session, err
}

func TestRenamePCDuringEndSessionLeavesPCAvailable(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	f.clock.Advance(30 * time.Minute)

	repo := &interleavedRepo{Store: f.repo, at: "GetPC", hook: func() {
		if _, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{}); err != nil {
			t.Errorf("end session: %v", err)
		}
	}}
	admin := New(repo, WithClock(f.clock.Now), WithSequenceLocation(time.UTC))

	name := "Front Row"
	renamed, err := admin.UpdatePC(f.admin, f.pcID, domain.PCUpdateRequest{Name: &name})
	if err != nil {
		t.Fatalf("rename pc: %v", err)
	}
	if renamed.Name != name || renamed.Status != domain.PCStatusAvailable {
		t.Fatalf("expected renamed available pc, got %+v", renamed)
	}
	if status := f.pcStatus(t, f.pcID); status != domain.PCStatusAvailable {
		t.Fatalf("expected pc available after end, got %s", status)
	}
	f.start(t, domain.StartSessionRequest{})
}

func TestStatusChangeLosesToConcurrentStart(t *testing.T) {
	f := newFixture(t)

	var started domain.GamingSession
	repo := &interleavedRepo{Store: f.repo, at: "GetActiveSessionByPC", hook: func() {
		var err error
		if started, err = f.svc.StartSession(f.cashier, domain.StartSessionRequest{PCID: f.pcID}); err != nil {
			t.Errorf("start session: %v", err)
		}
	}}
	admin := New(repo, WithClock(f.clock.Now), WithSequenceLocation(time.UTC))

	reserved := domain.PCStatusReserved
	if _, err := admin.UpdatePC(f.admin, f.pcID, domain.PCUpdateRequest{Status: &reserved}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if status := f.pcStatus(t, f.pcID); status != domain.PCStatusOccupied {
		t.Fatalf("expected pc to stay occupied, got %s", status)
	}
	if active, err := f.repo.GetActiveSessionByPC(context.Background(), f.pcID); err != nil || active.ID != started.ID {
		t.Fatalf("expected session %s to stay active, got %v (%v)", started.ID, active, err)
	}
}

func TestExpiredSaleDiscountIsDroppedAtPayment(t *testing.T) {
	f := newFixture(t)
	endsAt := f.clock.Now().Add(30 * time.Minute)
	flash, err := f.svc.CreateDiscount(f.admin, domain.DiscountCreateRequest{
		Name: "Flash", Value: decimal.NewFromInt(50), Target: domain.DiscountTargetSale, EndDate: &endsAt,
	})
	if err != nil {
		t.Fatalf("create discount: %v", err)
	}

	sale, err := f.svc.CreateSale(f.cashier, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: "prod-cola", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	discounted, err := f.svc.UpdateSale(f.cashier, sale.ID, domain.UpdateSaleRequest{SaleDiscountID: &flash.ID})
	if err != nil {
		t.Fatalf("apply discount: %v", err)
	}
	if discounted.SaleDiscount == nil || !discounted.Totals.USD.LessThan(sale.Totals.USD) {
		t.Fatalf("expected discounted totals, got %+v", discounted.Totals)
	}

	f.clock.Advance(3 * time.Hour)

	projection, err := f.svc.ProjectSaleCost(f.cashier, sale.ID)
	if err != nil {
		t.Fatalf("project sale: %v", err)
	}
	if !projection.CurrentTotals.Equal(sale.Totals) {
		t.Fatalf("expected quote without expired discount %s, got %s", sale.Totals, projection.CurrentTotals)
	}

	_, err = f.svc.PaySale(f.cashier, sale.ID, domain.PaySaleRequest{
		PaymentCurrency: domain.CurrencyUSD,
		Amount:          discounted.Totals.USD,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected expired discount to raise the amount due, got %v", err)
	}

	paid, err := f.svc.PaySale(f.cashier, sale.ID, domain.PaySaleRequest{
		PaymentCurrency: domain.CurrencyUSD,
		Amount:          sale.Totals.USD,
	})
	if err != nil {
		t.Fatalf("pay sale: %v", err)
	}
	if paid.SaleDiscount != nil || !paid.Totals.Equal(sale.Totals) {
		t.Fatalf("expected discount dropped and full totals, got %+v %s", paid.SaleDiscount, paid.Totals)
	}

	logs, _ := f.svc.ListAuditLogs(f.admin, "2026-03-14", 50)
	found := false
	for _, entry := range logs {
		found = found || (entry.Action == "sale_discount_dropped" && entry.EntityID == sale.ID)
	}
	if !found {
		t.Fatalf("expected audit entry for dropped discount")
	}
}

func TestValidSaleDiscountSurvivesEndAndPayment(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, domain.StartSessionRequest{})
	loyal := "disc-loyal"
	if _, err := f.svc.UpdateSale(f.cashier, session.SaleID, domain.UpdateSaleRequest{SaleDiscountID: &loyal}); err != nil {
		t.Fatalf("apply discount: %v", err)
	}
	f.clock.Advance(60 * time.Minute)
	if _, err := f.svc.EndSession(f.cashier, session.ID, domain.EndSessionRequest{}); err != nil {
		t.Fatalf("end session: %v", err)
	}

	paid, err := f.svc.PaySale(f.cashier, session.SaleID, domain.PaySaleRequest{
		PaymentCurrency: domain.CurrencyUSD,
		Amount:          decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("pay sale: %v", err)
	}
	if paid.SaleDiscount == nil || !paid.Totals.Equal(mustMoney(t, "1.9", "171000")) {
		t.Fatalf("expected 5%% off {2,180000}, got %+v %s", paid.SaleDiscount, paid.Totals)
	}
}

func TestStartSessionDefaultsToWalkIn(t *testing.T) {
	f := newFixture(t)

	anonymous := f.start(t, domain.StartSessionRequest{})
	if anonymous.CustomerName != domain.WalkInCustomerName {
		t.Fatalf("expected walk-in name, got %q", anonymous.CustomerName)
	}

	named := f.start(t, domain.StartSessionRequest{PCID: f.otherPC, CustomerID: "cust-walkin"})
	if named.CustomerName == domain.WalkInCustomerName || named.CustomerName == "" {
		t.Fatalf("expected customer name from record, got %q", named.CustomerName)
	}
}

func TestLostCounterResumesAfterStoredNumbers(t *testing.T) {
	counter := sequence.NewMemoryCounter()
	f := newFixture(t, WithCounter(counter))

	first := f.start(t, domain.StartSessionRequest{})
	counter.Reset()

	second := f.start(t, domain.StartSessionRequest{PCID: f.otherPC})
	if first.SessionNumber != "20260314-0001" || second.SessionNumber != "20260314-0002" {
		t.Fatalf("expected numbering to continue, got %s then %s", first.SessionNumber, second.SessionNumber)
	}
	sale, err := f.svc.GetSale(f.cashier, second.SaleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.InvoiceNumber != "20260314-0002" {
		t.Fatalf("expected invoice numbering to continue, got %s", sale.InvoiceNumber)
	}
}
