package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/metrics"
	"arcadepos/backend/internal/notify"
	"arcadepos/backend/internal/service"
	"arcadepos/backend/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testServer struct {
	handler http.Handler
	clock   *fakeClock
	metrics *metrics.Recorder
}

func newTestAPI(t *testing.T) *testServer {
	t.Helper()

	repo := memory.NewSeeded()
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Minute)}
	recorder := metrics.New()
	svc := service.New(repo,
		service.WithClock(clock.Now),
		service.WithNotifier(notify.NewRecorder(16)),
		service.WithMetrics(recorder),
		service.WithSequenceLocation(time.UTC),
	)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	api := New(svc, auth, "http://localhost:5173", WithMetrics(recorder))
	return &testServer{handler: api.Handler(), clock: clock, metrics: recorder}
}

func (s *testServer) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, username string, password string) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHandleLogin_Success(t *testing.T) {
	srv := newTestAPI(t)
	token := srv.login(t, "admin", "admin123")
	if token == "" {
		t.Fatalf("expected access token")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	srv := newTestAPI(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestAPI(t)

	for _, path := range []string{"/api/v1/sessions", "/api/v1/pcs", "/api/v1/products", "/api/v1/sales/s-1"} {
		rec := srv.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestCashierCannotReachAdminRoutes(t *testing.T) {
	srv := newTestAPI(t)
	token := srv.login(t, "cashier", "cashier123")

	rec := srv.do(t, http.MethodGet, "/api/v1/audit-logs", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on audit logs, got %d", rec.Code)
	}

	// Product creation is open to the route but the service requires admin.
	rec = srv.do(t, http.MethodPost, "/api/v1/products", token, map[string]any{
		"sku":         "GUM-01",
		"name":        "Gum",
		"category_id": "cat-snacks",
		"price_usd":   "0.25",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on product create, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv := newTestAPI(t)
	token := srv.login(t, "cashier", "cashier123")

	rec := srv.do(t, http.MethodPost, "/api/v1/sessions", token, map[string]any{
		"pc_id":         "pc-01",
		"customer_name": "Walk-in",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session: %d %s", rec.Code, rec.Body.String())
	}
	started := decodeBody[struct {
		Session domain.GamingSession `json:"session"`
	}](t, rec).Session
	if started.Status != domain.SessionStatusActive || started.SaleID == "" {
		t.Fatalf("unexpected session %+v", started)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/sessions", token, map[string]any{"pc_id": "pc-01"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a busy pc, got %d (%s)", rec.Code, rec.Body.String())
	}

	srv.clock.Advance(90 * time.Minute)

	rec = srv.do(t, http.MethodGet, "/api/v1/sessions/"+started.ID+"/cost", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("project cost: %d %s", rec.Code, rec.Body.String())
	}
	cost := decodeBody[domain.SessionCost](t, rec)
	if cost.Duration != 90 || !cost.Cost.USD.Equal(decimal.NewFromInt(3)) || !cost.Cost.LBP.Equal(decimal.NewFromInt(268500)) {
		t.Fatalf("unexpected projection %+v", cost)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/sessions/"+started.ID+"/end", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end session: %d %s", rec.Code, rec.Body.String())
	}
	ended := decodeBody[struct {
		Session domain.GamingSession `json:"session"`
	}](t, rec).Session
	if ended.Status != domain.SessionStatusCompleted || !ended.FinalAmount.Equal(cost.Cost) {
		t.Fatalf("ended session does not match projection: %+v", ended)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/sales/"+started.SaleID+"/pay", token, map[string]any{
		"payment_method":   "cash",
		"payment_currency": "USD",
		"amount":           "2.99",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for short payment, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/sales/"+started.SaleID+"/pay", token, map[string]any{
		"payment_method":   "cash",
		"payment_currency": "USD",
		"amount":           "3",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("pay sale: %d %s", rec.Code, rec.Body.String())
	}
	sale := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec).Sale
	if sale.Status != domain.SaleStatusPaid {
		t.Fatalf("expected paid sale, got %s", sale.Status)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/sales/invoice/"+sale.InvoiceNumber, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup by invoice: %d %s", rec.Code, rec.Body.String())
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/sessions/active", token, nil)
	active := decodeBody[struct {
		Sessions []domain.GamingSession `json:"sessions"`
	}](t, rec).Sessions
	if len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(active))
	}
}

func TestSaleUpdateAndCancelOverHTTP(t *testing.T) {
	srv := newTestAPI(t)
	token := srv.login(t, "cashier", "cashier123")

	rec := srv.do(t, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"items": []map[string]any{{"product_id": "prod-water", "quantity": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d %s", rec.Code, rec.Body.String())
	}
	sale := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec).Sale

	rec = srv.do(t, http.MethodPatch, "/api/v1/sales/"+sale.ID, token, map[string]any{
		"sale_discount_id": "disc-loyal",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update sale: %d %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, rec).Sale
	if !updated.Totals.USD.Equal(decimal.RequireFromString("0.95")) {
		t.Fatalf("expected 0.95 after 5%% off, got %s", updated.Totals.USD)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/sales/"+sale.ID+"/cost", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("project sale: %d %s", rec.Code, rec.Body.String())
	}
	projection := decodeBody[domain.SaleProjection](t, rec)
	if !projection.CurrentTotals.Equal(updated.Totals) || projection.HasActiveSessions {
		t.Fatalf("unexpected projection %+v", projection)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/sales/"+sale.ID+"/cancel", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel sale: %d %s", rec.Code, rec.Body.String())
	}
	rec = srv.do(t, http.MethodPost, "/api/v1/sales/"+sale.ID+"/cancel", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 cancelling twice, got %d", rec.Code)
	}
}

func TestUnknownResourcesReturnNotFound(t *testing.T) {
	srv := newTestAPI(t)
	token := srv.login(t, "cashier", "cashier123")

	for _, path := range []string{
		"/api/v1/sessions/gs-missing",
		"/api/v1/sales/sale-missing",
		"/api/v1/customers/cust-missing",
	} {
		rec := srv.do(t, http.MethodGet, path, token, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}

	rec := srv.do(t, http.MethodGet, "/api/v1/sales/invoice/not-an-invoice", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed invoice, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestApplicableDiscountsForProduct(t *testing.T) {
	srv := newTestAPI(t)
	token := srv.login(t, "cashier", "cashier123")

	rec := srv.do(t, http.MethodGet, "/api/v1/discounts?target=product&target_id=prod-chips", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list discounts: %d %s", rec.Code, rec.Body.String())
	}
	discounts := decodeBody[struct {
		Discounts []domain.Discount `json:"discounts"`
	}](t, rec).Discounts
	if len(discounts) != 1 || discounts[0].ID != "disc-snacks" {
		t.Fatalf("expected the snacks category discount, got %+v", discounts)
	}
}

func TestExchangeRateUpdateRequiresAdmin(t *testing.T) {
	srv := newTestAPI(t)
	cashier := srv.login(t, "cashier", "cashier123")
	admin := srv.login(t, "admin", "admin123")

	rec := srv.do(t, http.MethodPut, "/api/v1/exchange-rate", cashier, map[string]any{"rate": "90000"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPut, "/api/v1/exchange-rate", admin, map[string]any{"rate": "90000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set rate: %d %s", rec.Code, rec.Body.String())
	}
	rate := decodeBody[struct {
		Rate domain.ExchangeRate `json:"exchange_rate"`
	}](t, rec).Rate
	if !rate.Rate.Equal(decimal.NewFromInt(90000)) {
		t.Fatalf("unexpected rate %s", rate.Rate)
	}
}

func TestCashierManagement(t *testing.T) {
	srv := newTestAPI(t)
	admin := srv.login(t, "admin", "admin123")

	rec := srv.do(t, http.MethodPost, "/api/v1/users/cashiers", admin, map[string]any{
		"username": "nightshift",
		"password": "pass1234",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier: %d %s", rec.Code, rec.Body.String())
	}
	rec = srv.do(t, http.MethodPost, "/api/v1/users/cashiers", admin, map[string]any{
		"username": "nightshift",
		"password": "pass1234",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate cashier, got %d", rec.Code)
	}

	if token := srv.login(t, "nightshift", "pass1234"); token == "" {
		t.Fatalf("expected new cashier to log in")
	}
}

func TestMetricsEndpointReportsRequests(t *testing.T) {
	srv := newTestAPI(t)
	srv.do(t, http.MethodGet, "/healthz", "", nil)

	rec := srv.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "arcadepos_http_request_duration_seconds") {
		t.Fatalf("expected request histogram in metrics output")
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrSequenceCollision, http.StatusConflict},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrNegativeMoney, http.StatusBadRequest},
		{domain.ErrInvalidState, http.StatusUnprocessableEntity},
		{domain.ErrDiscountNotApplicable, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{errTest("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
