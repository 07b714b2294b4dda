package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/logging"
	"arcadepos/backend/internal/metrics"
	"arcadepos/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	metrics       *metrics.Recorder
	log           zerolog.Logger
}

type Option func(*API)

// WithMetrics times every request and serves the registry on /metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(a *API) { a.metrics = m }
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		log:           logging.Component("http"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	staff := []string{domain.RoleCashier, domain.RoleAdmin}

	mux.HandleFunc("/api/v1/sessions", a.requireAuth(a.handleSessions, staff...))
	mux.HandleFunc("/api/v1/sessions/active", a.requireAuth(a.handleActiveSessions, staff...))
	mux.HandleFunc("/api/v1/sessions/", a.requireAuth(a.handleSessionActions, staff...))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, staff...))
	mux.HandleFunc("/api/v1/sales/invoice/", a.requireAuth(a.handleSaleByInvoice, staff...))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, staff...))

	mux.HandleFunc("/api/v1/pcs", a.requireAuth(a.handlePCs, staff...))
	mux.HandleFunc("/api/v1/pcs/", a.requireAuth(a.handlePCActions, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/customers", a.requireAuth(a.handleCustomers, staff...))
	mux.HandleFunc("/api/v1/customers/", a.requireAuth(a.handleCustomerActions, staff...))
	mux.HandleFunc("/api/v1/categories", a.requireAuth(a.handleCategories, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, staff...))
	mux.HandleFunc("/api/v1/discounts", a.requireAuth(a.handleDiscounts, staff...))
	mux.HandleFunc("/api/v1/exchange-rate", a.requireAuth(a.handleExchangeRate, staff...))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !roleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func roleAllowed(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.setSecurityHeaders(w.Header())
		if hasJSONBody(r) {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(startedAt)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		a.metrics.ObserveRequest(r.Method, strconv.Itoa(status), elapsed.Seconds())
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveAccount):
		writeError(w, http.StatusUnauthorized, err)
		return
	case err != nil:
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), query.Get("date"), parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers, err := a.auth.ListCashiers(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cashier, err := a.auth.CreateCashier(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

// statusFor maps a domain error onto the HTTP status callers should see.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNegativeMoney):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, err)
}

// pathTail splits the part of the path after prefix into an id and an
// optional action: "/api/v1/sales/s-1/pay" gives ("s-1", "pay").
func pathTail(path string, prefix string) (string, string) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ := strings.Cut(tail, "/")
	return id, action
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodeOptionalJSON accepts an empty body and leaves dest untouched.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the cause of 5xx responses from the client.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
