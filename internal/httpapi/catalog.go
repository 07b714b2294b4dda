package httpapi

import (
	"net/http"

	"arcadepos/backend/internal/domain"
)

func (a *API) handlePCs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pcs, err := a.service.ListPCs(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pcs": pcs})
	case http.MethodPost:
		var req domain.PCCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		pc, err := a.service.CreatePC(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"pc": pc})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePCActions(w http.ResponseWriter, r *http.Request) {
	pcID, action := pathTail(r.URL.Path, "/api/v1/pcs/")
	if pcID == "" || action != "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "pc not found"})
		return
	}
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.PCUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pc, err := a.service.UpdatePC(r.Context(), pcID, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pc": pc})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	customerID, _ := pathTail(r.URL.Path, "/api/v1/customers/")
	customer, err := a.service.GetCustomer(r.Context(), customerID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CategoryCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	category, err := a.service.CreateCategory(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"category": category})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleDiscounts lists the discounts applicable to ?target=&target_id= on
// GET and creates a discount on POST.
func (a *API) handleDiscounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		discounts, err := a.service.ListApplicableDiscounts(r.Context(), query.Get("target"), query.Get("target_id"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"discounts": discounts})
	case http.MethodPost:
		var req domain.DiscountCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateDiscount(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"discount": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleExchangeRate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rate, err := a.service.GetExchangeRate(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"exchange_rate": rate})
	case http.MethodPut:
		var req domain.ExchangeRateUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rate, err := a.service.SetExchangeRate(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"exchange_rate": rate})
	default:
		writeMethodNotAllowed(w)
	}
}
