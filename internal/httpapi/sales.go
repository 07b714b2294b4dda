package httpapi

import (
	"net/http"

	"arcadepos/backend/internal/domain"
)

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleSaleByInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	invoice, _ := pathTail(r.URL.Path, "/api/v1/sales/invoice/")
	sale, err := a.service.GetSaleByInvoice(r.Context(), invoice)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

// handleSaleActions serves /api/v1/sales/{id} and its pay, cancel and cost
// sub-resources.
func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	saleID, action := pathTail(r.URL.Path, "/api/v1/sales/")
	if saleID == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "sale not found"})
		return
	}

	switch action {
	case "":
		a.handleSale(w, r, saleID)
	case "cost":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		projection, err := a.service.ProjectSaleCost(r.Context(), saleID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projection)
	case "pay":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.PaySaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.PaySale(r.Context(), saleID, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case "cancel":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		sale, err := a.service.CancelSale(r.Context(), saleID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown sale action"})
	}
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request, saleID string) {
	switch r.Method {
	case http.MethodGet:
		sale, err := a.service.GetSale(r.Context(), saleID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case http.MethodPatch:
		var req domain.UpdateSaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.UpdateSale(r.Context(), saleID, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	default:
		writeMethodNotAllowed(w)
	}
}
