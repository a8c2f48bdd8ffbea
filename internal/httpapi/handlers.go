package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/sales"
	"kasircabang/backend/internal/store"
)

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parsePositiveLimit(q.Get("limit"), sales.DefaultListLimit, sales.MaxListLimit)
	resp, err := a.service.ListSales(r.Context(), q.Get("branchId"), limit, parseOffset(q.Get("offset")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleGetSaleByReceipt(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSaleByReceipt(r.Context(), chi.URLParam(r, "receiptNumber"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := a.service.Available(r.Context(), q.Get("variantId"), q.Get("branchId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.AdjustInventory(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleResolvePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := a.service.ResolvePrice(r.Context(), q.Get("variantId"), q.Get("customerType"), q.Get("customerId"), q.Get("promoCode"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req domain.MemberCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	member, err := a.service.CreateMember(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (a *API) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var req domain.MemberUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	member, err := a.service.UpdateMember(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (a *API) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncPushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.SyncPush(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncPullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	snapshot, err := a.service.SyncPull(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entry, err := a.service.SyncStatus(r.Context(), q.Get("branchId"), q.Get("deviceId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleCreditSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.RecordCreditSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleLedgerPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.LedgerPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.RecordPayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleLedgerAdjustment(w http.ResponseWriter, r *http.Request) {
	var req domain.LedgerAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.RecordAdjustment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.Balance(r.Context(), chi.URLParam(r, "resellerId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStatement(w http.ResponseWriter, r *http.Request) {
	var req domain.StatementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	statement, err := a.service.Statement(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (a *API) handleAgingReport(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r.URL.Query().Get("asOf"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	report, err := a.service.AgingReport(r.Context(), asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// parseAsOf accepts RFC3339 or a plain date; a date means the end of that day
// in UTC. Empty input yields the zero time.
func parseAsOf(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: asOf must be RFC3339 or YYYY-MM-DD", store.ErrValidation)
	}
	return day.Add(24*time.Hour - time.Nanosecond), nil
}
