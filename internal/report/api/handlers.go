package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reconplatform/internal/common/api"
	"reconplatform/internal/common/database"
	"reconplatform/internal/common/middleware"
	"reconplatform/internal/report"
	"reconplatform/internal/settlement"
)

// Handler handles report HTTP requests
type Handler struct {
	ingester     *report.Ingester
	transactions *settlement.PgStore
}

// NewHandler creates a new report handler
func NewHandler(ingester *report.Ingester, transactions *settlement.PgStore) *Handler {
	return &Handler{ingester: ingester, transactions: transactions}
}

// Routes returns the report routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/reports", h.IngestReport)
	r.Get("/reports", h.ListReports)
	r.Get("/reports/{id}", h.GetReport)
	r.Get("/transactions", h.ListTransactions)

	return r
}

// IngestReport handles POST /reports. The request body is the raw report
// file; the file name comes from the X-File-Name header.
func (h *Handler) IngestReport(w http.ResponseWriter, r *http.Request) {
	merchantAccount := middleware.GetMerchantAccount(r.Context())
	if merchantAccount == "" {
		api.BadRequest(w, "merchant account required")
		return
	}

	fileName := r.Header.Get("X-File-Name")
	if fileName == "" {
		fileName = "settlement_report.csv"
	}

	rpt, err := h.ingester.Ingest(r.Context(), merchantAccount, fileName, r.Body)
	if err != nil {
		if errors.Is(err, report.ErrAlreadyIngested) {
			api.Conflict(w, "report file already ingested")
			return
		}
		api.InternalError(w, "failed to process report")
		return
	}

	api.WriteData(w, http.StatusCreated, rpt)
}

// GetReport handles GET /reports/{id}
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "report ID required")
		return
	}

	rpt, err := h.ingester.Reports().Get(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "report not found")
			return
		}
		api.InternalError(w, "failed to get report")
		return
	}

	api.WriteData(w, http.StatusOK, rpt)
}

// ListReports handles GET /reports
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	merchantAccount := middleware.GetMerchantAccount(r.Context())
	if merchantAccount == "" {
		api.BadRequest(w, "merchant account required")
		return
	}

	params := api.GetPaginationParams(r, 50, 100)

	reports, err := h.ingester.Reports().ListByMerchant(r.Context(), merchantAccount, params.Limit)
	if err != nil {
		api.InternalError(w, "failed to list reports")
		return
	}

	api.WriteData(w, http.StatusOK, reports)
}

// ListTransactions handles GET /transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	merchantAccount := middleware.GetMerchantAccount(r.Context())
	if merchantAccount == "" {
		api.BadRequest(w, "merchant account required")
		return
	}

	params := api.GetPaginationParams(r, 50, 100)

	txns, err := h.transactions.ListByMerchant(r.Context(), merchantAccount, params.Limit)
	if err != nil {
		api.InternalError(w, "failed to list transactions")
		return
	}

	api.WriteData(w, http.StatusOK, txns)
}
