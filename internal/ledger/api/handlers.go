package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"reconplatform/internal/common/api"
	"reconplatform/internal/common/database"
	"reconplatform/internal/common/middleware"
	"reconplatform/internal/common/money"
	"reconplatform/internal/ledger"
	"reconplatform/internal/ledger/domain"
)

// Handler handles ledger HTTP requests
type Handler struct {
	service *ledger.Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the ledger routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/accounts", h.ListAccounts)
	r.Get("/accounts/{id}/entries", h.GetAccountEntries)
	r.Get("/balances/{code}", h.GetBalance)
	r.Get("/batches/{id}", h.GetBatch)

	return r
}

// ListAccounts handles GET /accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	merchantAccount := middleware.GetMerchantAccount(r.Context())
	if merchantAccount == "" {
		api.BadRequest(w, "merchant account required")
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), merchantAccount)
	if err != nil {
		api.InternalError(w, "failed to list accounts")
		return
	}

	api.WriteData(w, http.StatusOK, accounts)
}

// GetAccountEntries handles GET /accounts/{id}/entries
func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	params := api.GetPaginationParams(r, 50, 100)

	entries, total, err := h.service.GetAccountEntries(r.Context(), id, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to get entries")
		return
	}

	api.WritePaginated(w, entries, &api.Pagination{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasMore: int64(params.Offset+len(entries)) < total,
	})
}

// GetBalance handles GET /balances/{code}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	merchantAccount := middleware.GetMerchantAccount(r.Context())
	if merchantAccount == "" {
		api.BadRequest(w, "merchant account required")
		return
	}

	code := chi.URLParam(r, "code")
	switch code {
	case domain.CodeSettlementClearing, domain.CodeMerchantPayable, domain.CodeFeeRevenue:
	default:
		api.BadRequest(w, "unknown account code")
		return
	}
	currency := r.URL.Query().Get("currency")
	if len(currency) != 3 {
		api.BadRequest(w, "currency query parameter required")
		return
	}

	books, err := h.service.GetLedger(r.Context(), merchantAccount, money.Currency(currency))
	if err != nil {
		api.InternalError(w, "failed to resolve ledger")
		return
	}

	balance, err := books.Balance(r.Context(), code)
	if err != nil {
		api.InternalError(w, "failed to get balance")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]interface{}{
		"account_code": code,
		"currency":     currency,
		"balance":      balance,
	})
}

// GetBatch handles GET /batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	merchantAccount := middleware.GetMerchantAccount(r.Context())
	if merchantAccount == "" {
		api.BadRequest(w, "merchant account required")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "batch ID required")
		return
	}

	batch, err := h.service.GetBatch(r.Context(), merchantAccount, id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "batch not found")
			return
		}
		api.InternalError(w, "failed to get batch")
		return
	}

	api.WriteData(w, http.StatusOK, batch)
}
