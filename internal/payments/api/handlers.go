package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"reconplatform/internal/common/api"
	"reconplatform/internal/common/database"
	"reconplatform/internal/common/middleware"
	"reconplatform/internal/common/money"
	"reconplatform/internal/payments"
)

// Handler handles payment-record HTTP requests
type Handler struct {
	store payments.Store
}

// NewHandler creates a new payments handler
func NewHandler(store payments.Store) *Handler {
	return &Handler{store: store}
}

// Routes returns the payments routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/charges", h.CreateCharge)
	r.Get("/charges/{id}", h.GetCharge)

	return r
}

// CreateChargeRequest is the API request for registering a charge
type CreateChargeRequest struct {
	GatewayID         string `json:"gateway_id" validate:"required,max=255"`
	MerchantReference string `json:"merchant_reference" validate:"max=255"`
	SourceType        string `json:"source_type" validate:"required,oneof=card bank_account"`
	AmountMinor       int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency          string `json:"currency" validate:"required,len=3"`
}

// CreateCharge handles POST /charges. Charges are registered here ahead of
// settlement so reconciliation can link report rows back to them.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	merchantAccount := middleware.GetMerchantAccount(r.Context())
	if merchantAccount == "" {
		api.BadRequest(w, "merchant account required")
		return
	}

	var req CreateChargeRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	now := time.Now().UTC()
	charge := &payments.Charge{
		ID:                ulid.Make().String(),
		MerchantAccount:   merchantAccount,
		GatewayID:         req.GatewayID,
		MerchantReference: req.MerchantReference,
		SourceType:        payments.SourceType(req.SourceType),
		Status:            payments.ChargeSucceeded,
		Amount:            money.New(req.AmountMinor, money.Currency(req.Currency)),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := h.store.CreateCharge(r.Context(), charge); err != nil {
		if database.IsUniqueViolation(err) {
			api.Conflict(w, "charge with this gateway id already exists")
			return
		}
		api.InternalError(w, "failed to create charge")
		return
	}

	api.WriteData(w, http.StatusCreated, charge)
}

// GetCharge handles GET /charges/{id}
func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "charge ID required")
		return
	}

	charge, err := h.store.GetCharge(r.Context(), id)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			api.NotFound(w, "charge not found")
			return
		}
		api.InternalError(w, "failed to get charge")
		return
	}

	api.WriteData(w, http.StatusOK, charge)
}
