package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
	"github.com/akinalp/kurye/repository"
)

// TransferHandler, transfer endpoint'lerini yöneten struct.
type TransferHandler struct {
	transfers repository.TransferRepository
}

// NewTransferHandler, constructor.
func NewTransferHandler(transfers repository.TransferRepository) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

// createTransferRequest, POST /api/transfers body'si.
type createTransferRequest struct {
	Reference   string `json:"reference"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// Create godoc
// POST /api/transfers
// Yeni bir transfer oluşturur. Sahibi, token'daki kullanıcıdır.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "claims not found in context")
		return
	}

	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reference == "" || req.Currency == "" || req.AmountMinor <= 0 {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "reference, currency and positive amount_minor required")
		return
	}

	transfer := &models.Transfer{
		ID:          uuid.NewString(),
		OwnerUserID: claims.UserID,
		Reference:   req.Reference,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Status:      models.TransferPending,
	}

	if err := h.transfers.Create(r.Context(), transfer); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, transfer)
}

// Get godoc
// GET /api/transfers/{id}
// Tek bir transferi döner. Operatörler her transferi görebilir,
// müşteriler sadece kendi transferlerini.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "claims not found in context")
		return
	}

	transfer, err := h.transfers.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		pkg.Error(w, err)
		return
	}

	if claims.Role != models.RoleOperator && transfer.OwnerUserID != claims.UserID {
		// Sahiplik ihlalini 404 olarak döneriz — transferin varlığı bile
		// başka müşteriye sızdırılmaz.
		pkg.ErrorWithMessage(w, http.StatusNotFound, "transfer not found")
		return
	}

	pkg.JSON(w, http.StatusOK, transfer)
}
