package handlers

import (
	"net/http"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
	"github.com/akinalp/kurye/repository"
)

// ReadStateHandler, okunmamış mesaj takibi endpoint'lerini yöneten struct.
type ReadStateHandler struct {
	messages repository.MessageRepository
}

// NewReadStateHandler, constructor.
func NewReadStateHandler(messages repository.MessageRepository) *ReadStateHandler {
	return &ReadStateHandler{messages: messages}
}

// MarkRead godoc
// POST /api/transfers/{id}/read
// Transferdeki tüm operatör mesajlarını okunmuş olarak işaretler.
// Sahiplik kontrolü sorguya gömülüdür — başkasının transferi no-op olur.
func (h *ReadStateHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "claims not found in context")
		return
	}

	if err := h.messages.MarkTransferRead(r.Context(), claims.UserID, r.PathValue("id")); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "marked as read"})
}

// GetUnread godoc
// GET /api/unread
// Kullanıcıya adreslenmiş okunmamış mesajların otoritatif sayısını döner.
// Client'lar reconnect sonrası sayaçlarını buradan resync eder.
func (h *ReadStateHandler) GetUnread(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "claims not found in context")
		return
	}

	count, err := h.messages.CountUnread(r.Context(), claims.UserID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]int{"unread": count})
}
