package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
	"github.com/akinalp/kurye/realtime"
	"github.com/akinalp/kurye/repository"
)

// ChangeFeed, yazılan mesajın change feed'e verildiği nokta.
// relay.Hub bu interface'i karşılar — handler relay paketine doğrudan
// bağımlı olmaz.
type ChangeFeed interface {
	Ingest(topic string, ev models.ChangeEvent)
}

// MessageHandler, mesaj endpoint'lerini yöneten struct.
//
// Mesaj yazma akışı change feed'in kaynağıdır: mesaj önce DB'ye yazılır,
// sonra INSERT event'i olarak feed'e verilir. Abone client'lar event'i
// relay üzerinden alır — HTTP yanıtı ile realtime teslim birbirinden
// bağımsızdır.
type MessageHandler struct {
	messages  repository.MessageRepository
	transfers repository.TransferRepository
	feed      ChangeFeed
}

// NewMessageHandler, constructor.
func NewMessageHandler(messages repository.MessageRepository, transfers repository.TransferRepository, feed ChangeFeed) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		transfers: transfers,
		feed:      feed,
	}
}

// createMessageRequest, POST /api/transfers/{id}/messages body'si.
type createMessageRequest struct {
	Body string `json:"body"`
}

// Create godoc
// POST /api/transfers/{id}/messages
// Transfere yeni bir mesaj yazar ve INSERT event'ini change feed'e verir.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	transferID := r.PathValue("id")

	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "claims not found in context")
		return
	}

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "message body required")
		return
	}

	// Transfer var mı ve gönderen yazabilir mi?
	// Operatörler her transfere, müşteriler sadece kendi transferlerine yazar.
	transfer, err := h.transfers.GetByID(r.Context(), transferID)
	if err != nil {
		pkg.Error(w, err)
		return
	}
	if claims.Role != models.RoleOperator && transfer.OwnerUserID != claims.UserID {
		pkg.ErrorWithMessage(w, http.StatusNotFound, "transfer not found")
		return
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		TransferID:     transferID,
		SenderUserID:   claims.UserID,
		IsFromOperator: claims.Role == models.RoleOperator,
		Body:           req.Body,
	}

	if err := h.messages.Insert(r.Context(), msg); err != nil {
		pkg.Error(w, err)
		return
	}

	// DB yazması başarılı — event'i feed'e ver. Feed teslimi best-effort:
	// hiçbir abone yoksa veya client'lar koptuysa mesaj yine de yazılmıştır.
	payload, err := json.Marshal(msg)
	if err == nil {
		h.feed.Ingest(realtime.TopicMessages, models.ChangeEvent{
			ID:      uuid.NewString(),
			Type:    models.EventInsert,
			Entity:  "messages",
			Payload: payload,
		})
	}

	pkg.JSON(w, http.StatusCreated, msg)
}
